package twilioprovider

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/zhaopengme/wagate/pkg/config"
)

// WhatsAppPrefix marks an address as a WhatsApp number for the Messaging API.
const WhatsAppPrefix = "whatsapp:"

var (
	ErrMissingCredentials = errors.New("twilio account sid and auth token are required")
	ErrNilCreator         = errors.New("twilio message creator is nil")

	errEmptyMessage = errors.New("twilio returned an empty message resource")
)

// MessageCreator is the message-creation entry point of the Twilio REST API.
// *openapi.ApiService satisfies it.
type MessageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

var _ MessageCreator = (*openapi.ApiService)(nil)

type MessageRequest struct {
	From string
	To   string
	Body string
}

type MessageResult struct {
	SID    string
	Status string
}

type Provider struct {
	creator MessageCreator
}

// NewProvider builds a Provider backed by the Twilio REST client.
func NewProvider(cfg config.TwilioConfig) (*Provider, error) {
	if !cfg.HasCredentials() {
		return nil, ErrMissingCredentials
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username:   cfg.AccountSID,
		Password:   cfg.AuthToken,
		AccountSid: cfg.AccountSID,
	})

	return &Provider{creator: client.Api}, nil
}

func NewProviderWithCreator(creator MessageCreator) (*Provider, error) {
	if creator == nil {
		return nil, ErrNilCreator
	}
	return &Provider{creator: creator}, nil
}

// Send creates one message. Both addresses are sent with the whatsapp: prefix.
func (p *Provider) Send(ctx context.Context, req MessageRequest) (*MessageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := &openapi.CreateMessageParams{}
	params.SetFrom(WhatsAppAddress(req.From))
	params.SetTo(WhatsAppAddress(req.To))
	params.SetBody(req.Body)

	msg, err := p.creator.CreateMessage(params)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, errEmptyMessage
	}

	return &MessageResult{
		SID:    deref(msg.Sid),
		Status: deref(msg.Status),
	}, nil
}

// WhatsAppAddress prefixes number with whatsapp: unless it already carries it.
func WhatsAppAddress(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, WhatsAppPrefix) {
		return number
	}
	return WhatsAppPrefix + number
}

// StripWhatsAppAddress removes the whatsapp: prefix, if any.
func StripWhatsAppAddress(address string) string {
	return strings.TrimPrefix(strings.TrimSpace(address), WhatsAppPrefix)
}

// ErrorType names the error's concrete type without package or pointer,
// e.g. "TwilioRestError".
func ErrorType(err error) string {
	if err == nil {
		return ""
	}

	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		return "TwilioRestError"
	}

	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// RestErrorDetails extracts the Twilio error code and HTTP status from err.
func RestErrorDetails(err error) (code int, status int, ok bool) {
	var restErr *twilioclient.TwilioRestError
	if !errors.As(err, &restErr) {
		return 0, 0, false
	}
	return restErr.Code, restErr.Status, true
}

func deref[T any](ptr *T) T {
	if ptr == nil {
		var zero T
		return zero
	}
	return *ptr
}
