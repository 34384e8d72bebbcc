package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zhaopengme/wagate/pkg/bus"
	"github.com/zhaopengme/wagate/pkg/config"
	"github.com/zhaopengme/wagate/pkg/logger"
	"github.com/zhaopengme/wagate/pkg/monitoring"
	twilioprovider "github.com/zhaopengme/wagate/pkg/providers/twilio"
	"github.com/zhaopengme/wagate/pkg/utils"
)

const (
	maxWebhookBodyBytes = 1 << 20
	maxMediaPerMessage  = 10
	emptyTwiML          = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
)

var (
	ErrClientNotConfigured = errors.New("twilio client not initialized")
	ErrMissingFields       = errors.New("message body, recipient and sender are required")
)

// Payload is the opaque set of form fields Twilio posts for an inbound message.
type Payload map[string]string

func (p Payload) String() string {
	return fmt.Sprintf("%v", map[string]string(p))
}

// MessageSender is the provider client used for outbound messages.
type MessageSender interface {
	Send(ctx context.Context, req twilioprovider.MessageRequest) (*twilioprovider.MessageResult, error)
}

var (
	_ MessageSender = (*twilioprovider.Provider)(nil)
	_ Channel       = (*WhatsAppChannel)(nil)
)

// WhatsAppChannel sends WhatsApp messages through Twilio and receives them on
// an HTTP webhook.
type WhatsAppChannel struct {
	*BaseChannel
	config     config.WhatsAppConfig
	fromNumber string
	sender     MessageSender
	reporter   monitoring.Reporter
	validator  *twilioprovider.SignatureValidator
	httpServer *http.Server
	listenAddr string
	mu         sync.Mutex
}

type Option func(*WhatsAppChannel)

func WithReporter(r monitoring.Reporter) Option {
	return func(c *WhatsAppChannel) {
		if r != nil {
			c.reporter = r
		}
	}
}

func WithBus(messageBus bus.Broker) Option {
	return func(c *WhatsAppChannel) {
		c.bus = messageBus
	}
}

// NewWhatsAppChannel creates the channel. sender may be nil, in which case
// every send is refused with ErrClientNotConfigured and no network call is made.
func NewWhatsAppChannel(cfg *config.Config, sender MessageSender, opts ...Option) (*WhatsAppChannel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("whatsapp channel requires a config")
	}

	c := &WhatsAppChannel{
		BaseChannel: NewBaseChannel("whatsapp", nil, cfg.WhatsApp.AllowFrom),
		config:      cfg.WhatsApp,
		fromNumber:  cfg.Twilio.PhoneNumber,
		sender:      sender,
		reporter:    monitoring.LogReporter{},
	}
	if cfg.Twilio.PhoneNumber == config.PlaceholderPhoneNumber {
		c.fromNumber = ""
	}

	if cfg.WhatsApp.ValidateSignature {
		if !cfg.Twilio.HasCredentials() {
			return nil, fmt.Errorf("whatsapp signature validation requires twilio credentials")
		}
		if cfg.WhatsApp.WebhookURL == "" {
			return nil, fmt.Errorf("whatsapp signature validation requires webhook_url")
		}
		c.validator = twilioprovider.NewSignatureValidator(cfg.Twilio.AuthToken)
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// SendMessage sends body from one WhatsApp number to another and returns the
// message SID. An empty from uses the configured Twilio number. Provider
// errors are reported to monitoring once and returned wrapped.
func (c *WhatsAppChannel) SendMessage(ctx context.Context, from, to, body string) (string, error) {
	if from == "" {
		from = c.fromNumber
	}

	if c.sender == nil {
		logger.WarnCF("whatsapp", "Twilio client not initialized. Cannot send message.", map[string]interface{}{
			"to":   to,
			"from": from,
			"body": body,
		})
		return "", ErrClientNotConfigured
	}

	if body == "" || to == "" || from == "" {
		logger.ErrorCF("whatsapp", "Message body, recipient ('to'), and sender ('from') are required", map[string]interface{}{
			"has_body": body != "",
			"has_to":   to != "",
			"has_from": from != "",
		})
		return "", ErrMissingFields
	}

	result, err := c.sender.Send(ctx, twilioprovider.MessageRequest{
		From: from,
		To:   to,
		Body: body,
	})
	if err != nil {
		fields := map[string]interface{}{
			"to":         to,
			"from":       from,
			"error":      err.Error(),
			"error_type": twilioprovider.ErrorType(err),
		}
		if code, status, ok := twilioprovider.RestErrorDetails(err); ok {
			fields["twilio_code"] = code
			fields["http_status"] = status
		}
		logger.ErrorCF("whatsapp", "Error sending message", fields)
		c.reporter.ReportError(ctx, err, fields)
		return "", fmt.Errorf("sending whatsapp message: %w", err)
	}

	logger.InfoCF("whatsapp", "Message sent successfully", map[string]interface{}{
		"sid":    result.SID,
		"status": result.Status,
		"to":     to,
	})
	return result.SID, nil
}

// Send delivers a bus message to the chat it addresses.
func (c *WhatsAppChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	_, err := c.SendMessage(ctx, "", msg.ChatID, msg.Content)
	return err
}

// HandleIncomingMessage logs receipt of payload. It never fails. When the
// channel has a bus the message is also forwarded to it.
func (c *WhatsAppChannel) HandleIncomingMessage(ctx context.Context, payload Payload) {
	logger.InfoCF("whatsapp", "Received incoming message", map[string]interface{}{
		"payload": payload.String(),
	})

	if c.bus == nil {
		return
	}

	senderID := twilioprovider.StripWhatsAppAddress(payload["From"])
	if senderID == "" {
		logger.DebugC("whatsapp", "Incoming message has no sender, not forwarding")
		return
	}
	if !c.IsAllowed(senderID) {
		logger.DebugCF("whatsapp", "Sender not in allow list", map[string]interface{}{
			"sender_id": senderID,
		})
		return
	}

	content := payload["Body"]
	media := mediaURLs(payload)

	metadata := map[string]string{
		"peer_kind": "direct",
		"peer_id":   senderID,
	}
	if sid := payload["MessageSid"]; sid != "" {
		metadata["message_sid"] = sid
	}
	if name := payload["ProfileName"]; name != "" {
		metadata["user_name"] = name
	}
	if waID := payload["WaId"]; waID != "" {
		metadata["wa_id"] = waID
	}

	logger.DebugCF("whatsapp", "Forwarding incoming message", map[string]interface{}{
		"sender_id": senderID,
		"preview":   utils.Truncate(content, 50),
		"media":     len(media),
	})

	c.HandleMessage(ctx, senderID, senderID, content, media, metadata)
}

func mediaURLs(payload Payload) []string {
	n, err := strconv.Atoi(payload["NumMedia"])
	if err != nil || n <= 0 {
		return nil
	}
	n = min(n, maxMediaPerMessage)
	urls := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if u := payload[fmt.Sprintf("MediaUrl%d", i)]; u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// Handler returns the HTTP handler serving the webhook path.
func (c *WhatsAppChannel) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(c.config.WebhookPath, c.webhookHandler)
	return mux
}

// Start listens on the configured webhook address and serves in the background.
func (c *WhatsAppChannel) Start(ctx context.Context) error {
	logger.InfoC("whatsapp", "Starting WhatsApp channel (Webhook Mode)")

	addr := net.JoinHostPort(c.config.WebhookHost, strconv.Itoa(c.config.WebhookPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	c.mu.Lock()
	c.httpServer = server
	c.listenAddr = ln.Addr().String()
	c.mu.Unlock()

	go func() {
		logger.InfoCF("whatsapp", "WhatsApp webhook server listening", map[string]interface{}{
			"addr": ln.Addr().String(),
			"path": c.config.WebhookPath,
		})
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("whatsapp", "Webhook server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	c.setRunning(true)
	return nil
}

// Addr returns the address the webhook server is bound to, or "" before Start.
func (c *WhatsAppChannel) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listenAddr
}

func (c *WhatsAppChannel) Stop(ctx context.Context) error {
	logger.InfoC("whatsapp", "Stopping WhatsApp channel")

	c.mu.Lock()
	server := c.httpServer
	c.httpServer = nil
	c.listenAddr = ""
	c.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.ErrorCF("whatsapp", "Webhook server shutdown error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	c.setRunning(false)
	logger.InfoC("whatsapp", "WhatsApp channel stopped")
	return nil
}

func (c *WhatsAppChannel) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !isFormRequest(r) {
		http.Error(w, "Unsupported media type", http.StatusUnsupportedMediaType)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	if err := r.ParseForm(); err != nil {
		logger.ErrorCF("whatsapp", "Failed to parse webhook payload", map[string]interface{}{
			"error": err.Error(),
		})
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if c.validator != nil {
		signature := r.Header.Get(twilioprovider.SignatureHeader)
		if !c.validator.ValidateForm(c.config.WebhookURL, r.PostForm, signature) {
			logger.WarnC("whatsapp", "Invalid webhook signature")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	// Repeated keys keep their first value; signatures were checked over all of them.
	payload := make(Payload, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			payload[key] = values[0]
		}
	}

	c.HandleIncomingMessage(r.Context(), payload)

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, emptyTwiML)
}

// isFormRequest reports whether r carries a form-encoded body.
func isFormRequest(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded")
}
