package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/zhaopengme/wagate/pkg/bus"
	"github.com/zhaopengme/wagate/pkg/config"
	"github.com/zhaopengme/wagate/pkg/logger"
	"github.com/zhaopengme/wagate/pkg/monitoring"
	twilioprovider "github.com/zhaopengme/wagate/pkg/providers/twilio"
)

// fakeCreator stands in for the Twilio REST message endpoint.
type fakeCreator struct {
	calls []*openapi.CreateMessageParams
	sid   string
	err   error
}

func (f *fakeCreator) CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	sid := f.sid
	status := "queued"
	return &openapi.ApiV2010Message{Sid: &sid, Status: &status}, nil
}

var _ monitoring.Reporter = (*countingReporter)(nil)

type countingReporter struct {
	calls []error
}

func (r *countingReporter) ReportError(_ context.Context, err error, _ map[string]interface{}) {
	r.calls = append(r.calls, err)
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetJSON(true)
	logger.SetLevel(logger.DEBUG)
	t.Cleanup(func() {
		logger.SetJSON(false)
		logger.SetOutput(nil)
		logger.SetLevel(logger.INFO)
	})
	return &buf
}

func testConfig() *config.Config {
	return &config.Config{
		Twilio: config.TwilioConfig{
			AccountSID:      "TEST_ACCOUNT_SID",
			AuthToken:       "TEST_AUTH_TOKEN",
			PhoneNumber:     "+15551234567",
			RecipientNumber: "+15557654321",
		},
		WhatsApp: config.WhatsAppConfig{
			WebhookHost: "127.0.0.1",
			WebhookPort: 0,
			WebhookPath: config.DefaultWebhookPath,
		},
	}
}

func newTestChannel(t *testing.T, cfg *config.Config, creator *fakeCreator, opts ...Option) *WhatsAppChannel {
	t.Helper()
	var sender MessageSender
	if creator != nil {
		p, err := twilioprovider.NewProviderWithCreator(creator)
		require.NoError(t, err)
		sender = p
	}
	ch, err := NewWhatsAppChannel(cfg, sender, opts...)
	require.NoError(t, err)
	return ch
}

func TestSendMessage_Success(t *testing.T) {
	logs := captureLogs(t)
	creator := &fakeCreator{sid: "SMxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"}
	ch := newTestChannel(t, testConfig(), creator)

	sid, err := ch.SendMessage(context.Background(), "+15551234567", "+15557654321", "Test message")
	require.NoError(t, err)
	assert.Equal(t, "SMxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx", sid)

	require.Len(t, creator.calls, 1)
	assert.Equal(t, "whatsapp:+15551234567", *creator.calls[0].From)
	assert.Equal(t, "whatsapp:+15557654321", *creator.calls[0].To)
	assert.Equal(t, "Test message", *creator.calls[0].Body)

	assert.Contains(t, logs.String(), "Message sent successfully")
	assert.Contains(t, logs.String(), `"sid":"SMxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"`)
}

func TestSendMessage_DefaultsSenderToConfiguredNumber(t *testing.T) {
	captureLogs(t)
	creator := &fakeCreator{sid: "SM1"}
	ch := newTestChannel(t, testConfig(), creator)

	_, err := ch.SendMessage(context.Background(), "", "+15557654321", "Hi")
	require.NoError(t, err)
	require.Len(t, creator.calls, 1)
	assert.Equal(t, "whatsapp:+15551234567", *creator.calls[0].From)
}

func TestSendMessage_ClientNotConfigured(t *testing.T) {
	logs := captureLogs(t)
	ch := newTestChannel(t, testConfig(), nil)

	sid, err := ch.SendMessage(context.Background(), "", "+15557654321", "Test message")
	assert.ErrorIs(t, err, ErrClientNotConfigured)
	assert.Empty(t, sid)
	assert.Contains(t, logs.String(), "Twilio client not initialized. Cannot send message.")
	assert.Contains(t, logs.String(), `"body":"Test message"`)
}

func TestSendMessage_MissingFields(t *testing.T) {
	captureLogs(t)
	creator := &fakeCreator{sid: "SM1"}

	tests := []struct {
		name     string
		from     string
		to       string
		body     string
		cfgPhone string
	}{
		{"empty body", "+15551234567", "+15557654321", "", "+15551234567"},
		{"empty to", "+15551234567", "", "Hi", "+15551234567"},
		{"placeholder sender", "", "+15557654321", "Hi", config.PlaceholderPhoneNumber},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Twilio.PhoneNumber = tt.cfgPhone
			ch := newTestChannel(t, cfg, creator)

			_, err := ch.SendMessage(context.Background(), tt.from, tt.to, tt.body)
			assert.ErrorIs(t, err, ErrMissingFields)
		})
	}

	assert.Empty(t, creator.calls)
}

func TestSendMessage_ProviderErrorReportedOnce(t *testing.T) {
	logs := captureLogs(t)
	apiErr := &twilioclient.TwilioRestError{Code: 20003, Message: "Authenticate", Status: 401}
	creator := &fakeCreator{err: apiErr}
	reporter := &countingReporter{}
	ch := newTestChannel(t, testConfig(), creator, WithReporter(reporter))

	_, err := ch.SendMessage(context.Background(), "", "+15557654321", "Test message")
	require.Error(t, err)

	var restErr *twilioclient.TwilioRestError
	assert.ErrorAs(t, err, &restErr)
	assert.Len(t, creator.calls, 1)
	require.Len(t, reporter.calls, 1)
	assert.Same(t, apiErr, reporter.calls[0])

	out := logs.String()
	assert.Contains(t, out, "Error sending message")
	assert.Contains(t, out, `"error_type":"TwilioRestError"`)
	assert.Contains(t, out, `"twilio_code":20003`)
}

func TestSendMessage_PlainErrorPropagates(t *testing.T) {
	captureLogs(t)
	want := errors.New("Twilio API Error")
	reporter := &countingReporter{}
	ch := newTestChannel(t, testConfig(), &fakeCreator{err: want}, WithReporter(reporter))

	_, err := ch.SendMessage(context.Background(), "", "+15557654321", "Test message")
	assert.ErrorIs(t, err, want)
	assert.Len(t, reporter.calls, 1)
}

func TestSendBusMessage(t *testing.T) {
	captureLogs(t)
	creator := &fakeCreator{sid: "SM2"}
	ch := newTestChannel(t, testConfig(), creator)

	err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "+15559998888", Content: "You said: Hello"})
	require.NoError(t, err)
	require.Len(t, creator.calls, 1)
	assert.Equal(t, "whatsapp:+15559998888", *creator.calls[0].To)
}

func TestHandleIncomingMessage_LogsPayload(t *testing.T) {
	logs := captureLogs(t)
	ch := newTestChannel(t, testConfig(), nil)

	ch.HandleIncomingMessage(context.Background(), Payload{"Body": "Hello", "From": "whatsapp:+15559998888"})

	out := logs.String()
	assert.Contains(t, out, "Received incoming message")
	assert.Contains(t, out, "map[Body:Hello From:whatsapp:+15559998888]")
}

func TestHandleIncomingMessage_NilPayload(t *testing.T) {
	logs := captureLogs(t)
	mb := bus.NewMessageBus()
	defer mb.Close()
	ch := newTestChannel(t, testConfig(), nil, WithBus(mb))

	assert.NotPanics(t, func() {
		ch.HandleIncomingMessage(context.Background(), nil)
	})
	assert.Contains(t, logs.String(), `"payload":"map[]"`)
}

func TestHandleIncomingMessage_ForwardsToBus(t *testing.T) {
	captureLogs(t)
	mb := bus.NewMessageBus()
	defer mb.Close()
	ch := newTestChannel(t, testConfig(), nil, WithBus(mb))

	ch.HandleIncomingMessage(context.Background(), Payload{
		"Body":        "Hello there!",
		"From":        "whatsapp:+15559998888",
		"MessageSid":  "SMabc",
		"ProfileName": "Ada",
		"NumMedia":    "2",
		"MediaUrl0":   "https://api.twilio.com/media/0",
		"MediaUrl1":   "https://api.twilio.com/media/1",
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)

	assert.Equal(t, "whatsapp", msg.Channel)
	assert.Equal(t, "+15559998888", msg.SenderID)
	assert.Equal(t, "+15559998888", msg.ChatID)
	assert.Equal(t, "Hello there!", msg.Content)
	assert.Equal(t, "SMabc", msg.MessageSID)
	assert.NotEmpty(t, msg.EventID)
	assert.Equal(t, []string{"https://api.twilio.com/media/0", "https://api.twilio.com/media/1"}, msg.Media)
	assert.Equal(t, "Ada", msg.Metadata["user_name"])
}

func TestHandleIncomingMessage_ClosedBusDoesNotBlock(t *testing.T) {
	logs := captureLogs(t)
	mb := bus.NewMessageBusWithSize(1)
	ch := newTestChannel(t, testConfig(), nil, WithBus(mb))

	payload := Payload{"Body": "Hello", "From": "whatsapp:+15559998888"}
	ch.HandleIncomingMessage(context.Background(), payload)

	done := make(chan struct{})
	go func() {
		ch.HandleIncomingMessage(context.Background(), payload)
		close(done)
	}()
	mb.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("incoming message blocked on a closed bus")
	}
	assert.Contains(t, logs.String(), "Inbound message dropped")
}

func TestHandleIncomingMessage_AllowList(t *testing.T) {
	captureLogs(t)
	mb := bus.NewMessageBus()
	defer mb.Close()
	cfg := testConfig()
	cfg.WhatsApp.AllowFrom = []string{"15550001111"}
	ch := newTestChannel(t, cfg, nil, WithBus(mb))

	ch.HandleIncomingMessage(context.Background(), Payload{"Body": "blocked", "From": "whatsapp:+15559998888"})
	ch.HandleIncomingMessage(context.Background(), Payload{"Body": "allowed", "From": "whatsapp:+15550001111"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "allowed", msg.Content)
}

func postForm(handler http.Handler, path string, form url.Values, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_AcceptsForm(t *testing.T) {
	logs := captureLogs(t)
	mb := bus.NewMessageBus()
	defer mb.Close()
	ch := newTestChannel(t, testConfig(), nil, WithBus(mb))

	rec := postForm(ch.Handler(), config.DefaultWebhookPath, url.Values{
		"Body": {"Hello"},
		"From": {"whatsapp:+15559998888"},
	}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/xml")
	assert.Contains(t, rec.Body.String(), "<Response></Response>")
	assert.Contains(t, logs.String(), "Received incoming message")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "Hello", msg.Content)
}

func TestWebhook_RejectsBadRequests(t *testing.T) {
	captureLogs(t)
	ch := newTestChannel(t, testConfig(), nil)
	handler := ch.Handler()

	req := httptest.NewRequest(http.MethodGet, config.DefaultWebhookPath, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req = httptest.NewRequest(http.MethodPost, config.DefaultWebhookPath, strings.NewReader(`{"Body":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	req = httptest.NewRequest(http.MethodPost, config.DefaultWebhookPath, strings.NewReader("Body=%zz"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// twilioSignature computes the X-Twilio-Signature Twilio would send.
func twilioSignature(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data := fullURL
	for _, k := range keys {
		values := append([]string(nil), form[k]...)
		sort.Strings(values)
		for _, v := range values {
			data += k + v
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestWebhook_SignatureValidation(t *testing.T) {
	captureLogs(t)
	cfg := testConfig()
	cfg.WhatsApp.ValidateSignature = true
	cfg.WhatsApp.WebhookURL = "https://wagate.example.com/webhook/whatsapp"
	ch := newTestChannel(t, cfg, nil)

	form := url.Values{"Body": {"Hello"}, "From": {"whatsapp:+15559998888"}}

	valid := http.Header{}
	valid.Set("X-Twilio-Signature", twilioSignature(cfg.Twilio.AuthToken, cfg.WhatsApp.WebhookURL, form))
	rec := postForm(ch.Handler(), config.DefaultWebhookPath, form, valid)
	assert.Equal(t, http.StatusOK, rec.Code)

	invalid := http.Header{}
	invalid.Set("X-Twilio-Signature", twilioSignature("wrong-token", cfg.WhatsApp.WebhookURL, form))
	rec = postForm(ch.Handler(), config.DefaultWebhookPath, form, invalid)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = postForm(ch.Handler(), config.DefaultWebhookPath, form, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhook_SignatureValidationRepeatedKeys(t *testing.T) {
	captureLogs(t)
	mb := bus.NewMessageBus()
	defer mb.Close()
	cfg := testConfig()
	cfg.WhatsApp.ValidateSignature = true
	cfg.WhatsApp.WebhookURL = "https://wagate.example.com/webhook/whatsapp"
	ch := newTestChannel(t, cfg, nil, WithBus(mb))

	form := url.Values{
		"Body":        {"Hello"},
		"From":        {"whatsapp:+15559998888"},
		"ButtonLabel": {"yes", "no"},
	}

	header := http.Header{}
	header.Set("X-Twilio-Signature", twilioSignature(cfg.Twilio.AuthToken, cfg.WhatsApp.WebhookURL, form))
	rec := postForm(ch.Handler(), config.DefaultWebhookPath, form, header)
	assert.Equal(t, http.StatusOK, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "Hello", msg.Content)

	tampered := url.Values{
		"Body":        {"Hello"},
		"From":        {"whatsapp:+15559998888"},
		"ButtonLabel": {"yes", "maybe"},
	}
	rec = postForm(ch.Handler(), config.DefaultWebhookPath, tampered, header)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestNewWhatsAppChannel_SignatureValidationRequirements(t *testing.T) {
	cfg := testConfig()
	cfg.WhatsApp.ValidateSignature = true
	_, err := NewWhatsAppChannel(cfg, nil)
	assert.Error(t, err)

	cfg.WhatsApp.WebhookURL = "https://wagate.example.com/webhook/whatsapp"
	cfg.Twilio.AuthToken = config.PlaceholderAuthToken
	_, err = NewWhatsAppChannel(cfg, nil)
	assert.Error(t, err)

	_, err = NewWhatsAppChannel(nil, nil)
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	captureLogs(t)
	mb := bus.NewMessageBus()
	defer mb.Close()
	ch := newTestChannel(t, testConfig(), nil, WithBus(mb))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, ch.Start(ctx))
	assert.True(t, ch.IsRunning())
	require.NotEmpty(t, ch.Addr())

	resp, err := http.PostForm("http://"+ch.Addr()+config.DefaultWebhookPath, url.Values{
		"Body": {"ping"},
		"From": {"whatsapp:+15559998888"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	msg, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "ping", msg.Content)

	require.NoError(t, ch.Stop(context.Background()))
	assert.False(t, ch.IsRunning())
	assert.Empty(t, ch.Addr())
}
