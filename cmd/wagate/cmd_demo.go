package main

import (
	"context"
	"fmt"
	"os"

	"github.com/zhaopengme/wagate/pkg/channels"
	"github.com/zhaopengme/wagate/pkg/config"
	"github.com/zhaopengme/wagate/pkg/logger"
	twilioprovider "github.com/zhaopengme/wagate/pkg/providers/twilio"
)

const (
	demoMessageBody = "Hello from our Go WhatsApp app!"
	demoMessageSID  = "SMxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"
)

type demoChannel interface {
	SendMessage(ctx context.Context, from, to, body string) (string, error)
	HandleIncomingMessage(ctx context.Context, payload channels.Payload)
}

func demoCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	ch, err := channels.NewWhatsAppChannel(cfg, newSender(cfg))
	if err != nil {
		fmt.Printf("Error creating WhatsApp channel: %v\n", err)
		os.Exit(1)
	}

	runDemo(context.Background(), cfg, ch)
}

// runDemo performs one demonstration send, when both phone numbers are
// configured, and one simulated incoming message.
func runDemo(ctx context.Context, cfg *config.Config, ch demoChannel) {
	logger.InfoC("demo", "Starting WhatsApp application example")

	if cfg.Twilio.CanSendDemo() {
		logger.InfoCF("demo", "Attempting to send a test message", map[string]interface{}{
			"to":   cfg.Twilio.RecipientNumber,
			"from": cfg.Twilio.PhoneNumber,
		})
		sid, err := ch.SendMessage(ctx, "", cfg.Twilio.RecipientNumber, demoMessageBody)
		if err != nil {
			logger.WarnCF("demo", "Test message sending failed or was simulated", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			logger.InfoCF("demo", "Test message sent", map[string]interface{}{
				"sid": sid,
			})
		}
	} else {
		logger.WarnC("demo", "Recipient/Twilio phone not set. Skipping test message.")
		logger.InfoC("demo", "To send a test message, set the TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_PHONE_NUMBER, and RECIPIENT_PHONE_NUMBER environment variables.")
	}

	logger.InfoC("demo", "Simulating an incoming message")
	ch.HandleIncomingMessage(ctx, demoIncomingPayload(cfg.Twilio))

	logger.InfoC("demo", "WhatsApp application example finished")
}

// demoIncomingPayload mimics the form fields Twilio posts for a received
// WhatsApp message sent by the recipient to the Twilio number.
func demoIncomingPayload(cfg config.TwilioConfig) channels.Payload {
	return channels.Payload{
		"SmsMessageSid": demoMessageSID,
		"NumMedia":      "0",
		"SmsSid":        demoMessageSID,
		"SmsStatus":     "received",
		"Body":          "Hello there!",
		"To":            twilioprovider.WhatsAppAddress(cfg.PhoneNumber),
		"NumSegments":   "1",
		"MessageSid":    demoMessageSID,
		"AccountSid":    cfg.AccountSID,
		"From":          twilioprovider.WhatsAppAddress(cfg.RecipientNumber),
		"ApiVersion":    "2010-04-01",
	}
}
