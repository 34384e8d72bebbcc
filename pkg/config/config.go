// wagate - WhatsApp messaging gateway over Twilio
// License: MIT
//
// Copyright (c) 2026 wagate contributors

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Placeholder values used when the corresponding variable is not set.
const (
	PlaceholderAccountSID      = "YOUR_ACCOUNT_SID_PLACEHOLDER"
	PlaceholderAuthToken       = "YOUR_AUTH_TOKEN_PLACEHOLDER"
	PlaceholderPhoneNumber     = "YOUR_TWILIO_PHONE_PLACEHOLDER"
	PlaceholderRecipientNumber = "RECIPIENT_PHONE_PLACEHOLDER"
)

const (
	DefaultEnvFile     = ".env"
	DefaultWebhookPath = "/webhook/whatsapp"
	DefaultWebhookPort = 8765
)

type Config struct {
	Twilio   TwilioConfig
	WhatsApp WhatsAppConfig
	Log      LogConfig
}

type TwilioConfig struct {
	AccountSID      string `env:"TWILIO_ACCOUNT_SID" envDefault:"YOUR_ACCOUNT_SID_PLACEHOLDER"`
	AuthToken       string `env:"TWILIO_AUTH_TOKEN" envDefault:"YOUR_AUTH_TOKEN_PLACEHOLDER"`
	PhoneNumber     string `env:"TWILIO_PHONE_NUMBER" envDefault:"YOUR_TWILIO_PHONE_PLACEHOLDER"`
	RecipientNumber string `env:"RECIPIENT_PHONE_NUMBER" envDefault:"RECIPIENT_PHONE_PLACEHOLDER"`
}

type WhatsAppConfig struct {
	WebhookHost       string   `env:"WHATSAPP_WEBHOOK_HOST" envDefault:"0.0.0.0"`
	WebhookPort       int      `env:"WHATSAPP_WEBHOOK_PORT" envDefault:"8765"`
	WebhookPath       string   `env:"WHATSAPP_WEBHOOK_PATH" envDefault:"/webhook/whatsapp"`
	WebhookURL        string   `env:"WHATSAPP_WEBHOOK_URL"`
	ValidateSignature bool     `env:"WHATSAPP_VALIDATE_SIGNATURE" envDefault:"false"`
	AllowFrom         []string `env:"WHATSAPP_ALLOW_FROM" envSeparator:","`
	AutoReply         bool     `env:"WHATSAPP_AUTO_REPLY" envDefault:"false"`
}

type LogConfig struct {
	Level  string `env:"WAGATE_LOG_LEVEL" envDefault:"info"`
	Format string `env:"WAGATE_LOG_FORMAT" envDefault:"text"`
}

// HasCredentials reports whether both the account SID and auth token are set
// to something other than their placeholders.
func (c TwilioConfig) HasCredentials() bool {
	return isSet(c.AccountSID, PlaceholderAccountSID) && isSet(c.AuthToken, PlaceholderAuthToken)
}

// CanSendDemo reports whether both phone numbers needed by the demo send are set.
func (c TwilioConfig) CanSendDemo() bool {
	return isSet(c.PhoneNumber, PlaceholderPhoneNumber) && isSet(c.RecipientNumber, PlaceholderRecipientNumber)
}

func isSet(value, placeholder string) bool {
	value = strings.TrimSpace(value)
	return value != "" && value != placeholder
}

// JSONLogs reports whether the log format selects the JSON handler.
func (c LogConfig) JSONLogs() bool {
	return strings.EqualFold(strings.TrimSpace(c.Format), "json")
}

// LoadConfig reads envFile into the process environment and then parses the
// configuration from the environment. An empty envFile selects DefaultEnvFile,
// which may be absent; a file named explicitly must exist. Variables already
// set in the environment take precedence over the file.
func LoadConfig(envFile string) (*Config, error) {
	explicit := envFile != ""
	if !explicit {
		envFile = DefaultEnvFile
	}

	if err := godotenv.Load(envFile); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// LoadFromMap parses the configuration from vars instead of the process environment.
func LoadFromMap(vars map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// EnvFilePath returns the env file named by WAGATE_ENV_FILE, or "" when it is
// unset.
func EnvFilePath() string {
	return strings.TrimSpace(os.Getenv("WAGATE_ENV_FILE"))
}

func (c *Config) normalize() {
	c.Twilio.AccountSID = strings.TrimSpace(c.Twilio.AccountSID)
	c.Twilio.AuthToken = strings.TrimSpace(c.Twilio.AuthToken)
	c.Twilio.PhoneNumber = strings.TrimSpace(c.Twilio.PhoneNumber)
	c.Twilio.RecipientNumber = strings.TrimSpace(c.Twilio.RecipientNumber)

	if c.WhatsApp.WebhookPath == "" {
		c.WhatsApp.WebhookPath = DefaultWebhookPath
	}
	if !strings.HasPrefix(c.WhatsApp.WebhookPath, "/") {
		c.WhatsApp.WebhookPath = "/" + c.WhatsApp.WebhookPath
	}
	if c.WhatsApp.WebhookPort <= 0 {
		c.WhatsApp.WebhookPort = DefaultWebhookPort
	}

	allow := c.WhatsApp.AllowFrom[:0]
	for _, entry := range c.WhatsApp.AllowFrom {
		if entry = strings.TrimSpace(entry); entry != "" {
			allow = append(allow, entry)
		}
	}
	c.WhatsApp.AllowFrom = allow
}
