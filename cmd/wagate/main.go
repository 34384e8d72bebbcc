// wagate - WhatsApp messaging gateway over Twilio
// License: MIT
//
// Copyright (c) 2026 wagate contributors

package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/zhaopengme/wagate/pkg/channels"
	"github.com/zhaopengme/wagate/pkg/config"
	"github.com/zhaopengme/wagate/pkg/logger"
	twilioprovider "github.com/zhaopengme/wagate/pkg/providers/twilio"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("wagate %s\n", formatVersion())
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	fmt.Printf("  Go: %s\n", goVer)
}

func main() {
	if len(os.Args) < 2 {
		demoCmd()
		return
	}

	command := os.Args[1]

	switch command {
	case "demo":
		demoCmd()
	case "send":
		sendCmd(os.Args[2:])
	case "serve", "gateway":
		serveCmd(os.Args[2:])
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("wagate - WhatsApp messaging over Twilio v%s\n\n", version)
	fmt.Println("Usage: wagate [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  demo        Send one test message and simulate an incoming one (default)")
	fmt.Println("  send        Send a WhatsApp message: wagate send <to> <body...>")
	fmt.Println("  serve       Run the webhook server for incoming messages")
	fmt.Println("  version     Show version information")
	fmt.Println()
	fmt.Println("Configuration is read from the environment and an optional .env file:")
	fmt.Println("  TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_PHONE_NUMBER, RECIPIENT_PHONE_NUMBER")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(config.EnvFilePath())
	if err != nil {
		return nil, err
	}

	if level, ok := logger.ParseLevel(cfg.Log.Level); ok {
		logger.SetLevel(level)
	} else {
		logger.WarnCF("config", "Unknown log level, using info", map[string]interface{}{
			"level": cfg.Log.Level,
		})
	}
	logger.SetJSON(cfg.Log.JSONLogs())

	return cfg, nil
}

// newSender returns the Twilio provider, or nil when credentials are not
// configured so that sends are simulated instead of attempted.
func newSender(cfg *config.Config) channels.MessageSender {
	if !cfg.Twilio.HasCredentials() {
		logger.WarnC("twilio", "Twilio credentials not set. Using placeholders.")
		return nil
	}

	provider, err := twilioprovider.NewProvider(cfg.Twilio)
	if err != nil {
		logger.ErrorCF("twilio", "Error initializing Twilio client", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	return provider
}

func hasFlag(args []string, names ...string) bool {
	for _, a := range args {
		for _, n := range names {
			if a == n {
				return true
			}
		}
	}
	return false
}

func stripFlags(args []string, names ...string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if !hasFlag([]string{a}, names...) {
			out = append(out, a)
		}
	}
	return out
}
