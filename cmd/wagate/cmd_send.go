package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/zhaopengme/wagate/pkg/channels"
	"github.com/zhaopengme/wagate/pkg/logger"
)

const sendTimeout = 30 * time.Second

func sendCmd(args []string) {
	if hasFlag(args, "--debug", "-d") {
		logger.SetLevel(logger.DEBUG)
	}
	args = stripFlags(args, "--debug", "-d")

	if len(args) < 2 {
		fmt.Println("Usage: wagate send <to> <body...>")
		os.Exit(1)
	}
	to := args[0]
	body := strings.Join(args[1:], " ")

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

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	sid, err := ch.SendMessage(ctx, "", to, body)
	if err != nil {
		fmt.Printf("Error sending message: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Message sent, SID: %s\n", sid)
}
