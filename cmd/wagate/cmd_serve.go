package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zhaopengme/wagate/pkg/bus"
	"github.com/zhaopengme/wagate/pkg/channels"
	"github.com/zhaopengme/wagate/pkg/gateway"
	"github.com/zhaopengme/wagate/pkg/logger"
)

func serveCmd(args []string) {
	if hasFlag(args, "--debug", "-d") {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	messageBus := bus.NewMessageBus()
	ch, err := channels.NewWhatsAppChannel(cfg, newSender(cfg), channels.WithBus(messageBus))
	if err != nil {
		fmt.Printf("Error creating WhatsApp channel: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ch.Start(ctx); err != nil {
		fmt.Printf("Error starting WhatsApp channel: %v\n", err)
		os.Exit(1)
	}

	gw := gateway.NewGateway(messageBus, ch, cfg.WhatsApp.AutoReply)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := gw.Run(ctx); err != nil {
			logger.ErrorCF("gateway", "Gateway stopped with error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	logger.InfoCF("serve", "wagate is running", map[string]interface{}{
		"addr":       ch.Addr(),
		"path":       cfg.WhatsApp.WebhookPath,
		"auto_reply": cfg.WhatsApp.AutoReply,
	})

	<-ctx.Done()
	logger.InfoC("serve", "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ch.Stop(shutdownCtx)
	messageBus.Close()
	<-done
}
