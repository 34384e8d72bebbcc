package gateway

import (
	"context"
	"strings"
	"sync"

	"github.com/zhaopengme/wagate/pkg/bus"
	"github.com/zhaopengme/wagate/pkg/channels"
	"github.com/zhaopengme/wagate/pkg/logger"
	"github.com/zhaopengme/wagate/pkg/utils"
)

const replyPrefix = "You said: "

// Gateway moves messages between the bus and a channel: outbound messages are
// delivered through the channel, inbound messages are logged and optionally
// echoed back to their sender.
type Gateway struct {
	bus       bus.Broker
	channel   channels.Channel
	autoReply bool
}

func NewGateway(b bus.Broker, ch channels.Channel, autoReply bool) *Gateway {
	return &Gateway{
		bus:       b,
		channel:   ch,
		autoReply: autoReply,
	}
}

// Run blocks until ctx is done or the bus is closed.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.dispatchOutbound(ctx)
	}()

	for {
		msg, ok := g.bus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		g.handleInbound(ctx, msg)
	}

	cancel()
	wg.Wait()
	return nil
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	logger.InfoCF("gateway", "Inbound message", map[string]interface{}{
		"event_id":    msg.EventID,
		"channel":     msg.Channel,
		"sender_id":   msg.SenderID,
		"message_sid": msg.MessageSID,
		"preview":     utils.Truncate(msg.Content, 50),
	})

	if !g.autoReply {
		return
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return
	}

	reply := bus.OutboundMessage{
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		Content:   replyPrefix + content,
		ReplyToID: msg.MessageSID,
	}
	if err := g.bus.PublishOutbound(ctx, reply); err != nil {
		logger.WarnCF("gateway", "Auto reply not queued", map[string]interface{}{
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
	}
}

func (g *Gateway) dispatchOutbound(ctx context.Context) {
	for {
		msg, ok := g.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}

		if g.channel == nil || msg.Channel != g.channel.Name() {
			logger.WarnCF("gateway", "No channel for outbound message", map[string]interface{}{
				"channel": msg.Channel,
				"chat_id": msg.ChatID,
			})
			continue
		}

		if err := g.channel.Send(ctx, msg); err != nil {
			logger.ErrorCF("gateway", "Failed to deliver outbound message", map[string]interface{}{
				"channel": msg.Channel,
				"chat_id": msg.ChatID,
				"error":   err.Error(),
			})
		}
	}
}
