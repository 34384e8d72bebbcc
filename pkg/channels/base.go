package channels

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zhaopengme/wagate/pkg/bus"
	"github.com/zhaopengme/wagate/pkg/logger"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
}

type BaseChannel struct {
	name      string
	bus       bus.Broker
	running   atomic.Bool
	allowList []string
}

func NewBaseChannel(name string, messageBus bus.Broker, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       messageBus,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}

// IsAllowed reports whether senderID passes the allow-list. An empty list
// allows everyone. Entries match with or without the whatsapp: prefix and
// the leading "+".
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	id := normalizeSender(senderID)
	for _, allowed := range c.allowList {
		if normalizeSender(allowed) == id {
			return true
		}
	}
	return false
}

func normalizeSender(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "whatsapp:")
	return strings.TrimPrefix(id, "+")
}

// HandleMessage publishes an inbound message on the bus. It is a no-op when
// the channel has no bus or the sender is not allowed.
func (c *BaseChannel) HandleMessage(ctx context.Context, senderID, chatID, content string, media []string, metadata map[string]string) {
	if c.bus == nil || !c.IsAllowed(senderID) {
		return
	}

	msg := bus.InboundMessage{
		EventID:    uuid.NewString(),
		Channel:    c.name,
		SenderID:   senderID,
		ChatID:     chatID,
		Content:    content,
		MessageSID: metadata["message_sid"],
		Media:      media,
		Metadata:   metadata,
		ReceivedAt: time.Now(),
	}

	if err := c.bus.PublishInbound(ctx, msg); err != nil {
		logger.WarnCF(c.name, "Inbound message dropped", map[string]interface{}{
			"sender_id": senderID,
			"error":     err.Error(),
		})
	}
}
