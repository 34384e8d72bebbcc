package bus

import (
	"context"
	"errors"
	"sync"
)

const defaultBufferSize = 100

// ErrClosed is returned when publishing to a closed bus.
var ErrClosed = errors.New("message bus closed")

var _ Broker = (*MessageBus)(nil)

// MessageBus is an in-process Broker backed by buffered channels.
// A publish blocks while the buffer is full, until a consumer drains it, the
// context is done or the bus is closed.
type MessageBus struct {
	inbound   chan InboundMessage
	outbound  chan OutboundMessage
	done      chan struct{}
	closeOnce sync.Once
}

func NewMessageBus() *MessageBus {
	return NewMessageBusWithSize(defaultBufferSize)
}

func NewMessageBusWithSize(size int) *MessageBus {
	if size < 0 {
		size = 0
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, size),
		outbound: make(chan OutboundMessage, size),
		done:     make(chan struct{}),
	}
}

func (mb *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	if mb.isClosed() {
		return ErrClosed
	}
	select {
	case mb.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-mb.done:
		return ErrClosed
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-mb.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	case <-mb.done:
		return InboundMessage{}, false
	}
}

func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	if mb.isClosed() {
		return ErrClosed
	}
	select {
	case mb.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-mb.done:
		return ErrClosed
	}
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-mb.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	case <-mb.done:
		return OutboundMessage{}, false
	}
}

// Close releases blocked publishers and consumers. Messages still buffered
// are discarded. Close is idempotent.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)
	})
}

func (mb *MessageBus) isClosed() bool {
	select {
	case <-mb.done:
		return true
	default:
		return false
	}
}
