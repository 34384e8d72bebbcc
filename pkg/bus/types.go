package bus

import "time"

type InboundMessage struct {
	EventID    string            `json:"event_id"`
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	MessageSID string            `json:"message_sid,omitempty"`
	Media      []string          `json:"media,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

type OutboundMessage struct {
	Channel   string            `json:"channel"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	ReplyToID string            `json:"reply_to_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
