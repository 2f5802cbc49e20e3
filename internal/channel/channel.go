// Package channel bridges chat transports to a buddy. Each registered
// channel is bound to one buddy; inbound text goes through the buddy's
// reply pipeline and the reply is sent back on the same chat.
package channel

import (
	"context"
	"time"

	"buddyline/internal/conversation"
)

// InboundMessage is a message received from a channel.
type InboundMessage struct {
	ChannelName string
	SenderID    string
	SenderName  string
	ChatID      string
	Text        string
	Timestamp   time.Time
}

// OutboundMessage is a message to send through a channel.
type OutboundMessage struct {
	ChatID string
	Text   string
}

// Channel is the interface for messaging integrations.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg OutboundMessage) error
	OnMessage(handler func(InboundMessage))
	IsRunning() bool
}

// Replier produces a buddy's reply to a user message. *server.Service
// implements it.
type Replier interface {
	SendMessage(ctx context.Context, buddyID, text string) (*conversation.Message, error)
}
