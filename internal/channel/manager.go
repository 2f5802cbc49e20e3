package channel

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// DefaultReplyTimeout bounds one inbound message's trip through the pipeline.
const DefaultReplyTimeout = 60 * time.Second

type binding struct {
	ch      Channel
	buddyID string
}

// Manager manages the lifecycle of all channels and routes their messages.
type Manager struct {
	replier Replier
	timeout time.Duration

	mu       sync.RWMutex
	channels map[string]binding
}

// NewManager creates a manager that answers through r.
func NewManager(r Replier) *Manager {
	return &Manager{
		replier:  r,
		timeout:  DefaultReplyTimeout,
		channels: make(map[string]binding),
	}
}

// Register binds ch to buddyID. Registering a name twice replaces the
// earlier binding.
func (m *Manager) Register(ch Channel, buddyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch.OnMessage(m.route(ch, buddyID))
	m.channels[ch.Name()] = binding{ch: ch, buddyID: buddyID}
}

func (m *Manager) route(ch Channel, buddyID string) func(InboundMessage) {
	return func(in InboundMessage) {
		if strings.TrimSpace(in.Text) == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		var text string
		reply, err := m.replier.SendMessage(ctx, buddyID, in.Text)
		if err != nil {
			log.Printf("[channel] %s: reply for chat %s failed: %v", ch.Name(), in.ChatID, err)
			text = "Sorry, I couldn't answer that right now."
		} else {
			text = reply.Content
		}
		if err := ch.Send(ctx, OutboundMessage{ChatID: in.ChatID, Text: text}); err != nil {
			log.Printf("[channel] %s: send to chat %s failed: %v", ch.Name(), in.ChatID, err)
		}
	}
}

// StartAll starts all registered channels.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, b := range m.channels {
		if err := b.ch.Start(ctx); err != nil {
			log.Printf("[channel] failed to start %s: %v", name, err)
			return fmt.Errorf("start %s: %w", name, err)
		}
		log.Printf("[channel] started %s for buddy %s", name, b.buddyID)
	}
	return nil
}

// StopAll stops all running channels.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, b := range m.channels {
		if b.ch.IsRunning() {
			if err := b.ch.Stop(ctx); err != nil {
				log.Printf("[channel] failed to stop %s: %v", name, err)
			} else {
				log.Printf("[channel] stopped %s", name)
			}
		}
	}
}

// List returns all channel names and their running status.
func (m *Manager) List() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]bool, len(m.channels))
	for name, b := range m.channels {
		result[name] = b.ch.IsRunning()
	}
	return result
}
