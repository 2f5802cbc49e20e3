// Package server implements the buddy operations exposed to the desktop
// client and the other transports: buddy management, the send-message
// pipeline and provider state.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"buddyline/internal/buddy"
	"buddyline/internal/conversation"
	"buddyline/internal/eventbus"
	"buddyline/internal/friendship"
	"buddyline/internal/keylock"
	"buddyline/internal/llm"
	"buddyline/internal/memorylog"
	"buddyline/internal/prompt"
)

// ErrValidation marks rejected input. ErrNotFound also matches it.
var ErrValidation = conversation.ErrValidation

// ErrNotFound is returned for operations on unknown buddies.
var ErrNotFound = fmt.Errorf("%w: buddy not found", ErrValidation)

const maxFavoriteTopics = 5

// BuddyStore persists buddy records. GetBuddy returns nil, nil when absent.
type BuddyStore interface {
	SaveBuddy(ctx context.Context, b *buddy.Buddy) error
	GetBuddy(ctx context.Context, id string) (*buddy.Buddy, error)
	ListBuddies(ctx context.Context) ([]*buddy.Buddy, error)
	DeleteBuddy(ctx context.Context, id string) error
}

// Options configures a Service.
type Options struct {
	// HistoryForPrompt is how many live messages are loaded for the prompt.
	HistoryForPrompt int
	Prompt           prompt.Builder
	Memories         *memorylog.Log
	Bus              *eventbus.Bus
	Now              func() time.Time
}

// Service owns buddy records and runs the reply pipeline. Every operation
// on one buddy is serialized; different buddies proceed in parallel.
type Service struct {
	buddies  BuddyStore
	convs    *conversation.Store
	orch     *llm.Orchestrator
	memories *memorylog.Log
	prompt   prompt.Builder
	bus      *eventbus.Bus
	now      func() time.Time
	historyN int

	state llm.StateHolder
	locks keylock.Map
}

// BuddyEvent is published on eventbus.TopicBuddyChanged.
type BuddyEvent struct {
	Action string // added, updated, removed
	Buddy  *buddy.Buddy
}

// New creates a Service. The provider state starts uninitialized until
// Reinitialize is called.
func New(buddies BuddyStore, convs *conversation.Store, orch *llm.Orchestrator, opts Options) *Service {
	if opts.HistoryForPrompt <= 0 {
		opts.HistoryForPrompt = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		buddies:  buddies,
		convs:    convs,
		orch:     orch,
		memories: opts.Memories,
		prompt:   opts.Prompt,
		bus:      opts.Bus,
		now:      opts.Now,
		historyN: opts.HistoryForPrompt,
	}
}

// AddBuddy validates the profile and stores a new buddy.
func (s *Service) AddBuddy(ctx context.Context, p buddy.Profile) (*buddy.Buddy, error) {
	b, err := buddy.New(p, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := s.buddies.SaveBuddy(ctx, b); err != nil {
		return nil, &conversation.StorageError{Op: "save buddy", BuddyID: b.ID, Err: err}
	}
	log.Printf("[server] created buddy %s (%s)", b.Name, b.ID)
	s.bus.Publish(eventbus.TopicBuddyChanged, BuddyEvent{Action: "added", Buddy: b.Clone()})
	return b, nil
}

// GetBuddies returns every buddy.
func (s *Service) GetBuddies(ctx context.Context) ([]*buddy.Buddy, error) {
	return s.buddies.ListBuddies(ctx)
}

// GetBuddy returns nil, nil for unknown ids.
func (s *Service) GetBuddy(ctx context.Context, id string) (*buddy.Buddy, error) {
	return s.buddies.GetBuddy(ctx, id)
}

func (s *Service) mustGet(ctx context.Context, id string) (*buddy.Buddy, error) {
	b, err := s.buddies.GetBuddy(ctx, id)
	if err != nil {
		return nil, &conversation.StorageError{Op: "load buddy", BuddyID: id, Err: err}
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return b, nil
}

// RemoveBuddy deletes the buddy, its conversation and its memories.
func (s *Service) RemoveBuddy(ctx context.Context, id string) error {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	b, err := s.mustGet(ctx, id)
	if err != nil {
		return err
	}
	if err := s.convs.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.buddies.DeleteBuddy(ctx, id); err != nil {
		return &conversation.StorageError{Op: "delete buddy", BuddyID: id, Err: err}
	}
	if s.memories != nil {
		if err := s.memories.Remove(id); err != nil {
			log.Printf("[server] failed to remove memories for %s: %v", id, err)
		}
	}
	log.Printf("[server] removed buddy %s (%s)", b.Name, id)
	s.bus.Publish(eventbus.TopicBuddyChanged, BuddyEvent{Action: "removed", Buddy: b})
	return nil
}

// SendMessage records the user's message, generates the buddy's reply and
// records it. The reply is always produced; only validation and storage
// failures are returned as errors.
func (s *Service) SendMessage(ctx context.Context, id, text string) (*conversation.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message is empty", ErrValidation)
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}

	stats, err := s.convs.Stats(ctx, id)
	if err != nil {
		return nil, err
	}
	if stats.TotalMessages == 0 {
		b.Stats.ConversationsStarted++
	}

	if _, err := s.convs.Append(ctx, id, conversation.Message{Content: text, Sender: conversation.SenderUser}); err != nil {
		return nil, err
	}
	s.touch(b)
	if err := s.buddies.SaveBuddy(ctx, b); err != nil {
		return nil, &conversation.StorageError{Op: "save buddy", BuddyID: id, Err: err}
	}

	history, err := s.convs.Messages(ctx, id, s.historyN)
	if err != nil {
		return nil, err
	}
	summary, err := s.convs.Summary(ctx, id)
	if err != nil {
		return nil, err
	}

	req := s.prompt.Build(b, history, summary, text)
	res := s.orch.Generate(ctx, s.state.Load(), req)
	if res.Fallback {
		log.Printf("[server] fallback reply for %s (backend %q)", b.Name, res.Backend)
	}

	b.FriendshipScore = friendship.Score(b.FriendshipScore, text)
	if b.Settings.LearningEnabled {
		learn(b, text)
	}

	reply, err := s.convs.Append(ctx, id, conversation.Message{Content: res.Text, Sender: conversation.SenderBuddy})
	if err != nil {
		return nil, err
	}
	s.touch(b)
	if err := s.buddies.SaveBuddy(ctx, b); err != nil {
		return nil, &conversation.StorageError{Op: "save buddy", BuddyID: id, Err: err}
	}

	if s.memories != nil {
		s.memories.Record(id, memorylog.New(text, reply.Content, b.FriendshipScore))
	}
	return &reply, nil
}

func (s *Service) touch(b *buddy.Buddy) {
	now := s.now()
	b.Stats.MessagesExchanged++
	b.LastInteraction = &now
	b.UpdatedAt = now
}

// learn folds the user's mood and topics into the buddy's stats. Most
// recent topics come first.
func learn(b *buddy.Buddy, text string) {
	b.Stats.Mood = memorylog.DetectMood(text)
	topics := memorylog.ExtractTopics(text)
	if len(topics) == 0 {
		return
	}
	merged := append([]string(nil), topics...)
	for _, t := range b.Stats.FavoriteTopics {
		if !slices.Contains(merged, t) {
			merged = append(merged, t)
		}
	}
	if len(merged) > maxFavoriteTopics {
		merged = merged[:maxFavoriteTopics]
	}
	b.Stats.FavoriteTopics = merged
}

// GetConversation returns the live window, oldest first. Compacted
// messages are only reachable through ConversationStats and the export.
func (s *Service) GetConversation(ctx context.Context, id string) ([]conversation.Message, error) {
	if _, err := s.mustGet(ctx, id); err != nil {
		return nil, err
	}
	msgs, err := s.convs.Messages(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	return msgs, nil
}

// GetBuddySettings returns the buddy record the settings dialog edits.
func (s *Service) GetBuddySettings(ctx context.Context, id string) (*buddy.Buddy, error) {
	return s.mustGet(ctx, id)
}

// UpdateBuddySettings applies a partial update and persists it.
func (s *Service) UpdateBuddySettings(ctx context.Context, id string, patch buddy.SettingsPatch) (*buddy.Buddy, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := b.Apply(patch, s.now()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := s.buddies.SaveBuddy(ctx, b); err != nil {
		return nil, &conversation.StorageError{Op: "save buddy", BuddyID: id, Err: err}
	}
	log.Printf("[server] updated settings for buddy %s", b.Name)
	s.bus.Publish(eventbus.TopicBuddyChanged, BuddyEvent{Action: "updated", Buddy: b.Clone()})
	return b, nil
}

// ConversationStats summarizes the buddy's conversation.
func (s *Service) ConversationStats(ctx context.Context, id string) (conversation.Stats, error) {
	if _, err := s.mustGet(ctx, id); err != nil {
		return conversation.Stats{}, err
	}
	return s.convs.Stats(ctx, id)
}

// ExportConversation renders the conversation as json or txt.
func (s *Service) ExportConversation(ctx context.Context, id, format string) ([]byte, error) {
	if _, err := s.mustGet(ctx, id); err != nil {
		return nil, err
	}
	return s.convs.Export(ctx, id, format)
}

// Reinitialize probes the backends again and swaps in the new state.
// In-flight replies keep the state they started with.
func (s *Service) Reinitialize(ctx context.Context) llm.ProviderState {
	st := s.orch.Initialize(ctx)
	s.state.Store(st)
	return st
}

// ProviderState returns the current provider state.
func (s *Service) ProviderState() llm.ProviderState {
	return s.state.Load()
}

// Backends lists the configured backends in priority order.
func (s *Service) Backends() []string {
	return s.orch.Backends()
}

// IsNotFound reports whether err is about an unknown buddy.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
