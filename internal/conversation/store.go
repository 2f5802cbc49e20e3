package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"buddyline/internal/eventbus"
	"buddyline/internal/keylock"
)

const (
	DefaultCompactThreshold = 500
	DefaultRetainCount      = 200
)

// Persister is the durable backing of a Store.
type Persister interface {
	// LoadConversation returns nil, nil when nothing is stored for the buddy.
	LoadConversation(ctx context.Context, buddyID string) (*Conversation, error)
	SaveConversation(ctx context.Context, conv *Conversation) error
	DeleteConversation(ctx context.Context, buddyID string) error
}

// Options configures a Store. Zero values fall back to the defaults.
type Options struct {
	CompactThreshold int
	RetainCount      int
	Summarizer       Summarizer
	Bus              *eventbus.Bus
	Now              func() time.Time
}

// Store owns every buddy's conversation. All read-modify-write cycles on a
// buddy's conversation are serialized per buddy; different buddies proceed
// in parallel.
type Store struct {
	persist Persister
	opts    Options
	locks   keylock.Map

	mu    sync.Mutex
	cache map[string]*Conversation
}

// AppendedEvent is published on eventbus.TopicMessageAppended.
type AppendedEvent struct {
	BuddyID string
	Message Message
}

// CompactedEvent is published on eventbus.TopicCompacted.
type CompactedEvent struct {
	BuddyID              string
	Removed              int
	OriginalMessageCount int
}

// NewStore creates a Store backed by p.
func NewStore(p Persister, opts Options) *Store {
	if opts.CompactThreshold <= 0 {
		opts.CompactThreshold = DefaultCompactThreshold
	}
	if opts.RetainCount <= 0 {
		opts.RetainCount = DefaultRetainCount
	}
	if opts.RetainCount >= opts.CompactThreshold {
		opts.RetainCount = opts.CompactThreshold / 2
	}
	if opts.Summarizer == nil {
		opts.Summarizer = KeywordSummarizer{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		persist: p,
		opts:    opts,
		cache:   make(map[string]*Conversation),
	}
}

// Append records msg at the end of the buddy's conversation and persists it
// before returning. On a persistence failure the conversation is left exactly
// as it was and a *StorageError is returned.
func (s *Store) Append(ctx context.Context, buddyID string, msg Message) (Message, error) {
	if strings.TrimSpace(buddyID) == "" {
		return Message{}, fmt.Errorf("%w: buddy id is required", ErrValidation)
	}
	if strings.TrimSpace(msg.Content) == "" {
		return Message{}, fmt.Errorf("%w: message content is empty", ErrValidation)
	}
	switch msg.Sender {
	case SenderUser, SenderBuddy:
	default:
		return Message{}, fmt.Errorf("%w: unknown sender %q", ErrValidation, msg.Sender)
	}

	unlock, err := s.locks.Lock(ctx, buddyID)
	if err != nil {
		return Message{}, err
	}
	defer unlock()

	conv, err := s.ensure(ctx, buddyID)
	if err != nil {
		return Message{}, err
	}

	now := s.opts.Now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	if msg.Type == "" {
		msg.Type = MessageTypeText
	}

	before := *conv
	conv.Messages = append(conv.Messages, msg)
	conv.MessageCount++
	conv.LastUpdated = now

	removed, cerr := s.compactLocked(ctx, conv)
	if cerr != nil {
		log.Printf("[conversation] %v", cerr)
		s.opts.Bus.Publish(eventbus.TopicCompactFailed, cerr)
	}

	if err := s.persist.SaveConversation(ctx, conv); err != nil {
		*conv = before
		return Message{}, &StorageError{Op: "append", BuddyID: buddyID, Err: err}
	}

	if removed > 0 {
		s.publishCompacted(conv, removed)
	}
	s.opts.Bus.PublishAsync(eventbus.TopicMessageAppended, AppendedEvent{BuddyID: buddyID, Message: msg})
	return msg, nil
}

// History returns the most recent limit messages of the live window, oldest
// first. A limit of zero or less yields the whole window. The sequence reads
// from a snapshot taken at call time and may be ranged over repeatedly.
func (s *Store) History(ctx context.Context, buddyID string, limit int) (iter.Seq[Message], error) {
	unlock, err := s.locks.Lock(ctx, buddyID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	conv, err := s.ensure(ctx, buddyID)
	if err != nil {
		return nil, err
	}
	msgs := conv.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	snapshot := slices.Clone(msgs)
	return slices.Values(snapshot), nil
}

// Messages is History collected into a slice.
func (s *Store) Messages(ctx context.Context, buddyID string, limit int) ([]Message, error) {
	seq, err := s.History(ctx, buddyID, limit)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// Get returns a copy of the full conversation document.
func (s *Store) Get(ctx context.Context, buddyID string) (*Conversation, error) {
	unlock, err := s.locks.Lock(ctx, buddyID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	conv, err := s.ensure(ctx, buddyID)
	if err != nil {
		return nil, err
	}
	return conv.clone(), nil
}

// Summary returns the compacted summary, or nil if nothing was compacted yet.
func (s *Store) Summary(ctx context.Context, buddyID string) (*CompactedSummary, error) {
	unlock, err := s.locks.Lock(ctx, buddyID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	conv, err := s.ensure(ctx, buddyID)
	if err != nil {
		return nil, err
	}
	return conv.CompactedSummary, nil
}

// Compact summarizes everything but the retention window once the live window
// exceeds the threshold. At or below the threshold it does nothing.
func (s *Store) Compact(ctx context.Context, buddyID string) error {
	unlock, err := s.locks.Lock(ctx, buddyID)
	if err != nil {
		return err
	}
	defer unlock()

	conv, err := s.ensure(ctx, buddyID)
	if err != nil {
		return err
	}

	before := *conv
	removed, err := s.compactLocked(ctx, conv)
	if err != nil {
		log.Printf("[conversation] %v", err)
		s.opts.Bus.Publish(eventbus.TopicCompactFailed, err)
		return err
	}
	if removed == 0 {
		return nil
	}
	if err := s.persist.SaveConversation(ctx, conv); err != nil {
		*conv = before
		return &StorageError{Op: "compact", BuddyID: buddyID, Err: err}
	}
	s.publishCompacted(conv, removed)
	return nil
}

// compactLocked must be called with the buddy's lock held. It returns how
// many messages moved into the summary.
func (s *Store) compactLocked(ctx context.Context, conv *Conversation) (int, error) {
	if len(conv.Messages) <= s.opts.CompactThreshold {
		return 0, nil
	}
	cut := len(conv.Messages) - s.opts.RetainCount
	head := conv.Messages[:cut]

	fresh, err := s.opts.Summarizer.Summarize(ctx, head)
	if err != nil {
		return 0, &CompactionError{BuddyID: conv.BuddyID, Err: err}
	}

	var prev Summary
	prevCount, prevRuns := 0, 0
	if cs := conv.CompactedSummary; cs != nil {
		prev, prevCount, prevRuns = cs.Summary, cs.OriginalMessageCount, cs.Compactions
	}
	conv.CompactedSummary = &CompactedSummary{
		Summary:              mergeSummaries(prev, fresh),
		OriginalMessageCount: prevCount + len(head),
		CompactedAt:          s.opts.Now(),
		Compactions:          prevRuns + 1,
	}
	conv.Messages = slices.Clone(conv.Messages[cut:])
	return len(head), nil
}

func (s *Store) publishCompacted(conv *Conversation, removed int) {
	log.Printf("[conversation] compacted %d messages for %s, kept %d", removed, conv.BuddyID, len(conv.Messages))
	s.opts.Bus.Publish(eventbus.TopicCompacted, CompactedEvent{
		BuddyID:              conv.BuddyID,
		Removed:              removed,
		OriginalMessageCount: conv.CompactedSummary.OriginalMessageCount,
	})
}

// Delete drops the cached and persisted conversation. Unknown buddies are not
// an error.
func (s *Store) Delete(ctx context.Context, buddyID string) error {
	unlock, err := s.locks.Lock(ctx, buddyID)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	delete(s.cache, buddyID)
	s.mu.Unlock()

	if err := s.persist.DeleteConversation(ctx, buddyID); err != nil {
		return &StorageError{Op: "delete", BuddyID: buddyID, Err: err}
	}
	return nil
}

// Stats summarizes the live window.
func (s *Store) Stats(ctx context.Context, buddyID string) (Stats, error) {
	conv, err := s.Get(ctx, buddyID)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		TotalMessages:    conv.MessageCount,
		Created:          conv.Created,
		LastUpdated:      conv.LastUpdated,
		HasCompactedData: conv.CompactedSummary != nil,
	}
	for _, m := range conv.Messages {
		if m.Sender == SenderUser {
			st.UserMessages++
		} else {
			st.BuddyMessages++
		}
	}
	if n := len(conv.Messages); n > 0 {
		last := conv.Messages[n-1]
		st.LastMessage = &last
	}
	return st, nil
}

// Export formats
const (
	FormatJSON = "json"
	FormatText = "txt"
)

// Export renders the conversation as the full JSON document or as a plain
// text transcript.
func (s *Store) Export(ctx context.Context, buddyID, format string) ([]byte, error) {
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatText {
		return nil, fmt.Errorf("%w: unsupported export format %q", ErrValidation, format)
	}
	conv, err := s.Get(ctx, buddyID)
	if err != nil {
		return nil, err
	}
	if format == FormatJSON {
		return json.MarshalIndent(conv, "", "  ")
	}

	const layout = "2006-01-02 15:04:05"
	var b bytes.Buffer
	fmt.Fprintf(&b, "Conversation with Buddy %s\n", buddyID)
	fmt.Fprintf(&b, "Created: %s\n", conv.Created.Format(layout))
	fmt.Fprintf(&b, "Last Updated: %s\n\n", conv.LastUpdated.Format(layout))
	for _, m := range conv.Messages {
		who := "Buddy"
		if m.Sender == SenderUser {
			who = "You"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.Format(layout), who, m.Content)
	}
	return b.Bytes(), nil
}

// ensure must be called with the buddy's lock held. A buddy with nothing
// stored gets an empty conversation that is persisted on first append.
func (s *Store) ensure(ctx context.Context, buddyID string) (*Conversation, error) {
	s.mu.Lock()
	conv, ok := s.cache[buddyID]
	s.mu.Unlock()
	if ok {
		return conv, nil
	}

	conv, err := s.persist.LoadConversation(ctx, buddyID)
	if err != nil {
		return nil, &StorageError{Op: "load", BuddyID: buddyID, Err: err}
	}
	if conv == nil {
		now := s.opts.Now()
		conv = &Conversation{BuddyID: buddyID, Messages: []Message{}, Created: now, LastUpdated: now}
	}
	if conv.Messages == nil {
		conv.Messages = []Message{}
	}

	s.mu.Lock()
	s.cache[buddyID] = conv
	s.mu.Unlock()
	return conv, nil
}

// IsValidation reports whether err was caused by rejected input.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
