// Package conversation keeps each buddy's append-only message log: a live
// window cached in memory and persisted on every append, plus a derived
// summary of everything compacted out of that window.
package conversation

import (
	"errors"
	"fmt"
	"time"
)

// Sender identifies who wrote a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderBuddy Sender = "buddy"
)

// MessageTypeText is the only message type currently produced.
const MessageTypeText = "text"

// Message is a single immutable entry of a conversation.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
}

// Conversation is the persisted document for one buddy.
type Conversation struct {
	BuddyID          string            `json:"buddyId"`
	Messages         []Message         `json:"messages"`
	MessageCount     int               `json:"messageCount"`
	CompactedSummary *CompactedSummary `json:"compactedSummary"`
	Created          time.Time         `json:"created"`
	LastUpdated      time.Time         `json:"lastUpdated"`
}

// CompactedSummary accounts for every message removed from the live window.
// OriginalMessageCount is cumulative across compactions.
type CompactedSummary struct {
	Summary              Summary   `json:"summary"`
	OriginalMessageCount int       `json:"originalMessageCount"`
	CompactedAt          time.Time `json:"compactedAt"`
	Compactions          int       `json:"compactions"`
}

// Summary is the keyword-derived digest of compacted messages.
type Summary struct {
	TotalMessages          int            `json:"totalMessages"`
	TimeSpan               TimeSpan       `json:"timeSpan"`
	TopicCounts            map[string]int `json:"topicCounts"`
	KeyTopics              []TopicCount   `json:"keyTopics"`
	ImportantMoments       []Moment       `json:"importantMoments"`
	UserPreferences        Preferences    `json:"userPreferences"`
	ToneCounts             ToneCounts     `json:"toneCounts"`
	EmotionalTone          Tone           `json:"emotionalTone"`
	RelationshipMilestones []Milestone    `json:"relationshipMilestones"`
}

type TimeSpan struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type TopicCount struct {
	Topic    string `json:"topic"`
	Mentions int    `json:"mentions"`
}

// MomentType classifies an important moment.
type MomentType string

const (
	MomentPositive     MomentType = "positive_emotion"
	MomentNegative     MomentType = "negative_emotion"
	MomentAchievement  MomentType = "achievement"
	MomentRelationship MomentType = "relationship"
)

type Moment struct {
	Type      MomentType `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	Content   string     `json:"content"`
}

type Preferences struct {
	FavoriteThings []string `json:"favoriteThings"`
	Dislikes       []string `json:"dislikes"`
	Interests      []string `json:"interests"`
}

// ToneCounts are the raw per-message classifications behind Tone.
type ToneCounts struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

// Tone holds rounded percentages of ToneCounts.
type Tone struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

type Milestone struct {
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
}

// Stats is a read-only overview of a conversation.
type Stats struct {
	TotalMessages    int       `json:"totalMessages"`
	UserMessages     int       `json:"userMessages"`
	BuddyMessages    int       `json:"buddyMessages"`
	LastMessage      *Message  `json:"lastMessage,omitempty"`
	Created          time.Time `json:"created"`
	LastUpdated      time.Time `json:"lastUpdated"`
	HasCompactedData bool      `json:"hasCompactedData"`
}

// ErrValidation marks input rejected before any mutation.
var ErrValidation = errors.New("validation error")

// StorageError reports a persistence failure.
type StorageError struct {
	Op      string
	BuddyID string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s for buddy %s: %v", e.Op, e.BuddyID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// CompactionError reports a failed summarization. It is logged, never
// returned from Append.
type CompactionError struct {
	BuddyID string
	Err     error
}

func (e *CompactionError) Error() string {
	return fmt.Sprintf("compaction for buddy %s: %v", e.BuddyID, e.Err)
}

func (e *CompactionError) Unwrap() error { return e.Err }

// clone returns a copy that shares no mutable state with c.
func (c *Conversation) clone() *Conversation {
	cp := *c
	cp.Messages = append([]Message(nil), c.Messages...)
	return &cp
}
