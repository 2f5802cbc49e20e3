package eventbus

import "time"

// Topic represents an event topic.
type Topic string

const (
	TopicMessageAppended Topic = "message_appended"
	TopicCompacted       Topic = "conversation_compacted"
	TopicCompactFailed   Topic = "compaction_failed"
	TopicProviderState   Topic = "provider_state"
	TopicFallbackUsed    Topic = "fallback_used"
	TopicBuddyChanged    Topic = "buddy_changed"
	TopicError           Topic = "error"
	TopicStatusChange    Topic = "status_change"
)

// Event is a message passed through the event bus.
type Event struct {
	Topic     Topic
	Payload   any
	Timestamp time.Time
}

// Handler processes an event.
type Handler func(Event)
