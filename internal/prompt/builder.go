// Package prompt renders the personality-conditioned prompt for one reply.
package prompt

import (
	"fmt"
	"math"
	"strings"

	"buddyline/internal/buddy"
	"buddyline/internal/conversation"
	"buddyline/internal/friendship"
	"buddyline/internal/llm"
	"buddyline/internal/personality"
)

// DefaultHistoryTurns is how many recent messages are quoted in the prompt.
const DefaultHistoryTurns = 8

var guidelines = []string{
	"Stay in character as %s with the personality described above",
	"Respond naturally as if continuing a real friendship conversation",
	"Remember this is an instant messenger - keep responses conversational and not too long",
	"Use the friendship level to determine familiarity (inside jokes, shared memories, etc.)",
	"Match the user's energy and tone appropriately",
	"Don't mention that you're an AI unless directly asked",
	"Show genuine interest in the user based on your empathy level",
	"Use emojis sparingly and naturally (like early 2000s messenger style)",
}

// Builder renders prompts. The zero value quotes DefaultHistoryTurns turns.
type Builder struct {
	HistoryTurns int
}

// Build assembles the request for one reply. history is the live window,
// oldest first; only its tail is quoted. summary may be nil.
func (b Builder) Build(bd *buddy.Buddy, history []conversation.Message, summary *conversation.CompactedSummary, userMessage string) llm.GenerationRequest {
	turns := b.HistoryTurns
	if turns <= 0 {
		turns = DefaultHistoryTurns
	}
	if len(history) > turns {
		history = history[len(history)-turns:]
	}

	p := bd.Personality
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, an AI friend with these characteristics:\n\n", bd.Name)

	sb.WriteString("PERSONALITY:\n")
	fmt.Fprintf(&sb, "- Type: %s\n", orDefault(string(bd.PersonalityType), string(personality.Friendly)))
	fmt.Fprintf(&sb, "- Traits: %s\n", joinOr(p.Traits, "warm, friendly"))
	fmt.Fprintf(&sb, "- Communication Style: %s\n", orDefault(p.Style, "casual and friendly"))
	fmt.Fprintf(&sb, "- Interests: %s\n\n", joinOr(p.Interests, "friendship, conversations"))

	sb.WriteString("SETTINGS:\n")
	fmt.Fprintf(&sb, "- Chattiness: %d%% (%s)\n", percent(bd.Chattiness),
		banded(bd.Chattiness, "speak less, listen more", "balanced conversation", "speak freely, ask questions"))
	fmt.Fprintf(&sb, "- Intelligence: %d%% (%s)\n", percent(bd.Intelligence),
		banded(bd.Intelligence, "simple language, basic topics", "moderate complexity", "complex ideas, detailed explanations"))
	fmt.Fprintf(&sb, "- Empathy: %d%% (%s)\n\n", percent(bd.Empathy),
		banded(bd.Empathy, "focus on facts over feelings", "balanced emotional response", "very emotionally aware and supportive"))

	sb.WriteString("FRIENDSHIP:\n")
	fmt.Fprintf(&sb, "- Level: %s\n", friendship.Level(bd.FriendshipScore))
	fmt.Fprintf(&sb, "- Messages Exchanged: %d\n", bd.Stats.MessagesExchanged)
	fmt.Fprintf(&sb, "- Relationship: %s\n\n", friendship.Relationship(bd.FriendshipScore))

	if digest := Digest(summary); digest != "" {
		sb.WriteString("EARLIER CONVERSATIONS:\n")
		sb.WriteString(digest)
		sb.WriteString("\n\n")
	}

	sb.WriteString("CONVERSATION GUIDELINES:\n")
	for i, g := range guidelines {
		if strings.Contains(g, "%s") {
			g = fmt.Sprintf(g, bd.Name)
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, g)
	}

	sb.WriteString("\nRECENT CONVERSATION:\n")
	if len(history) == 0 {
		sb.WriteString("This is the start of your conversation\n")
	}
	for _, m := range history {
		who := bd.Name
		if m.Sender == conversation.SenderUser {
			who = "User"
		}
		fmt.Fprintf(&sb, "%s: %s\n", who, m.Content)
	}

	fmt.Fprintf(&sb, "\nCurrent user message: %s\n\n", userMessage)
	fmt.Fprintf(&sb, "Respond as %s:", bd.Name)

	return llm.GenerationRequest{
		SystemPrompt:    sb.String(),
		UserMessage:     userMessage,
		BuddyName:       bd.Name,
		PersonalityType: bd.PersonalityType,
		Temperature:     Temperature(bd.Chattiness),
	}
}

// Temperature maps chattiness onto [0.7, 1.0].
func Temperature(chattiness int) float64 {
	return 0.7 + float64(chattiness)/10*0.3
}

// Digest is a one-line recap of compacted history, or "" when there is none.
func Digest(cs *conversation.CompactedSummary) string {
	if cs == nil {
		return ""
	}
	s := cs.Summary
	var parts []string
	if len(s.KeyTopics) > 0 {
		topics := make([]string, len(s.KeyTopics))
		for i, t := range s.KeyTopics {
			topics[i] = t.Topic
		}
		parts = append(parts, "you often talked about "+strings.Join(topics, ", "))
	}
	if n := len(s.UserPreferences.FavoriteThings); n > 0 {
		favs := s.UserPreferences.FavoriteThings[max(0, n-3):]
		parts = append(parts, "the user likes "+strings.Join(favs, ", "))
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("- Over %d earlier messages %s", cs.OriginalMessageCount, strings.Join(parts, "; "))
}

func percent(dial int) int {
	return int(math.Round(float64(dial) / 10 * 100))
}

func banded(dial int, low, mid, high string) string {
	switch personality.BandOf(dial) {
	case personality.Low:
		return low
	case personality.High:
		return high
	default:
		return mid
	}
}

func joinOr(items []string, def string) string {
	if len(items) == 0 {
		return def
	}
	return strings.Join(items, ", ")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
