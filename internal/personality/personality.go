// Package personality models a buddy's character: a tagged personality type,
// the profile rendered from its template, and the three numeric dials that
// tune how the buddy talks.
package personality

import (
	"errors"
	"fmt"
	"strings"
)

// Type is the personality tag a buddy is created with.
type Type string

const (
	Friendly     Type = "friendly"
	Intellectual Type = "intellectual"
	Funny        Type = "funny"
	Supportive   Type = "supportive"
	Adventurous  Type = "adventurous"
	Mysterious   Type = "mysterious"
	Wise         Type = "wise"
	Creative     Type = "creative"
)

// Types lists every known personality type.
var Types = []Type{Friendly, Intellectual, Funny, Supportive, Adventurous, Mysterious, Wise, Creative}

// ErrInvalid is returned for malformed personality input.
var ErrInvalid = errors.New("invalid personality")

// ParseType validates a personality tag.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Types {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown type %q", ErrInvalid, s)
}

// Dial limits.
const (
	MinDial = 0
	MaxDial = 10
)

// Default dial values applied when a creation request omits them.
const (
	DefaultChattiness   = 5
	DefaultIntelligence = 7
	DefaultEmpathy      = 6
)

// Dials are the three integer knobs in [0,10].
type Dials struct {
	Chattiness   int `json:"chattiness"`
	Intelligence int `json:"intelligence"`
	Empathy      int `json:"empathy"`
}

// Validate checks every dial is in range.
func (d Dials) Validate() error {
	for name, v := range map[string]int{
		"chattiness":   d.Chattiness,
		"intelligence": d.Intelligence,
		"empathy":      d.Empathy,
	} {
		if v < MinDial || v > MaxDial {
			return fmt.Errorf("%w: %s must be in [%d,%d], got %d", ErrInvalid, name, MinDial, MaxDial, v)
		}
	}
	return nil
}

// Band is the qualitative bucket a dial falls into.
type Band int

const (
	Low Band = iota
	Medium
	High
)

func (b Band) String() string {
	switch b {
	case Low:
		return "low"
	case High:
		return "high"
	default:
		return "medium"
	}
}

// BandOf maps a dial value: <=3 low, >=7 high, otherwise medium.
func BandOf(v int) Band {
	switch {
	case v <= 3:
		return Low
	case v >= 7:
		return High
	default:
		return Medium
	}
}

// Profile is the rendered description of a buddy's character.
type Profile struct {
	Traits        []string                 `json:"traits"`
	Style         string                   `json:"style"`
	Interests     []string                 `json:"interests"`
	Greeting      string                   `json:"greeting"`
	ResponseStyle string                   `json:"responseStyle,omitempty"`
	Preferences   CommunicationPreferences `json:"communicationPreferences"`
}

// CommunicationPreferences are derived from the dials at creation time.
type CommunicationPreferences struct {
	PreferredTopics     []string `json:"preferredTopics"`
	ConversationLength  string   `json:"conversationLength"`
	EmotionalExpression string   `json:"emotionalExpression"`
	ComplexityLevel     string   `json:"complexityLevel"`
}

// Build renders the profile for a type and dial setting from the embedded
// templates.
func Build(t Type, d Dials) (Profile, error) {
	tpl, err := Template(t)
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		Traits:        append([]string(nil), tpl.Traits...),
		Style:         tpl.Style,
		Interests:     append([]string(nil), tpl.Interests...),
		Greeting:      tpl.Greeting,
		ResponseStyle: responseStyle(d),
		Preferences:   preferences(d),
	}, nil
}

func responseStyle(d Dials) string {
	var styles []string
	switch BandOf(d.Chattiness) {
	case High:
		styles = append(styles, "talks frequently", "asks follow-up questions", "shares personal thoughts")
	case Low:
		styles = append(styles, "speaks when spoken to", "gives concise responses", "listens more than talks")
	}
	switch BandOf(d.Intelligence) {
	case High:
		styles = append(styles, "uses complex vocabulary", "provides detailed explanations", "references various topics")
	case Low:
		styles = append(styles, "uses simple language", "gives straightforward answers", "keeps things basic")
	}
	switch BandOf(d.Empathy) {
	case High:
		styles = append(styles, "shows emotional understanding", "asks about feelings", "offers comfort and support")
	case Low:
		styles = append(styles, "focuses on facts over feelings", "gives practical advice", "maintains emotional distance")
	}
	return strings.Join(styles, ", ")
}

func preferences(d Dials) CommunicationPreferences {
	var topics []string
	if d.Intelligence >= 6 {
		topics = append(topics, "science", "technology", "philosophy", "books", "learning")
	}
	if d.Empathy >= 6 {
		topics = append(topics, "relationships", "feelings", "personal growth", "helping others")
	}
	if d.Intelligence <= 4 {
		topics = append(topics, "daily life", "simple pleasures", "basic interests")
	}
	if d.Empathy <= 4 {
		topics = append(topics, "facts", "news", "hobbies", "activities")
	}
	topics = append(topics, "movies", "music", "games", "weather", "food")

	return CommunicationPreferences{
		PreferredTopics:     topics,
		ConversationLength:  level(d.Chattiness, "long", "medium", "short"),
		EmotionalExpression: level(d.Empathy, "high", "medium", "low"),
		ComplexityLevel:     level(d.Intelligence, "high", "medium", "low"),
	}
}

func level(v int, hi, mid, lo string) string {
	switch {
	case v >= 6:
		return hi
	case v >= 4:
		return mid
	default:
		return lo
	}
}
