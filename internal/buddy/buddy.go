// Package buddy defines the buddy record and the rules for creating and
// editing one.
package buddy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"buddyline/internal/personality"
)

// ErrInvalid is returned for rejected buddy input.
var ErrInvalid = errors.New("invalid buddy")

const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	DefaultAvatar   = "default"
	DefaultProvider = "auto"
	DefaultMood     = "neutral"
)

// Stats are the running counters kept on a buddy.
type Stats struct {
	MessagesExchanged    int      `json:"messagesExchanged"`
	ConversationsStarted int      `json:"conversationsStarted"`
	FavoriteTopics       []string `json:"favoriteTopics"`
	Mood                 string   `json:"mood"`
}

// FreeMessaging controls whether a buddy may start conversations on its own.
type FreeMessaging struct {
	Enabled   bool     `json:"enabled"`
	Frequency string   `json:"frequency,omitempty"`
	Topics    []string `json:"topics,omitempty"`
}

// Settings are the user-editable preferences of a buddy.
type Settings struct {
	AIProvider      string        `json:"aiProvider"`
	FreeMessaging   FreeMessaging `json:"freeMessaging"`
	LearningEnabled bool          `json:"learningEnabled"`
}

// Buddy is the persisted record of one synthetic contact.
type Buddy struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	PersonalityType personality.Type    `json:"personalityType"`
	Avatar          string              `json:"avatar"`
	Chattiness      int                 `json:"chattiness"`
	Intelligence    int                 `json:"intelligence"`
	Empathy         int                 `json:"empathy"`
	Personality     personality.Profile `json:"personality"`
	FriendshipScore int                 `json:"friendshipScore"`
	Status          string              `json:"status"`
	LastInteraction *time.Time          `json:"lastInteraction"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
	Stats           Stats               `json:"stats"`
	Settings        Settings            `json:"settings"`
}

// Dials returns the buddy's three personality dials.
func (b *Buddy) Dials() personality.Dials {
	return personality.Dials{Chattiness: b.Chattiness, Intelligence: b.Intelligence, Empathy: b.Empathy}
}

// Clone returns a deep copy.
func (b *Buddy) Clone() *Buddy {
	cp := *b
	cp.Personality.Traits = append([]string(nil), b.Personality.Traits...)
	cp.Personality.Interests = append([]string(nil), b.Personality.Interests...)
	cp.Personality.Preferences.PreferredTopics = append([]string(nil), b.Personality.Preferences.PreferredTopics...)
	cp.Stats.FavoriteTopics = append([]string(nil), b.Stats.FavoriteTopics...)
	cp.Settings.FreeMessaging.Topics = append([]string(nil), b.Settings.FreeMessaging.Topics...)
	if b.LastInteraction != nil {
		t := *b.LastInteraction
		cp.LastInteraction = &t
	}
	return &cp
}

// Profile is the creation request for a new buddy. Omitted dials take the
// personality defaults.
type Profile struct {
	Name            string `json:"name"`
	PersonalityType string `json:"personalityType"`
	Avatar          string `json:"avatar,omitempty"`
	Chattiness      *int   `json:"chattiness,omitempty"`
	Intelligence    *int   `json:"intelligence,omitempty"`
	Empathy         *int   `json:"empathy,omitempty"`
}

// New validates p and builds a fresh buddy.
func New(p Profile, now time.Time) (*Buddy, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	typ, err := personality.ParseType(p.PersonalityType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	d := personality.Dials{
		Chattiness:   orDefault(p.Chattiness, personality.DefaultChattiness),
		Intelligence: orDefault(p.Intelligence, personality.DefaultIntelligence),
		Empathy:      orDefault(p.Empathy, personality.DefaultEmpathy),
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	prof, err := personality.Build(typ, d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	avatar := p.Avatar
	if avatar == "" {
		avatar = DefaultAvatar
	}
	return &Buddy{
		ID:              uuid.NewString(),
		Name:            name,
		PersonalityType: typ,
		Avatar:          avatar,
		Chattiness:      d.Chattiness,
		Intelligence:    d.Intelligence,
		Empathy:         d.Empathy,
		Personality:     prof,
		Status:          StatusOnline,
		CreatedAt:       now,
		UpdatedAt:       now,
		Stats:           Stats{FavoriteTopics: []string{}, Mood: DefaultMood},
		Settings:        Settings{AIProvider: DefaultProvider, LearningEnabled: true},
	}, nil
}

func orDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// SettingsPatch is a partial update. Nil fields are left unchanged.
type SettingsPatch struct {
	Name            *string        `json:"name,omitempty"`
	Avatar          *string        `json:"avatar,omitempty"`
	Chattiness      *int           `json:"chattiness,omitempty"`
	Intelligence    *int           `json:"intelligence,omitempty"`
	Empathy         *int           `json:"empathy,omitempty"`
	AIProvider      *string        `json:"aiProvider,omitempty"`
	FreeMessaging   *FreeMessaging `json:"freeMessaging,omitempty"`
	LearningEnabled *bool          `json:"learningEnabled,omitempty"`
}

// Apply validates the patch and applies it to b. Dial changes re-render the
// personality profile. b is untouched when an error is returned.
func (b *Buddy) Apply(patch SettingsPatch, now time.Time) error {
	next := b.Clone()
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return fmt.Errorf("%w: name is required", ErrInvalid)
		}
		next.Name = name
	}
	if patch.Avatar != nil {
		next.Avatar = *patch.Avatar
	}

	dialsChanged := patch.Chattiness != nil || patch.Intelligence != nil || patch.Empathy != nil
	next.Chattiness = orDefault(patch.Chattiness, next.Chattiness)
	next.Intelligence = orDefault(patch.Intelligence, next.Intelligence)
	next.Empathy = orDefault(patch.Empathy, next.Empathy)
	if dialsChanged {
		if err := next.Dials().Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		prof, err := personality.Build(next.PersonalityType, next.Dials())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		next.Personality = prof
	}

	if patch.AIProvider != nil {
		next.Settings.AIProvider = *patch.AIProvider
	}
	if patch.FreeMessaging != nil {
		next.Settings.FreeMessaging = *patch.FreeMessaging
	}
	if patch.LearningEnabled != nil {
		next.Settings.LearningEnabled = *patch.LearningEnabled
	}
	next.UpdatedAt = now
	*b = *next
	return nil
}
