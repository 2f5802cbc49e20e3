// Package friendship scores how close a buddy and the user have become.
package friendship

import "strings"

const (
	MinScore = 0
	MaxScore = 100

	longMessageLen = 50
)

var emotionalWords = []string{"love", "happy", "sad", "excited", "worried", "grateful", "angry"}

// Score returns the updated friendship score after one exchange. It depends
// only on the current score and the user's message, never decreases, and is
// clamped to [MinScore, MaxScore].
func Score(current int, userMessage string) int {
	change := 1
	if len(userMessage) > longMessageLen {
		change++
	}
	lower := strings.ToLower(userMessage)
	for _, w := range emotionalWords {
		if strings.Contains(lower, w) {
			change += 2
			break
		}
	}
	if strings.Contains(userMessage, "?") {
		change++
	}
	return clamp(current + change)
}

func clamp(v int) int {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

// Level returns the label shown for a score.
func Level(score int) string {
	switch {
	case score >= 80:
		return "Best Friends"
	case score >= 60:
		return "Close Friends"
	case score >= 40:
		return "Good Friends"
	case score >= 20:
		return "Friends"
	default:
		return "New Friend"
	}
}

// Relationship describes the familiarity a buddy should show at a score.
func Relationship(score int) string {
	switch {
	case score >= 50:
		return "Close friend who knows user well"
	case score >= 20:
		return "Good friend getting to know user"
	default:
		return "New friend, still building relationship"
	}
}
