package memorylog

import "strings"

const (
	MoodPositive = "positive"
	MoodNegative = "negative"
	MoodNeutral  = "neutral"
)

var (
	moodPositive = []string{"happy", "great", "awesome", "love", "excited", "amazing", "wonderful"}
	moodNegative = []string{"sad", "bad", "terrible", "hate", "angry", "frustrated", "awful"}
)

var topicKeywords = []struct {
	topic string
	words []string
}{
	{"technology", []string{"computer", "phone", "internet", "app", "software", "ai", "robot"}},
	{"entertainment", []string{"movie", "music", "game", "show", "book", "video"}},
	{"food", []string{"eat", "food", "restaurant", "cook", "meal", "hungry"}},
	{"work", []string{"job", "work", "boss", "meeting", "project", "office"}},
	{"relationships", []string{"friend", "family", "love", "relationship", "together"}},
	{"hobbies", []string{"hobby", "sport", "exercise", "art", "music", "read"}},
}

// DetectMood compares how many positive and negative words occur.
func DetectMood(msg string) string {
	lower := strings.ToLower(msg)
	pos, neg := count(lower, moodPositive), count(lower, moodNegative)
	switch {
	case pos > neg:
		return MoodPositive
	case neg > pos:
		return MoodNegative
	default:
		return MoodNeutral
	}
}

// ExtractTopics returns every topic with at least one keyword in msg, in a
// fixed order.
func ExtractTopics(msg string) []string {
	lower := strings.ToLower(msg)
	topics := []string{}
	for _, tk := range topicKeywords {
		if count(lower, tk.words) > 0 {
			topics = append(topics, tk.topic)
		}
	}
	return topics
}

func count(s string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(s, w) {
			n++
		}
	}
	return n
}
