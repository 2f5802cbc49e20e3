package conversation

import (
	"context"
	"math"
	"sort"
	"strings"
)

const (
	maxKeyTopics      = 5
	maxMoments        = 10
	maxPreferences    = 50
	momentExcerptSize = 100
)

// Summarizer derives a Summary from the messages being compacted.
type Summarizer interface {
	Summarize(ctx context.Context, head []Message) (Summary, error)
}

// KeywordSummarizer builds summaries from fixed keyword tables. Only user
// messages are inspected.
type KeywordSummarizer struct{}

var topicKeywords = []struct {
	topic string
	words []string
}{
	{"work", []string{"job", "work", "office", "boss", "meeting", "project"}},
	{"family", []string{"family", "mom", "dad", "sister", "brother", "parent"}},
	{"hobbies", []string{"hobby", "game", "sport", "music", "art", "read"}},
	{"food", []string{"eat", "food", "cook", "restaurant", "meal", "hungry"}},
	{"technology", []string{"computer", "phone", "app", "internet", "software"}},
	{"travel", []string{"travel", "trip", "vacation", "visit", "journey"}},
	{"health", []string{"health", "exercise", "doctor", "sick", "medicine"}},
	{"entertainment", []string{"movie", "show", "book", "video", "watch"}},
}

var (
	toneWordsPositive = []string{"happy", "great", "awesome", "love", "excited", "amazing", "wonderful", "fantastic"}
	toneWordsNegative = []string{"sad", "bad", "terrible", "hate", "angry", "frustrated", "awful", "horrible"}

	momentPositive     = []string{"excited", "amazing", "wonderful"}
	momentNegative     = []string{"sad", "upset", "worried"}
	momentRelationship = []string{"friend", "relationship", "dating"}
)

func (KeywordSummarizer) Summarize(ctx context.Context, head []Message) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	s := Summary{
		TotalMessages: len(head),
		TopicCounts:   make(map[string]int),
	}
	if len(head) > 0 {
		s.TimeSpan = TimeSpan{Start: head[0].Timestamp, End: head[len(head)-1].Timestamp}
		s.RelationshipMilestones = append(s.RelationshipMilestones, Milestone{
			Type:        "first_conversation",
			Timestamp:   head[0].Timestamp,
			Description: "First time we chatted",
		})
	}

	friendMentioned := false
	for _, msg := range head {
		if msg.Sender != SenderUser {
			continue
		}
		lower := strings.ToLower(msg.Content)

		for _, tk := range topicKeywords {
			if containsAny(lower, tk.words) {
				s.TopicCounts[tk.topic]++
			}
		}

		for _, m := range detectMoments(msg, lower) {
			if len(s.ImportantMoments) < maxMoments {
				s.ImportantMoments = append(s.ImportantMoments, m)
			}
		}

		extractPreferences(&s.UserPreferences, lower)

		pos := containsAny(lower, toneWordsPositive)
		neg := containsAny(lower, toneWordsNegative)
		switch {
		case pos && !neg:
			s.ToneCounts.Positive++
		case neg && !pos:
			s.ToneCounts.Negative++
		default:
			s.ToneCounts.Neutral++
		}

		if !friendMentioned && strings.Contains(lower, "friend") {
			friendMentioned = true
			s.RelationshipMilestones = append(s.RelationshipMilestones, Milestone{
				Type:        "friendship_mentioned",
				Timestamp:   msg.Timestamp,
				Description: "First time friendship was mentioned",
			})
		}
	}

	s.KeyTopics = topTopics(s.TopicCounts)
	s.EmotionalTone = tonePercentages(s.ToneCounts)
	return s, nil
}

func detectMoments(msg Message, lower string) []Moment {
	var out []Moment
	add := func(t MomentType) {
		out = append(out, Moment{Type: t, Timestamp: msg.Timestamp, Content: excerpt(msg.Content)})
	}
	if containsAny(lower, momentPositive) {
		add(MomentPositive)
	}
	if containsAny(lower, momentNegative) {
		add(MomentNegative)
	}
	if strings.Contains(lower, "got") && (strings.Contains(lower, "job") || strings.Contains(lower, "promotion")) {
		add(MomentAchievement)
	}
	if containsAny(lower, momentRelationship) {
		add(MomentRelationship)
	}
	return out
}

func extractPreferences(p *Preferences, lower string) {
	words := strings.Fields(lower)
	if phrase, ok := phraseAfter(words, "love", "like", "enjoy"); ok && len(p.FavoriteThings) < maxPreferences {
		p.FavoriteThings = append(p.FavoriteThings, phrase)
	}
	if phrase, ok := phraseAfter(words, "hate", "dislike"); ok && len(p.Dislikes) < maxPreferences {
		p.Dislikes = append(p.Dislikes, phrase)
	}
}

// phraseAfter returns up to two words following the first trigger word.
func phraseAfter(words []string, triggers ...string) (string, bool) {
	for i, w := range words {
		for _, t := range triggers {
			if w == t && i < len(words)-1 {
				end := min(i+3, len(words))
				return strings.Join(words[i+1:end], " "), true
			}
		}
	}
	return "", false
}

func topTopics(counts map[string]int) []TopicCount {
	out := make([]TopicCount, 0, len(counts))
	for topic, n := range counts {
		out = append(out, TopicCount{Topic: topic, Mentions: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mentions != out[j].Mentions {
			return out[i].Mentions > out[j].Mentions
		}
		return out[i].Topic < out[j].Topic
	})
	if len(out) > maxKeyTopics {
		out = out[:maxKeyTopics]
	}
	return out
}

func tonePercentages(c ToneCounts) Tone {
	total := c.Positive + c.Negative + c.Neutral
	if total == 0 {
		return Tone{}
	}
	pct := func(n int) int { return int(math.Round(float64(n) / float64(total) * 100)) }
	return Tone{Positive: pct(c.Positive), Negative: pct(c.Negative), Neutral: pct(c.Neutral)}
}

// mergeSummaries folds a fresh summary into the one from earlier
// compactions so no accounting is lost.
func mergeSummaries(prev, fresh Summary) Summary {
	out := Summary{
		TotalMessages: prev.TotalMessages + fresh.TotalMessages,
		TimeSpan:      prev.TimeSpan,
		TopicCounts:   make(map[string]int, len(prev.TopicCounts)+len(fresh.TopicCounts)),
		ToneCounts: ToneCounts{
			Positive: prev.ToneCounts.Positive + fresh.ToneCounts.Positive,
			Negative: prev.ToneCounts.Negative + fresh.ToneCounts.Negative,
			Neutral:  prev.ToneCounts.Neutral + fresh.ToneCounts.Neutral,
		},
	}
	if out.TimeSpan.Start.IsZero() {
		out.TimeSpan.Start = fresh.TimeSpan.Start
	}
	out.TimeSpan.End = fresh.TimeSpan.End
	if out.TimeSpan.End.IsZero() {
		out.TimeSpan.End = prev.TimeSpan.End
	}

	for k, v := range prev.TopicCounts {
		out.TopicCounts[k] += v
	}
	for k, v := range fresh.TopicCounts {
		out.TopicCounts[k] += v
	}
	out.KeyTopics = topTopics(out.TopicCounts)
	out.EmotionalTone = tonePercentages(out.ToneCounts)

	moments := append(append([]Moment(nil), prev.ImportantMoments...), fresh.ImportantMoments...)
	if len(moments) > maxMoments {
		moments = moments[len(moments)-maxMoments:]
	}
	out.ImportantMoments = moments

	out.UserPreferences = Preferences{
		FavoriteThings: capTail(append(append([]string(nil), prev.UserPreferences.FavoriteThings...), fresh.UserPreferences.FavoriteThings...)),
		Dislikes:       capTail(append(append([]string(nil), prev.UserPreferences.Dislikes...), fresh.UserPreferences.Dislikes...)),
		Interests:      capTail(append(append([]string(nil), prev.UserPreferences.Interests...), fresh.UserPreferences.Interests...)),
	}

	seen := make(map[string]bool)
	for _, m := range append(append([]Milestone(nil), prev.RelationshipMilestones...), fresh.RelationshipMilestones...) {
		if seen[m.Type] {
			continue
		}
		seen[m.Type] = true
		out.RelationshipMilestones = append(out.RelationshipMilestones, m)
	}
	return out
}

func capTail(s []string) []string {
	if len(s) > maxPreferences {
		return s[len(s)-maxPreferences:]
	}
	return s
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func excerpt(s string) string {
	r := []rune(s)
	if len(r) > momentExcerptSize {
		return string(r[:momentExcerptSize])
	}
	return s
}
