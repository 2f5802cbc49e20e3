package conversation

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestKeywordSummarizer(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	at := func(i int) time.Time { return base.Add(time.Duration(i) * time.Minute) }
	head := []Message{
		{Content: "I got the job at the new office!", Sender: SenderUser, Timestamp: at(0)},
		{Content: "Congrats, that's amazing", Sender: SenderBuddy, Timestamp: at(1)},
		{Content: "I love cooking pasta for my family", Sender: SenderUser, Timestamp: at(2)},
		{Content: "I feel sad and worried today", Sender: SenderUser, Timestamp: at(3)},
		{Content: "My friend and I hate rainy days", Sender: SenderUser, Timestamp: at(4)},
		{Content: "ok", Sender: SenderUser, Timestamp: at(5)},
	}

	s, err := KeywordSummarizer{}.Summarize(context.Background(), head)
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalMessages != 6 {
		t.Fatalf("expected 6 messages, got %d", s.TotalMessages)
	}
	if !s.TimeSpan.Start.Equal(at(0)) || !s.TimeSpan.End.Equal(at(5)) {
		t.Fatalf("unexpected time span %+v", s.TimeSpan)
	}
	if s.TopicCounts["work"] != 1 || s.TopicCounts["family"] != 1 || s.TopicCounts["food"] != 1 {
		t.Fatalf("unexpected topics %v", s.TopicCounts)
	}

	types := map[MomentType]bool{}
	for _, m := range s.ImportantMoments {
		types[m.Type] = true
	}
	for _, want := range []MomentType{MomentAchievement, MomentNegative, MomentRelationship} {
		if !types[want] {
			t.Fatalf("missing moment %s in %+v", want, s.ImportantMoments)
		}
	}
	// The buddy said "amazing"; only user messages count.
	if types[MomentPositive] {
		t.Fatal("buddy messages must not produce moments")
	}

	if len(s.UserPreferences.FavoriteThings) != 1 || s.UserPreferences.FavoriteThings[0] != "cooking pasta" {
		t.Fatalf("unexpected favorites %v", s.UserPreferences.FavoriteThings)
	}
	if len(s.UserPreferences.Dislikes) != 1 || s.UserPreferences.Dislikes[0] != "rainy days" {
		t.Fatalf("unexpected dislikes %v", s.UserPreferences.Dislikes)
	}

	// love → positive, sad → negative, hate → negative, two neutral.
	if s.ToneCounts != (ToneCounts{Positive: 1, Negative: 2, Neutral: 2}) {
		t.Fatalf("unexpected tone counts %+v", s.ToneCounts)
	}
	if s.EmotionalTone != (Tone{Positive: 20, Negative: 40, Neutral: 40}) {
		t.Fatalf("unexpected tone %+v", s.EmotionalTone)
	}

	if len(s.RelationshipMilestones) != 2 ||
		s.RelationshipMilestones[0].Type != "first_conversation" ||
		s.RelationshipMilestones[1].Type != "friendship_mentioned" {
		t.Fatalf("unexpected milestones %+v", s.RelationshipMilestones)
	}
}

func TestSummarizerCapsMomentsAndExcerpts(t *testing.T) {
	var head []Message
	long := "I am so excited " + strings.Repeat("x", 200)
	for i := 0; i < 25; i++ {
		head = append(head, Message{Content: long, Sender: SenderUser})
	}
	s, err := KeywordSummarizer{}.Summarize(context.Background(), head)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.ImportantMoments) != maxMoments {
		t.Fatalf("expected %d moments, got %d", maxMoments, len(s.ImportantMoments))
	}
	if got := len([]rune(s.ImportantMoments[0].Content)); got != momentExcerptSize {
		t.Fatalf("expected %d char excerpt, got %d", momentExcerptSize, got)
	}
}

func TestKeyTopicsTopFive(t *testing.T) {
	counts := map[string]int{"a": 1, "b": 6, "c": 3, "d": 3, "e": 2, "f": 9}
	got := topTopics(counts)
	var names []string
	for _, tc := range got {
		names = append(names, tc.Topic)
	}
	if strings.Join(names, ",") != "f,b,c,d,e" {
		t.Fatalf("unexpected ordering %v", names)
	}
}

func TestMergeSummaries(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := Summary{
		TotalMessages: 10,
		TimeSpan:      TimeSpan{Start: t0, End: t0.Add(time.Hour)},
		TopicCounts:   map[string]int{"work": 2},
		ToneCounts:    ToneCounts{Positive: 3, Neutral: 1},
		RelationshipMilestones: []Milestone{
			{Type: "first_conversation", Timestamp: t0},
		},
	}
	for i := 0; i < 8; i++ {
		prev.ImportantMoments = append(prev.ImportantMoments, Moment{Type: MomentPositive, Content: "old"})
	}
	fresh := Summary{
		TotalMessages: 5,
		TimeSpan:      TimeSpan{Start: t0.Add(2 * time.Hour), End: t0.Add(3 * time.Hour)},
		TopicCounts:   map[string]int{"work": 1, "food": 4},
		ToneCounts:    ToneCounts{Negative: 4},
		RelationshipMilestones: []Milestone{
			{Type: "first_conversation", Timestamp: t0.Add(2 * time.Hour)},
			{Type: "friendship_mentioned"},
		},
		ImportantMoments: []Moment{
			{Type: MomentNegative, Content: "new1"},
			{Type: MomentNegative, Content: "new2"},
			{Type: MomentNegative, Content: "new3"},
		},
	}

	got := mergeSummaries(prev, fresh)
	if got.TotalMessages != 15 {
		t.Fatalf("expected 15, got %d", got.TotalMessages)
	}
	if !got.TimeSpan.Start.Equal(t0) || !got.TimeSpan.End.Equal(t0.Add(3*time.Hour)) {
		t.Fatalf("unexpected span %+v", got.TimeSpan)
	}
	if got.TopicCounts["work"] != 3 || got.KeyTopics[0].Topic != "food" {
		t.Fatalf("unexpected topics %v %v", got.TopicCounts, got.KeyTopics)
	}
	if len(got.ImportantMoments) != maxMoments || got.ImportantMoments[maxMoments-1].Content != "new3" {
		t.Fatalf("expected latest %d moments, got %+v", maxMoments, got.ImportantMoments)
	}
	if len(got.RelationshipMilestones) != 2 || !got.RelationshipMilestones[0].Timestamp.Equal(t0) {
		t.Fatalf("milestones should keep the earliest of each type: %+v", got.RelationshipMilestones)
	}
	if got.EmotionalTone != (Tone{Positive: 38, Negative: 50, Neutral: 13}) {
		t.Fatalf("unexpected tone %+v", got.EmotionalTone)
	}
	// prev must not be mutated
	if prev.TopicCounts["work"] != 2 {
		t.Fatal("merge mutated its input")
	}
}
