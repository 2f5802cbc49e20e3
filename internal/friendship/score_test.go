package friendship

import (
	"strings"
	"testing"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		current int
		msg     string
		want    int
	}{
		{"base", 0, "hi", 1},
		{"question", 0, "how are you?", 2},
		{"emotional", 10, "I'm so HAPPY today", 13},
		{"only one emotional bonus", 0, "love and hate, happy and sad", 3},
		{"long", 0, strings.Repeat("a", 51), 2},
		{"exactly fifty is not long", 0, strings.Repeat("a", 50), 1},
		{"everything", 5, "Are you excited about the trip we planned for next summer, or worried?", 10},
		{"clamped", 99, "I love this, are you happy?", 100},
		{"negative input recovers into range", -10, "hi", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.current, tt.msg); got != tt.want {
				t.Fatalf("Score(%d, %q) = %d, want %d", tt.current, tt.msg, got, tt.want)
			}
		})
	}
}

func TestScoreBoundedAndMonotonic(t *testing.T) {
	msgs := []string{"", "hi", "?", "sad?", strings.Repeat("grateful ", 20) + "?"}
	for s := MinScore; s <= MaxScore; s++ {
		for _, m := range msgs {
			got := Score(s, m)
			if got < s {
				t.Fatalf("Score(%d, %q) = %d decreased", s, m, got)
			}
			if got < MinScore || got > MaxScore {
				t.Fatalf("Score(%d, %q) = %d out of range", s, m, got)
			}
		}
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{0, "New Friend"}, {19, "New Friend"}, {20, "Friends"}, {40, "Good Friends"},
		{59, "Good Friends"}, {60, "Close Friends"}, {80, "Best Friends"}, {100, "Best Friends"},
	}
	for _, tt := range tests {
		if got := Level(tt.score); got != tt.want {
			t.Errorf("Level(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestRelationship(t *testing.T) {
	if got := Relationship(0); !strings.HasPrefix(got, "New friend") {
		t.Fatalf("unexpected %q", got)
	}
	if got := Relationship(20); !strings.HasPrefix(got, "Good friend") {
		t.Fatalf("unexpected %q", got)
	}
	if got := Relationship(50); !strings.HasPrefix(got, "Close friend") {
		t.Fatalf("unexpected %q", got)
	}
}
