package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"buddyline/internal/eventbus"
)

type memPersister struct {
	mu      sync.Mutex
	docs    map[string][]byte
	failing bool
	saves   int
}

func newMemPersister() *memPersister {
	return &memPersister{docs: make(map[string][]byte)}
}

func (p *memPersister) LoadConversation(_ context.Context, id string) (*Conversation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	raw, ok := p.docs[id]
	if !ok {
		return nil, nil
	}
	var c Conversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *memPersister) SaveConversation(_ context.Context, c *Conversation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing {
		return errors.New("disk full")
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	p.docs[c.BuddyID] = raw
	p.saves++
	return nil
}

func (p *memPersister) DeleteConversation(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.docs, id)
	return nil
}

func (p *memPersister) setFailing(v bool) {
	p.mu.Lock()
	p.failing = v
	p.mu.Unlock()
}

type failingSummarizer struct{ calls int }

func (f *failingSummarizer) Summarize(context.Context, []Message) (Summary, error) {
	f.calls++
	return Summary{}, errors.New("summarizer down")
}

func userMsg(text string) Message  { return Message{Content: text, Sender: SenderUser} }
func buddyMsg(text string) Message { return Message{Content: text, Sender: SenderBuddy} }

func checkCount(t *testing.T, c *Conversation) {
	t.Helper()
	orig := 0
	if c.CompactedSummary != nil {
		orig = c.CompactedSummary.OriginalMessageCount
	}
	if len(c.Messages)+orig != c.MessageCount {
		t.Fatalf("count accounting broken: %d live + %d compacted != %d", len(c.Messages), orig, c.MessageCount)
	}
}

func TestAppendAssignsFields(t *testing.T) {
	s := NewStore(newMemPersister(), Options{})
	ctx := context.Background()

	got, err := s.Append(ctx, "b1", userMsg("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if got.ID == "" || got.Timestamp.IsZero() || got.Type != MessageTypeText {
		t.Fatalf("fields not assigned: %+v", got)
	}

	msgs, err := s.Messages(ctx, "b1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != got.ID {
		t.Fatalf("unexpected history %+v", msgs)
	}
}

func TestAppendRejectsEmpty(t *testing.T) {
	p := newMemPersister()
	s := NewStore(p, Options{})
	ctx := context.Background()

	for _, content := range []string{"", "   \n"} {
		if _, err := s.Append(ctx, "b1", userMsg(content)); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for %q, got %v", content, err)
		}
	}
	if _, err := s.Append(ctx, "b1", Message{Content: "x", Sender: "robot"}); !IsValidation(err) {
		t.Fatalf("expected ErrValidation for unknown sender, got %v", err)
	}
	if p.saves != 0 {
		t.Fatalf("rejected input must not persist, got %d saves", p.saves)
	}
}

func TestHistoryLimitAndRestartable(t *testing.T) {
	s := NewStore(newMemPersister(), Options{})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, "b1", userMsg(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	seq, err := s.History(ctx, "b1", 2)
	if err != nil {
		t.Fatal(err)
	}
	// Appending after the call must not change the snapshot.
	if _, err := s.Append(ctx, "b1", userMsg("late")); err != nil {
		t.Fatal(err)
	}
	for pass := 0; pass < 2; pass++ {
		var got []string
		for m := range seq {
			got = append(got, m.Content)
		}
		if strings.Join(got, ",") != "m3,m4" {
			t.Fatalf("pass %d: unexpected history %v", pass, got)
		}
	}
}

func TestHistoryUnknownBuddyIsEmpty(t *testing.T) {
	s := NewStore(newMemPersister(), Options{})
	msgs, err := s.Messages(context.Background(), "nobody", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty history, got %d", len(msgs))
	}
}

func TestCompactionAt501(t *testing.T) {
	s := NewStore(newMemPersister(), Options{})
	ctx := context.Background()

	var last Message
	for i := 0; i < 501; i++ {
		m, err := s.Append(ctx, "b1", userMsg(fmt.Sprintf("message %d", i)))
		if err != nil {
			t.Fatal(err)
		}
		last = m
	}

	conv, err := s.Get(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.CompactedSummary == nil {
		t.Fatal("expected compaction")
	}
	if conv.CompactedSummary.OriginalMessageCount != 301 {
		t.Fatalf("expected 301 compacted, got %d", conv.CompactedSummary.OriginalMessageCount)
	}
	if len(conv.Messages) != 200 {
		t.Fatalf("expected 200 retained, got %d", len(conv.Messages))
	}
	if conv.Messages[199].ID != last.ID {
		t.Fatal("last retained message should be the final append")
	}
	if conv.MessageCount != 501 {
		t.Fatalf("expected messageCount 501, got %d", conv.MessageCount)
	}
	checkCount(t, conv)
}

func TestCompactIsIdempotent(t *testing.T) {
	p := newMemPersister()
	s := NewStore(p, Options{CompactThreshold: 10, RetainCount: 4})
	ctx := context.Background()
	for i := 0; i < 11; i++ {
		if _, err := s.Append(ctx, "b1", userMsg("hi")); err != nil {
			t.Fatal(err)
		}
	}
	first, _ := s.Get(ctx, "b1")
	saves := p.saves

	if err := s.Compact(ctx, "b1"); err != nil {
		t.Fatal(err)
	}
	second, _ := s.Get(ctx, "b1")
	if len(first.Messages) != len(second.Messages) ||
		first.CompactedSummary.OriginalMessageCount != second.CompactedSummary.OriginalMessageCount {
		t.Fatal("second compaction changed the conversation")
	}
	if p.saves != saves {
		t.Fatal("no-op compaction should not persist")
	}
}

func TestCountAccountingAcrossCompactions(t *testing.T) {
	s := NewStore(newMemPersister(), Options{CompactThreshold: 20, RetainCount: 5})
	ctx := context.Background()
	for i := 0; i < 137; i++ {
		m := userMsg("I love pizza")
		if i%2 == 1 {
			m = buddyMsg("nice")
		}
		if _, err := s.Append(ctx, "b1", m); err != nil {
			t.Fatal(err)
		}
		conv, _ := s.Get(ctx, "b1")
		checkCount(t, conv)
		if len(conv.Messages) > 20 {
			t.Fatalf("live window exceeded threshold: %d", len(conv.Messages))
		}
	}
	conv, _ := s.Get(ctx, "b1")
	if conv.CompactedSummary.Compactions < 2 {
		t.Fatalf("expected several compactions, got %d", conv.CompactedSummary.Compactions)
	}
	if conv.CompactedSummary.Summary.TotalMessages != conv.CompactedSummary.OriginalMessageCount {
		t.Fatalf("merged summary total %d != original count %d",
			conv.CompactedSummary.Summary.TotalMessages, conv.CompactedSummary.OriginalMessageCount)
	}
}

func TestAppendRollsBackOnPersistFailure(t *testing.T) {
	p := newMemPersister()
	s := NewStore(p, Options{CompactThreshold: 4, RetainCount: 2})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := s.Append(ctx, "b1", userMsg("ok")); err != nil {
			t.Fatal(err)
		}
	}
	before, _ := s.Get(ctx, "b1")

	p.setFailing(true)
	_, err := s.Append(ctx, "b1", userMsg("this one triggers compaction"))
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StorageError, got %v", err)
	}

	after, _ := s.Get(ctx, "b1")
	if after.MessageCount != before.MessageCount || len(after.Messages) != len(before.Messages) {
		t.Fatalf("state not restored: before %d/%d after %d/%d",
			before.MessageCount, len(before.Messages), after.MessageCount, len(after.Messages))
	}
	if after.CompactedSummary != nil {
		t.Fatal("compaction from the failed append leaked")
	}

	p.setFailing(false)
	if _, err := s.Append(ctx, "b1", userMsg("recovered")); err != nil {
		t.Fatal(err)
	}
	final, _ := s.Get(ctx, "b1")
	checkCount(t, final)
	if final.MessageCount != 5 {
		t.Fatalf("expected 5 messages, got %d", final.MessageCount)
	}
}

func TestCompactionFailureIsSkipped(t *testing.T) {
	bus := eventbus.New()
	var failures int
	var mu sync.Mutex
	bus.Subscribe(eventbus.TopicCompactFailed, func(e eventbus.Event) {
		mu.Lock()
		failures++
		mu.Unlock()
	})

	sum := &failingSummarizer{}
	s := NewStore(newMemPersister(), Options{CompactThreshold: 3, RetainCount: 1, Summarizer: sum, Bus: bus})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, "b1", userMsg("x")); err != nil {
			t.Fatalf("append should succeed despite failed compaction: %v", err)
		}
	}
	conv, _ := s.Get(ctx, "b1")
	if len(conv.Messages) != 5 || conv.CompactedSummary != nil {
		t.Fatalf("window should stay uncompacted, got %d", len(conv.Messages))
	}
	if sum.calls != 2 {
		t.Fatalf("expected retry on each append over threshold, got %d calls", sum.calls)
	}

	var ce *CompactionError
	if err := s.Compact(ctx, "b1"); !errors.As(err, &ce) {
		t.Fatalf("expected *CompactionError, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if failures != 3 {
		t.Fatalf("expected 3 failure events, got %d", failures)
	}
}

func TestReloadFromPersister(t *testing.T) {
	p := newMemPersister()
	ctx := context.Background()
	s := NewStore(p, Options{})
	for _, m := range []Message{userMsg("hi"), buddyMsg("hey!")} {
		if _, err := s.Append(ctx, "b1", m); err != nil {
			t.Fatal(err)
		}
	}

	fresh := NewStore(p, Options{})
	msgs, err := fresh.Messages(ctx, "b1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[1].Content != "hey!" || msgs[1].Sender != SenderBuddy {
		t.Fatalf("unexpected reloaded history %+v", msgs)
	}
}

func TestDelete(t *testing.T) {
	p := newMemPersister()
	s := NewStore(p, Options{})
	ctx := context.Background()
	if _, err := s.Append(ctx, "b1", userMsg("hi")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "b1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("deleting unknown buddy: %v", err)
	}
	st, err := s.Stats(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalMessages != 0 {
		t.Fatalf("expected empty conversation after delete, got %d", st.TotalMessages)
	}
}

func TestStatsAndExport(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	s := NewStore(newMemPersister(), Options{Now: func() time.Time { return now }})
	ctx := context.Background()
	s.Append(ctx, "b1", userMsg("hi"))
	s.Append(ctx, "b1", buddyMsg("hello there"))
	s.Append(ctx, "b1", userMsg("how are you?"))

	st, err := s.Stats(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalMessages != 3 || st.UserMessages != 2 || st.BuddyMessages != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if st.LastMessage == nil || st.LastMessage.Content != "how are you?" || st.HasCompactedData {
		t.Fatalf("unexpected stats %+v", st)
	}

	txt, err := s.Export(ctx, "b1", FormatText)
	if err != nil {
		t.Fatal(err)
	}
	out := string(txt)
	if !strings.HasPrefix(out, "Conversation with Buddy b1\n") {
		t.Fatalf("missing header: %q", out)
	}
	if !strings.Contains(out, "[2024-03-01 10:30:00] Buddy: hello there") {
		t.Fatalf("missing buddy line: %q", out)
	}
	if !strings.Contains(out, "] You: how are you?") {
		t.Fatalf("missing user line: %q", out)
	}

	js, err := s.Export(ctx, "b1", FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(js), `"messageCount": 3`) {
		t.Fatalf("unexpected json export: %s", js)
	}

	if _, err := s.Export(ctx, "b1", "pdf"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestConcurrentAppendsPerBuddy(t *testing.T) {
	s := NewStore(newMemPersister(), Options{CompactThreshold: 50, RetainCount: 10})
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, buddy := range []string{"a", "b", "c"} {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(buddy string) {
				defer wg.Done()
				for i := 0; i < 40; i++ {
					if _, err := s.Append(ctx, buddy, userMsg("hi")); err != nil {
						t.Error(err)
						return
					}
				}
			}(buddy)
		}
	}
	wg.Wait()

	for _, buddy := range []string{"a", "b", "c"} {
		conv, err := s.Get(ctx, buddy)
		if err != nil {
			t.Fatal(err)
		}
		if conv.MessageCount != 160 {
			t.Fatalf("%s: expected 160 messages, got %d", buddy, conv.MessageCount)
		}
		checkCount(t, conv)
	}
}
