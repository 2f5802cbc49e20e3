package llm

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"buddyline/internal/eventbus"
	"buddyline/internal/personality"
)

type fakeBackend struct {
	name     string
	probeErr error
	delay    time.Duration
	text     string
	genErr   error
	panics   bool
	calls    atomic.Int32
	lastOpts CallOptions
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Probe(ctx context.Context) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.probeErr
}

func (f *fakeBackend) Generate(ctx context.Context, req GenerationRequest, opts CallOptions) (string, error) {
	f.calls.Add(1)
	f.lastOpts = opts
	if f.panics {
		panic("boom")
	}
	if f.delay > 0 {
		// Ignores ctx on purpose to check the orchestrator's own bound.
		time.Sleep(f.delay)
	}
	return f.text, f.genErr
}

var errDown = errors.New("connection refused")

func firstPick(int) int { return 0 }

func TestInitializeSelectsFirstReachableInOrder(t *testing.T) {
	local := &fakeBackend{name: "local", probeErr: errDown}
	oa := &fakeBackend{name: "openai"}
	an := &fakeBackend{name: "anthropic"}
	o := NewOrchestrator([]Backend{local, oa, an}, Options{})

	st := o.Initialize(context.Background())
	if st.Phase != PhaseReady || st.Selected != "openai" {
		t.Fatalf("unexpected state %+v", st)
	}
	want := map[string]bool{"local": false, "openai": true, "anthropic": true}
	for k, v := range want {
		if st.Availability[k] != v {
			t.Fatalf("availability[%s] = %v, want %v", k, st.Availability[k], v)
		}
	}
}

func TestInitializeDegradedWhenNoneReachable(t *testing.T) {
	o := NewOrchestrator([]Backend{
		&fakeBackend{name: "local", probeErr: errDown},
		&fakeBackend{name: "openai", probeErr: ErrNotConfigured},
	}, Options{})
	st := o.Initialize(context.Background())
	if st.Phase != PhaseDegraded || st.Selected != "" || st.Ready() {
		t.Fatalf("expected degraded, got %+v", st)
	}
}

func TestInitializeProbesInParallelWithTimeout(t *testing.T) {
	slow := &fakeBackend{name: "local", delay: time.Minute}
	fast := &fakeBackend{name: "openai"}
	o := NewOrchestrator([]Backend{slow, fast}, Options{ProbeTimeout: 50 * time.Millisecond})

	start := time.Now()
	st := o.Initialize(context.Background())
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("probing took %s", elapsed)
	}
	if st.Selected != "openai" || st.Availability["local"] {
		t.Fatalf("slow backend should time out, got %+v", st)
	}
}

func TestInitializePublishesStates(t *testing.T) {
	bus := eventbus.New()
	var phases []Phase
	bus.Subscribe(eventbus.TopicProviderState, func(e eventbus.Event) {
		phases = append(phases, e.Payload.(ProviderState).Phase)
	})
	o := NewOrchestrator([]Backend{&fakeBackend{name: "local"}}, Options{Bus: bus})
	o.Initialize(context.Background())
	if !slices.Equal(phases, []Phase{PhaseProbing, PhaseReady}) {
		t.Fatalf("unexpected phases %v", phases)
	}
}

func TestGenerateUsesSelectedBackend(t *testing.T) {
	local := &fakeBackend{name: "local", text: "Assistant: Hey there!!!!\nUser: more"}
	o := NewOrchestrator([]Backend{local}, Options{})
	st := o.Initialize(context.Background())

	res := o.Generate(context.Background(), st, GenerationRequest{Temperature: 0.85, PersonalityType: personality.Friendly})
	if res.Fallback || res.Text != "Hey there!!" || res.Backend != "local" {
		t.Fatalf("unexpected result %+v", res)
	}
	if local.lastOpts.MaxTokens != 200 || local.lastOpts.TopP != 0.9 || !slices.Equal(local.lastOpts.Stop, DefaultStop) {
		t.Fatalf("unexpected call options %+v", local.lastOpts)
	}
}

func TestGenerateFallbackGuarantee(t *testing.T) {
	funny := personality.FallbackResponses(personality.Funny)
	cases := []struct {
		name    string
		backend *fakeBackend
	}{
		{"error", &fakeBackend{name: "local", genErr: classify("local", 500, errors.New("status 500"))}},
		{"empty", &fakeBackend{name: "local", text: "   "}},
		{"panic", &fakeBackend{name: "local", panics: true}},
		{"timeout", &fakeBackend{name: "local", delay: time.Second, text: "late"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := NewOrchestrator([]Backend{tc.backend}, Options{GenerateTimeout: 30 * time.Millisecond})
			st := o.Initialize(context.Background())

			start := time.Now()
			res := o.Generate(context.Background(), st, GenerationRequest{PersonalityType: personality.Funny})
			if time.Since(start) > 500*time.Millisecond {
				t.Fatal("generate was not bounded by its timeout")
			}
			if !res.Fallback || res.Err == nil {
				t.Fatalf("expected fallback with error, got %+v", res)
			}
			if !slices.Contains(funny, res.Text) {
				t.Fatalf("reply %q not from funny pool", res.Text)
			}
			if tc.backend.calls.Load() != 1 {
				t.Fatalf("expected exactly one call, got %d", tc.backend.calls.Load())
			}
		})
	}
}

func TestGenerateNeverSwitchesBackend(t *testing.T) {
	first := &fakeBackend{name: "local", genErr: errDown}
	second := &fakeBackend{name: "openai", text: "from openai"}
	o := NewOrchestrator([]Backend{first, second}, Options{})
	st := o.Initialize(context.Background())

	res := o.Generate(context.Background(), st, GenerationRequest{PersonalityType: personality.Wise})
	if !res.Fallback {
		t.Fatalf("expected fallback, got %+v", res)
	}
	if second.calls.Load() != 0 {
		t.Fatal("orchestrator must not switch backend mid-request")
	}
}

func TestGenerateDegradedAndUninitialized(t *testing.T) {
	o := NewOrchestrator(nil, Options{Pick: firstPick})
	for _, st := range []ProviderState{{}, o.Initialize(context.Background())} {
		res := o.Generate(context.Background(), st, GenerationRequest{PersonalityType: "grumpy"})
		if !res.Fallback || res.Text != personality.FallbackResponses(personality.Friendly)[0] {
			t.Fatalf("unknown type should use friendly pool, got %+v", res)
		}
		if res.Err != nil {
			t.Fatalf("degraded fallback is not an error: %v", res.Err)
		}
	}
}

func TestStateHolder(t *testing.T) {
	var h StateHolder
	if h.Load().Phase != PhaseUninitialized {
		t.Fatal("zero holder should be uninitialized")
	}
	h.Store(ProviderState{Phase: PhaseReady, Selected: "local"})
	if !h.Load().Ready() {
		t.Fatal("stored state not returned")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		err    error
		want   ErrorType
	}{
		{401, errors.New("x"), ErrorAuth},
		{429, errors.New("x"), ErrorRateLimit},
		{400, errors.New("x"), ErrorInvalidInput},
		{503, errors.New("x"), ErrorServerError},
		{0, context.DeadlineExceeded, ErrorTimeout},
		{0, errors.New("dial tcp: connection refused"), ErrorNetwork},
		{0, errors.New("decode response: bad"), ErrorMalformed},
		{0, ErrNotConfigured, ErrorAuth},
		{0, errors.New("weird"), ErrorUnknown},
	}
	for _, tt := range tests {
		be := classify("local", tt.status, tt.err)
		if be.Type != tt.want {
			t.Errorf("classify(%d, %v) = %s, want %s", tt.status, tt.err, be.Type, tt.want)
		}
		if !errors.Is(be, tt.err) {
			t.Errorf("classified error does not wrap %v", tt.err)
		}
	}
}
