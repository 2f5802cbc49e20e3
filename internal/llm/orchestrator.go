package llm

import (
	"context"
	"fmt"
	"log"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"buddyline/internal/eventbus"
)

// Phase is the orchestrator's lifecycle state.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseProbing
	PhaseReady
	PhaseDegraded
)

func (p Phase) String() string {
	switch p {
	case PhaseProbing:
		return "probing"
	case PhaseReady:
		return "ready"
	case PhaseDegraded:
		return "degraded"
	default:
		return "uninitialized"
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// ProviderState is the outcome of one Initialize. It is a value: callers
// keep it and pass it to Generate, and it never changes after it is
// returned.
type ProviderState struct {
	Phase        Phase           `json:"phase"`
	Availability map[string]bool `json:"availability"`
	Selected     string          `json:"selected,omitempty"`
	ProbedAt     time.Time       `json:"probedAt"`
}

// Ready reports whether a backend was selected.
func (s ProviderState) Ready() bool { return s.Phase == PhaseReady && s.Selected != "" }

// Available returns a copy of the availability map.
func (s ProviderState) Available() map[string]bool { return maps.Clone(s.Availability) }

const (
	DefaultProbeTimeout    = 5 * time.Second
	DefaultGenerateTimeout = 30 * time.Second
	DefaultMaxTokens       = 200
	DefaultTopP            = 0.9
)

// DefaultStop ends a completion before the model starts a new turn.
var DefaultStop = []string{"\nUser:", "\n\n"}

// Options configures an Orchestrator. Zero values take the defaults.
type Options struct {
	ProbeTimeout    time.Duration
	GenerateTimeout time.Duration
	MaxTokens       int
	TopP            float64
	Stop            []string
	Bus             *eventbus.Bus
	// Pick chooses a fallback index in [0,n). Nil means uniform random.
	Pick func(n int) int
}

// Orchestrator probes backends, selects one, and produces a reply for every
// request, falling back to canned responses when generation fails.
type Orchestrator struct {
	backends []Backend
	opts     Options
}

// FallbackEvent is published on eventbus.TopicFallbackUsed.
type FallbackEvent struct {
	Backend string
	Err     error
}

// NewOrchestrator creates an orchestrator over backends in priority order.
func NewOrchestrator(backends []Backend, opts Options) *Orchestrator {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = DefaultGenerateTimeout
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.TopP <= 0 {
		opts.TopP = DefaultTopP
	}
	if opts.Stop == nil {
		opts.Stop = DefaultStop
	}
	return &Orchestrator{backends: backends, opts: opts}
}

// Backends returns the configured backend names in priority order.
func (o *Orchestrator) Backends() []string {
	names := make([]string, len(o.backends))
	for i, b := range o.backends {
		names[i] = b.Name()
	}
	return names
}

// Initialize probes every backend in parallel, each bounded by the probe
// timeout, and selects the first reachable one in priority order.
func (o *Orchestrator) Initialize(ctx context.Context) ProviderState {
	o.opts.Bus.Publish(eventbus.TopicProviderState, ProviderState{Phase: PhaseProbing})

	results := make([]error, len(o.backends))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range o.backends {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, o.opts.ProbeTimeout)
			defer cancel()
			results[i] = o.probe(pctx, b)
			return nil
		})
	}
	g.Wait()

	state := ProviderState{
		Phase:        PhaseDegraded,
		Availability: make(map[string]bool, len(o.backends)),
		ProbedAt:     time.Now(),
	}
	for i, b := range o.backends {
		ok := results[i] == nil
		state.Availability[b.Name()] = ok
		if ok {
			log.Printf("[llm] backend %s available", b.Name())
		} else {
			log.Printf("[llm] backend %s unavailable: %v", b.Name(), results[i])
		}
		if ok && state.Selected == "" {
			state.Selected = b.Name()
			state.Phase = PhaseReady
		}
	}
	if state.Phase == PhaseDegraded {
		log.Printf("[llm] no backend reachable, replies will use fallback responses")
	} else {
		log.Printf("[llm] selected backend %s", state.Selected)
	}
	o.opts.Bus.Publish(eventbus.TopicProviderState, state)
	return state
}

func (o *Orchestrator) probe(ctx context.Context, b Backend) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return b.Probe(ctx)
}

// Generate produces a reply. It never fails: when state is not ready, the
// selected backend errors, times out, or returns nothing usable, the reply
// comes from the personality's fallback pool. It makes at most one backend
// call and never switches backend.
func (o *Orchestrator) Generate(ctx context.Context, state ProviderState, req GenerationRequest) GenerationResult {
	if !state.Ready() {
		return o.fallback(req, "", nil)
	}
	backend := o.lookup(state.Selected)
	if backend == nil {
		return o.fallback(req, state.Selected, fmt.Errorf("backend %q is not configured", state.Selected))
	}

	gctx, cancel := context.WithTimeout(ctx, o.opts.GenerateTimeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	opts := CallOptions{MaxTokens: o.opts.MaxTokens, TopP: o.opts.TopP, Stop: o.opts.Stop}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("generate panicked: %v", r)}
			}
		}()
		text, err := backend.Generate(gctx, req, opts)
		done <- reply{text: text, err: err}
	}()

	var r reply
	select {
	case r = <-done:
	case <-gctx.Done():
		r.err = classify(backend.Name(), 0, gctx.Err())
	}
	if r.err != nil {
		return o.fallback(req, backend.Name(), r.err)
	}

	text := Sanitize(r.text)
	if text == "" {
		return o.fallback(req, backend.Name(), classify(backend.Name(), 0, fmt.Errorf("empty response after cleanup")))
	}
	return GenerationResult{Text: text, Backend: backend.Name()}
}

func (o *Orchestrator) lookup(name string) Backend {
	for _, b := range o.backends {
		if b.Name() == name {
			return b
		}
	}
	return nil
}

func (o *Orchestrator) fallback(req GenerationRequest, backend string, err error) GenerationResult {
	if err != nil {
		log.Printf("[llm] %s generation failed, using fallback: %v", backend, err)
	}
	o.opts.Bus.Publish(eventbus.TopicFallbackUsed, FallbackEvent{Backend: backend, Err: err})
	return GenerationResult{
		Text:     FallbackReply(req.PersonalityType, o.opts.Pick),
		Backend:  backend,
		Fallback: true,
		Err:      err,
	}
}

// StateHolder keeps the current ProviderState for concurrent readers and
// swaps it atomically on re-initialize.
type StateHolder struct {
	mu    sync.RWMutex
	state ProviderState
}

func (h *StateHolder) Load() ProviderState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *StateHolder) Store(s ProviderState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}
