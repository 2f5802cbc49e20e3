package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3.2"
)

// OllamaConfig configures the local backend.
type OllamaConfig struct {
	BaseURL string
	Model   string
	// Client is used for every request. Defaults to http.DefaultClient;
	// timeouts come from the caller's context.
	Client *http.Client
}

// OllamaBackend talks to an Ollama-style server over its native
// /api/generate and /api/tags endpoints.
type OllamaBackend struct {
	cfg OllamaConfig

	mu   sync.Mutex
	base string // last base URL that answered a probe
}

// NewOllama creates the local backend.
func NewOllama(cfg OllamaConfig) *OllamaBackend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &OllamaBackend{cfg: cfg}
}

func (b *OllamaBackend) Name() string { return "local" }

// candidates returns the base URLs to probe: the IPv4 and IPv6 loopback on
// the configured port, then the configured URL itself.
func (b *OllamaBackend) candidates() []string {
	var out []string
	seen := map[string]bool{}
	add := func(u string) {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	if u, err := url.Parse(b.cfg.BaseURL); err == nil && u.Host != "" {
		port := u.Port()
		if port == "" {
			port = "11434"
		}
		add(u.Scheme + "://" + net.JoinHostPort("127.0.0.1", port))
		add(u.Scheme + "://" + net.JoinHostPort("::1", port))
	}
	add(b.cfg.BaseURL)
	return out
}

func (b *OllamaBackend) Probe(ctx context.Context) error {
	var errs []error
	for _, base := range b.candidates() {
		err := b.tags(ctx, base)
		if err == nil {
			b.mu.Lock()
			b.base = base
			b.mu.Unlock()
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", base, err))
		if ctx.Err() != nil {
			break
		}
	}
	return classify(b.Name(), 0, errors.Join(errs...))
}

func (b *OllamaBackend) tags(ctx context.Context, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := b.cfg.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (b *OllamaBackend) baseURL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.base != "" {
		return b.base
	}
	return b.cfg.BaseURL
}

// --- wire types (subset of the Ollama API) ---

type ollamaOptions struct {
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (b *OllamaBackend) Generate(ctx context.Context, req GenerationRequest, opts CallOptions) (string, error) {
	body := ollamaGenerateRequest{
		Model:  b.cfg.Model,
		Prompt: req.SystemPrompt,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			TopP:        opts.TopP,
			NumPredict:  opts.MaxTokens,
			Stop:        opts.Stop,
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", classify(b.Name(), 0, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL()+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return "", classify(b.Name(), 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.cfg.Client.Do(httpReq)
	if err != nil {
		return "", classify(b.Name(), 0, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classify(b.Name(), 0, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", classify(b.Name(), resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), 200)))
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", classify(b.Name(), 0, fmt.Errorf("decode response: %w", err))
	}
	if out.Error != "" {
		return "", classify(b.Name(), 0, fmt.Errorf("ollama error: %s", out.Error))
	}
	return out.Response, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
