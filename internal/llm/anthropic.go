package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-haiku-20240307"

// AnthropicConfig holds configuration for the Anthropic backend.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// AnthropicBackend implements Backend using the Messages API.
type AnthropicBackend struct {
	client anthropic.Client
	model  string
	hasKey bool
}

// NewAnthropic creates the Anthropic backend with retries disabled.
func NewAnthropic(cfg AnthropicConfig) *AnthropicBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicBackend{
		client: anthropic.NewClient(opts...),
		model:  model,
		hasKey: cfg.APIKey != "",
	}
}

func (p *AnthropicBackend) Name() string { return "anthropic" }

// Probe only checks that a key is configured; the API has no free
// liveness endpoint worth spending a request on.
func (p *AnthropicBackend) Probe(ctx context.Context) error {
	if !p.hasKey {
		return classify(p.Name(), 0, ErrNotConfigured)
	}
	return ctx.Err()
}

// Generate sends the rendered prompt and the live message as a single user
// turn.
func (p *AnthropicBackend) Generate(ctx context.Context, req GenerationRequest, opts CallOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 200
	}
	content := req.SystemPrompt + "\n\nUser: " + req.UserMessage

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(content)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}
	if opts.TopP > 0 {
		params.TopP = anthropic.Float(opts.TopP)
	}
	// The API rejects whitespace-only stop sequences.
	for _, s := range opts.Stop {
		if strings.TrimSpace(s) != "" {
			params.StopSequences = append(params.StopSequences, s)
		}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", classifyAnthropicError(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(b.Text)
		}
	}
	if text.Len() == 0 {
		return "", classify(p.Name(), 0, fmt.Errorf("empty response: no text blocks"))
	}
	return text.String(), nil
}

func classifyAnthropicError(err error) *BackendError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classify("anthropic", apiErr.StatusCode, err)
	}
	return classify("anthropic", 0, err)
}
