package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "gpt-3.5-turbo"

// OpenAIConfig holds configuration for the OpenAI backend.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// OpenAIBackend implements Backend using the chat completions API.
type OpenAIBackend struct {
	client openai.Client
	model  string
	hasKey bool
}

// NewOpenAI creates the OpenAI backend. Retries are disabled: the
// orchestrator makes exactly one call per reply.
func NewOpenAI(cfg OpenAIConfig) *OpenAIBackend {
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
		model = defaultOpenAIModel
	}
	return &OpenAIBackend{
		client: openai.NewClient(opts...),
		model:  model,
		hasKey: cfg.APIKey != "",
	}
}

func (p *OpenAIBackend) Name() string { return "openai" }

// Probe lists models, which needs a valid key and a reachable endpoint.
func (p *OpenAIBackend) Probe(ctx context.Context) error {
	if !p.hasKey {
		return classify(p.Name(), 0, ErrNotConfigured)
	}
	if _, err := p.client.Models.List(ctx); err != nil {
		return classifyOpenAIError(err)
	}
	return nil
}

func (p *OpenAIBackend) Generate(ctx context.Context, req GenerationRequest, opts CallOptions) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage(req.UserMessage),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.TopP > 0 {
		params.TopP = openai.Float(opts.TopP)
	}
	if len(opts.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.Stop}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", classify(p.Name(), 0, fmt.Errorf("empty response: no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIError(err error) *BackendError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return classify("openai", apiErr.StatusCode, err)
	}
	return classify("openai", 0, err)
}
