package llm

import (
	"fmt"
	"time"

	"buddyline/internal/config"
	"buddyline/internal/eventbus"
)

// NewBackend creates one backend by name from config.
func NewBackend(name string, cfg config.ProvidersConfig) (Backend, error) {
	switch name {
	case config.BackendLocal:
		return NewOllama(OllamaConfig{
			BaseURL: cfg.Local.BaseURL,
			Model:   cfg.Local.Model,
		}), nil
	case config.BackendOpenAI:
		return NewOpenAI(OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		}), nil
	case config.BackendAnthropic:
		return NewAnthropic(AnthropicConfig{
			APIKey:  cfg.Anthropic.APIKey,
			BaseURL: cfg.Anthropic.BaseURL,
			Model:   cfg.Anthropic.Model,
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", name)
	}
}

// NewOrchestratorFromConfig builds every backend listed in cfg.Order.
func NewOrchestratorFromConfig(cfg config.ProvidersConfig, bus *eventbus.Bus) (*Orchestrator, error) {
	order := cfg.Order
	if len(order) == 0 {
		order = []string{config.BackendLocal, config.BackendOpenAI, config.BackendAnthropic}
	}
	seen := make(map[string]bool, len(order))
	backends := make([]Backend, 0, len(order))
	for _, name := range order {
		if seen[name] {
			continue
		}
		seen[name] = true
		b, err := NewBackend(name, cfg)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}
	return NewOrchestrator(backends, Options{
		ProbeTimeout:    time.Duration(cfg.ProbeTimeoutSecs) * time.Second,
		GenerateTimeout: time.Duration(cfg.GenerateTimeoutSecs) * time.Second,
		MaxTokens:       cfg.MaxTokens,
		TopP:            cfg.TopP,
		Bus:             bus,
	}), nil
}
