package config

// Backend names, in the default probing priority.
const (
	BackendLocal     = "local"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
)

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Conversation: ConversationConfig{
			CompactThreshold: 500,
			RetainCount:      200,
			HistoryForPrompt: 10,
		},
		Prompt: PromptConfig{
			HistoryTurns: 8,
		},
		Providers: ProvidersConfig{
			Order:               []string{BackendLocal, BackendOpenAI, BackendAnthropic},
			ProbeTimeoutSecs:    5,
			GenerateTimeoutSecs: 30,
			MaxTokens:           200,
			TopP:                0.9,
			Local: LocalConfig{
				BaseURL: "http://localhost:11434",
				Model:   "llama3.2",
			},
			OpenAI: HostedLLMConfig{
				Model: "gpt-3.5-turbo",
			},
			Anthropic: HostedLLMConfig{
				Model: "claude-3-haiku-20240307",
			},
		},
		HTTP: HTTPConfig{
			ListenAddr: "127.0.0.1:7878",
		},
		Security: SecurityConfig{
			PIIFiltering: PIIFilterConfig{
				Enabled:      true,
				FilterEmails: true,
				FilterPhones: true,
				FilterCards:  true,
				FilterSSN:    true,
			},
		},
	}
}
