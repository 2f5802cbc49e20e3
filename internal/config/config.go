package config

// Config is the top-level application configuration.
type Config struct {
	DataDir      string             `json:"data_dir,omitempty"`
	Conversation ConversationConfig `json:"conversation"`
	Prompt       PromptConfig       `json:"prompt"`
	Providers    ProvidersConfig    `json:"providers"`
	HTTP         HTTPConfig         `json:"http"`
	Channels     ChannelsConfig     `json:"channels"`
	Security     SecurityConfig     `json:"security"`
}

type ConversationConfig struct {
	CompactThreshold int `json:"compact_threshold"`
	RetainCount      int `json:"retain_count"`
	HistoryForPrompt int `json:"history_for_prompt"`
}

type PromptConfig struct {
	HistoryTurns int `json:"history_turns"`
}

// ProvidersConfig lists the generation backends in priority order.
type ProvidersConfig struct {
	Order               []string        `json:"order"`
	ProbeTimeoutSecs    int             `json:"probe_timeout_secs"`
	GenerateTimeoutSecs int             `json:"generate_timeout_secs"`
	MaxTokens           int             `json:"max_tokens"`
	TopP                float64         `json:"top_p"`
	ReprobeSchedule     string          `json:"reprobe_schedule,omitempty"`
	Local               LocalConfig     `json:"local"`
	OpenAI              HostedLLMConfig `json:"openai"`
	Anthropic           HostedLLMConfig `json:"anthropic"`
}

type LocalConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

type HostedLLMConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model"`
}

type HTTPConfig struct {
	ListenAddr string `json:"listen_addr"`
}

type ChannelsConfig struct {
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

// TelegramConfig bridges a Telegram bot to a single buddy.
type TelegramConfig struct {
	Token      string  `json:"token"`
	BuddyID    string  `json:"buddy_id"`
	AllowedIDs []int64 `json:"allowed_ids,omitempty"`
}

type SecurityConfig struct {
	// VaultPassword unlocks the encrypted secrets file used when no OS keyring
	// is available. Leave empty to use the keyring only.
	VaultPassword string          `json:"vault_password,omitempty"`
	PIIFiltering  PIIFilterConfig `json:"pii_filtering"`
}

// PIIFilterConfig controls which personal data is masked before user text is
// written to the memory log.
type PIIFilterConfig struct {
	Enabled      bool `json:"enabled"`
	FilterEmails bool `json:"filter_emails"`
	FilterPhones bool `json:"filter_phones"`
	FilterCards  bool `json:"filter_cards"`
	FilterIPs    bool `json:"filter_ips"`
	FilterSSN    bool `json:"filter_ssn"`
}
