package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

const (
	configDir  = ".buddyline"
	configFile = "config.json"
)

// Environment variables that override file values at load time.
const (
	EnvOllamaURL    = "OLLAMA_URL"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvDataDir      = "BUDDYLINE_DATA_DIR"
)

// EnvVars lists every variable Load consults.
var EnvVars = []string{EnvOllamaURL, EnvOpenAIKey, EnvAnthropicKey, EnvDataDir}

var envFields = map[string]func(*Config) *string{
	EnvOllamaURL:    func(c *Config) *string { return &c.Providers.Local.BaseURL },
	EnvOpenAIKey:    func(c *Config) *string { return &c.Providers.OpenAI.APIKey },
	EnvAnthropicKey: func(c *Config) *string { return &c.Providers.Anthropic.APIKey },
	EnvDataDir:      func(c *Config) *string { return &c.DataDir },
}

// Loader manages reading and writing the config file.
type Loader struct {
	mu       sync.RWMutex
	config   *Config
	filePath string
	// fileValues maps an applied env override to the value it replaced.
	fileValues map[string]string
}

// NewLoader creates a loader that stores config in ~/.buddyline/config.json.
func NewLoader() (*Loader, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewLoaderAt(filepath.Join(home, configDir, configFile))
}

// NewLoaderAt creates a loader for an explicit config file path.
func NewLoaderAt(path string) (*Loader, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return &Loader{filePath: path}, nil
}

// Load reads the config from disk. If the file doesn't exist, returns defaults.
// Environment overrides are applied on top of whatever was read.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg := Defaults()

	data, err := os.ReadFile(l.filePath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(filepath.Dir(l.filePath), "data")
	}
	l.fileValues = applyEnv(cfg)

	l.config = cfg
	return cfg, nil
}

// Save writes the config to disk. Fields that came from the environment are
// written back with the value the file held, so env values never reach disk.
func (l *Loader) Save(cfg *Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	disk := *cfg
	for name, fileValue := range l.fileValues {
		*envFields[name](&disk) = fileValue
	}
	data, err := json.MarshalIndent(&disk, "", "  ")
	if err != nil {
		return err
	}

	l.config = cfg
	return os.WriteFile(l.filePath, data, 0600)
}

// Get returns the currently loaded config (or defaults if not loaded yet).
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.config == nil {
		return Defaults()
	}
	return l.config
}

// FilePath returns the config file path.
func (l *Loader) FilePath() string {
	return l.filePath
}

// FromEnv reports whether the named variable overrode the file on the last
// Load.
func (l *Loader) FromEnv(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.fileValues[name]
	return ok
}

// ClaimEnv stops treating the named field as env-supplied, so the next Save
// writes its in-memory value. Used when the user sets the field explicitly.
func (l *Loader) ClaimEnv(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.fileValues, name)
}

// applyEnv overrides cfg from the environment and returns the replaced file
// values keyed by variable name.
func applyEnv(cfg *Config) map[string]string {
	replaced := make(map[string]string)
	for _, name := range EnvVars {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		field := envFields[name](cfg)
		replaced[name] = *field
		*field = v
	}
	return replaced
}
