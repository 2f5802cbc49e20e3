// Package secrets keeps API keys and bot tokens out of the config file.
// Config values set to Placeholder are looked up in the OS keyring first and
// then in an encrypted vault file.
package secrets

import (
	"errors"
	"fmt"
	"log"

	"github.com/zalando/go-keyring"

	"buddyline/internal/config"
)

// Placeholder marks a config value that lives in the secret store.
const Placeholder = "[keyring]"

const keyringService = "buddyline"

// Names under which config secrets are stored.
const (
	OpenAIKey     = "openai_api_key"
	AnthropicKey  = "anthropic_api_key"
	TelegramToken = "telegram_token"
)

// ErrNotFound is returned when a secret is in neither store.
var ErrNotFound = errors.New("secret not found")

// Store reads and writes secrets. Primary: OS keyring. Fallback: the vault,
// when one is configured.
type Store struct {
	vault *Vault
}

// New returns a Store. vault may be nil to use the keyring only.
func New(vault *Vault) *Store {
	return &Store{vault: vault}
}

// Set stores a secret in the keyring, or in the vault when the keyring is
// unavailable.
func (s *Store) Set(name, value string) error {
	kerr := keyring.Set(keyringService, name, value)
	if kerr == nil {
		return nil
	}
	if s.vault == nil {
		return fmt.Errorf("keyring: %w", kerr)
	}
	log.Printf("[secrets] keyring unavailable (%v), using vault", kerr)
	return s.vault.Set(name, value)
}

// Get retrieves a secret.
func (s *Store) Get(name string) (string, error) {
	if val, err := keyring.Get(keyringService, name); err == nil {
		return val, nil
	}
	if s.vault == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s.vault.Get(name)
}

// Delete removes a secret from both stores.
func (s *Store) Delete(name string) error {
	if err := keyring.Delete(keyringService, name); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		log.Printf("[secrets] keyring delete %s: %v", name, err)
	}
	if s.vault == nil {
		return nil
	}
	return s.vault.Delete(name)
}

// Resolve replaces every Placeholder in cfg with the stored secret.
func (s *Store) Resolve(cfg *config.Config) error {
	fields := []struct {
		name string
		ptr  *string
	}{
		{OpenAIKey, &cfg.Providers.OpenAI.APIKey},
		{AnthropicKey, &cfg.Providers.Anthropic.APIKey},
	}
	if cfg.Channels.Telegram != nil {
		fields = append(fields, struct {
			name string
			ptr  *string
		}{TelegramToken, &cfg.Channels.Telegram.Token})
	}

	for _, f := range fields {
		if *f.ptr != Placeholder {
			continue
		}
		val, err := s.Get(f.name)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", f.name, err)
		}
		*f.ptr = val
	}
	return nil
}

// MaskKey returns a masked version of an API key for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:3] + "..." + key[len(key)-4:]
}
