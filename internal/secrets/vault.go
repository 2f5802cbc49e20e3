package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// VaultFile is the encrypted fallback file created under the data directory.
const VaultFile = "vault.enc"

// ErrWrongPassword is returned when the vault cannot be decrypted.
var ErrWrongPassword = errors.New("vault password is incorrect or the file is damaged")

type envelope struct {
	Salt []byte `json:"salt"`
	Data []byte `json:"data"`
}

// Vault is a password-protected JSON map of secrets on disk. The salt is
// stored next to the ciphertext so the key can be derived again on open.
type Vault struct {
	mu       sync.Mutex
	path     string
	password string
	salt     []byte
	key      []byte
}

// OpenVault returns a vault at path. The file is created on the first write.
func OpenVault(path, password string) (*Vault, error) {
	if password == "" {
		return nil, errors.New("vault password is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return &Vault{path: path, password: password}, nil
}

func (v *Vault) load() (map[string]string, error) {
	raw, err := os.ReadFile(v.path)
	if os.IsNotExist(err) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse vault: %w", err)
	}
	if v.key == nil || string(v.salt) != string(env.Salt) {
		v.salt = env.Salt
		v.key = deriveKey(v.password, env.Salt)
	}
	plaintext, err := open(env.Data, v.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongPassword, err)
	}

	entries := make(map[string]string)
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		return nil, fmt.Errorf("parse vault entries: %w", err)
	}
	return entries, nil
}

func (v *Vault) save(entries map[string]string) error {
	if v.key == nil {
		salt, err := randomBytes(saltLen)
		if err != nil {
			return err
		}
		v.salt = salt
		v.key = deriveKey(v.password, salt)
	}
	plaintext, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	data, err := seal(plaintext, v.key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(envelope{Salt: v.salt, Data: data})
	if err != nil {
		return err
	}
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, v.path)
}

// Get returns ErrNotFound when name is not in the vault.
func (v *Vault) Get(name string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.load()
	if err != nil {
		return "", err
	}
	val, ok := entries[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return val, nil
}

func (v *Vault) Set(name, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.load()
	if err != nil {
		return err
	}
	entries[name] = value
	return v.save(entries)
}

func (v *Vault) Delete(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.load()
	if err != nil {
		return err
	}
	if _, ok := entries[name]; !ok {
		return nil
	}
	delete(entries, name)
	return v.save(entries)
}
