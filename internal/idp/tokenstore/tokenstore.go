// Package tokenstore persists refresh tokens between CLI runs. The
// default backend is the OS keychain/credential manager; an in-memory
// backend exists for tests and for platforms without a keyring daemon.
package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

const service = "todocloud"

// ErrNotFound indicates no entry exists under the given key
var ErrNotFound = errors.New("token not found")

// Store persists small named secrets
type Store interface {
	Save(key, value string) error
	Load(key string) (string, error)
	Delete(key string) error
}

// Record is the stored shape of a provider session: the username is
// needed to rebuild refresh requests after a process restart.
type Record struct {
	Username     string `json:"username"`
	RefreshToken string `json:"refresh_token"`
}

// SaveRecord serializes and stores a session record under key
func SaveRecord(s Store, key string, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}
	return s.Save(key, string(data))
}

// LoadRecord retrieves and decodes the session record under key
func LoadRecord(s Store, key string) (Record, error) {
	var r Record
	data, err := s.Load(key)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return r, fmt.Errorf("failed to decode session record: %w", err)
	}
	return r, nil
}

// Keyring stores secrets in the OS keychain/credential manager
type Keyring struct{}

// NewKeyring returns the keychain-backed store
func NewKeyring() *Keyring {
	return &Keyring{}
}

// Save persists the value securely in the OS keychain
func (k *Keyring) Save(key, value string) error {
	if err := keyring.Set(service, key, value); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Load retrieves the value from the OS keychain
func (k *Keyring) Load(key string) (string, error) {
	value, err := keyring.Get(service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	return value, nil
}

// Delete removes the value from the OS keychain
func (k *Keyring) Delete(key string) error {
	if err := keyring.Delete(service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// Memory is a map-backed store for tests
type Memory struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewMemory returns an empty in-memory store
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]string)}
}

func (m *Memory) Save(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *Memory) Load(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
