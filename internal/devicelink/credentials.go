package devicelink

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Credential is what a display keeps after pairing.
type Credential struct {
	DeviceToken      string `json:"deviceToken"`
	DeviceIdentifier string `json:"deviceIdentifier"`
}

// CredentialStore persists the credential as a 0600 JSON file.
type CredentialStore struct {
	path string
	mu   sync.Mutex
}

// NewCredentialStore returns a store backed by path.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// Load returns the stored credential, or nil when none exists.
func (s *CredentialStore) Load() (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credential: %w", err)
	}

	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding credential: %w", err)
	}
	if c.DeviceToken == "" {
		return nil, nil
	}
	return &c, nil
}

// Save writes c atomically.
func (s *CredentialStore) Save(c *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating credential directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing credential: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing credential: %w", err)
	}
	return nil
}

// Delete removes the stored credential. Deleting nothing is not an error.
func (s *CredentialStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}
