package secrets

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a requested key is absent
var ErrNotFound = errors.New("secret not found")

// vaultFile is the on-disk shape: one JSON mapping of key to the base64
// of the protected value
type vaultFile struct {
	Secrets map[string]string `json:"secrets"`
	Version string            `json:"version"`
	SavedAt int64             `json:"savedAt"`
}

// Store is an encrypted key-value store over a single backing file. Every
// mutation rewrites the whole mapping through a temp file and an atomic
// rename, so readers only ever observe the fully-old or fully-new file.
type Store struct {
	logger    zerolog.Logger
	path      string
	protector Protector

	mu      sync.RWMutex
	secrets map[string]string
}

// New opens the store at path, loading any existing mapping. A corrupt or
// unreadable file degrades to an empty store with a warning; it is never
// fatal.
func New(logger zerolog.Logger, path string, protector Protector) *Store {
	s := &Store{
		logger:    logger.With().Str("component", "secret-store").Logger(),
		path:      path,
		protector: protector,
		secrets:   make(map[string]string),
	}
	s.load()
	return s
}

// load reads the backing file into memory
func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("Secret store unreadable, starting empty")
		}
		return
	}

	var vault vaultFile
	if err := json.Unmarshal(data, &vault); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Secret store corrupt, starting empty")
		return
	}

	if vault.Secrets != nil {
		s.secrets = vault.Secrets
	}

	s.logger.Info().Int("count", len(s.secrets)).Str("path", s.path).Msg("Secret store loaded")
}

// Store protects value and persists it under key, replacing any previous
// value. Protect or write failures surface to the caller and leave the
// previous mapping intact.
func (s *Store) Store(key, value string) error {
	if key == "" {
		return fmt.Errorf("secret key cannot be empty")
	}

	protected, err := s.protector.Protect([]byte(value))
	if err != nil {
		return fmt.Errorf("failed to protect secret: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(protected)

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.secrets[key]
	s.secrets[key] = encoded

	if err := s.persist(); err != nil {
		if existed {
			s.secrets[key] = previous
		} else {
			delete(s.secrets, key)
		}
		return err
	}

	s.logger.Debug().Str("key", key).Msg("Secret stored")
	return nil
}

// Retrieve returns the plaintext value for key, or ErrNotFound
func (s *Store) Retrieve(key string) (string, error) {
	s.mu.RLock()
	encoded, exists := s.secrets[key]
	s.mu.RUnlock()

	if !exists {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	protected, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("stored secret %s is malformed: %w", key, err)
	}

	plaintext, err := s.protector.Unprotect(protected)
	if err != nil {
		return "", fmt.Errorf("failed to unprotect secret %s: %w", key, err)
	}

	return string(plaintext), nil
}

// Delete removes key from the store. Returns false without touching disk
// when the key is absent; a persist failure restores the value and
// surfaces the error.
func (s *Store) Delete(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, exists := s.secrets[key]
	if !exists {
		return false, nil
	}

	delete(s.secrets, key)

	if err := s.persist(); err != nil {
		s.secrets[key] = previous
		return false, err
	}

	s.logger.Debug().Str("key", key).Msg("Secret deleted")
	return true, nil
}

// ListKeys returns all stored keys sorted
func (s *Store) ListKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.secrets))
	for key := range s.secrets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}

// Clear removes every stored secret
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.secrets
	s.secrets = make(map[string]string)

	if err := s.persist(); err != nil {
		s.secrets = previous
		return err
	}

	s.logger.Info().Msg("Secret store cleared")
	return nil
}

// Count returns the number of stored secrets
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.secrets)
}

// persist rewrites the backing file wholesale: marshal, write a sibling
// temp file, then atomically rename over the old one. Callers hold s.mu.
func (s *Store) persist() error {
	vault := vaultFile{
		Secrets: s.secrets,
		Version: "1.0",
		SavedAt: time.Now().Unix(),
	}

	data, err := json.MarshalIndent(vault, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}
