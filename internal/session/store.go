// Package session persists browser storage state per account so repeat
// runs can skip the login form.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hackerxj2010/ttuex-bot-v2/internal/model"
)

type Store struct {
	dir     string
	enabled bool
}

func NewStore(dir string, enabled bool) *Store {
	return &Store{dir: dir, enabled: enabled}
}

func (s *Store) Enabled() bool { return s != nil && s.enabled }

// Path returns the state file for an account. Account names come from
// user-edited JSON, so anything unsafe for a filename is replaced.
func (s *Store) Path(accountName string) string {
	return filepath.Join(s.dir, sanitize(accountName)+".json")
}

func (s *Store) Exists(accountName string) bool {
	if !s.Enabled() {
		return false
	}
	_, err := os.Stat(s.Path(accountName))
	return err == nil
}

// Load returns the saved state, or an empty state when disabled or when
// no file exists yet. A corrupt file is an error, not an empty state:
// silently re-logging in would mask the corruption.
func (s *Store) Load(accountName string) (model.StorageState, error) {
	if !s.Enabled() {
		return model.StorageState{}, nil
	}
	b, err := os.ReadFile(s.Path(accountName))
	if err != nil {
		if os.IsNotExist(err) {
			return model.StorageState{}, nil
		}
		return model.StorageState{}, fmt.Errorf("read session state: %w", err)
	}
	var state model.StorageState
	if err := json.Unmarshal(b, &state); err != nil {
		return model.StorageState{}, fmt.Errorf("parse session state %s: %w", s.Path(accountName), err)
	}
	return state, nil
}

// Save writes the state atomically via a temp file rename.
func (s *Store) Save(accountName string, state model.StorageState) error {
	if !s.Enabled() {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	state.SavedAt = time.Now()
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	final := s.Path(accountName)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace session state: %w", err)
	}
	return nil
}

func (s *Store) Delete(accountName string) error {
	if !s.Enabled() {
		return nil
	}
	err := os.Remove(s.Path(accountName))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func sanitize(name string) string {
	if name == "" {
		return "default"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
