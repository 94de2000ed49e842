package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// StateStore remembers when each user was last synced successfully. It is
// kept in memory during a pass and persisted as JSON afterwards.
type StateStore struct {
	path string

	mu    sync.RWMutex
	times map[string]time.Time
}

// NewStateStore loads the state file at path; a missing file is an empty
// store.
func NewStateStore(path string) (*StateStore, error) {
	s := &StateStore{path: path, times: make(map[string]time.Time)}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scheduler: load state: %w", err)
	}
	if err := json.Unmarshal(data, &s.times); err != nil {
		return nil, fmt.Errorf("scheduler: load state %s: %w", path, err)
	}
	return s, nil
}

// LastSynced returns the time of the user's last successful sync.
func (s *StateStore) LastSynced(email string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.times[strings.ToLower(email)]
	return t, ok
}

// Update records t as the last successful sync for email. Call Persist
// to write it out.
func (s *StateStore) Update(email string, t time.Time) {
	s.mu.Lock()
	s.times[strings.ToLower(email)] = t.UTC()
	s.mu.Unlock()
}

// All returns a copy of every recorded time.
func (s *StateStore) All() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Time, len(s.times))
	for k, v := range s.times {
		out[k] = v
	}
	return out
}

// Persist writes the store atomically via a temp file and rename.
func (s *StateStore) Persist() error {
	if s.path == "" {
		return nil
	}

	s.mu.RLock()
	data, err := json.MarshalIndent(s.times, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".gcalsync-state-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}
