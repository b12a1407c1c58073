// Package seenstate persists the per-store "last acknowledged issue" marker
// the dashboard uses to clear notification badges.
package seenstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoStatePath is returned when no state file location was configured and
// none could be derived from the home directory.
var ErrNoStatePath = errors.New("no seen-state path configured")

// StoreSeen records the last run identifiers a user acknowledged for one
// store. Nil means nothing was ever seen (or acknowledgment cleared to
// "nothing pending").
type StoreSeen struct {
	LastSeenFailureRunID *string `json:"last_seen_failure_run_id"`
	LastSeenWarningRunID *string `json:"last_seen_warning_run_id"`
}

type stateFile struct {
	Stores map[string]StoreSeen `json:"stores"`
}

// Store loads and persists the seen-state mapping at a fixed path. The file
// is loaded lazily on first access; Save rewrites it atomically
// (write-to-temp then rename) so a crashed write is never read back as a
// corrupt mapping.
//
// Methods are safe for concurrent use; the internal mutex serializes
// concurrent acknowledgments.
type Store struct {
	path string

	mu     sync.Mutex
	loaded bool
	stores map[string]StoreSeen
}

// New returns a store over the given state file path. An empty path is
// tolerated until the first Save: reads behave as first-run empty state,
// writes fail with ErrNoStatePath.
func New(path string) *Store {
	return &Store{path: path}
}

// Get returns the seen entry for a store and whether one exists.
func (s *Store) Get(storeID string) (StoreSeen, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	v, ok := s.stores[storeID]
	return v, ok
}

// Set overwrites a store's entry and persists the full mapping.
func (s *Store) Set(storeID string, seen StoreSeen) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	prev, had := s.stores[storeID]
	s.stores[storeID] = seen
	if err := s.saveLocked(); err != nil {
		// Keep the in-memory mapping consistent with what is on disk.
		if had {
			s.stores[storeID] = prev
		} else {
			delete(s.stores, storeID)
		}
		return err
	}
	return nil
}

// Snapshot returns a copy of the full mapping.
func (s *Store) Snapshot() map[string]StoreSeen {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	out := make(map[string]StoreSeen, len(s.stores))
	for k, v := range s.stores {
		out[k] = v
	}
	return out
}

// loadLocked reads the state file once. A missing or corrupt file starts an
// empty mapping; this is first-run behavior, never an error.
func (s *Store) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true
	s.stores = make(map[string]StoreSeen)
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var sf stateFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return
	}
	if sf.Stores != nil {
		s.stores = sf.Stores
	}
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return ErrNoStatePath
	}
	raw, err := json.MarshalIndent(stateFile{Stores: s.stores}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode seen state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("write seen state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write seen state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write seen state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write seen state: %w", err)
	}
	return nil
}
