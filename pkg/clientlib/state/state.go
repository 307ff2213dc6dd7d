// Package state persists the client's view of which version of each
// dataset it has synced (spec.md §4.6), guarded by an advisory lock so
// two sync processes never race on the same state file.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// DatasetState is the client's record of the last successful sync for
// one dataset.
type DatasetState struct {
	LastSyncedUpdate time.Time `json:"last_synced_update"`
	LastSyncedAt     time.Time `json:"last_synced_at"`
}

// Store is the client's durable sync-state document, guarded by a
// single-writer advisory lock file.
type Store struct {
	path     string
	lockPath string
	lockFile *os.File

	Data map[string]DatasetState
}

// Open acquires the advisory lock at path+".lock" and loads path's
// contents, or starts empty if the file does not exist. The lock is
// released by Close. Open fails immediately if another process holds
// the lock, since two concurrent client runs against the same state
// file would otherwise interleave updates (spec.md §4.6).
func Open(path string) (*Store, error) {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("clientstate: create state directory: %w", err)
	}

	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("clientstate: another sync is already running (lock held at %s)", lockPath)
		}
		return nil, fmt.Errorf("clientstate: acquire lock: %w", err)
	}

	s := &Store{
		path:     path,
		lockPath: lockPath,
		lockFile: lockFile,
		Data:     make(map[string]DatasetState),
	}

	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, &s.Data); err != nil {
			s.Close()
			return nil, fmt.Errorf("clientstate: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		s.Close()
		return nil, fmt.Errorf("clientstate: read %s: %w", path, err)
	}

	return s, nil
}

// Get returns the recorded state for name, and whether it was present.
func (s *Store) Get(name string) (DatasetState, bool) {
	ds, ok := s.Data[name]
	return ds, ok
}

// Advance records a successful sync of name to lastUpdated and
// persists the change atomically.
func (s *Store) Advance(name string, lastUpdated, syncedAt time.Time) error {
	s.Data[name] = DatasetState{LastSyncedUpdate: lastUpdated, LastSyncedAt: syncedAt}
	return s.write()
}

func (s *Store) write() error {
	raw, err := json.MarshalIndent(s.Data, "", "  ")
	if err != nil {
		return fmt.Errorf("clientstate: marshal: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp := filepath.Join(dir, fmt.Sprintf(".clientstate-%s.tmp", uuid.NewString()))
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("clientstate: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("clientstate: rename into place: %w", err)
	}
	return nil
}

// Close releases the advisory lock. Safe to call once; a second call
// is a no-op.
func (s *Store) Close() error {
	if s.lockFile == nil {
		return nil
	}
	s.lockFile.Close()
	err := os.Remove(s.lockPath)
	s.lockFile = nil
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clientstate: release lock: %w", err)
	}
	return nil
}
