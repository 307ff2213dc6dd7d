// Package state holds the hub's in-memory dataset state and its durable
// JSON mirror on disk (spec.md §4.4). The scheduler is the only writer;
// the HTTP server and CLI read through Store's snapshot methods.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/datahubsync/datahubsync/pkg/hublib"
)

// Store is a concurrency-safe, durable map of dataset name to
// hublib.DatasetState. Zero value is not usable; construct with Load.
type Store struct {
	path string

	mu   sync.RWMutex
	data map[string]hublib.DatasetState
}

// document is the on-disk shape of the state file.
type document struct {
	Datasets map[string]hublib.DatasetState `json:"datasets"`
}

// Load reads path if it exists and returns a Store seeded from it, or an
// empty Store if the file is absent. names is the full configured
// dataset list; any name present on disk but no longer configured is
// dropped, and any configured name absent from disk starts empty.
func Load(path string, names []string) (*Store, error) {
	s := &Store{
		path: path,
		data: make(map[string]hublib.DatasetState, len(names)),
	}

	if raw, err := os.ReadFile(path); err == nil {
		var doc document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", hublib.ErrStateWriteFailed, path, err)
		}
		for _, name := range names {
			if ds, ok := doc.Datasets[name]; ok {
				s.data[name] = ds
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: read %s: %v", hublib.ErrStateWriteFailed, path, err)
	}

	for _, name := range names {
		if _, ok := s.data[name]; !ok {
			s.data[name] = hublib.DatasetState{}
		}
	}

	return s, nil
}

// Get returns a copy of the named dataset's state.
func (s *Store) Get(name string) (hublib.DatasetState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.data[name]
	if !ok {
		return hublib.DatasetState{}, fmt.Errorf("%w: %s", hublib.ErrDatasetNotFound, name)
	}
	return ds, nil
}

// GetAll returns a deep copy of every dataset's state, keyed by name.
func (s *Store) GetAll() map[string]hublib.DatasetState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]hublib.DatasetState, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Update applies mutate to the named dataset's current state and
// persists the result to disk before returning. mutate receives the
// current value by copy and returns the replacement.
func (s *Store) Update(name string, mutate func(hublib.DatasetState) hublib.DatasetState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.data[name]
	if !ok {
		return fmt.Errorf("%w: %s", hublib.ErrDatasetNotFound, name)
	}
	updated := mutate(current)
	s.data[name] = updated

	if err := s.writeLocked(); err != nil {
		// Revert the in-memory change so readers never see state the
		// disk copy disagrees with after a failed write.
		s.data[name] = current
		return err
	}
	return nil
}

// writeLocked serializes the full document to a temp file in the same
// directory as s.path and renames it into place, so readers never
// observe a partially written state file (warpdl atomic-write convention).
func (s *Store) writeLocked() error {
	doc := document{Datasets: s.data}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", hublib.ErrStateWriteFailed, err)
	}

	dir := filepath.Dir(s.path)
	tmp := filepath.Join(dir, fmt.Sprintf(".state-%s.tmp", uuid.NewString()))
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("%w: write temp file: %v", hublib.ErrStateWriteFailed, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename into place: %v", hublib.ErrStateWriteFailed, err)
	}
	return nil
}
