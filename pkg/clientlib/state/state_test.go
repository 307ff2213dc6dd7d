package state

import (
	"path/filepath"
	"testing"
	"time"
)

func TestOpen_StartsEmptyWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if len(s.Data) != 0 {
		t.Errorf("expected empty state, got %v", s.Data)
	}
}

func TestAdvance_PersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Now().Truncate(time.Second)
	if err := s.Advance("prices", now, now); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	ds, ok := reopened.Get("prices")
	if !ok {
		t.Fatal("expected prices to be present after reload")
	}
	if !ds.LastSyncedUpdate.Equal(now) {
		t.Errorf("expected %v, got %v", now, ds.LastSyncedUpdate)
	}
}

func TestOpen_FailsWhenLockHeld(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	first, err := Open(path)
	if err != nil {
		t.Fatalf("Open first: %v", err)
	}
	defer first.Close()

	_, err = Open(path)
	if err == nil {
		t.Fatal("expected second Open to fail while lock is held")
	}
}

func TestOpen_SucceedsAfterClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	first, err := Open(path)
	if err != nil {
		t.Fatalf("Open first: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := Open(path)
	if err != nil {
		t.Fatalf("expected Open to succeed after lock release: %v", err)
	}
	second.Close()
}

func TestGet_UnknownDatasetReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if _, ok := s.Get("nope"); ok {
		t.Error("expected ok=false for unknown dataset")
	}
}
