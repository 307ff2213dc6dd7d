package sync

import (
	"archive/zip"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/datahubsync/datahubsync/internal/server"
	"github.com/datahubsync/datahubsync/pkg/clientlib"
	"github.com/datahubsync/datahubsync/pkg/clientlib/config"
	"github.com/datahubsync/datahubsync/pkg/clientlib/retry"
	"github.com/datahubsync/datahubsync/pkg/clientlib/state"
	"github.com/datahubsync/datahubsync/pkg/hublib"
	"github.com/datahubsync/datahubsync/pkg/logging"
)

type fakeHubStore struct {
	data map[string]hublib.DatasetState
}

func (f *fakeHubStore) Get(name string) (hublib.DatasetState, error) {
	ds, ok := f.data[name]
	if !ok {
		return hublib.DatasetState{}, hublib.ErrDatasetNotFound
	}
	return ds, nil
}

func (f *fakeHubStore) GetAll() map[string]hublib.DatasetState {
	out := make(map[string]hublib.DatasetState, len(f.data))
	for k, v := range f.data {
		out[k] = v
	}
	return out
}

func buildTestArchive(t *testing.T, path string, files map[string]string) int64 {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}
	info, err := f.Stat()
	if err != nil {
		t.Fatalf("stat archive: %v", err)
	}
	return info.Size()
}

func startTestHub(t *testing.T, datasetName, archivePath string, size int64) *httptest.Server {
	t.Helper()
	hubStore := &fakeHubStore{data: map[string]hublib.DatasetState{
		datasetName: {
			LastUpdated:  time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
			FileCount:    1,
			PackageReady: true,
			PackageSize:  size,
			PackagePath:  archivePath,
		},
	}}
	srv := server.New(hubStore, logging.NewMockLogger())
	return httptest.NewServer(srv.Routes())
}

func TestSyncAll_DownloadsNewDataset(t *testing.T) {
	hubDir := t.TempDir()
	archivePath := filepath.Join(hubDir, "prices.zip")
	size := buildTestArchive(t, archivePath, map[string]string{"a.csv": "hello"})

	ts := startTestHub(t, "prices", archivePath, size)
	defer ts.Close()

	clientDir := t.TempDir()
	cfg := &config.Config{
		HubBaseURL: ts.URL,
		Datasets:   []config.DatasetTarget{{Name: "prices", LocalDir: filepath.Join(clientDir, "prices")}},
		Retry:      retry.DefaultConfig(),
		ScratchDir: filepath.Join(clientDir, "scratch"),
	}
	if err := os.MkdirAll(cfg.ScratchDir, 0755); err != nil {
		t.Fatalf("mkdir scratch: %v", err)
	}

	st, err := state.Open(filepath.Join(clientDir, "state.json"))
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	defer st.Close()

	engine := New(NewHubClient(ts.URL, nil), st, logging.NewMockLogger())
	results, err := engine.SyncAll(context.Background(), cfg)
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if results["prices"] != OutcomeSynced {
		t.Fatalf("expected OutcomeSynced, got %v", results["prices"])
	}

	body, err := os.ReadFile(filepath.Join(clientDir, "prices", "a.csv"))
	if err != nil {
		t.Fatalf("read synced file: %v", err)
	}
	if string(body) != "hello" {
		t.Errorf("expected synced content 'hello', got %q", body)
	}
}

func TestSyncAll_UpToDateSkipsDownload(t *testing.T) {
	hubDir := t.TempDir()
	archivePath := filepath.Join(hubDir, "prices.zip")
	size := buildTestArchive(t, archivePath, map[string]string{"a.csv": "hello"})

	ts := startTestHub(t, "prices", archivePath, size)
	defer ts.Close()

	clientDir := t.TempDir()
	cfg := &config.Config{
		HubBaseURL: ts.URL,
		Datasets:   []config.DatasetTarget{{Name: "prices", LocalDir: filepath.Join(clientDir, "prices")}},
		Retry:      retry.DefaultConfig(),
		ScratchDir: filepath.Join(clientDir, "scratch"),
	}
	os.MkdirAll(cfg.ScratchDir, 0755)

	st, err := state.Open(filepath.Join(clientDir, "state.json"))
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	defer st.Close()
	sameTime := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if err := st.Advance("prices", sameTime, sameTime); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	engine := New(NewHubClient(ts.URL, nil), st, logging.NewMockLogger())
	results, err := engine.SyncAll(context.Background(), cfg)
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if results["prices"] != OutcomeUpToDate {
		t.Fatalf("expected OutcomeUpToDate, got %v", results["prices"])
	}
}

func TestSyncAll_UnknownDatasetFails(t *testing.T) {
	hubDir := t.TempDir()
	archivePath := filepath.Join(hubDir, "prices.zip")
	size := buildTestArchive(t, archivePath, map[string]string{"a.csv": "hello"})
	ts := startTestHub(t, "prices", archivePath, size)
	defer ts.Close()

	clientDir := t.TempDir()
	cfg := &config.Config{
		HubBaseURL: ts.URL,
		Datasets:   []config.DatasetTarget{{Name: "ghost", LocalDir: filepath.Join(clientDir, "ghost")}},
		Retry:      retry.DefaultConfig(),
		ScratchDir: filepath.Join(clientDir, "scratch"),
	}
	os.MkdirAll(cfg.ScratchDir, 0755)

	st, err := state.Open(filepath.Join(clientDir, "state.json"))
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	defer st.Close()

	engine := New(NewHubClient(ts.URL, nil), st, logging.NewMockLogger())
	results, _ := engine.SyncAll(context.Background(), cfg)
	if results["ghost"] != OutcomeFailed {
		t.Fatalf("expected OutcomeFailed for unknown dataset, got %v", results["ghost"])
	}
}

func TestSyncAll_SizeMismatchDiscardsPartialAndFails(t *testing.T) {
	hubDir := t.TempDir()
	archivePath := filepath.Join(hubDir, "prices.zip")
	buildTestArchive(t, archivePath, map[string]string{"a.csv": "hello"})

	// Advertise a size larger than the archive actually on disk so the
	// download completes short of PackageSize.
	ts := startTestHub(t, "prices", archivePath, 9999)
	defer ts.Close()

	clientDir := t.TempDir()
	cfg := &config.Config{
		HubBaseURL: ts.URL,
		Datasets:   []config.DatasetTarget{{Name: "prices", LocalDir: filepath.Join(clientDir, "prices")}},
		Retry:      retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1, JitterFactor: 0},
		ScratchDir: filepath.Join(clientDir, "scratch"),
	}
	if err := os.MkdirAll(cfg.ScratchDir, 0755); err != nil {
		t.Fatalf("mkdir scratch: %v", err)
	}

	st, err := state.Open(filepath.Join(clientDir, "state.json"))
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	defer st.Close()

	engine := New(NewHubClient(ts.URL, nil), st, logging.NewMockLogger())
	_, err = engine.downloadArchive(context.Background(), cfg, cfg.Datasets[0], hublib.Listing{Name: "prices", PackageSize: 9999})
	if !errors.Is(err, clientlib.ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(cfg.ScratchDir, "prices.zip.part")); !os.IsNotExist(statErr) {
		t.Error("expected .part file to be removed after a size mismatch")
	}
}

func TestSafeJoin_RejectsPathTraversal(t *testing.T) {
	base := t.TempDir()
	if _, err := safeJoin(base, "../../etc/passwd"); err == nil {
		t.Error("expected safeJoin to reject path traversal")
	}
	if _, err := safeJoin(base, "subdir/file.txt"); err != nil {
		t.Errorf("expected safeJoin to accept normal relative path: %v", err)
	}
}

func TestSwapDirectory_ReplacesExistingTarget(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "prices")
	if err := os.MkdirAll(target, 0755); err != nil {
		t.Fatalf("mkdir target: %v", err)
	}
	os.WriteFile(filepath.Join(target, "old.csv"), []byte("old"), 0644)

	staging := filepath.Join(root, "staging")
	if err := os.MkdirAll(staging, 0755); err != nil {
		t.Fatalf("mkdir staging: %v", err)
	}
	os.WriteFile(filepath.Join(staging, "new.csv"), []byte("new"), 0644)

	if err := swapDirectory(staging, target); err != nil {
		t.Fatalf("swapDirectory: %v", err)
	}

	if _, err := os.Stat(filepath.Join(target, "new.csv")); err != nil {
		t.Errorf("expected new.csv to be present after swap: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "old.csv")); !os.IsNotExist(err) {
		t.Error("expected old.csv to be gone after swap")
	}
}

func TestSwapDirectory_TargetDidNotExist(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "prices")
	staging := filepath.Join(root, "staging")
	if err := os.MkdirAll(staging, 0755); err != nil {
		t.Fatalf("mkdir staging: %v", err)
	}
	os.WriteFile(filepath.Join(staging, "new.csv"), []byte("new"), 0644)

	if err := swapDirectory(staging, target); err != nil {
		t.Fatalf("swapDirectory: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "new.csv")); err != nil {
		t.Errorf("expected new.csv under target: %v", err)
	}
}

func TestCopyTree_PreservesNestedStructureAndContent(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	if err := os.MkdirAll(filepath.Join(src, "nested"), 0755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}
	os.WriteFile(filepath.Join(src, "top.csv"), []byte("top"), 0644)
	os.WriteFile(filepath.Join(src, "nested", "deep.csv"), []byte("deep"), 0644)

	dst := filepath.Join(root, "dst")
	if err := copyTree(src, dst); err != nil {
		t.Fatalf("copyTree: %v", err)
	}

	top, err := os.ReadFile(filepath.Join(dst, "top.csv"))
	if err != nil || string(top) != "top" {
		t.Errorf("expected top.csv = %q, got %q (err %v)", "top", top, err)
	}
	deep, err := os.ReadFile(filepath.Join(dst, "nested", "deep.csv"))
	if err != nil || string(deep) != "deep" {
		t.Errorf("expected nested/deep.csv = %q, got %q (err %v)", "deep", deep, err)
	}
}

func TestRenameDir_SameFilesystemMovesInPlace(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	os.MkdirAll(src, 0755)
	os.WriteFile(filepath.Join(src, "a.csv"), []byte("a"), 0644)

	dst := filepath.Join(root, "dst")
	if err := renameDir(src, dst); err != nil {
		t.Fatalf("renameDir: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("expected src to be gone after an in-place rename")
	}
	if _, err := os.Stat(filepath.Join(dst, "a.csv")); err != nil {
		t.Errorf("expected a.csv under dst: %v", err)
	}
}
