// Package packager builds the per-dataset distributable archives
// (spec.md §4.3) and prunes old versions according to a retention
// policy. Exactly one build runs per dataset at a time; a Build call for
// a dataset whose build is already in flight is refused with
// hublib.ErrPackagingInProgress.
package packager

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"github.com/datahubsync/datahubsync/pkg/hublib"
)

// Packager builds zip archives for datasets under cacheDir, keeping at
// most keepVersions historical archives plus the current one.
type Packager struct {
	cacheDir     string
	keepVersions int

	mu      sync.Mutex
	inFlight map[string]bool
}

// New constructs a Packager. cacheDir must already exist and be
// writable (validated by the config loader at startup).
func New(cacheDir string, keepVersions int) *Packager {
	return &Packager{
		cacheDir:     cacheDir,
		keepVersions: keepVersions,
		inFlight:     make(map[string]bool),
	}
}

// Result describes a completed archive build.
type Result struct {
	Path string
	Size int64
}

// Build walks sourcePath and writes a new archive for dataset name into
// p.cacheDir, retaining prior versions per the configured policy. The
// archive is named after majorityMinute, the version's settled
// timestamp, expressed in the hub's local zone (spec.md §4.2), not the
// wall-clock time the build runs at. Only files matching extensions are
// archived. If a build for name is already running, Build returns
// hublib.ErrPackagingInProgress immediately rather than starting a
// second one (spec.md §4.3's single-flight requirement).
func (p *Packager) Build(name, sourcePath string, majorityMinute time.Time, extensions []string) (Result, error) {
	p.mu.Lock()
	if p.inFlight[name] {
		p.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %s", hublib.ErrPackagingInProgress, name)
	}
	p.inFlight[name] = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.inFlight, name)
		p.mu.Unlock()
	}()

	datasetDir := filepath.Join(p.cacheDir, name)
	if err := os.MkdirAll(datasetDir, 0755); err != nil {
		return Result{}, fmt.Errorf("%w: create dataset cache dir: %v", hublib.ErrPackagingFailed, err)
	}

	final := filepath.Join(datasetDir, fmt.Sprintf("%s_%s.zip", name, majorityMinute.In(time.Local).Format("20060102_150405")))
	tmp := filepath.Join(datasetDir, fmt.Sprintf(".build-%s.tmp", uuid.NewString()))

	size, err := writeArchive(tmp, sourcePath, extensions)
	if err != nil {
		os.Remove(tmp)
		return Result{}, fmt.Errorf("%w: %v", hublib.ErrPackagingFailed, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return Result{}, fmt.Errorf("%w: rename archive into place: %v", hublib.ErrPackagingFailed, err)
	}

	if err := p.prune(datasetDir, final); err != nil {
		// The new archive is already live; a pruning failure is logged
		// by the caller and does not invalidate the build.
		return Result{Path: final, Size: size}, fmt.Errorf("%w: prune: %v", hublib.ErrPackagingFailed, err)
	}

	return Result{Path: final, Size: size}, nil
}

// writeArchive streams every recognized-extension regular file under
// sourcePath into a zip at tmpPath as a flat entry (basename only, no
// directory entries), returning the archive's final size (spec.md
// §4.2/§6.1).
func writeArchive(tmpPath, sourcePath string, extensions []string) (int64, error) {
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return 0, fmt.Errorf("create temp archive: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	walkErr := filepath.Walk(sourcePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !hublib.HasTabularExtension(path, extensions) {
			return nil
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.Base(path)
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		_, err = io.Copy(w, src)
		return err
	})
	if walkErr != nil {
		zw.Close()
		return 0, fmt.Errorf("walk %s: %w", sourcePath, walkErr)
	}

	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("finalize archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("sync archive: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat archive: %w", err)
	}
	return info.Size(), nil
}

// prune removes archives in datasetDir beyond p.keepVersions, always
// keeping current regardless of its rank by name (spec.md §4.3: the
// archive just published is never eligible for deletion).
func (p *Packager) prune(datasetDir, current string) error {
	entries, err := os.ReadDir(datasetDir)
	if err != nil {
		return err
	}

	var archives []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".zip") {
			continue
		}
		archives = append(archives, filepath.Join(datasetDir, e.Name()))
	}
	sort.Strings(archives) // timestamped names sort chronologically

	var toKeep []string
	for _, a := range archives {
		if a == current {
			continue
		}
		toKeep = append(toKeep, a)
	}

	// Keep the most recent p.keepVersions non-current archives, oldest first.
	excess := len(toKeep) - p.keepVersions
	if excess <= 0 {
		return nil
	}
	for _, a := range toKeep[:excess] {
		if err := os.Remove(a); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale archive %s: %w", a, err)
		}
	}
	return nil
}
