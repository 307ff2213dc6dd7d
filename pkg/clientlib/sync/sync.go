// Package sync implements the client's download-verify-extract-swap
// pipeline (spec.md §4.6): fetch the hub's listing, decide whether a
// dataset needs a new version, stream its archive into scratch space
// with resume support, and atomically replace the local copy.
package sync

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/datahubsync/datahubsync/pkg/clientlib"
	"github.com/datahubsync/datahubsync/pkg/clientlib/config"
	"github.com/datahubsync/datahubsync/pkg/clientlib/retry"
	"github.com/datahubsync/datahubsync/pkg/clientlib/state"
	"github.com/datahubsync/datahubsync/pkg/hublib"
	"github.com/datahubsync/datahubsync/pkg/logging"
)

// Outcome classifies how one dataset's sync attempt ended, the exit
// code table in spec.md §6.6 is built from these.
type Outcome int

const (
	OutcomeUpToDate Outcome = iota
	OutcomeSynced
	OutcomeNotReady
	OutcomeFailed
)

// Engine drives sync attempts for a configured set of datasets against
// one hub.
type Engine struct {
	hub   *HubClient
	store *state.Store
	log   logging.Logger
}

// New constructs an Engine.
func New(hub *HubClient, store *state.Store, log logging.Logger) *Engine {
	return &Engine{hub: hub, store: store, log: log}
}

// SyncAll fetches the hub's listing once, runs syncOne for every dataset
// in cfg.Datasets, and returns each dataset's outcome keyed by name. A
// failing dataset is logged and recorded as OutcomeFailed without
// stopping the others; the returned error is non-nil only when the
// listing cannot be fetched.
func (e *Engine) SyncAll(ctx context.Context, cfg *config.Config) (map[string]Outcome, error) {
	listing, err := e.fetchListingWithRetry(ctx, cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("sync: cannot reach hub: %w", err)
	}

	results := make(map[string]Outcome, len(cfg.Datasets))
	for _, target := range cfg.Datasets {
		outcome, err := e.syncOne(ctx, cfg, listing, target)
		if err != nil {
			e.log.Warning("sync: dataset %s failed: %v", target.Name, err)
		}
		results[target.Name] = outcome
	}
	return results, nil
}

func (e *Engine) fetchListingWithRetry(ctx context.Context, retryCfg retry.Config) (*hublib.ListingResponse, error) {
	rs := &retry.State{}
	for {
		listing, err := e.hub.FetchListing(ctx)
		if err == nil {
			return listing, nil
		}
		rs.Attempts++
		rs.LastError = err
		if !retryCfg.ShouldRetry(rs, err) {
			return nil, err
		}
		category := retry.ClassifyError(err)
		if waitErr := retryCfg.WaitForRetry(ctx, rs, category); waitErr != nil {
			return nil, waitErr
		}
	}
}

// syncOne runs one dataset's full sync pipeline.
func (e *Engine) syncOne(ctx context.Context, cfg *config.Config, listing *hublib.ListingResponse, target config.DatasetTarget) (Outcome, error) {
	entry, ok := FindDataset(listing, target.Name)
	if !ok {
		return OutcomeFailed, fmt.Errorf("%w: %s", clientlib.ErrDatasetUnknown, target.Name)
	}
	if !entry.PackageReady {
		return OutcomeNotReady, nil
	}

	local, hasLocal := e.store.Get(target.Name)
	if hasLocal && !entry.LastUpdated.After(local.LastSyncedUpdate) {
		return OutcomeUpToDate, nil
	}

	archivePath, err := e.downloadArchive(ctx, cfg, target, entry)
	if err != nil {
		return OutcomeFailed, err
	}
	defer os.Remove(archivePath)

	stagingDir, err := e.extractArchive(archivePath, cfg.ScratchDir, target.Name)
	if err != nil {
		return OutcomeFailed, err
	}

	if err := swapDirectory(stagingDir, target.LocalDir); err != nil {
		os.RemoveAll(stagingDir)
		return OutcomeFailed, err
	}

	if err := e.store.Advance(target.Name, entry.LastUpdated, time.Now()); err != nil {
		return OutcomeFailed, fmt.Errorf("sync: record state for %s: %w", target.Name, err)
	}

	e.log.Info("sync: updated dataset %s (files=%d size=%d)", target.Name, entry.FileCount, entry.TotalSize)
	return OutcomeSynced, nil
}

// downloadArchive streams the dataset's archive into
// {scratch}/{name}.zip.part, resuming from any bytes already present,
// verifies the final size against entry.PackageSize, and renames the
// part file to its final name.
func (e *Engine) downloadArchive(ctx context.Context, cfg *config.Config, target config.DatasetTarget, entry hublib.Listing) (string, error) {
	partPath := filepath.Join(cfg.ScratchDir, target.Name+".zip.part")
	finalPath := filepath.Join(cfg.ScratchDir, target.Name+".zip")

	var offset int64
	if info, err := os.Stat(partPath); err == nil {
		offset = info.Size()
	}
	if offset > entry.PackageSize {
		// Stale partial download from a prior, now-superseded version.
		offset = 0
		os.Remove(partPath)
	}

	var bar *mpb.Bar
	var progress *mpb.Progress
	if isatty.IsTerminal(os.Stdout.Fd()) {
		progress = mpb.New(mpb.WithOutput(os.Stdout))
		bar = progress.New(entry.PackageSize,
			mpb.BarStyle().Lbound("╢").Filler("█").Tip("█").Padding("░").Rbound("╟"),
			mpb.PrependDecorators(decor.Name(target.Name+" ")),
			mpb.AppendDecorators(decor.EwmaSpeed(decor.SizeB1024(0), "% .2f", 30)),
		)
		bar.SetCurrent(offset)
	}

	retryState := &retry.State{}
	for {
		written, err := e.attemptDownload(ctx, partPath, offset, target.Name, bar)
		if err == nil {
			offset += written
			break
		}
		retryState.Attempts++
		retryState.LastError = err
		if !cfg.Retry.ShouldRetry(retryState, err) {
			if progress != nil {
				progress.Wait()
			}
			return "", fmt.Errorf("sync: download %s: %w", target.Name, err)
		}
		category := retry.ClassifyError(err)
		if waitErr := cfg.Retry.WaitForRetry(ctx, retryState, category); waitErr != nil {
			if progress != nil {
				progress.Wait()
			}
			return "", waitErr
		}
		if info, statErr := os.Stat(partPath); statErr == nil {
			offset = info.Size()
		}
	}
	if progress != nil {
		progress.Wait()
	}

	if offset != entry.PackageSize {
		os.Remove(partPath)
		return "", fmt.Errorf("%w: got %d, advertised %d for %s", clientlib.ErrSizeMismatch, offset, entry.PackageSize, target.Name)
	}

	if err := os.Rename(partPath, finalPath); err != nil {
		return "", fmt.Errorf("sync: finalize archive for %s: %w", target.Name, err)
	}
	return finalPath, nil
}

// attemptDownload makes one HTTP request for the remainder of the
// archive beyond offset and appends it to partPath, returning the
// number of bytes written in this attempt.
func (e *Engine) attemptDownload(ctx context.Context, partPath string, offset int64, name string, bar *mpb.Bar) (int64, error) {
	body, _, err := e.hub.OpenArchiveRange(ctx, name, offset)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("open part file: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek part file: %w", err)
	}

	var dst io.Writer = f
	if bar != nil {
		dst = io.MultiWriter(f, barWriter{bar})
	}

	written, err := io.Copy(dst, body)
	if err != nil {
		return written, fmt.Errorf("stream archive body: %w", err)
	}
	return written, nil
}

type barWriter struct{ bar *mpb.Bar }

func (w barWriter) Write(p []byte) (int, error) {
	w.bar.IncrBy(len(p))
	return len(p), nil
}

// extractArchive unpacks archivePath into a fresh, uniquely-named
// staging directory under scratchDir, rejecting any entry whose path
// would escape that directory (zip-slip defense, spec.md §4.6).
func (e *Engine) extractArchive(archivePath, scratchDir, datasetName string) (string, error) {
	stagingDir := filepath.Join(scratchDir, fmt.Sprintf("%s-%s", datasetName, uuid.NewString()))
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return "", fmt.Errorf("sync: create staging directory: %w", err)
	}

	r, err := zip.OpenReader(archivePath)
	if err != nil {
		os.RemoveAll(stagingDir)
		return "", fmt.Errorf("%w: %v", clientlib.ErrArchiveInvalid, err)
	}
	defer r.Close()

	for _, f := range r.File {
		destPath, err := safeJoin(stagingDir, f.Name)
		if err != nil {
			os.RemoveAll(stagingDir)
			return "", fmt.Errorf("sync: %w", err)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0755); err != nil {
				os.RemoveAll(stagingDir)
				return "", fmt.Errorf("sync: create directory %s: %w", destPath, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			os.RemoveAll(stagingDir)
			return "", fmt.Errorf("sync: create parent directory for %s: %w", destPath, err)
		}

		if err := extractOne(f, destPath); err != nil {
			os.RemoveAll(stagingDir)
			return "", fmt.Errorf("sync: extract %s: %w", f.Name, err)
		}
	}

	return stagingDir, nil
}

func extractOne(f *zip.File, destPath string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// safeJoin joins base and name, rejecting any result that would
// escape base (the zip-slip defense CVE-2018-1000812 made mandatory
// for any code that extracts untrusted archives).
func safeJoin(base, name string) (string, error) {
	joined := filepath.Join(base, name)
	rel, err := filepath.Rel(base, joined)
	if err != nil {
		return "", fmt.Errorf("invalid archive entry %q", name)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q", clientlib.ErrZipSlipDetected, name)
	}
	return joined, nil
}

// swapDirectory atomically replaces target with staging's contents.
// The rename is atomic when staging and target share a filesystem; if
// scratch_dir and the dataset's local_dir do not, renameDir falls back
// to a recursive copy. If the final move fails, the original target is
// restored from its backup.
func swapDirectory(staging, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("sync: create parent of %s: %w", target, err)
	}

	backup := target + ".old-" + uuid.NewString()
	hadExisting := false
	if _, err := os.Stat(target); err == nil {
		if err := os.Rename(target, backup); err != nil {
			return fmt.Errorf("%w: back up existing %s: %v", clientlib.ErrSwapFailed, target, err)
		}
		hadExisting = true
	}

	if err := renameDir(staging, target); err != nil {
		if hadExisting {
			os.Rename(backup, target)
		}
		return fmt.Errorf("%w: swap staging into %s: %v", clientlib.ErrSwapFailed, target, err)
	}

	if hadExisting {
		os.RemoveAll(backup)
	}
	return nil
}
