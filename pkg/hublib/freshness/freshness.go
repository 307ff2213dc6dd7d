// Package freshness implements the majority-minute detection algorithm
// that decides whether a dataset's source directory has settled into a
// new version worth packaging (spec.md §4.1).
package freshness

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/datahubsync/datahubsync/pkg/hublib"
)

// Verdict is the result of one Scan.
type Verdict struct {
	// Fresh is true when NewerRatio meets or exceeds the dataset's
	// configured threshold.
	Fresh bool
	// MajorityMinute is the mode of the truncated mtimes across all
	// scanned files, ties broken toward the later timestamp.
	MajorityMinute time.Time
	// NewerRatio is the fraction of files whose truncated mtime is
	// strictly after since.
	NewerRatio float64
	// FileCount is the number of recognized-extension regular files
	// observed.
	FileCount int
	// TotalSize is the sum of observed file sizes in bytes.
	TotalSize int64
	// Unreadable lists the paths of files that could not be stat'd
	// during the walk; they are excluded from every count above rather
	// than aborting the scan (spec.md §4.1 error handling).
	Unreadable []string
}

// Scan walks sourcePath, considers only regular files whose extension
// matches one of extensions (the dataset's recognized tabular
// extensions, e.g. ".csv"), truncates each one's mtime to granularity,
// and computes the majority-minute and newer-ratio statistics spec.md
// §4.1 defines. since is the previously recorded LastUpdated; a zero
// since treats every file as newer. A file that cannot be stat'd is
// skipped and recorded in Verdict.Unreadable; only an unreadable
// directory aborts the scan with an error.
func Scan(sourcePath string, since time.Time, granularity time.Duration, threshold float64, extensions []string) (Verdict, error) {
	counts := make(map[time.Time]int)
	var fileCount int
	var totalSize int64
	var newerCount int
	var unreadable []string

	err := filepath.WalkDir(sourcePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// d is nil when sourcePath itself cannot be stat'd.
			if d == nil || d.IsDir() {
				return err
			}
			unreadable = append(unreadable, path)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !hublib.HasTabularExtension(path, extensions) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			unreadable = append(unreadable, path)
			return nil
		}

		truncated := info.ModTime().Truncate(granularity)
		counts[truncated]++
		fileCount++
		totalSize += info.Size()
		if truncated.After(since) {
			newerCount++
		}
		return nil
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %s: %v", hublib.ErrSourceUnreadable, sourcePath, err)
	}

	if fileCount == 0 {
		return Verdict{FileCount: 0, TotalSize: 0, Unreadable: unreadable}, nil
	}

	majority := majorityMinute(counts)
	ratio := float64(newerCount) / float64(fileCount)

	return Verdict{
		Fresh:          ratio >= threshold,
		MajorityMinute: majority,
		NewerRatio:     ratio,
		FileCount:      fileCount,
		TotalSize:      totalSize,
		Unreadable:     unreadable,
	}, nil
}

// majorityMinute returns the mode of counts, the later timestamp
// winning ties (spec.md §4.1).
func majorityMinute(counts map[time.Time]int) time.Time {
	var best time.Time
	var bestCount int
	for t, c := range counts {
		if c > bestCount || (c == bestCount && t.After(best)) {
			best = t
			bestCount = c
		}
	}
	return best
}

// Agree reports whether two scans separated by the dataset's debounce
// window agree closely enough to confirm settlement: their newer
// ratios differ by at most 0.01 and they share the same majority
// minute (spec.md §4.2).
func Agree(a, b Verdict) bool {
	diff := a.NewerRatio - b.NewerRatio
	if diff < 0 {
		diff = -diff
	}
	return diff <= 0.01 && a.MajorityMinute.Equal(b.MajorityMinute)
}
