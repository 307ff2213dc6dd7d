// Package hublib holds the data model and domain errors shared by the
// hub's config, state, freshness, packager and scheduler subpackages
// (spec.md §3, §4).
package hublib

import "time"

// Dataset is a logical unit of distribution, fixed at hub startup and
// never mutated at runtime (spec.md §3).
type Dataset struct {
	// Name uniquely identifies the dataset and must be URL-safe; it is
	// the only identifier callers use, stable across the hub's lifetime.
	Name string
	// SourcePath is the absolute directory on the hub scanned for
	// tabular files.
	SourcePath string
	// NewerRatioThreshold is the fraction of newer files required to
	// call the dataset fresh (default 0.30).
	NewerRatioThreshold float64
	// DebounceSeconds is the minimum interval between a positive
	// freshness verdict and the re-scan that confirms it, and the
	// minimum time since the last trigger before a new one is allowed.
	DebounceSeconds int
	// MtimeGranularity truncates file modification times before
	// comparison; "minute" is the only value spec.md defines.
	MtimeGranularity time.Duration
	// TabularExtensions lists the file extensions (e.g. ".csv") counted
	// by the freshness detector and archived by the packager; every
	// other file under SourcePath is ignored (spec.md §3).
	TabularExtensions []string
}

// DatasetState is the persisted, per-dataset metadata consumed by the
// HTTP server (spec.md §3). Mutated only by the Scheduler.
type DatasetState struct {
	// LastUpdated is the majority-minute of the most recently settled
	// version. Monotonically non-decreasing per dataset (invariant I1).
	LastUpdated time.Time `json:"last_updated"`
	// FileCount is the number of source files observed at package time.
	FileCount int `json:"file_count"`
	// TotalSize is the sum of source file sizes, in bytes, at package time.
	TotalSize int64 `json:"total_size"`
	// PackageReady is true iff PackagePath points to a complete archive.
	PackageReady bool `json:"package_ready"`
	// PackageSize is the archive's size in bytes.
	PackageSize int64 `json:"package_size"`
	// PackagePath is the hub-local path to the current archive. Not
	// exposed through the HTTP listing endpoint.
	PackagePath string `json:"package_path"`
	// LastTriggerAt is the wall-clock time of the last successful
	// packaging trigger, the debounce input for the next tick.
	LastTriggerAt time.Time `json:"last_trigger_at"`
}

// Listing is the subset of DatasetState exposed over HTTP (spec.md §6.1).
type Listing struct {
	Name         string    `json:"name"`
	LastUpdated  time.Time `json:"last_updated"`
	FileCount    int       `json:"file_count"`
	TotalSize    int64     `json:"total_size"`
	PackageReady bool      `json:"package_ready"`
	PackageSize  int64     `json:"package_size"`
}

// ToListing projects a DatasetState to its public wire shape.
func (s DatasetState) ToListing(name string) Listing {
	return Listing{
		Name:         name,
		LastUpdated:  s.LastUpdated,
		FileCount:    s.FileCount,
		TotalSize:    s.TotalSize,
		PackageReady: s.PackageReady,
		PackageSize:  s.PackageSize,
	}
}

// ListingResponse is the body of GET /api/datasets.
type ListingResponse struct {
	GeneratedAt time.Time `json:"generated_at"`
	Datasets    []Listing `json:"datasets"`
}
