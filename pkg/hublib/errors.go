package hublib

import "errors"

var (
	// ErrConfigInvalid is returned when the hub configuration fails
	// validation at startup (spec.md §7: ConfigInvalid, fatal).
	ErrConfigInvalid = errors.New("hub: configuration is invalid")

	// ErrSourceUnreadable is returned when a dataset's source_path cannot
	// be scanned. The scheduler logs and skips the tick for that dataset.
	ErrSourceUnreadable = errors.New("hub: dataset source directory is unreadable")

	// ErrPackagingFailed is returned when the packager aborts an archive
	// build. The prior archive, if any, is left untouched.
	ErrPackagingFailed = errors.New("hub: packaging failed")

	// ErrStateWriteFailed is returned when the state store cannot persist
	// an update. The in-memory state is kept; the scheduler retries later.
	ErrStateWriteFailed = errors.New("hub: state write failed")

	// ErrDatasetNotFound is returned by the state store when a dataset
	// name has no registered configuration or state; the HTTP handlers
	// answer it with 404.
	ErrDatasetNotFound = errors.New("hub: dataset not found")

	// ErrInvalidDatasetName is returned when a dataset name fails the
	// URL-safe validation used by the HTTP archive endpoint.
	ErrInvalidDatasetName = errors.New("hub: invalid dataset name")

	// ErrPackageNotReady names the case of a dataset that is known but
	// has no downloadable archive. No function in this module returns
	// it; the HTTP handler answers that case with 404 directly.
	ErrPackageNotReady = errors.New("hub: package not ready")

	// ErrInvalidRange names the case of a malformed or multi-range Range
	// header, or a range outside the archive's bounds. No function in
	// this module returns it; the HTTP handler answers with 416 directly.
	ErrInvalidRange = errors.New("hub: invalid range request")

	// ErrPackagingInProgress is returned to a caller that tries to start
	// a second concurrent packaging run for the same dataset; the caller
	// should treat this as "already handled" rather than an error.
	ErrPackagingInProgress = errors.New("hub: packaging already in progress for this dataset")
)
