package clientlib

import "errors"

var (
	// ErrDatasetUnknown is returned when a configured sync target has no
	// matching entry in the hub's listing response.
	ErrDatasetUnknown = errors.New("client: dataset unknown to hub")

	// ErrSizeMismatch is returned when a fully downloaded archive's size
	// does not match the size the hub advertised in its listing. The
	// partial download is discarded (spec.md §4.6 step 5).
	ErrSizeMismatch = errors.New("client: downloaded archive size does not match advertised size")

	// ErrArchiveInvalid is returned when a downloaded archive cannot be
	// opened as a zip (truncated transfer, corruption).
	ErrArchiveInvalid = errors.New("client: archive is not a valid zip")

	// ErrZipSlipDetected is returned when an archive entry's path would
	// escape the extraction directory.
	ErrZipSlipDetected = errors.New("client: archive entry escapes extraction directory")

	// ErrSwapFailed is returned when the atomic replace of a dataset's
	// local directory fails. Before returning it, the swap moves any
	// prior contents back from their backup name.
	ErrSwapFailed = errors.New("client: failed to swap dataset directory into place")
)
