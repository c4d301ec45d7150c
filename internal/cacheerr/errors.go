// Package cacheerr defines the sentinel error kinds surfaced across the
// cache's storage layers. Callers use errors.Is/errors.As against these
// values; no exceptional control flow crosses a package boundary.
package cacheerr

import "errors"

// Sentinel error kinds. See spec.md §7 for the propagation policy: every
// user-visible engine operation returns success/failure booleans or
// optional results, wrapping one of these where a reason is useful.
var (
	// ErrBadArgument indicates an empty key, empty value on save, or a
	// missing file name required by the engine's storage mode.
	ErrBadArgument = errors.New("cache: bad argument")

	// ErrUnavailable indicates the index is in a degraded or permanently
	// unavailable state per the backoff policy in spec.md §4.2.
	ErrUnavailable = errors.New("cache: index unavailable")

	// ErrIOFailure indicates a blob file write/read/delete failed.
	ErrIOFailure = errors.New("cache: file i/o failure")

	// ErrIndexFailure indicates a SQL prepare/exec/step returned an
	// unexpected result.
	ErrIndexFailure = errors.New("cache: index failure")

	// ErrIntegrityLoss indicates a row named a blob file that could not be
	// read; the engine logs this kind, deletes the row and reports the entry
	// absent.
	ErrIntegrityLoss = errors.New("cache: integrity loss, blob file missing")

	// ErrResetFailure indicates the engine could not recover the manifest
	// at construction time.
	ErrResetFailure = errors.New("cache: reset failure")
)
