package directory

import "errors"

// Error taxonomy surfaced to callers. Wrapped variants carry detail; callers
// test with errors.Is.
var (
	// ErrPermissionDenied means the caller lacks the capability required for
	// the requested change.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidRequest means the request is structurally invalid or names an
	// unknown user.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrStorage means the durable transaction failed; the operation had no
	// effect.
	ErrStorage = errors.New("storage failure")
)
