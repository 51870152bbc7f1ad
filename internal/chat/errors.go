package chat

import "errors"

// Sentinel errors for the failure classes the subsystem distinguishes.
// Anything not wrapping one of these is treated as internal and never
// surfaced to a client verbatim.
var (
	// ErrUnauthenticated means the connection credential is missing, expired,
	// or invalid. The reason is deliberately not distinguished further.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden means the principal is authenticated but not a participant
	// of the room the operation targets. The connection stays open.
	ErrForbidden = errors.New("forbidden")

	// ErrUnavailable means a persistence-critical dependency was unreachable.
	// Nothing was committed; the operation is safe to retry.
	ErrUnavailable = errors.New("unavailable")
)
