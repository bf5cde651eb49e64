package resolve

import "errors"

// Sentinel errors for manifest resolution.
//
// ErrUnreachable wraps the final transient cause once retries are
// exhausted, so callers can check both the verdict and the reason:
//
//	if errors.Is(err, resolve.ErrUnreachable) { ... }
//	if errors.Is(err, resolve.ErrTimeout) { ... }
//
// Malformed manifests surface as manifest.MalformedError and are never
// wrapped in ErrUnreachable; they are a device fault, not a network one.
var (
	// ErrTimeout indicates a fetch attempt exceeded its time budget.
	ErrTimeout = errors.New("resolve: request timed out")

	// ErrConnectionFailed indicates the device could not be reached at
	// the transport level.
	ErrConnectionFailed = errors.New("resolve: connection failed")

	// ErrUnreachable indicates all fetch attempts failed with transient
	// errors.
	ErrUnreachable = errors.New("resolve: device unreachable")
)
