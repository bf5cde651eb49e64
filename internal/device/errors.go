package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrInvalidHealthState) {
//	    // handle bad input
//	}
var (
	// ErrInvalidHealthState is returned when a health state value is not recognised.
	ErrInvalidHealthState = errors.New("device: invalid health state")
)
