package dispatch

import (
	"errors"
	"fmt"
)

// Sentinel errors for command dispatch.
//
// Policy failures (everything except ErrDeviceFailure) are decided
// entirely from registry state; no network traffic happens and device
// health is left untouched.
var (
	// ErrUnknownDevice indicates the target device is not in the registry.
	ErrUnknownDevice = errors.New("dispatch: unknown device")

	// ErrCapabilitiesUnknown indicates the device is known but its
	// manifest has not been resolved yet.
	ErrCapabilitiesUnknown = errors.New("dispatch: device capabilities unknown")

	// ErrUnknownAction indicates the manifest does not declare the
	// requested action.
	ErrUnknownAction = errors.New("dispatch: unknown action")

	// ErrInvalidArgument indicates an argument failed validation. The
	// concrete error is an *InvalidArgumentError naming the argument.
	ErrInvalidArgument = errors.New("dispatch: invalid argument")

	// ErrHazardNotAcknowledged indicates the action declares hazards and
	// the caller did not acknowledge them.
	ErrHazardNotAcknowledged = errors.New("dispatch: hazards not acknowledged")

	// ErrDeviceFailure indicates the command passed validation but the
	// device could not execute it.
	ErrDeviceFailure = errors.New("dispatch: device failed to execute command")
)

// InvalidArgumentError reports which argument failed validation and why.
type InvalidArgumentError struct {
	Name   string
	Reason string
}

// Error implements the error interface.
func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("dispatch: invalid argument %q: %s", e.Name, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidArgument) true for any
// InvalidArgumentError.
func (e *InvalidArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}
