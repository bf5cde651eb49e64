// Package dispatch executes validated commands against devices.
//
// Every command is checked against the target's capability manifest
// before anything touches the network: the action must exist, declared
// arguments must type-check and sit inside their constraints, nothing
// undeclared may ride along, and hazardous actions require an explicit
// acknowledgement. A command that fails any of these gates is rejected
// locally and leaves device health untouched.
//
// Commands that pass are POSTed to the device's action route. The
// connection is retried exactly once when it failed outright (the
// command never arrived, so repeating is safe); timeouts and error
// statuses are not retried because the device may already be acting on
// the request. The transport result, and only the transport result,
// feeds the registry's health tracking.
package dispatch
