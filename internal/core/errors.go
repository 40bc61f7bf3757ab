package core

import "errors"

// Service error taxonomy. Handlers map these onto HTTP status codes; the
// dispatch engine distinguishes validation failures (rejected before any
// send) from per-device transport failures (recorded, never fatal).
var (
	// ErrNotFound: the referenced build, device, or execution does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict: another promotion for the same package is in flight.
	// Retryable.
	ErrConflict = errors.New("conflict")

	// ErrInvalidArgument: malformed input, empty target set, percent outside
	// [0,100], disallowed command.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPreconditionFailed: the operation requires a state the row is not
	// in, e.g. adjusting rollout on a non-current build.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrNoPriorBuild: rollback requested but no superseded build exists to
	// revert to.
	ErrNoPriorBuild = errors.New("no prior build to roll back to")
)
