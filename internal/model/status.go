package model

// Build lifecycle states.
const (
	BuildStateDraft      = "draft"
	BuildStateCurrent    = "current"
	BuildStateSuperseded = "superseded"
	BuildStateRolledBack = "rolled_back"
)

// Execution lifecycle states.
const (
	ExecStatusPending   = "pending"
	ExecStatusRunning   = "running"
	ExecStatusCompleted = "completed"
	ExecStatusCancelled = "cancelled"
)

// Per-device result states within an execution.
const (
	ResultPending     = "pending"
	ResultSent        = "sent"
	ResultDownloading = "downloading"
	ResultInstalling  = "installing"
	ResultCompleted   = "completed"
	ResultFailed      = "failed"
	ResultTimeout     = "timeout"
	ResultCancelled   = "cancelled"
)

// IsTerminalResult reports whether a device result status can no longer change.
func IsTerminalResult(status string) bool {
	switch status {
	case ResultCompleted, ResultFailed, ResultTimeout, ResultCancelled:
		return true
	}
	return false
}

// IsSuccessResult reports whether a terminal status counts toward acked_count
// rather than error_count.
func IsSuccessResult(status string) bool {
	return status == ResultCompleted
}
