package model

import "time"

// Execution modes.
const (
	ModePushPayload     = "push-payload"
	ModeRestrictedShell = "restricted-shell"
)

// Target spec kinds.
const (
	TargetAll     = "all"
	TargetFilter  = "filter"
	TargetAliases = "aliases"
)

// TargetSpec declares which devices an execution addresses.
// Kind "all" may be narrowed with OnlineOnly; "filter" applies the named
// predicate; "aliases" lists explicit device aliases.
type TargetSpec struct {
	Kind       string   `json:"kind"`
	OnlineOnly bool     `json:"online_only,omitempty"`
	Filter     string   `json:"filter,omitempty"`
	Aliases    []string `json:"aliases,omitempty"`
}

// Execution is one fleet-wide command or payload run.
type Execution struct {
	ID           string     `json:"id"`
	Mode         string     `json:"mode"`
	Target       TargetSpec `json:"target"`
	Payload      string     `json:"payload"`
	DryRun       bool       `json:"dry_run"`
	Status       string     `json:"status"`
	TotalTargets int        `json:"total_targets"`
	SentCount    int        `json:"sent_count"`
	AckedCount   int        `json:"acked_count"`
	ErrorCount   int        `json:"error_count"`
	CreatedBy    string     `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// DeviceResult is the per-device outcome row within an execution; the
// execution owns its result rows.
type DeviceResult struct {
	ExecutionID string    `json:"execution_id"`
	DeviceID    string    `json:"device_id"`
	Alias       string    `json:"alias"`
	Status      string    `json:"status"`
	Detail      string    `json:"detail,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
