package request

import (
	"fmt"
	"strings"

	"github.com/sergiogordon/unitymdm-prod-sub004/internal/model"
)

// CreateExecution starts (or, with dry_run, previews) a fleet-wide run.
type CreateExecution struct {
	Mode    string           `json:"mode" validate:"required,oneof=push-payload restricted-shell"`
	Target  model.TargetSpec `json:"target"`
	Payload string           `json:"payload" validate:"required"`
	DryRun  bool             `json:"dry_run"`
}

// ReportResult is the device callback for one execution result.
type ReportResult struct {
	Status string `json:"status" validate:"required"`
	Detail string `json:"detail"`
}

// shellAllowlist is the set of command prefixes a restricted-shell
// execution may run on devices. Anything else is rejected before dispatch.
var shellAllowlist = []string{
	"pm ",
	"am ",
	"settings ",
	"dumpsys ",
	"getprop",
	"input ",
	"cmd ",
	"reboot",
}

// ValidateShellCommand enforces the restricted-shell allowlist.
func ValidateShellCommand(command string) error {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return fmt.Errorf("empty shell command")
	}
	for _, prefix := range shellAllowlist {
		if trimmed == strings.TrimSpace(prefix) || strings.HasPrefix(trimmed, prefix) {
			return nil
		}
	}
	return fmt.Errorf("command %q is not allowlisted", trimmed)
}

// Validate applies the target-spec and mode rules that tags cannot express.
func (r *CreateExecution) Validate() error {
	switch r.Target.Kind {
	case model.TargetAll:
	case model.TargetFilter:
		if r.Target.Filter == "" {
			return fmt.Errorf("filter target needs a filter expression")
		}
	case model.TargetAliases:
		if len(r.Target.Aliases) == 0 {
			return fmt.Errorf("alias target needs at least one alias")
		}
	default:
		return fmt.Errorf("unknown target kind %q", r.Target.Kind)
	}

	if r.Mode == model.ModeRestrictedShell {
		if err := ValidateShellCommand(r.Payload); err != nil {
			return err
		}
	}
	return nil
}
