package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sergiogordon/unitymdm-prod-sub004/internal/core"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/model"
)

// Directory is the device-registry surface the resolver reads. It never
// writes.
type Directory interface {
	List(ctx context.Context, onlineOnly bool, limit int, cursor string) ([]model.Device, bool, error)
	ListByAliases(ctx context.Context, aliases []string) ([]model.Device, []string, error)
}

const resolvePageSize = 500

// Resolver turns a target spec into the concrete device set an execution
// addresses.
type Resolver struct {
	devices Directory
}

func NewResolver(devices Directory) *Resolver {
	return &Resolver{devices: devices}
}

// Resolution is a resolved target set. Devices are ordered by ID so the
// same spec resolves to the same sequence. Unresolved carries alias targets
// that matched no device; they are reported, never silently dropped.
type Resolution struct {
	Devices    []model.Device
	Unresolved []string
}

// Preview is the dry-run response: the resolved count and a small sample,
// with no dispatch side effects.
type Preview struct {
	Count      int      `json:"count"`
	Sample     []string `json:"sample"`
	Unresolved []string `json:"unresolved,omitempty"`
}

func (r *Resolver) Resolve(ctx context.Context, spec model.TargetSpec) (*Resolution, error) {
	switch spec.Kind {
	case model.TargetAll:
		devices, err := r.listAll(ctx, spec.OnlineOnly)
		if err != nil {
			return nil, err
		}
		return &Resolution{Devices: devices}, nil

	case model.TargetFilter:
		match, err := compileFilter(spec.Filter)
		if err != nil {
			return nil, err
		}
		all, err := r.listAll(ctx, false)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		var devices []model.Device
		for _, d := range all {
			if match(d, now) {
				devices = append(devices, d)
			}
		}
		return &Resolution{Devices: devices}, nil

	case model.TargetAliases:
		if len(spec.Aliases) == 0 {
			return nil, fmt.Errorf("alias target needs at least one alias: %w", core.ErrInvalidArgument)
		}
		devices, unresolved, err := r.devices.ListByAliases(ctx, spec.Aliases)
		if err != nil {
			return nil, err
		}
		sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
		return &Resolution{Devices: devices, Unresolved: unresolved}, nil

	default:
		return nil, fmt.Errorf("unknown target kind %q: %w", spec.Kind, core.ErrInvalidArgument)
	}
}

// Preview resolves without dispatching and samples the first sampleSize
// aliases.
func (r *Resolver) Preview(ctx context.Context, spec model.TargetSpec, sampleSize int) (*Preview, error) {
	res, err := r.Resolve(ctx, spec)
	if err != nil {
		return nil, err
	}

	sample := make([]string, 0, sampleSize)
	for _, d := range res.Devices {
		if len(sample) == sampleSize {
			break
		}
		sample = append(sample, d.Alias)
	}
	return &Preview{Count: len(res.Devices), Sample: sample, Unresolved: res.Unresolved}, nil
}

func (r *Resolver) listAll(ctx context.Context, onlineOnly bool) ([]model.Device, error) {
	var devices []model.Device
	cursor := ""
	for {
		page, hasMore, err := r.devices.List(ctx, onlineOnly, resolvePageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("list devices: %w", err)
		}
		devices = append(devices, page...)
		if !hasMore {
			return devices, nil
		}
		cursor = page[len(page)-1].ID
	}
}

// compileFilter parses a target filter into a predicate. Supported forms:
// "online", "model=<value>", "os_version=<value>", "network_type=<value>".
func compileFilter(filter string) (func(model.Device, time.Time) bool, error) {
	filter = strings.TrimSpace(filter)
	if filter == "online" {
		return func(d model.Device, now time.Time) bool { return d.Online(now) }, nil
	}

	field, value, ok := strings.Cut(filter, "=")
	if !ok {
		return nil, fmt.Errorf("unsupported filter %q: %w", filter, core.ErrInvalidArgument)
	}
	switch field {
	case "model":
		return func(d model.Device, _ time.Time) bool { return d.Model == value }, nil
	case "os_version":
		return func(d model.Device, _ time.Time) bool { return d.OSVersion == value }, nil
	case "network_type":
		return func(d model.Device, _ time.Time) bool {
			return d.NetworkType != nil && *d.NetworkType == value
		}, nil
	default:
		return nil, fmt.Errorf("unsupported filter field %q: %w", field, core.ErrInvalidArgument)
	}
}
