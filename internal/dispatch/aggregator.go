package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/sergiogordon/unitymdm-prod-sub004/internal/model"
)

// ResultStore persists per-device result transitions and execution counter
// snapshots. Implemented by core.ExecutionService.
type ResultStore interface {
	InsertResults(ctx context.Context, execID string, results []model.DeviceResult) error
	TransitionResult(ctx context.Context, execID, deviceID, status, detail string) (bool, error)
	SweepNonTerminal(ctx context.Context, execID, status, detail string) ([]string, error)
	UpdateCounters(ctx context.Context, id string, total, sent, acked, errorCount int) error
	SetStatus(ctx context.Context, id, status string) error
}

// Counters is an execution's aggregate progress snapshot.
type Counters struct {
	Total  int `json:"total_targets"`
	Sent   int `json:"sent_count"`
	Acked  int `json:"acked_count"`
	Errors int `json:"error_count"`
}

// Aggregator owns one execution's result table and counters. All mutation
// goes through Apply under a single mutex, so a device's first terminal
// transition increments exactly one counter no matter how many goroutines
// report concurrently, and re-delivery of a terminal status is a no-op.
type Aggregator struct {
	execID string
	store  ResultStore

	mu       sync.Mutex
	statuses map[string]string
	counters Counters
	frozen   bool
}

func NewAggregator(execID string, devices []model.Device, store ResultStore) *Aggregator {
	statuses := make(map[string]string, len(devices))
	for _, d := range devices {
		statuses[d.ID] = model.ResultPending
	}
	return &Aggregator{
		execID:   execID,
		store:    store,
		statuses: statuses,
		counters: Counters{Total: len(devices)},
	}
}

// Apply records one status observation for a device. It reports whether the
// observation changed anything. Unknown devices, regressions from a terminal
// status, and observations after Freeze are all dropped.
func (a *Aggregator) Apply(ctx context.Context, deviceID, status, detail string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.frozen {
		return false, nil
	}
	current, known := a.statuses[deviceID]
	if !known {
		return false, nil
	}
	if model.IsTerminalResult(current) || current == status {
		return false, nil
	}

	applied, err := a.store.TransitionResult(ctx, a.execID, deviceID, status, detail)
	if err != nil {
		return false, fmt.Errorf("apply status %s for device %s: %w", status, deviceID, err)
	}
	if !applied {
		// Another writer already made the row terminal.
		if model.IsTerminalResult(status) {
			a.statuses[deviceID] = status
		}
		return false, nil
	}

	if current == model.ResultPending && !model.IsTerminalResult(status) {
		a.counters.Sent++
	}
	if model.IsTerminalResult(status) {
		if model.IsSuccessResult(status) {
			a.counters.Acked++
		} else {
			a.counters.Errors++
		}
	}
	a.statuses[deviceID] = status
	return true, nil
}

// ApplySwept folds sweep results (timeout or cancellation) into the in-memory
// table after the store already force-transitioned the rows.
func (a *Aggregator) ApplySwept(deviceIDs []string, status string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range deviceIDs {
		current, known := a.statuses[id]
		if !known || model.IsTerminalResult(current) {
			continue
		}
		a.statuses[id] = status
		if !a.frozen {
			a.counters.Errors++
		}
	}
}

// Freeze stops all further counter movement; used at cancellation so
// in-flight results drain without being counted.
func (a *Aggregator) Freeze() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frozen = true
}

// Snapshot returns the current counters.
func (a *Aggregator) Snapshot() Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters
}

// Done reports whether every device has reached a terminal status.
func (a *Aggregator) Done() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, status := range a.statuses {
		if !model.IsTerminalResult(status) {
			return false
		}
	}
	return true
}

// Outstanding returns the devices still in a non-terminal status.
func (a *Aggregator) Outstanding() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for id, status := range a.statuses {
		if !model.IsTerminalResult(status) {
			out = append(out, id)
		}
	}
	return out
}

// Flush writes the counter snapshot onto the execution row.
func (a *Aggregator) Flush(ctx context.Context) error {
	c := a.Snapshot()
	if err := a.store.UpdateCounters(ctx, a.execID, c.Total, c.Sent, c.Acked, c.Errors); err != nil {
		return fmt.Errorf("flush counters for execution %s: %w", a.execID, err)
	}
	return nil
}
