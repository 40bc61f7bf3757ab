package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/sergiogordon/unitymdm-prod-sub004/internal/core"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/model"
)

// fakeStore is an in-memory ResultStore for one execution, enforcing the
// same first-terminal-wins guard as the SQL implementation.
type fakeStore struct {
	mu       sync.Mutex
	rows     map[string]string
	counters Counters
	status   string

	transitionErr error
	sweepErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]string)}
}

func (f *fakeStore) InsertResults(_ context.Context, _ string, results []model.DeviceResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range results {
		f.rows[r.DeviceID] = model.ResultPending
	}
	return nil
}

func (f *fakeStore) TransitionResult(_ context.Context, _, deviceID, status, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transitionErr != nil {
		return false, f.transitionErr
	}
	current, ok := f.rows[deviceID]
	if !ok || model.IsTerminalResult(current) {
		return false, nil
	}
	f.rows[deviceID] = status
	return true, nil
}

func (f *fakeStore) SweepNonTerminal(_ context.Context, _, status, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sweepErr != nil {
		return nil, f.sweepErr
	}
	var swept []string
	for id, current := range f.rows {
		if !model.IsTerminalResult(current) {
			f.rows[id] = status
			swept = append(swept, id)
		}
	}
	return swept, nil
}

func (f *fakeStore) UpdateCounters(_ context.Context, _ string, total, sent, acked, errorCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters = Counters{Total: total, Sent: sent, Acked: acked, Errors: errorCount}
	return nil
}

func (f *fakeStore) SetStatus(_ context.Context, _, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	return nil
}

func (f *fakeStore) rowStatus(deviceID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[deviceID]
}

func (f *fakeStore) execStatus() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// fakeTransport records sends and fails configured devices, optionally only
// for the first few attempts.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []string
	attempts map[string]int

	failWith     map[string]error
	failAttempts map[string]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		attempts:     make(map[string]int),
		failWith:     make(map[string]error),
		failAttempts: make(map[string]int),
	}
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Send(_ context.Context, device model.Device, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[device.ID]++
	if err, ok := t.failWith[device.ID]; ok {
		return err
	}
	if n, ok := t.failAttempts[device.ID]; ok && t.attempts[device.ID] <= n {
		return fmt.Errorf("attempt %d: %w", t.attempts[device.ID], ErrUnreachable)
	}
	t.sent = append(t.sent, device.ID)
	return nil
}

func (t *fakeTransport) sentTo() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

func (t *fakeTransport) attemptCount(deviceID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[deviceID]
}

// fakeDirectory serves a fixed device list.
type fakeDirectory struct {
	devices []model.Device
}

func (d *fakeDirectory) List(_ context.Context, onlineOnly bool, limit int, cursor string) ([]model.Device, bool, error) {
	var page []model.Device
	for _, dev := range d.devices {
		if cursor != "" && dev.ID <= cursor {
			continue
		}
		page = append(page, dev)
	}
	if len(page) > limit {
		return page[:limit], true, nil
	}
	return page, false, nil
}

func (d *fakeDirectory) ListByAliases(_ context.Context, aliases []string) ([]model.Device, []string, error) {
	byAlias := make(map[string]model.Device, len(d.devices))
	for _, dev := range d.devices {
		byAlias[dev.Alias] = dev
	}
	var devices []model.Device
	var unresolved []string
	for _, alias := range aliases {
		if dev, ok := byAlias[alias]; ok {
			devices = append(devices, dev)
		} else {
			unresolved = append(unresolved, alias)
		}
	}
	return devices, unresolved, nil
}

// fakeSource replays scripted poll responses, one per cycle, repeating the
// last one.
type fakeSource struct {
	mu        sync.Mutex
	responses [][]core.StatusReport
	errs      []error
	calls     int
}

func (s *fakeSource) LatestStatusReports(_ context.Context, execID string) ([]core.StatusReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if len(s.responses) == 0 {
		return nil, nil
	}
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	reports := make([]core.StatusReport, len(s.responses[i]))
	for j, r := range s.responses[i] {
		r.ExecutionID = execID
		reports[j] = r
	}
	return reports, nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fleet(n int) []model.Device {
	token := "tok"
	devices := make([]model.Device, n)
	for i := range devices {
		id := fmt.Sprintf("device-%03d", i)
		devices[i] = model.Device{ID: id, Alias: "dev_" + id, PushToken: &token}
	}
	return devices
}
