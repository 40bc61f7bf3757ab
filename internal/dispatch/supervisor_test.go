package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergiogordon/unitymdm-prod-sub004/internal/core"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/model"
)

func testSupervisor(devices []model.Device, source StatusSource, execTimeout time.Duration) (*Supervisor, *fakeStore, *fakeTransport) {
	store := newFakeStore()
	transport := newFakeTransport()
	resolver := NewResolver(&fakeDirectory{devices: devices})
	batcher := testBatcher(transport, 10, 4)
	sup := NewSupervisor(resolver, batcher, store, source, 10*time.Millisecond, execTimeout, zerolog.Nop())
	return sup, store, transport
}

func allTerminal(devices []model.Device, status string) []core.StatusReport {
	reports := make([]core.StatusReport, len(devices))
	for i, d := range devices {
		reports[i] = core.StatusReport{DeviceID: d.ID, Status: status}
	}
	return reports
}

func TestSupervisor_RunCompletesWhenAllDevicesReport(t *testing.T) {
	const n = 8
	devices := fleet(n)
	source := &fakeSource{responses: [][]core.StatusReport{allTerminal(devices, model.ResultCompleted)}}
	sup, store, transport := testSupervisor(devices, source, 5*time.Second)

	exec := &model.Execution{ID: "exec-1", Target: model.TargetSpec{Kind: model.TargetAll}, Payload: "{}"}
	require.NoError(t, sup.Start(context.Background(), exec))

	require.Eventually(t, func() bool {
		return store.execStatus() == model.ExecStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	assert.Len(t, transport.sentTo(), n)
	store.mu.Lock()
	c := store.counters
	store.mu.Unlock()
	assert.Equal(t, n, c.Total)
	assert.Equal(t, n, c.Acked)
	assert.Equal(t, 0, c.Errors)
}

func TestSupervisor_TimeoutSweepsStragglers(t *testing.T) {
	const n = 5
	devices := fleet(n)
	source := &fakeSource{} // devices never report
	sup, store, _ := testSupervisor(devices, source, 80*time.Millisecond)

	exec := &model.Execution{ID: "exec-1", Target: model.TargetSpec{Kind: model.TargetAll}, Payload: "{}"}
	require.NoError(t, sup.Start(context.Background(), exec))

	require.Eventually(t, func() bool {
		return store.execStatus() == model.ExecStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	for _, d := range devices {
		assert.Equal(t, model.ResultTimeout, store.rowStatus(d.ID))
	}
	store.mu.Lock()
	c := store.counters
	store.mu.Unlock()
	assert.Equal(t, n, c.Errors)
	assert.Equal(t, 0, c.Acked)
}

func TestSupervisor_CancelFreezesCountersAndSweeps(t *testing.T) {
	const n = 6
	devices := fleet(n)
	source := &fakeSource{} // nothing reported before the cancel
	sup, store, _ := testSupervisor(devices, source, time.Minute)

	exec := &model.Execution{ID: "exec-1", Target: model.TargetSpec{Kind: model.TargetAll}, Payload: "{}"}
	require.NoError(t, sup.Start(context.Background(), exec))

	// Wait for dispatch to finish marking everything sent.
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.counters.Sent == n
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sup.Cancel(context.Background(), "exec-1"))
	assert.Equal(t, model.ExecStatusCancelled, store.execStatus())
	for _, d := range devices {
		assert.Equal(t, model.ResultCancelled, store.rowStatus(d.ID))
	}

	// Late reports after cancellation move nothing.
	require.Eventually(t, func() bool {
		_, running := sup.Snapshot("exec-1")
		return !running
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, sup.Report(context.Background(), "exec-1", devices[0].ID, model.ResultCompleted, ""))
	assert.Equal(t, model.ResultCancelled, store.rowStatus(devices[0].ID))
}

func TestSupervisor_TransientPollFailureRetriedNextTick(t *testing.T) {
	const n = 3
	devices := fleet(n)
	source := &fakeSource{
		errs:      []error{errors.New("db restart"), errors.New("db restart")},
		responses: [][]core.StatusReport{nil, nil, allTerminal(devices, model.ResultCompleted)},
	}
	sup, store, _ := testSupervisor(devices, source, 5*time.Second)

	exec := &model.Execution{ID: "exec-1", Target: model.TargetSpec{Kind: model.TargetAll}, Payload: "{}"}
	require.NoError(t, sup.Start(context.Background(), exec))

	require.Eventually(t, func() bool {
		return store.execStatus() == model.ExecStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, source.callCount(), 3)
}

func TestSupervisor_EmptyTargetSetRejected(t *testing.T) {
	sup, store, transport := testSupervisor(nil, &fakeSource{}, time.Second)

	exec := &model.Execution{ID: "exec-1", Target: model.TargetSpec{Kind: model.TargetAll}, Payload: "{}"}
	err := sup.Start(context.Background(), exec)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	assert.Empty(t, transport.sentTo())
	assert.Empty(t, store.execStatus())
}

func TestSupervisor_CancelUnknownExecution(t *testing.T) {
	sup, _, _ := testSupervisor(fleet(1), &fakeSource{}, time.Second)
	err := sup.Cancel(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSupervisor_ReportFeedsRunningAggregator(t *testing.T) {
	const n = 2
	devices := fleet(n)
	sup, store, _ := testSupervisor(devices, &fakeSource{}, time.Minute)

	exec := &model.Execution{ID: "exec-1", Target: model.TargetSpec{Kind: model.TargetAll}, Payload: "{}"}
	require.NoError(t, sup.Start(context.Background(), exec))

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.counters.Sent == n
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sup.Report(context.Background(), "exec-1", devices[0].ID, model.ResultCompleted, "exit 0"))
	c, running := sup.Snapshot("exec-1")
	require.True(t, running)
	assert.Equal(t, 1, c.Acked)
	assert.Equal(t, model.ResultCompleted, store.rowStatus(devices[0].ID))

	require.NoError(t, sup.Cancel(context.Background(), "exec-1"))
}

func TestSupervisor_Shutdown(t *testing.T) {
	devices := fleet(2)
	sup, _, _ := testSupervisor(devices, &fakeSource{}, time.Minute)

	exec := &model.Execution{ID: "exec-1", Target: model.TargetSpec{Kind: model.TargetAll}, Payload: "{}"}
	require.NoError(t, sup.Start(context.Background(), exec))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sup.Shutdown(ctx))
}
