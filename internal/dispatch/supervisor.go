package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sergiogordon/unitymdm-prod-sub004/internal/core"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/metrics"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/model"
)

// StatusSource yields the latest device-reported status per device for an
// execution. Implemented by core.ExecutionService over check-in status
// reports.
type StatusSource interface {
	LatestStatusReports(ctx context.Context, execID string) ([]core.StatusReport, error)
}

// Supervisor runs executions end to end: resolve targets, persist pending
// rows, dispatch in batches, then poll the status source until every device
// is terminal or the execution times out. Each execution runs in its own
// goroutine; executions are isolated from each other.
type Supervisor struct {
	resolver *Resolver
	batcher  *Batcher
	store    ResultStore
	source   StatusSource
	logger   zerolog.Logger

	pollInterval time.Duration
	execTimeout  time.Duration

	mu      sync.Mutex
	running map[string]*run
	wg      sync.WaitGroup
}

// commandEnvelope is the message devices receive on their push channel.
// The execution ID lets the agent correlate its status reports with the run.
type commandEnvelope struct {
	ExecutionID string `json:"execution_id"`
	Mode        string `json:"mode"`
	Payload     string `json:"payload"`
}

type run struct {
	agg       *Aggregator
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}
}

func NewSupervisor(resolver *Resolver, batcher *Batcher, store ResultStore, source StatusSource, pollInterval, execTimeout time.Duration, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		resolver:     resolver,
		batcher:      batcher,
		store:        store,
		source:       source,
		logger:       logger.With().Str("component", "supervisor").Logger(),
		pollInterval: pollInterval,
		execTimeout:  execTimeout,
		running:      make(map[string]*run),
	}
}

// Start resolves the execution's targets and launches its run loop. The
// execution must be pending. An empty resolved target set is rejected before
// anything is dispatched.
func (s *Supervisor) Start(ctx context.Context, exec *model.Execution) error {
	res, err := s.resolver.Resolve(ctx, exec.Target)
	if err != nil {
		return err
	}
	if len(res.Devices) == 0 {
		return fmt.Errorf("target resolves to no devices: %w", core.ErrInvalidArgument)
	}

	results := make([]model.DeviceResult, 0, len(res.Devices))
	for _, d := range res.Devices {
		results = append(results, model.DeviceResult{DeviceID: d.ID, Alias: d.Alias})
	}
	if err := s.store.InsertResults(ctx, exec.ID, results); err != nil {
		return err
	}

	agg := NewAggregator(exec.ID, res.Devices, s.store)
	if err := agg.Flush(ctx); err != nil {
		return err
	}
	if err := s.store.SetStatus(ctx, exec.ID, model.ExecStatusRunning); err != nil {
		return err
	}

	envelope, err := json.Marshal(commandEnvelope{
		ExecutionID: exec.ID,
		Mode:        exec.Mode,
		Payload:     exec.Payload,
	})
	if err != nil {
		return fmt.Errorf("encode command envelope: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{agg: agg, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if _, exists := s.running[exec.ID]; exists {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("execution %s already running: %w", exec.ID, core.ErrConflict)
	}
	s.running[exec.ID] = r
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx, exec.ID, res.Devices, string(envelope), r)
	return nil
}

func (s *Supervisor) run(ctx context.Context, execID string, devices []model.Device, payload string, r *run) {
	defer s.wg.Done()
	defer close(r.done)
	defer s.unregister(execID)

	metrics.ExecutionsActive.Inc()
	defer metrics.ExecutionsActive.Dec()
	started := time.Now()
	defer func() {
		metrics.ExecutionDuration.Observe(time.Since(started).Seconds())
	}()

	logger := s.logger.With().Str("execution_id", execID).Logger()
	logger.Info().Int("targets", len(devices)).Msg("execution starting")

	cancelled := func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return r.cancelled
	}

	if err := s.batcher.Dispatch(ctx, execID, devices, payload, cancelled, r.agg); err != nil {
		logger.Error().Err(err).Msg("dispatch aborted")
	}
	if err := r.agg.Flush(ctx); err != nil {
		logger.Error().Err(err).Msg("flush counters after dispatch")
	}
	if cancelled() {
		return
	}

	deadline := time.NewTimer(s.execTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-deadline.C:
			s.finishTimeout(execID, r.agg, logger)
			return

		case <-ticker.C:
			if cancelled() {
				return
			}
			done, err := s.pollOnce(ctx, execID, r.agg)
			if err != nil {
				// Transient; retry on the next tick, never sooner.
				metrics.PollCyclesTotal.WithLabelValues("error").Inc()
				logger.Warn().Err(err).Msg("poll cycle failed")
				continue
			}
			metrics.PollCyclesTotal.WithLabelValues("ok").Inc()
			if done {
				s.finishCompleted(execID, r.agg, logger)
				return
			}
		}
	}
}

// pollOnce pulls the latest device reports, folds them into the aggregator,
// and reports whether every device is terminal.
func (s *Supervisor) pollOnce(ctx context.Context, execID string, agg *Aggregator) (bool, error) {
	reports, err := s.source.LatestStatusReports(ctx, execID)
	if err != nil {
		return false, err
	}
	for _, report := range reports {
		if _, err := agg.Apply(ctx, report.DeviceID, report.Status, report.Detail); err != nil {
			return false, err
		}
	}
	if err := agg.Flush(ctx); err != nil {
		return false, err
	}
	return agg.Done(), nil
}

func (s *Supervisor) finishCompleted(execID string, agg *Aggregator, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.store.SetStatus(ctx, execID, model.ExecStatusCompleted); err != nil {
		logger.Error().Err(err).Msg("mark execution completed")
		return
	}
	c := agg.Snapshot()
	logger.Info().
		Int("acked", c.Acked).
		Int("errors", c.Errors).
		Msg("execution completed")
}

// finishTimeout force-transitions stragglers to timeout and completes the
// execution.
func (s *Supervisor) finishTimeout(execID string, agg *Aggregator, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	swept, err := s.store.SweepNonTerminal(ctx, execID, model.ResultTimeout, "no terminal status before execution timeout")
	if err != nil {
		logger.Error().Err(err).Msg("sweep timed-out devices")
	}
	agg.ApplySwept(swept, model.ResultTimeout)
	if err := agg.Flush(ctx); err != nil {
		logger.Error().Err(err).Msg("flush counters at timeout")
	}
	if err := s.store.SetStatus(ctx, execID, model.ExecStatusCompleted); err != nil {
		logger.Error().Err(err).Msg("mark execution completed")
	}
	logger.Warn().Int("timed_out", len(swept)).Msg("execution timed out")
}

// Cancel stops an execution: counters freeze where they are, no new
// dispatches are issued, in-flight sends drain with their outcomes
// discarded, and every non-terminal device row becomes cancelled.
func (s *Supervisor) Cancel(ctx context.Context, execID string) error {
	s.mu.Lock()
	r, ok := s.running[execID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("execution %s is not running: %w", execID, core.ErrNotFound)
	}
	r.cancelled = true
	s.mu.Unlock()

	r.agg.Freeze()

	swept, err := s.store.SweepNonTerminal(ctx, execID, model.ResultCancelled, "execution cancelled")
	if err != nil {
		return err
	}
	r.agg.ApplySwept(swept, model.ResultCancelled)
	if err := s.store.SetStatus(ctx, execID, model.ExecStatusCancelled); err != nil {
		return err
	}

	r.cancel()
	s.logger.Info().Str("execution_id", execID).Int("cancelled", len(swept)).Msg("execution cancelled")
	return nil
}

// Snapshot exposes a running execution's live counters, used by the watch
// stream. The second return is false once the execution has finished.
func (s *Supervisor) Snapshot(execID string) (Counters, bool) {
	s.mu.Lock()
	r, ok := s.running[execID]
	s.mu.Unlock()
	if !ok {
		return Counters{}, false
	}
	return r.agg.Snapshot(), true
}

// Report records a device callback against a running execution's aggregator.
// Executions no longer running fall back to the conditional store update, so
// late callbacks still land in the result table without moving counters.
func (s *Supervisor) Report(ctx context.Context, execID, deviceID, status, detail string) error {
	s.mu.Lock()
	r, ok := s.running[execID]
	s.mu.Unlock()
	if ok {
		_, err := r.agg.Apply(ctx, deviceID, status, detail)
		return err
	}
	_, err := s.store.TransitionResult(ctx, execID, deviceID, status, detail)
	return err
}

func (s *Supervisor) unregister(execID string) {
	s.mu.Lock()
	delete(s.running, execID)
	s.mu.Unlock()
}

// Shutdown waits for running executions to finish their current cycle.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, r := range s.running {
		r.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
