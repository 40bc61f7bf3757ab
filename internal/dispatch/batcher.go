package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sergiogordon/unitymdm-prod-sub004/internal/metrics"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/model"
)

// Batcher fans one execution's payload out to its resolved device set. The
// target set is split into fixed-size batches; batches run concurrently with
// each other and devices run concurrently within a batch, with the worker
// limit bounding total in-flight sends.
type Batcher struct {
	transport Transport
	batchSize int
	workers   int
	retries   int
	baseDelay time.Duration
	maxDelay  time.Duration
	logger    zerolog.Logger
}

func NewBatcher(transport Transport, batchSize, workers int, logger zerolog.Logger) *Batcher {
	return &Batcher{
		transport: transport,
		batchSize: batchSize,
		workers:   workers,
		retries:   3,
		baseDelay: 500 * time.Millisecond,
		maxDelay:  5 * time.Second,
		logger:    logger.With().Str("component", "batcher").Logger(),
	}
}

// Batches splits devices into ceil(len/size) slices preserving order. The
// slices partition the input: no device is duplicated or dropped.
func Batches(devices []model.Device, size int) [][]model.Device {
	if size <= 0 {
		size = 1
	}
	var batches [][]model.Device
	for start := 0; start < len(devices); start += size {
		end := start + size
		if end > len(devices) {
			end = len(devices)
		}
		batches = append(batches, devices[start:end])
	}
	return batches
}

// Dispatch sends the payload to every device, recording each outcome through
// the aggregator: transport success marks the device sent, exhausted retries
// mark it failed with the transport's reason. Per-device failures never fail
// the run. The cancelled check runs before every device-level send so a
// cancellation stops new work mid-batch.
func (b *Batcher) Dispatch(ctx context.Context, execID string, devices []model.Device, payload string, cancelled func() bool, agg *Aggregator) error {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(b.workers)

	for _, batch := range Batches(devices, b.batchSize) {
		for _, device := range batch {
			device := device
			group.Go(func() error {
				b.sendOne(ctx, execID, device, payload, cancelled, agg)
				return nil
			})
		}
	}
	return group.Wait()
}

func (b *Batcher) sendOne(ctx context.Context, execID string, device model.Device, payload string, cancelled func() bool, agg *Aggregator) {
	if cancelled() || ctx.Err() != nil {
		return
	}

	err := b.sendWithRetry(ctx, device, payload, cancelled)
	if err != nil {
		metrics.DispatchSendsTotal.WithLabelValues(b.transport.Name(), "failed").Inc()
		b.logger.Warn().Err(err).
			Str("execution_id", execID).
			Str("device_id", device.ID).
			Msg("dispatch failed")
		if _, aerr := agg.Apply(ctx, device.ID, model.ResultFailed, err.Error()); aerr != nil {
			b.logger.Error().Err(aerr).Str("device_id", device.ID).Msg("record dispatch failure")
		}
		return
	}

	metrics.DispatchSendsTotal.WithLabelValues(b.transport.Name(), "ok").Inc()
	if _, aerr := agg.Apply(ctx, device.ID, model.ResultSent, ""); aerr != nil {
		b.logger.Error().Err(aerr).Str("device_id", device.ID).Msg("record dispatch success")
	}
}

// sendWithRetry attempts the transport call up to retries times, doubling
// the delay between attempts up to maxDelay. Permanent transport errors and
// cancellation cut retries short.
func (b *Batcher) sendWithRetry(ctx context.Context, device model.Device, payload string, cancelled func() bool) error {
	delay := b.baseDelay
	var lastErr error

	for attempt := 1; attempt <= b.retries; attempt++ {
		if cancelled() {
			return context.Canceled
		}
		lastErr = b.transport.Send(ctx, device, payload)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == b.retries {
			return lastErr
		}

		metrics.DispatchRetriesTotal.Inc()
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
		delay *= 2
		if delay > b.maxDelay {
			delay = b.maxDelay
		}
	}
	return lastErr
}
