package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch engine metrics, shared by the batcher and supervisor.
var (
	DispatchSendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdm_dispatch_sends_total",
		Help: "Push transport send attempts by outcome",
	}, []string{"transport", "outcome"})

	DispatchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mdm_dispatch_retries_total",
		Help: "Push transport send retries",
	})

	ExecutionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mdm_executions_active",
		Help: "Executions currently in the running state",
	})

	ExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mdm_execution_duration_seconds",
		Help:    "Wall time from dispatch start to terminal state",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	PollCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdm_poll_cycles_total",
		Help: "Execution poll loop cycles by result",
	}, []string{"result"})
)
