package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics records upload outcomes and queue state for the outbox engine.
type SyncMetrics struct {
	attempts      *prometheus.CounterVec
	successes     *prometheus.CounterVec
	failures      *prometheus.CounterVec
	batchDuration prometheus.Histogram
	queueDepth    *prometheus.GaugeVec
	healed        *prometheus.CounterVec
}

// NewSyncMetrics registers the sync metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_attempts_total",
		Help: "Upload attempts by mutation kind.",
	}, []string{"kind"})
	successes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_success_total",
		Help: "Successful uploads by mutation kind.",
	}, []string{"kind"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_failure_total",
		Help: "Failed upload attempts by mutation kind and failure reason.",
	}, []string{"kind", "reason"})
	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_batch_duration_seconds",
		Help:    "Duration of one outbox processing batch in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	queueDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "outbox_queue_depth",
		Help: "Outbox events by status.",
	}, []string{"status"})
	healed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_healed_total",
		Help: "Events repaired by reconcile jobs.",
	}, []string{"job"})
	reg.MustRegister(attempts, successes, failures, batchDuration, queueDepth, healed)
	return &SyncMetrics{
		attempts:      attempts,
		successes:     successes,
		failures:      failures,
		batchDuration: batchDuration,
		queueDepth:    queueDepth,
		healed:        healed,
	}
}

// IncAttempt increments the attempt counter for the mutation kind.
func (s *SyncMetrics) IncAttempt(kind string) {
	if s == nil || s.attempts == nil {
		return
	}
	s.attempts.WithLabelValues(normalizeLabel(kind)).Inc()
}

// IncSuccess increments the success counter for the mutation kind.
func (s *SyncMetrics) IncSuccess(kind string) {
	if s == nil || s.successes == nil {
		return
	}
	s.successes.WithLabelValues(normalizeLabel(kind)).Inc()
}

// IncFailure increments the failure counter for the mutation kind and reason.
func (s *SyncMetrics) IncFailure(kind, reason string) {
	if s == nil || s.failures == nil {
		return
	}
	s.failures.WithLabelValues(normalizeLabel(kind), normalizeLabel(reason)).Inc()
}

// ObserveBatchDuration records the duration of one processing batch.
func (s *SyncMetrics) ObserveBatchDuration(duration time.Duration) {
	if s == nil || s.batchDuration == nil {
		return
	}
	s.batchDuration.Observe(duration.Seconds())
}

// SetQueueDepth records the current number of events in the given status.
func (s *SyncMetrics) SetQueueDepth(status string, depth int64) {
	if s == nil || s.queueDepth == nil {
		return
	}
	s.queueDepth.WithLabelValues(normalizeLabel(status)).Set(float64(depth))
}

// AddHealed adds repaired-event counts for the named reconcile job.
func (s *SyncMetrics) AddHealed(job string, count int64) {
	if s == nil || s.healed == nil || count <= 0 {
		return
	}
	s.healed.WithLabelValues(normalizeLabel(job)).Add(float64(count))
}
