// Package observability implements the Observability Core (C10, spec
// §4.10): a pull-readable metrics snapshot exposed via expvar, correlation
// ID propagation, and typed alert records. expvar is the standard-library
// choice here deliberately: the teacher pack's only metrics dependency
// (Sentry) is an error tracker, not a pull-metrics exporter, and none of
// the other example repos import prometheus/client_golang or an
// equivalent — exposing counters via expvar.Map, the stdlib's own
// pull-readable snapshot primitive, is the closest fit grounded in what
// the corpus actually shows.
package observability

import (
	"context"
	"expvar"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/nagata-labs/shortlist-batch/internal/model"
	"github.com/nagata-labs/shortlist-batch/internal/repository"
)

// NewCorrelationID mints a correlation_id for one unit of work, propagated
// to every downstream structured log record and EmailRecord it produces.
func NewCorrelationID() string {
	return uuid.NewString()
}

// Counters is the pull-readable snapshot published under expvar: phase
// durations, per-phase counters, scoring throughput, cache hit rates,
// queue depth, and an error histogram keyed by taxonomy (spec §7).
type Counters struct {
	mu sync.Mutex

	PhaseDurations map[model.Phase]time.Duration
	Processed      map[model.Phase]int64
	Succeeded      map[model.Phase]int64
	Failed         map[model.Phase]int64
	ErrorHistogram map[model.ErrorKind]int64

	pairsScored int64
	scoringTime time.Duration
	queueDepth  int64
	hitRate     float64
}

// NewCounters builds an empty Counters and publishes it under expvar at
// name ("shortlist_batch" in production), so it is pull-readable over
// /debug/vars without any extra wiring.
func NewCounters(name string) *Counters {
	c := &Counters{
		PhaseDurations: make(map[model.Phase]time.Duration),
		Processed:      make(map[model.Phase]int64),
		Succeeded:      make(map[model.Phase]int64),
		Failed:         make(map[model.Phase]int64),
		ErrorHistogram: make(map[model.ErrorKind]int64),
	}
	expvar.Publish(name, expvar.Func(func() interface{} { return c.Snapshot() }))
	return c
}

// RecordPhase records one phase's timing and counters.
func (c *Counters) RecordPhase(ph model.Phase, duration time.Duration, processed, succeeded, failed int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PhaseDurations[ph] = duration
	c.Processed[ph] = processed
	c.Succeeded[ph] = succeeded
	c.Failed[ph] = failed
}

// RecordError bumps the error histogram for one taxonomy kind.
func (c *Counters) RecordError(kind model.ErrorKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ErrorHistogram[kind]++
}

// RecordScoring accumulates scoring throughput samples used to derive
// pairs_per_second in the snapshot.
func (c *Counters) RecordScoring(pairs int64, elapsed time.Duration) {
	atomic.AddInt64(&c.pairsScored, pairs)
	c.mu.Lock()
	c.scoringTime += elapsed
	c.mu.Unlock()
}

// SetQueueDepth publishes the current matching work-queue depth.
func (c *Counters) SetQueueDepth(depth int64) { atomic.StoreInt64(&c.queueDepth, depth) }

// SetCacheHitRate publishes the combined cache hit rate (spec §4.2 target: ≥90%).
func (c *Counters) SetCacheHitRate(rate float64) {
	c.mu.Lock()
	c.hitRate = rate
	c.mu.Unlock()
}

// Snapshot is the JSON-serializable view expvar exposes.
type Snapshot struct {
	PhaseDurations  map[model.Phase]string      `json:"phase_durations"`
	Processed       map[model.Phase]int64       `json:"processed"`
	Succeeded       map[model.Phase]int64       `json:"succeeded"`
	Failed          map[model.Phase]int64       `json:"failed"`
	ErrorHistogram  map[model.ErrorKind]int64   `json:"error_histogram"`
	PairsPerSecond  float64                     `json:"pairs_per_second"`
	QueueDepth      int64                       `json:"queue_depth"`
	CacheHitRate    float64                     `json:"cache_hit_rate"`
}

// Snapshot renders the current counters into their pull-readable form.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	durations := make(map[model.Phase]string, len(c.PhaseDurations))
	for ph, d := range c.PhaseDurations {
		durations[ph] = d.String()
	}

	var pairsPerSecond float64
	if c.scoringTime > 0 {
		pairsPerSecond = float64(atomic.LoadInt64(&c.pairsScored)) / c.scoringTime.Seconds()
	}

	return Snapshot{
		PhaseDurations: durations,
		Processed:      copyPhaseCounts(c.Processed),
		Succeeded:      copyPhaseCounts(c.Succeeded),
		Failed:         copyPhaseCounts(c.Failed),
		ErrorHistogram: copyErrorCounts(c.ErrorHistogram),
		PairsPerSecond: pairsPerSecond,
		QueueDepth:     atomic.LoadInt64(&c.queueDepth),
		CacheHitRate:   c.hitRate,
	}
}

func copyPhaseCounts(m map[model.Phase]int64) map[model.Phase]int64 {
	out := make(map[model.Phase]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyErrorCounts(m map[model.ErrorKind]int64) map[model.ErrorKind]int64 {
	out := make(map[model.ErrorKind]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AlertThresholds configures when RaiseIfBreached emits an alert.
type AlertThresholds struct {
	MaxRunDuration time.Duration
	MaxErrorRate   float64
}

// RaiseIfBreached checks a completed run's summary against thresholds and
// records a typed alert record via the gateway when breached, also
// reporting the breach to Sentry so on-call sees it without tailing logs.
// Delivery to an external sink (SMTP, webhook, chat) is out of scope: the
// core only writes the record and raises a hook (spec §6).
func RaiseIfBreached(ctx context.Context, gateway repository.Gateway, run *model.BatchRun, thresholds AlertThresholds) error {
	var duration time.Duration
	if run.EndedAt != nil {
		duration = run.EndedAt.Sub(run.StartedAt)
	}

	errorRate := 1 - run.SuccessRate()

	switch {
	case thresholds.MaxRunDuration > 0 && duration > thresholds.MaxRunDuration:
		alert := model.Alert{
			BatchID:   run.BatchID,
			Severity:  model.SeverityHigh,
			Message:   "batch run exceeded its duration target",
			Timestamp: time.Now(),
		}
		captureAlert(run, alert)
		return gateway.RecordAlert(ctx, alert)
	case thresholds.MaxErrorRate > 0 && errorRate > thresholds.MaxErrorRate:
		alert := model.Alert{
			BatchID:   run.BatchID,
			Severity:  model.SeverityCritical,
			Message:   "batch run error rate exceeded threshold",
			Timestamp: time.Now(),
		}
		captureAlert(run, alert)
		return gateway.RecordAlert(ctx, alert)
	}
	return nil
}

// captureAlert reports a breached threshold to Sentry as a scoped message,
// tagged with the batch_id and severity so it groups sensibly in the
// Sentry UI alongside per-phase exceptions captured elsewhere.
func captureAlert(run *model.BatchRun, alert model.Alert) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("batch_id", run.BatchID)
		scope.SetLevel(sentryLevel(alert.Severity))
		sentry.CaptureMessage(alert.Message)
	})
}

func sentryLevel(severity model.AlertSeverity) sentry.Level {
	if severity == model.SeverityCritical {
		return sentry.LevelFatal
	}
	return sentry.LevelError
}
