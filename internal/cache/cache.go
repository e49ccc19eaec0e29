package cache

import "github.com/nagata-labs/shortlist-batch/internal/platform/redis"

// Tiers bundles the two process-lifetime cache classes a batch run needs.
// Persistent is shared across runs; Session is shared and long-lived. The
// third tier, Transient, is not held here; it is built per run with
// NewTransient.
type Tiers struct {
	Persistent *Persistent
	Session    *Session
}

// NewTiers wires the process-lifetime caches. Call NewTransient() per run
// for the third tier, since it is not process-lifetime.
func NewTiers(r *redis.Client) *Tiers {
	return &Tiers{
		Persistent: NewPersistent(),
		Session:    NewSession(r),
	}
}

// HitRateReport is the aggregate snapshot fed to the observability core
// (spec §4.2's combined ≥90% target).
type HitRateReport struct {
	TransientHitRate float64
}

// Report summarizes one run's transient cache behavior. The Persistent
// tier has no miss path (it is fully preloaded) and the Session tier's hit
// rate is sourced from Redis INFO stats, outside this package's scope.
func Report(t *Transient) HitRateReport {
	return HitRateReport{TransientHitRate: t.HitRate()}
}
