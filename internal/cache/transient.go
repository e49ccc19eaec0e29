package cache

import (
	"sync"

	"github.com/nagata-labs/shortlist-batch/internal/model"
)

// Transient caches one run's per-user application history. It is created
// fresh for each BatchRun and discarded at run end; there is no TTL because
// the run's own lifetime is the TTL.
type Transient struct {
	mu   sync.RWMutex
	apps map[int64][]model.Application

	hits   int64
	misses int64
}

// NewTransient creates an empty transient cache for one run.
func NewTransient() *Transient {
	return &Transient{apps: make(map[int64][]model.Application)}
}

// Applications returns the cached history for a user and whether it was a
// hit; callers load on miss and call Put to populate it.
func (t *Transient) Applications(userID int64) ([]model.Application, bool) {
	t.mu.RLock()
	apps, ok := t.apps[userID]
	t.mu.RUnlock()

	t.mu.Lock()
	if ok {
		t.hits++
	} else {
		t.misses++
	}
	t.mu.Unlock()

	return apps, ok
}

// Put populates the per-user application history once loaded from the
// repository gateway.
func (t *Transient) Put(userID int64, apps []model.Application) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.apps[userID] = apps
}

// HitRate reports the cumulative hit rate observed this run, used for the
// combined ≥90% cache hit-rate target in spec §4.2.
func (t *Transient) HitRate() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := t.hits + t.misses
	if total == 0 {
		return 1.0
	}
	return float64(t.hits) / float64(total)
}
