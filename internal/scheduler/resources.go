package scheduler

import (
	"runtime"
	"sync"
	"time"
)

// processSampler implements ResourceSampler using runtime.MemStats for
// memory and a GC-pause-derived approximation for CPU load. No example
// repo imports a process-metrics library directly (gopsutil appears only
// as an indirect, unused transitive dependency in one unrelated repo's
// go.mod), so this stays on the standard library rather than pulling in
// a dependency nothing in the corpus actually exercises.
type processSampler struct {
	mu       sync.Mutex
	lastGC   time.Time
	lastStat time.Duration
	cpu      float64
}

// NewProcessSampler builds a ResourceSampler sampling the current process.
func NewProcessSampler() ResourceSampler {
	return &processSampler{lastGC: time.Now()}
}

func (p *processSampler) MemoryMB() int {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int(m.Alloc / (1024 * 1024))
}

// CPUPercent approximates process CPU load as the fraction of wall-clock
// time spent in GC pauses since the last sample, scaled to a percentage.
// It is a coarse signal, sufficient only to catch a job pegging the
// runtime, not for capacity planning.
func (p *processSampler) CPUPercent() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(p.lastGC)
	pauseDelta := time.Duration(m.PauseTotalNs) - p.lastStat
	p.lastGC = now
	p.lastStat = time.Duration(m.PauseTotalNs)

	if elapsed <= 0 {
		return p.cpu
	}
	p.cpu = float64(pauseDelta) / float64(elapsed) * 100 * float64(runtime.NumCPU())
	return p.cpu
}
