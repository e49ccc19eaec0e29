package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/expr-lang/expr/vm"
	"github.com/nagata-labs/shortlist-batch/internal/boltstore"
	"github.com/nagata-labs/shortlist-batch/internal/config"
	"github.com/nagata-labs/shortlist-batch/internal/platform/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ResourceSampler reports the current process's resource usage so the
// dispatch loop can abort jobs exceeding their ResourceLimits and scale
// worker capacity under load (spec §5 resource model).
type ResourceSampler interface {
	CPUPercent() float64
	MemoryMB() int
}

// due tracks one job's last computed fire time and schedule, kept
// separate from JobSpec so the same spec can be re-registered without
// losing its dispatch history.
type due struct {
	spec      *JobSpec
	sched     schedule
	guard     *vm.Program
	nextFire  time.Time
	instances map[string]*instance // instance ID -> running/last instance
}

// Scheduler runs the tick-based dispatch loop described in spec §4.9:
// compute ready set, sort by priority then fire time, admit up to
// max_concurrent_jobs, spawn tracked executions. A failed instance is
// marked RETRY_SCHEDULED with a backoff nextRetry time, but the loop does
// not re-dispatch it at that time: a job runs again only when its trigger
// next fires, as a new instance. Distributed single-instance locking per
// job uses boltstore,
// grounded on mailgrid's Scheduler.dispatchLoop/execute.
type Scheduler struct {
	cfg     config.SchedulerConfig
	lock    *boltstore.Store
	log     *logger.Logger
	holder  string
	sampler ResourceSampler
	// limiter bounds total resource-sampling calls across every
	// concurrently monitored job instance to one per
	// MetricsCollectionInterval, so a burst of parallel jobs doesn't
	// turn a cheap interval into a stat-call storm.
	limiter *rate.Limiter

	mu       sync.Mutex
	jobs     map[string]*due
	stopping bool
	wg       sync.WaitGroup
}

// New builds a Scheduler. holder identifies this process for distributed
// lock ownership (e.g. hostname:pid).
func New(cfg config.SchedulerConfig, lock *boltstore.Store, log *logger.Logger, holder string, sampler ResourceSampler) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		lock:    lock,
		log:     log,
		holder:  holder,
		sampler: sampler,
		limiter: rate.NewLimiter(rate.Every(cfg.MetricsCollectionInterval), 1),
		jobs:    make(map[string]*due),
	}
}

// Register adds a JobSpec to the scheduler and computes its first fire
// time. Coalescing and misfire grace apply from the spec's own fields,
// falling back to the scheduler's job_defaults when unset.
func (s *Scheduler) Register(spec *JobSpec) error {
	sched, err := buildSchedule(spec.Trigger)
	if err != nil {
		return err
	}
	if spec.MaxInstances <= 0 {
		spec.MaxInstances = s.cfg.DefaultMaxInstances
	}
	if spec.MisfireGrace <= 0 {
		spec.MisfireGrace = s.cfg.DefaultMisfireGrace
	}
	guard, err := compileGuard(spec.ServiceConfig)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[spec.ID] = &due{
		spec:      spec,
		sched:     sched,
		guard:     guard,
		nextFire:  sched.Next(time.Now()),
		instances: make(map[string]*instance),
	}
	return nil
}

// Run drives the dispatch loop until ctx is cancelled, ticking at the
// scheduler's health_check_interval. On cancellation it performs the
// graceful shutdown sequence from spec §4.9.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
			if s.cfg.ResourceMonitoringEnabled {
				s.reapExpiredLocks()
			}
		}
	}
}

// tick implements the dispatch algorithm from spec §4.9 steps 1-4.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}

	ready := s.readySet(now)
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].spec.Priority != ready[j].spec.Priority {
			return ready[i].spec.Priority > ready[j].spec.Priority
		}
		return ready[i].nextFire.Before(ready[j].nextFire)
	})

	running := s.countRunning()
	capacity := s.cfg.MaxConcurrentJobs - running
	s.mu.Unlock()

	if capacity <= 0 {
		return
	}

	admitted := 0
	for _, d := range ready {
		if admitted >= capacity {
			break
		}
		if s.admit(ctx, d, now) {
			admitted++
		}
	}
}

// readySet computes jobs whose trigger is due, not paused, with all
// dependencies COMPLETED, and not at max_instances (spec §4.9 step 1).
// Caller holds s.mu.
func (s *Scheduler) readySet(now time.Time) []*due {
	var ready []*due
	for _, d := range s.jobs {
		if !d.spec.Enabled || d.spec.Paused {
			continue
		}
		if now.Before(d.nextFire) {
			continue
		}
		if s.runningInstances(d) >= d.spec.MaxInstances {
			s.markMisfired(d, now)
			continue
		}
		if !s.dependenciesSatisfied(d.spec) {
			continue
		}
		if !s.evalGuard(d, now) {
			continue
		}
		ready = append(ready, d)
	}
	return ready
}

func (s *Scheduler) runningInstances(d *due) int {
	n := 0
	for _, in := range d.instances {
		if in.status == StatusRunning {
			n++
		}
	}
	return n
}

func (s *Scheduler) countRunning() int {
	n := 0
	for _, d := range s.jobs {
		n += s.runningInstances(d)
	}
	return n
}

// markMisfired records a coalesced missed fire and advances nextFire,
// honoring coalesce (collapse to one run) and misfire_grace_time.
func (s *Scheduler) markMisfired(d *due, now time.Time) {
	if now.Sub(d.nextFire) > d.spec.MisfireGrace {
		s.log.Warn("job misfired past grace window", zap.String("job_id", d.spec.ID))
	}
	if d.spec.Coalesce {
		d.nextFire = d.sched.Next(now)
		return
	}
	d.nextFire = d.sched.Next(d.nextFire)
}

// dependenciesSatisfied checks that every dependency's most recent
// instance in the current window ended COMPLETED (spec §4.9 step 1).
// Caller holds s.mu.
func (s *Scheduler) dependenciesSatisfied(spec *JobSpec) bool {
	for depID := range spec.Dependencies {
		dep, ok := s.jobs[depID]
		if !ok {
			return false
		}
		if !s.latestCompleted(dep) {
			return false
		}
	}
	return true
}

func (s *Scheduler) latestCompleted(d *due) bool {
	var latest *instance
	for _, in := range d.instances {
		if latest == nil || in.startedAt.After(latest.startedAt) {
			latest = in
		}
	}
	return latest != nil && latest.status == StatusCompleted
}

// admit acquires the distributed lock, spawns a tracked execution, and
// advances the job's next fire time (spec §4.9 steps 3-4).
func (s *Scheduler) admit(ctx context.Context, d *due, now time.Time) bool {
	acquired, err := s.lock.AcquireLock(d.spec.ID, s.holder)
	if err != nil || !acquired {
		return false
	}

	s.mu.Lock()
	d.nextFire = d.sched.Next(now)
	in := &instance{jobID: d.spec.ID, status: StatusRunning, startedAt: now}
	instanceID := now.Format(time.RFC3339Nano)
	d.instances[instanceID] = in
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(ctx, d, in, instanceID)
	return true
}

// execute runs one job instance with timeout enforcement and resource
// polling, recording the retry status and backoff time on failure.
func (s *Scheduler) execute(ctx context.Context, d *due, in *instance, instanceID string) {
	defer s.wg.Done()
	defer func() { _ = s.lock.ReleaseLock(d.spec.ID, s.holder) }()

	log := s.log.WithPhase("scheduler").With(zap.String("job_id", d.spec.ID), zap.String("instance_id", instanceID))

	execCtx := ctx
	var cancel context.CancelFunc
	if d.spec.ResourceLimits.TimeoutS > 0 {
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(d.spec.ResourceLimits.TimeoutS)*time.Second)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- d.spec.Fn(execCtx) }()

	var resourceAbort bool
	if s.sampler != nil && (d.spec.ResourceLimits.MemoryMB > 0 || d.spec.ResourceLimits.CPUPercent > 0) {
		go s.monitorResources(execCtx, d, cancel, &resourceAbort, log)
	}

	select {
	case err := <-done:
		now := time.Now()
		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			in.failed(err, d.spec.Retry, now)
			log.Warn("job instance failed", zap.Error(err), zap.String("status", string(in.status)))
			return
		}
		in.status = StatusCompleted
		in.endedAt = now
	case <-execCtx.Done():
		s.mu.Lock()
		defer s.mu.Unlock()
		now := time.Now()
		if resourceAbort {
			in.status = StatusCancelled
		} else {
			in.status = StatusTimeout
		}
		in.endedAt = now
		in.err = execCtx.Err()
		log.Warn("job instance aborted", zap.String("status", string(in.status)))
	}
}

// monitorResources polls the sampler and cancels execCtx if the job
// exceeds its memory or CPU limit beyond the health-check grace window
// (spec §4.9 step 4).
func (s *Scheduler) monitorResources(ctx context.Context, d *due, cancel context.CancelFunc, abort *bool, log *logger.Logger) {
	if cancel == nil || s.sampler == nil {
		return
	}
	interval := s.cfg.MetricsCollectionInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	breaches := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.limiter.Allow() {
				continue
			}
			overMem := d.spec.ResourceLimits.MemoryMB > 0 && s.sampler.MemoryMB() > d.spec.ResourceLimits.MemoryMB
			overCPU := d.spec.ResourceLimits.CPUPercent > 0 && s.sampler.CPUPercent() > d.spec.ResourceLimits.CPUPercent
			if overMem || overCPU {
				breaches++
			} else {
				breaches = 0
			}
			if breaches >= 2 {
				log.Warn("job instance exceeded resource limits, aborting", zap.String("job_id", d.spec.ID))
				*abort = true
				cancel()
				return
			}
		}
	}
}

// reapExpiredLocks clears stale distributed locks left by crashed
// scheduler processes.
func (s *Scheduler) reapExpiredLocks() {
	n, err := s.lock.CleanupExpiredLocks()
	if err != nil {
		s.log.Warn("failed to clean up expired scheduler locks", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("reaped expired scheduler locks", zap.Int("count", n))
	}
}

// Pause inhibits scheduling for a job without removing it.
func (s *Scheduler) Pause(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.jobs[jobID]; ok {
		d.spec.Paused = true
	}
}

// Resume re-enables scheduling for a paused job.
func (s *Scheduler) Resume(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.jobs[jobID]; ok {
		d.spec.Paused = false
	}
}

// shutdown implements spec §4.9's graceful shutdown: stop admitting,
// wait up to shutdown_grace_s for running instances, then return (the
// caller's context is already cancelled, which propagates to running
// job Funcs for cancellation with prejudice).
func (s *Scheduler) shutdown() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	grace := time.Duration(s.cfg.ShutdownGraceSeconds) * time.Second
	if grace <= 0 {
		grace = 30 * time.Second
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler stopped, all job instances drained")
	case <-time.After(grace):
		s.log.Warn("scheduler shutdown grace period elapsed, cancelling remaining job instances with prejudice")
	}
}
