// Package scheduler implements the Scheduler (C9, spec §4.9): cron and
// interval triggers, a priority-ordered dispatch tick bounded by
// max_concurrent_jobs, per-job retry with exponential backoff, and
// coalesced misfire handling. The dispatch-loop/lock/backoff shape is
// grounded on mailgrid's scheduler.Scheduler; the priority-sort-then-admit
// tick algorithm is grounded on aws-instance-benchmarks' BatchScheduler
// distributeJobs/findBestWindow.
package scheduler

import (
	"context"
	"time"
)

// Priority is a job's dispatch priority (spec §4.9).
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 5
	PriorityHigh     Priority = 10
	PriorityCritical Priority = 15
)

// Status is one job instance's lifecycle state.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusRunning        Status = "RUNNING"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
	StatusTimeout        Status = "TIMEOUT"
	StatusCancelled      Status = "CANCELLED"
	StatusRetryScheduled Status = "RETRY_SCHEDULED"
	StatusMisfired       Status = "MISFIRED"
)

// TriggerKind distinguishes cron expressions from fixed intervals.
type TriggerKind int

const (
	TriggerCron TriggerKind = iota
	TriggerInterval
)

// Trigger describes when a job fires. Exactly one of Cron or Interval
// applies, selected by Kind.
type Trigger struct {
	Kind     TriggerKind
	Cron     string        // five-field cron expression, interpreted in Timezone
	Interval time.Duration // used when Kind == TriggerInterval
	Timezone string        // IANA zone, e.g. "Asia/Tokyo"
}

// RetryPolicy is a job's own retry behavior, distinct from the Phase
// Runner's per-phase policy.
type RetryPolicy struct {
	MaxAttempts   int
	BackoffFactor float64
	MaxDelay      time.Duration
	BaseDelay     time.Duration
}

// Delay computes the backoff for a given attempt number per spec §4.9:
// delay = min(max_delay, backoff_factor^attempt * base_delay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	d := p.BaseDelay
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * factor)
		if p.MaxDelay > 0 && d > p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// ResourceLimits bounds one job execution's resource envelope.
type ResourceLimits struct {
	MemoryMB   int
	CPUPercent float64
	TimeoutS   int
}

// Func is the work a JobSpec dispatches. It must honor ctx cancellation
// for timeout and graceful-shutdown enforcement.
type Func func(ctx context.Context) error

// JobSpec is one schedulable unit (spec §4.9).
type JobSpec struct {
	ID             string
	Name           string
	Trigger        Trigger
	Fn             Func
	Enabled        bool
	Priority       Priority
	MaxInstances   int
	Dependencies   map[string]struct{}
	Retry          RetryPolicy
	ResourceLimits ResourceLimits
	ServiceConfig  map[string]any
	Coalesce       bool
	MisfireGrace   time.Duration

	Paused bool
}

// NewJobSpec builds a JobSpec with the scheduler's configured defaults
// for coalescing, max instances, and misfire grace, matching
// job_defaults in spec §6.
func NewJobSpec(id, name string, trigger Trigger, fn Func, defaults JobDefaults) *JobSpec {
	return &JobSpec{
		ID:           id,
		Name:         name,
		Trigger:      trigger,
		Fn:           fn,
		Enabled:      true,
		Priority:     PriorityNormal,
		MaxInstances: defaults.MaxInstances,
		Dependencies: make(map[string]struct{}),
		Coalesce:     defaults.Coalesce,
		MisfireGrace: defaults.MisfireGrace,
	}
}

// JobDefaults mirrors SchedulerConfig's job_defaults block.
type JobDefaults struct {
	Coalesce     bool
	MaxInstances int
	MisfireGrace time.Duration
}

// DependsOn adds a dependency by job ID and returns the spec for chaining.
func (j *JobSpec) DependsOn(ids ...string) *JobSpec {
	for _, id := range ids {
		j.Dependencies[id] = struct{}{}
	}
	return j
}
