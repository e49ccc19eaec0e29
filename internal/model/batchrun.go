package model

import "time"

// Phase is one of the five fixed, sequential stages of a BatchRun.
type Phase string

const (
	PhaseInit        Phase = "INIT"
	PhaseImport      Phase = "IMPORT"
	PhaseMatching    Phase = "MATCHING"
	PhaseEmailQueue  Phase = "EMAIL_QUEUE"
	PhaseCleanup     Phase = "CLEANUP"
)

// OrderedPhases lists every phase in execution order.
var OrderedPhases = []Phase{PhaseInit, PhaseImport, PhaseMatching, PhaseEmailQueue, PhaseCleanup}

// RunStatus is a BatchRun's lifecycle state.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// PhaseTiming records when a phase started and ended.
type PhaseTiming struct {
	Start    time.Time
	End      time.Time
	Duration time.Duration
}

// RunCounters tallies processed units and errors across a run.
type RunCounters struct {
	Processed int64
	Errors    int64
}

// BatchRun is one end-to-end nightly execution.
type BatchRun struct {
	BatchID      string
	StartedAt    time.Time
	EndedAt      *time.Time
	Status       RunStatus
	PhaseTimes   map[Phase]*PhaseTiming
	Counters     RunCounters
	ErrorSummary map[string]int
}

// NewBatchRun creates a pending run with a datetime-stamped batch ID.
func NewBatchRun(batchID string, now time.Time) *BatchRun {
	return &BatchRun{
		BatchID:      batchID,
		StartedAt:    now,
		Status:       RunPending,
		PhaseTimes:   make(map[Phase]*PhaseTiming),
		ErrorSummary: make(map[string]int),
	}
}

// SuccessRate returns the fraction of processed units that were not errors,
// or 1.0 if nothing was processed yet.
func (b *BatchRun) SuccessRate() float64 {
	if b.Counters.Processed == 0 {
		return 1.0
	}
	ok := b.Counters.Processed - b.Counters.Errors
	if ok < 0 {
		ok = 0
	}
	return float64(ok) / float64(b.Counters.Processed)
}

// Summary is the report every BatchRun emits regardless of outcome
// (spec §7), serialized as YAML alongside the structured log record.
type Summary struct {
	BatchID      string               `yaml:"batch_id"`
	Status       RunStatus            `yaml:"status"`
	PhaseTimes   map[Phase]time.Duration `yaml:"phase_times"`
	Counters     RunCounters          `yaml:"counters"`
	ErrorSummary map[string]int       `yaml:"error_summary"`
	SuccessRate  float64              `yaml:"success_rate"`
}

// BuildSummary assembles the report from the run's current state.
func (b *BatchRun) BuildSummary() Summary {
	durations := make(map[Phase]time.Duration, len(b.PhaseTimes))
	for phase, t := range b.PhaseTimes {
		durations[phase] = t.Duration
	}
	return Summary{
		BatchID:      b.BatchID,
		Status:       b.Status,
		PhaseTimes:   durations,
		Counters:     b.Counters,
		ErrorSummary: b.ErrorSummary,
		SuccessRate:  b.SuccessRate(),
	}
}
