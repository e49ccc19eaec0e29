// Package phase implements the Phase Runner (C8, spec §4.8): the fixed,
// sequential INIT/IMPORT/MATCHING/EMAIL_QUEUE/CLEANUP pipeline with
// per-phase checkpointing and retry policy.
package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nagata-labs/shortlist-batch/internal/model"
	"github.com/nagata-labs/shortlist-batch/internal/platform/logger"
	"github.com/nagata-labs/shortlist-batch/internal/repository"
	"go.uber.org/zap"
)

// Result is what one phase function returns: counters and an error
// histogram, matching PhaseResult in spec §4.8.
type Result struct {
	Counters     model.RunCounters
	ErrorSummary map[string]int
}

// Func is one phase's body. checkpoint lets the phase persist progress
// mid-flight (every checkpoint_interval processed units); the Runner
// always persists once more at phase end regardless.
type Func func(ctx context.Context, checkpoint func(payload []byte)) (Result, error)

// RetryPolicy selects what happens when a phase function returns an error,
// per spec §4.8's per-phase table.
type RetryPolicy int

const (
	// RetryOnceFromCheckpoint re-enters the phase once from its last
	// checkpoint (IMPORT, MATCHING).
	RetryOnceFromCheckpoint RetryPolicy = iota
	// RetryIdempotent runs the phase up to five times in all, relying on the
	// phase's upsert being safely re-enterable (EMAIL_QUEUE).
	RetryIdempotent
	// NeverFailRun logs the error but never fails the overall run (CLEANUP).
	NeverFailRun
)

// Spec describes one phase's function and retry policy.
type Spec struct {
	Phase    model.Phase
	Fn       Func
	Policy   RetryPolicy
	Deadline time.Duration
}

// Runner executes the fixed phase sequence for one BatchRun.
type Runner struct {
	gateway             repository.Gateway
	log                 *logger.Logger
	checkpointInterval  int
}

// New builds a Runner.
func New(gateway repository.Gateway, log *logger.Logger, checkpointInterval int) *Runner {
	return &Runner{gateway: gateway, log: log, checkpointInterval: checkpointInterval}
}

// RunAll executes every phase in model.OrderedPhases order against specs,
// updating run in place. It stops at the first phase that exhausts its
// retry policy (except CLEANUP, which never aborts the run).
func (r *Runner) RunAll(ctx context.Context, run *model.BatchRun, specs []Spec) error {
	run.Status = model.RunRunning

	for _, spec := range specs {
		if err := r.runOne(ctx, run, spec); err != nil {
			run.Status = model.RunFailed
			return fmt.Errorf("phase %s failed: %w", spec.Phase, err)
		}
	}

	run.Status = model.RunCompleted
	return nil
}

func (r *Runner) runOne(ctx context.Context, run *model.BatchRun, spec Spec) error {
	phaseCtx := ctx
	var cancel context.CancelFunc
	if spec.Deadline > 0 {
		phaseCtx, cancel = context.WithTimeout(ctx, spec.Deadline)
		defer cancel()
	}

	log := r.log.WithBatchID(run.BatchID).WithPhase(string(spec.Phase))
	start := time.Now()

	processed := 0
	checkpoint := func(payload []byte) {
		processed++
		if r.checkpointInterval <= 0 || processed%r.checkpointInterval != 0 {
			return
		}
		r.persistCheckpoint(ctx, run.BatchID, spec.Phase, payload, log)
	}

	result, err := spec.Fn(phaseCtx, checkpoint)

	attempted := 1
	for err != nil && r.shouldRetry(spec.Policy, attempted) {
		log.Warn("phase failed, retrying from checkpoint", zap.Error(err), zap.Int("attempt", attempted))
		attempted++
		result, err = spec.Fn(phaseCtx, checkpoint)
	}

	end := time.Now()
	run.PhaseTimes[spec.Phase] = &model.PhaseTiming{Start: start, End: end, Duration: end.Sub(start)}
	run.Counters.Processed += result.Counters.Processed
	run.Counters.Errors += result.Counters.Errors
	for k, v := range result.ErrorSummary {
		run.ErrorSummary[k] += v
	}

	r.persistCheckpoint(ctx, run.BatchID, spec.Phase, nil, log)

	if err != nil {
		if spec.Policy == NeverFailRun {
			log.Error("phase errored but is non-fatal by policy", zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}

func (r *Runner) shouldRetry(policy RetryPolicy, attempted int) bool {
	switch policy {
	case RetryOnceFromCheckpoint:
		return attempted < 2
	case RetryIdempotent:
		return attempted < 5
	default:
		return false
	}
}

func (r *Runner) persistCheckpoint(ctx context.Context, batchID string, ph model.Phase, payload []byte, log *logger.Logger) {
	cp := model.Checkpoint{BatchID: batchID, Phase: ph, At: time.Now(), Payload: payload}
	if err := r.gateway.SaveCheckpoint(ctx, cp); err != nil {
		log.Warn("failed to persist checkpoint", zap.Error(err))
	}
}

// LoadFrontier loads the MATCHING phase's last checkpoint and decodes its
// payload as a user_id frontier, returning nil when the payload is empty.
// The MATCHING phase in internal/batch checkpoints with empty payloads, and
// nothing in the pipeline calls LoadFrontier to resume a run.
func LoadFrontier(ctx context.Context, gateway repository.Gateway, batchID string) (*model.MatchingCheckpointPayload, error) {
	cp, err := gateway.LoadCheckpoint(ctx, batchID, model.PhaseMatching)
	if err != nil {
		return nil, err
	}
	if cp == nil || len(cp.Payload) == 0 {
		return nil, nil
	}
	var payload model.MatchingCheckpointPayload
	if err := json.Unmarshal(cp.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
