// Package batch wires the five fixed phases (spec §4.8) against the core
// components, handing the assembled phase.Spec slice to the Phase Runner.
// This is the composition layer cmd/batchd drives; it holds no algorithms
// of its own.
package batch

import (
	"context"
	"time"

	"github.com/nagata-labs/shortlist-batch/internal/cache"
	"github.com/nagata-labs/shortlist-batch/internal/config"
	"github.com/nagata-labs/shortlist-batch/internal/emailqueue"
	"github.com/nagata-labs/shortlist-batch/internal/matching"
	"github.com/nagata-labs/shortlist-batch/internal/model"
	"github.com/nagata-labs/shortlist-batch/internal/observability"
	"github.com/nagata-labs/shortlist-batch/internal/phase"
	"github.com/nagata-labs/shortlist-batch/internal/platform/logger"
	"github.com/nagata-labs/shortlist-batch/internal/repository"
	"github.com/nagata-labs/shortlist-batch/internal/scoring"
	"github.com/nagata-labs/shortlist-batch/internal/section"
	"github.com/nagata-labs/shortlist-batch/internal/supplement"
	"go.uber.org/zap"
)

// Pipeline bundles everything one nightly run needs to build its five
// phase.Spec entries. It is stateful across the phases of a single run:
// IMPORT populates usersCache/jobsCache, MATCHING populates slates, and
// CLEANUP releases them.
type Pipeline struct {
	Gateway  repository.Gateway
	Tiers    *cache.Tiers
	Counters *observability.Counters
	Report   *observability.ReportWriter
	Cfg      *config.Config
	Log      *logger.Logger
	Enricher supplement.LLMEnricher

	usersCache []model.User
	jobsCache  []model.Job
	slates     map[int64]*model.SectionSlate
}

var errUserFailureRateExceeded = errFailureRate{}

type errFailureRate struct{}

func (errFailureRate) Error() string { return "user failure rate exceeded configured threshold" }

// Specs builds the INIT/IMPORT/MATCHING/EMAIL_QUEUE/CLEANUP phase.Spec
// slice for one BatchRun, per the per-phase retry table in spec §4.8.
func (p *Pipeline) Specs(run *model.BatchRun) []phase.Spec {
	return []phase.Spec{
		{Phase: model.PhaseInit, Fn: p.initPhase, Policy: phase.RetryOnceFromCheckpoint, Deadline: p.Cfg.Perf.TotalRuntime},
		{Phase: model.PhaseImport, Fn: p.importPhase, Policy: phase.RetryOnceFromCheckpoint, Deadline: p.Cfg.Perf.ImportBudget},
		{Phase: model.PhaseMatching, Fn: p.matchingPhase(run), Policy: phase.RetryOnceFromCheckpoint, Deadline: p.Cfg.Perf.MatchingBudget},
		{Phase: model.PhaseEmailQueue, Fn: p.emailQueuePhase(run), Policy: phase.RetryIdempotent, Deadline: p.Cfg.Perf.EmailBudget},
		{Phase: model.PhaseCleanup, Fn: p.cleanupPhase(run), Policy: phase.NeverFailRun},
	}
}

// initPhase warms the Persistent cache tier from prefecture adjacency and
// occupation hierarchy reference data (spec §4.2).
func (p *Pipeline) initPhase(ctx context.Context, checkpoint func([]byte)) (phase.Result, error) {
	adjacency, err := p.Gateway.LoadPrefectureAdjacency(ctx)
	if err != nil {
		return phase.Result{}, err
	}
	hierarchy, err := p.Gateway.LoadOccupationHierarchy(ctx)
	if err != nil {
		return phase.Result{}, err
	}
	p.Tiers.Persistent.Load(adjacency, hierarchy)
	checkpoint(nil)
	return phase.Result{Counters: model.RunCounters{Processed: int64(len(adjacency) + len(hierarchy))}}, nil
}

// importPhase loads active users and candidate jobs ahead of matching.
// Ingestion/validation of raw CSV rows happens upstream of this core
// (spec §4.1 C2); here we only confirm the repository has current data.
func (p *Pipeline) importPhase(ctx context.Context, checkpoint func([]byte)) (phase.Result, error) {
	users, err := p.Gateway.LoadActiveUsers(ctx)
	if err != nil {
		return phase.Result{}, err
	}
	jobs, err := p.Gateway.LoadCandidateJobs(ctx)
	if err != nil {
		return phase.Result{}, err
	}
	checkpoint(nil)
	p.usersCache = users
	p.jobsCache = jobs
	return phase.Result{Counters: model.RunCounters{Processed: int64(len(users) + len(jobs))}}, nil
}

// matchingPhase runs the Matching Orchestrator over every active user,
// upserting each user's scores as they complete and keeping the slates in
// memory for EMAIL_QUEUE. It calls checkpoint once per completed user with
// an empty payload; no user_id frontier is recorded.
func (p *Pipeline) matchingPhase(run *model.BatchRun) phase.Func {
	return func(ctx context.Context, checkpoint func([]byte)) (phase.Result, error) {
		engine, err := scoring.New(p.Cfg.Scoring, p.Tiers.Persistent)
		if err != nil {
			return phase.Result{}, err
		}
		selector := section.New(p.Cfg.Section)
		transient := cache.NewTransient()
		orchestrator := matching.New(p.Gateway, p.Tiers, transient, engine, selector, p.Enricher, p.Cfg.Matching, p.Cfg.Scoring.DedupWindowDays)

		p.slates = make(map[int64]*model.SectionSlate, len(p.usersCache))
		start := time.Now()

		stats := orchestrator.Run(ctx, p.usersCache, p.jobsCache, func(result matching.UserResult) {
			if err := p.Gateway.UpsertMatchScores(ctx, run.BatchID, result.Scores); err != nil {
				p.Log.Warn("failed to persist match scores", zap.Int64("user_id", result.UserID), zap.Error(err))
			}
			p.slates[result.UserID] = result.Slate
			checkpoint(nil)
		})

		p.Counters.RecordScoring(int64(len(p.usersCache)*len(p.jobsCache)), time.Since(start))
		if stats.UsersFailed > 0 {
			p.Counters.RecordError(model.KindScoring)
		}

		errorSummary := map[string]int{}
		for _, f := range stats.Failures {
			errorSummary[f.Err.Error()]++
		}

		if stats.FailureRate() > p.Cfg.Matching.UserFailureRateThreshold {
			return phase.Result{
				Counters:     model.RunCounters{Processed: int64(stats.UsersTotal), Errors: int64(stats.UsersFailed)},
				ErrorSummary: errorSummary,
			}, &model.ScoringError{Err: errUserFailureRateExceeded}
		}

		return phase.Result{
			Counters:     model.RunCounters{Processed: int64(stats.UsersTotal), Errors: int64(stats.UsersFailed)},
			ErrorSummary: errorSummary,
		}, nil
	}
}

// emailQueuePhase builds and upserts one EmailRecord per user with a
// non-empty slate, keyed idempotently on (batch_id, user_id).
func (p *Pipeline) emailQueuePhase(run *model.BatchRun) phase.Func {
	return func(ctx context.Context, checkpoint func([]byte)) (phase.Result, error) {
		correlationID := observability.NewCorrelationID()
		now := time.Now()

		var records []model.EmailRecord
		for _, user := range p.usersCache {
			slate, ok := p.slates[user.UserID]
			if !ok {
				continue
			}
			record, ok := emailqueue.Build(user, slate, correlationID, now.Add(time.Hour))
			if !ok {
				continue
			}
			records = append(records, record)
			checkpoint(nil)
		}

		if err := p.Gateway.EnqueueEmails(ctx, run.BatchID, records); err != nil {
			return phase.Result{}, err
		}

		return phase.Result{Counters: model.RunCounters{Processed: int64(len(records))}}, nil
	}
}

// cleanupPhase releases the run's per-run state and writes the run's
// report artifact. Errors here are logged but never fail the run
// (spec §4.8 CLEANUP policy).
func (p *Pipeline) cleanupPhase(run *model.BatchRun) phase.Func {
	return func(ctx context.Context, checkpoint func([]byte)) (phase.Result, error) {
		p.usersCache = nil
		p.jobsCache = nil
		p.slates = nil

		if p.Report != nil {
			if _, err := p.Report.Write(ctx, run); err != nil {
				p.Log.Warn("failed to write run report", zap.Error(err))
			}
		}
		checkpoint(nil)
		return phase.Result{}, nil
	}
}
