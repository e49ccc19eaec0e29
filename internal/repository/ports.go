// Package repository defines the Repository Gateway contract (spec §4.1,
// §6) and its PostgreSQL adapter. The gateway is the only component that
// speaks SQL; every other component depends on this interface, grounded on
// the teacher's ports/repository.go + repository/*.go split
// (modules/jobs/ports/repository.go, modules/jobs/repository/job_repository.go).
package repository

import (
	"context"
	"time"

	"github.com/nagata-labs/shortlist-batch/internal/model"
)

// Gateway is the abstract persistence contract every phase depends on.
// Tables consumed/produced are named in SPEC_FULL.md §6.
type Gateway interface {
	// Bulk-loaded source data.
	LoadActiveUsers(ctx context.Context) ([]model.User, error)
	LoadUserProfile(ctx context.Context, userID int64) (*model.UserProfile, error)
	LoadCandidateJobs(ctx context.Context) ([]model.Job, error)
	LoadApplications(ctx context.Context, userID int64, sinceDays int) ([]model.Application, error)
	LoadPrefectureAdjacency(ctx context.Context) (map[string][]string, error)
	LoadOccupationHierarchy(ctx context.Context) (map[int]int, error)
	LoadCompanyPopularity(ctx context.Context, companyCode string) (float64, error)

	// CSV ingestion handoff (spec §6): upsert validated job rows, deduping
	// on job_id and keeping the last occurrence.
	UpsertJobs(ctx context.Context, jobs []model.Job) (upserted int, err error)

	// Output sinks. All are upserts keyed by the natural keys named in §6.
	UpsertMatchScores(ctx context.Context, batchID string, scores []model.MatchScore) error
	EnqueueEmails(ctx context.Context, batchID string, records []model.EmailRecord) error

	// Batch-run bookkeeping.
	SaveBatchRun(ctx context.Context, run *model.BatchRun) error
	LoadBatchRun(ctx context.Context, batchID string) (*model.BatchRun, error)
	ListBatchRuns(ctx context.Context, status model.RunStatus) ([]model.BatchRun, error)
	CancelBatchRun(ctx context.Context, batchID string) error
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
	LoadCheckpoint(ctx context.Context, batchID string, phase model.Phase) (*model.Checkpoint, error)
	RecordAlert(ctx context.Context, alert model.Alert) error

	Health(ctx context.Context) error
}

// RetryPolicy governs how a caller retries a Gateway call that returned a
// *model.RepoError with Retryable() true.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
}

// DefaultRetryPolicy matches the scheduler's own backoff shape (§4.9) so
// that repository retries and job retries read the same way in logs.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   200 * time.Millisecond,
	MaxDelay:    5 * time.Second,
	Factor:      2.0,
}

// Delay returns the backoff delay for the given zero-based attempt number.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Factor)
		if d > p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}
