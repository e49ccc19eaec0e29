package phase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nagata-labs/shortlist-batch/internal/model"
	"github.com/nagata-labs/shortlist-batch/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockGateway implements repository.Gateway with overridable *Func fields,
// following the teacher's Mock*Repository convention.
type mockGateway struct {
	SaveCheckpointFunc func(ctx context.Context, cp model.Checkpoint) error
}

func (m *mockGateway) LoadActiveUsers(ctx context.Context) ([]model.User, error) { return nil, nil }
func (m *mockGateway) LoadUserProfile(ctx context.Context, userID int64) (*model.UserProfile, error) {
	return nil, nil
}
func (m *mockGateway) LoadCandidateJobs(ctx context.Context) ([]model.Job, error) { return nil, nil }
func (m *mockGateway) LoadApplications(ctx context.Context, userID int64, sinceDays int) ([]model.Application, error) {
	return nil, nil
}
func (m *mockGateway) LoadPrefectureAdjacency(ctx context.Context) (map[string][]string, error) {
	return nil, nil
}
func (m *mockGateway) LoadOccupationHierarchy(ctx context.Context) (map[int]int, error) {
	return nil, nil
}
func (m *mockGateway) LoadCompanyPopularity(ctx context.Context, companyCode string) (float64, error) {
	return 0, nil
}
func (m *mockGateway) UpsertJobs(ctx context.Context, jobs []model.Job) (int, error) { return 0, nil }
func (m *mockGateway) UpsertMatchScores(ctx context.Context, batchID string, scores []model.MatchScore) error {
	return nil
}
func (m *mockGateway) EnqueueEmails(ctx context.Context, batchID string, records []model.EmailRecord) error {
	return nil
}
func (m *mockGateway) SaveBatchRun(ctx context.Context, run *model.BatchRun) error { return nil }
func (m *mockGateway) LoadBatchRun(ctx context.Context, batchID string) (*model.BatchRun, error) {
	return nil, nil
}
func (m *mockGateway) ListBatchRuns(ctx context.Context, status model.RunStatus) ([]model.BatchRun, error) {
	return nil, nil
}
func (m *mockGateway) CancelBatchRun(ctx context.Context, batchID string) error { return nil }
func (m *mockGateway) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	if m.SaveCheckpointFunc != nil {
		return m.SaveCheckpointFunc(ctx, cp)
	}
	return nil
}
func (m *mockGateway) LoadCheckpoint(ctx context.Context, batchID string, ph model.Phase) (*model.Checkpoint, error) {
	return nil, nil
}
func (m *mockGateway) RecordAlert(ctx context.Context, alert model.Alert) error { return nil }
func (m *mockGateway) Health(ctx context.Context) error                        { return nil }

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("error", "console")
	require.NoError(t, err)
	return log
}

func TestRunner_RunAll(t *testing.T) {
	t.Run("a clean run across every phase completes", func(t *testing.T) {
		gw := &mockGateway{}
		runner := New(gw, newTestLogger(t), 10)
		run := model.NewBatchRun("b1", time.Now())

		specs := []Spec{
			{Phase: model.PhaseInit, Fn: func(ctx context.Context, checkpoint func([]byte)) (Result, error) {
				return Result{Counters: model.RunCounters{Processed: 1}}, nil
			}},
			{Phase: model.PhaseCleanup, Fn: func(ctx context.Context, checkpoint func([]byte)) (Result, error) {
				return Result{}, nil
			}, Policy: NeverFailRun},
		}

		err := runner.RunAll(context.Background(), run, specs)
		require.NoError(t, err)
		assert.Equal(t, model.RunCompleted, run.Status)
		assert.Equal(t, int64(1), run.Counters.Processed)
	})

	t.Run("RetryOnceFromCheckpoint retries exactly once then fails the run", func(t *testing.T) {
		gw := &mockGateway{}
		runner := New(gw, newTestLogger(t), 10)
		run := model.NewBatchRun("b2", time.Now())

		attempts := 0
		specs := []Spec{
			{Phase: model.PhaseImport, Policy: RetryOnceFromCheckpoint, Fn: func(ctx context.Context, checkpoint func([]byte)) (Result, error) {
				attempts++
				return Result{}, errors.New("transient")
			}},
		}

		err := runner.RunAll(context.Background(), run, specs)
		assert.Error(t, err)
		assert.Equal(t, model.RunFailed, run.Status)
		assert.Equal(t, 2, attempts)
	})

	t.Run("NeverFailRun swallows the phase error and keeps the run successful", func(t *testing.T) {
		gw := &mockGateway{}
		runner := New(gw, newTestLogger(t), 10)
		run := model.NewBatchRun("b3", time.Now())

		specs := []Spec{
			{Phase: model.PhaseCleanup, Policy: NeverFailRun, Fn: func(ctx context.Context, checkpoint func([]byte)) (Result, error) {
				return Result{}, errors.New("cleanup hiccup")
			}},
		}

		err := runner.RunAll(context.Background(), run, specs)
		require.NoError(t, err)
		assert.Equal(t, model.RunCompleted, run.Status)
	})

	t.Run("checkpoint is persisted at least once per phase", func(t *testing.T) {
		var saved int
		gw := &mockGateway{SaveCheckpointFunc: func(ctx context.Context, cp model.Checkpoint) error {
			saved++
			return nil
		}}
		runner := New(gw, newTestLogger(t), 10)
		run := model.NewBatchRun("b4", time.Now())

		specs := []Spec{
			{Phase: model.PhaseInit, Fn: func(ctx context.Context, checkpoint func([]byte)) (Result, error) {
				return Result{}, nil
			}},
		}

		err := runner.RunAll(context.Background(), run, specs)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, saved, 1)
	})
}

func TestLoadFrontier(t *testing.T) {
	t.Run("no checkpoint yields a nil payload", func(t *testing.T) {
		gw := &mockGateway{}
		payload, err := LoadFrontier(context.Background(), gw, "b1")
		require.NoError(t, err)
		assert.Nil(t, payload)
	})
}
