package batch

import (
	"context"
	"testing"
	"time"

	"github.com/nagata-labs/shortlist-batch/internal/cache"
	"github.com/nagata-labs/shortlist-batch/internal/model"
	"github.com/nagata-labs/shortlist-batch/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGateway implements repository.Gateway with overridable *Func fields
// for the handful of methods each phase test exercises.
type stubGateway struct {
	LoadPrefectureAdjacencyFunc func(ctx context.Context) (map[string][]string, error)
	LoadOccupationHierarchyFunc func(ctx context.Context) (map[int]int, error)
	EnqueueEmailsFunc           func(ctx context.Context, batchID string, records []model.EmailRecord) error
}

func (g *stubGateway) LoadActiveUsers(ctx context.Context) ([]model.User, error) { return nil, nil }
func (g *stubGateway) LoadUserProfile(ctx context.Context, userID int64) (*model.UserProfile, error) {
	return nil, nil
}
func (g *stubGateway) LoadCandidateJobs(ctx context.Context) ([]model.Job, error) { return nil, nil }
func (g *stubGateway) LoadApplications(ctx context.Context, userID int64, sinceDays int) ([]model.Application, error) {
	return nil, nil
}
func (g *stubGateway) LoadPrefectureAdjacency(ctx context.Context) (map[string][]string, error) {
	if g.LoadPrefectureAdjacencyFunc != nil {
		return g.LoadPrefectureAdjacencyFunc(ctx)
	}
	return nil, nil
}
func (g *stubGateway) LoadOccupationHierarchy(ctx context.Context) (map[int]int, error) {
	if g.LoadOccupationHierarchyFunc != nil {
		return g.LoadOccupationHierarchyFunc(ctx)
	}
	return nil, nil
}
func (g *stubGateway) LoadCompanyPopularity(ctx context.Context, companyCode string) (float64, error) {
	return 0, nil
}
func (g *stubGateway) UpsertJobs(ctx context.Context, jobs []model.Job) (int, error) { return 0, nil }
func (g *stubGateway) UpsertMatchScores(ctx context.Context, batchID string, scores []model.MatchScore) error {
	return nil
}
func (g *stubGateway) EnqueueEmails(ctx context.Context, batchID string, records []model.EmailRecord) error {
	if g.EnqueueEmailsFunc != nil {
		return g.EnqueueEmailsFunc(ctx, batchID, records)
	}
	return nil
}
func (g *stubGateway) SaveBatchRun(ctx context.Context, run *model.BatchRun) error { return nil }
func (g *stubGateway) LoadBatchRun(ctx context.Context, batchID string) (*model.BatchRun, error) {
	return nil, nil
}
func (g *stubGateway) ListBatchRuns(ctx context.Context, status model.RunStatus) ([]model.BatchRun, error) {
	return nil, nil
}
func (g *stubGateway) CancelBatchRun(ctx context.Context, batchID string) error     { return nil }
func (g *stubGateway) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error { return nil }
func (g *stubGateway) LoadCheckpoint(ctx context.Context, batchID string, ph model.Phase) (*model.Checkpoint, error) {
	return nil, nil
}
func (g *stubGateway) RecordAlert(ctx context.Context, alert model.Alert) error { return nil }
func (g *stubGateway) Health(ctx context.Context) error                        { return nil }

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("error", "console")
	require.NoError(t, err)
	return log
}

func TestPipeline_InitPhase(t *testing.T) {
	gw := &stubGateway{
		LoadPrefectureAdjacencyFunc: func(ctx context.Context) (map[string][]string, error) {
			return map[string][]string{"13": {"14"}}, nil
		},
		LoadOccupationHierarchyFunc: func(ctx context.Context) (map[int]int, error) {
			return map[int]int{100: 1, 200: 2}, nil
		},
	}
	p := &Pipeline{Gateway: gw, Tiers: cache.NewTiers(nil), Log: newTestLogger(t)}

	result, err := p.initPhase(context.Background(), func([]byte) {})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Counters.Processed)
	assert.True(t, p.Tiers.Persistent.IsAdjacent("13", "14"))
}

func TestPipeline_EmailQueuePhase(t *testing.T) {
	t.Run("only users with a non-empty slate produce a queued record", func(t *testing.T) {
		var enqueued []model.EmailRecord
		gw := &stubGateway{
			EnqueueEmailsFunc: func(ctx context.Context, batchID string, records []model.EmailRecord) error {
				enqueued = records
				return nil
			},
		}
		p := &Pipeline{Gateway: gw, Log: newTestLogger(t)}
		p.usersCache = []model.User{
			{UserID: 1, EmailEnabled: true, Email: "a@example.com"},
			{UserID: 2, EmailEnabled: true, Email: "b@example.com"},
		}
		p.slates = map[int64]*model.SectionSlate{
			1: {
				UserID: 1,
				Sections: map[model.SectionKind][]model.ScoredJob{
					model.SectionOther: {{Job: model.Job{JobID: 1, Title: "Clerk"}}},
				},
			},
			// user 2 has no slate entry at all
		}

		run := model.NewBatchRun("b1", time.Now())
		result, err := p.emailQueuePhase(run)(context.Background(), func([]byte) {})
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.Counters.Processed)
		require.Len(t, enqueued, 1)
		assert.Equal(t, "a@example.com", enqueued[0].Email)
	})

	t.Run("EnqueueEmails failure propagates as the phase error", func(t *testing.T) {
		gw := &stubGateway{
			EnqueueEmailsFunc: func(ctx context.Context, batchID string, records []model.EmailRecord) error {
				return assert.AnError
			},
		}
		p := &Pipeline{Gateway: gw, Log: newTestLogger(t)}
		p.usersCache = []model.User{{UserID: 1, EmailEnabled: true, Email: "a@example.com"}}
		p.slates = map[int64]*model.SectionSlate{
			1: {UserID: 1, Sections: map[model.SectionKind][]model.ScoredJob{
				model.SectionOther: {{Job: model.Job{JobID: 1}}},
			}},
		}

		run := model.NewBatchRun("b2", time.Now())
		_, err := p.emailQueuePhase(run)(context.Background(), func([]byte) {})
		assert.Error(t, err)
	})
}
