package matching

import (
	"context"
	"testing"

	"github.com/nagata-labs/shortlist-batch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jobScorePair(id int64, composite float64) (model.Job, model.MatchScore) {
	return model.Job{JobID: id}, model.MatchScore{JobID: id, Composite: composite}
}

func TestTopNScoredJobs(t *testing.T) {
	jobs := make([]model.Job, 0, 5)
	scores := make([]model.MatchScore, 0, 5)
	for i, composite := range []float64{10, 90, 50, 70, 30} {
		j, s := jobScorePair(int64(i), composite)
		jobs = append(jobs, j)
		scores = append(scores, s)
	}

	t.Run("keeps the N highest by composite score", func(t *testing.T) {
		top := topNScoredJobs(jobs, scores, 2)
		require.Len(t, top, 2)
		assert.Equal(t, 90.0, top[0].Score.Composite)
		assert.Equal(t, 70.0, top[1].Score.Composite)
	})

	t.Run("N larger than the pool returns everything", func(t *testing.T) {
		top := topNScoredJobs(jobs, scores, 100)
		assert.Len(t, top, 5)
	})
}

func TestPairScoredJobs(t *testing.T) {
	jobs := make([]model.Job, 0, 3)
	scores := make([]model.MatchScore, 0, 3)
	for i, composite := range []float64{20, 80, 50} {
		j, s := jobScorePair(int64(i), composite)
		jobs = append(jobs, j)
		scores = append(scores, s)
	}

	paired := pairScoredJobs(jobs, scores)
	require.Len(t, paired, 3)
	assert.Equal(t, 80.0, paired[0].Score.Composite)
	assert.Equal(t, 50.0, paired[1].Score.Composite)
	assert.Equal(t, 20.0, paired[2].Score.Composite)
}

func TestWidenedPoolSource_WidenedCandidates(t *testing.T) {
	rest := make([]model.ScoredJob, 0, 300)
	for i := 0; i < 300; i++ {
		rest = append(rest, model.ScoredJob{Job: model.Job{JobID: int64(i)}})
	}

	t.Run("first widening returns the next TopN items", func(t *testing.T) {
		source := &widenedPoolSource{rest: rest, taken: 0}
		tranche, err := source.WidenedCandidates(context.Background(), model.User{}, true, false)
		require.NoError(t, err)
		assert.Len(t, tranche, TopN)
		assert.Equal(t, TopN, source.taken)
	})

	t.Run("second widening returns everything remaining", func(t *testing.T) {
		source := &widenedPoolSource{rest: rest, taken: TopN}
		tranche, err := source.WidenedCandidates(context.Background(), model.User{}, true, true)
		require.NoError(t, err)
		assert.Len(t, tranche, len(rest)-TopN)
		assert.Equal(t, len(rest), source.taken)
	})

	t.Run("exhausted pool returns nothing further", func(t *testing.T) {
		source := &widenedPoolSource{rest: rest, taken: len(rest)}
		tranche, err := source.WidenedCandidates(context.Background(), model.User{}, true, true)
		require.NoError(t, err)
		assert.Nil(t, tranche)
	})
}
