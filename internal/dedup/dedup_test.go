package dedup

import (
	"testing"
	"time"

	"github.com/nagata-labs/shortlist-batch/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestFilter(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	jobs := []model.Job{
		{JobID: 1, CompanyCode: "A"},
		{JobID: 2, CompanyCode: "B"},
		{JobID: 3, CompanyCode: "C"},
	}

	t.Run("excludes companies applied to within window", func(t *testing.T) {
		apps := []model.Application{
			{CompanyCode: "A", AppliedAt: now.AddDate(0, 0, -5)},
		}
		result := Filter(jobs, apps, 30, now)

		assert.Len(t, result.Filtered, 2)
		assert.Equal(t, 1, result.ExcludedCount)
		assert.Equal(t, 0, result.SkippedRows)
	})

	t.Run("keeps companies applied to outside window", func(t *testing.T) {
		apps := []model.Application{
			{CompanyCode: "A", AppliedAt: now.AddDate(0, 0, -45)},
		}
		result := Filter(jobs, apps, 30, now)

		assert.Len(t, result.Filtered, 3)
		assert.Equal(t, 0, result.ExcludedCount)
	})

	t.Run("counts malformed rows as skipped, not excluded", func(t *testing.T) {
		apps := []model.Application{
			{CompanyCode: "A", AppliedAt: time.Time{}},
		}
		result := Filter(jobs, apps, 30, now)

		assert.Len(t, result.Filtered, 3)
		assert.Equal(t, 1, result.SkippedRows)
		assert.Equal(t, 0, result.ExcludedCount)
	})

	t.Run("empty application history excludes nothing", func(t *testing.T) {
		result := Filter(jobs, nil, 30, now)
		assert.Len(t, result.Filtered, 3)
	})
}
