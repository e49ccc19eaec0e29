package section

import (
	"fmt"
	"testing"
	"time"

	"github.com/nagata-labs/shortlist-batch/internal/config"
	"github.com/nagata-labs/shortlist-batch/internal/model"
	"github.com/stretchr/testify/assert"
)

func scoredJob(id int64, composite float64, hourly float64, category int, posted time.Time) model.ScoredJob {
	return scoredJobCompany(id, composite, hourly, category, fmt.Sprintf("co-%d", id), posted)
}

func scoredJobCompany(id int64, composite float64, hourly float64, category int, company string, posted time.Time) model.ScoredJob {
	return model.ScoredJob{
		Job: model.Job{
			JobID:            id,
			CategoryCode:     category,
			CompanyCode:      company,
			HourlyEquivalent: hourly,
			PostedAt:         posted,
		},
		Score: model.MatchScore{
			Composite:  composite,
			Components: map[string]float64{"location_sub": 90},
		},
	}
}

func TestSelector_Select(t *testing.T) {
	cfg := config.SectionConfig{
		Total:                40,
		MinPerSection:        2,
		MaxPerSection:        10,
		MinCategoryDiversity: 1,
		MaxJobsPerCategory:   3,
	}
	selector := New(cfg)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("caps total items at cfg.Total", func(t *testing.T) {
		pool := make([]model.ScoredJob, 0, 60)
		for i := int64(0); i < 60; i++ {
			pool = append(pool, scoredJob(i, 85, 1500, int(i%5), now))
		}
		slate := selector.Select(1, pool, map[int]struct{}{0: {}}, now)
		assert.LessOrEqual(t, slate.Total(), cfg.Total)
	})

	t.Run("enforces per-company cap by demoting into OTHER", func(t *testing.T) {
		// Every job shares a company code but spans distinct categories, so a
		// category-keyed cap would never trigger here; only a company-keyed
		// one demotes the excess.
		pool := make([]model.ScoredJob, 0, 10)
		for i := int64(0); i < 10; i++ {
			pool = append(pool, scoredJobCompany(i, 50, 1000, int(i), "acme", now))
		}
		slate := selector.Select(1, pool, nil, now)

		nonOtherOfCompany := 0
		for kind, items := range slate.Sections {
			if kind == model.SectionOther {
				continue
			}
			for _, item := range items {
				if item.Job.CompanyCode == "acme" {
					nonOtherOfCompany++
				}
			}
		}
		assert.LessOrEqual(t, nonOtherOfCompany, cfg.MaxJobsPerCategory)
	})

	t.Run("empty pool yields an empty but non-nil slate", func(t *testing.T) {
		slate := selector.Select(1, nil, nil, now)
		assert.Equal(t, 0, slate.Total())
	})
}
