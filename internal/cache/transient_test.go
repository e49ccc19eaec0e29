package cache

import (
	"testing"

	"github.com/nagata-labs/shortlist-batch/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestTransient_ApplicationsAndHitRate(t *testing.T) {
	t.Run("a fresh cache reports a hit rate of 1.0 with no lookups", func(t *testing.T) {
		tr := NewTransient()
		assert.Equal(t, 1.0, tr.HitRate())
	})

	t.Run("a miss followed by Put then a hit yields a 0.5 hit rate", func(t *testing.T) {
		tr := NewTransient()

		_, ok := tr.Applications(42)
		assert.False(t, ok)

		tr.Put(42, []model.Application{{UserID: 42, CompanyCode: "ACME"}})

		apps, ok := tr.Applications(42)
		assert.True(t, ok)
		assert.Len(t, apps, 1)

		assert.Equal(t, 0.5, tr.HitRate())
	})
}

func TestReport(t *testing.T) {
	tr := NewTransient()
	tr.Put(1, nil)
	tr.Applications(1)
	tr.Applications(2)

	report := Report(tr)
	assert.Equal(t, tr.HitRate(), report.TransientHitRate)
}
