package emailqueue

import (
	"testing"
	"time"

	"github.com/nagata-labs/shortlist-batch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	now := time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC)
	user := model.User{UserID: 1, Email: "user@example.com", EmailEnabled: true}

	t.Run("opted-out users get no record", func(t *testing.T) {
		optedOut := user
		optedOut.EmailEnabled = false
		slate := &model.SectionSlate{Sections: map[model.SectionKind][]model.ScoredJob{
			model.SectionOther: {{Job: model.Job{Title: "Cashier"}}},
		}}
		_, ok := Build(optedOut, slate, "corr-1", now)
		assert.False(t, ok)
	})

	t.Run("empty slate gets no record", func(t *testing.T) {
		slate := &model.SectionSlate{Sections: map[model.SectionKind][]model.ScoredJob{}}
		_, ok := Build(user, slate, "corr-1", now)
		assert.False(t, ok)
	})

	t.Run("non-empty slate builds a queued record with both bodies", func(t *testing.T) {
		slate := &model.SectionSlate{Sections: map[model.SectionKind][]model.ScoredJob{
			model.SectionEditorialPicks: {{Job: model.Job{Title: "Warehouse Associate"}}},
		}}
		record, ok := Build(user, slate, "corr-1", now)
		require.True(t, ok)
		assert.Equal(t, model.EmailQueued, record.Status)
		assert.Equal(t, "corr-1", record.CorrelationID)
		assert.Contains(t, record.BodyText, "Warehouse Associate")
		assert.Contains(t, record.BodyHTML, "Warehouse Associate")
		assert.Equal(t, now, record.ScheduledFor)
	})

	t.Run("subject highlights editorial picks when present", func(t *testing.T) {
		slate := &model.SectionSlate{Sections: map[model.SectionKind][]model.ScoredJob{
			model.SectionEditorialPicks: {{Job: model.Job{Title: "A"}}, {Job: model.Job{Title: "B"}}},
		}}
		record, ok := Build(user, slate, "corr-1", now)
		require.True(t, ok)
		assert.Contains(t, record.Subject, "2 new picks")
	})
}
