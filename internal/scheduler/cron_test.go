package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSchedule(t *testing.T) {
	t.Run("interval trigger advances by its period", func(t *testing.T) {
		sched, err := buildSchedule(Trigger{Kind: TriggerInterval, Interval: 5 * time.Minute})
		require.NoError(t, err)

		now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, now.Add(5*time.Minute), sched.Next(now))
	})

	t.Run("zero interval is rejected", func(t *testing.T) {
		_, err := buildSchedule(Trigger{Kind: TriggerInterval, Interval: 0})
		assert.Error(t, err)
	})

	t.Run("cron trigger parses and resolves the next fire time in its timezone", func(t *testing.T) {
		sched, err := buildSchedule(Trigger{Kind: TriggerCron, Cron: "0 2 * * *", Timezone: "Asia/Tokyo"})
		require.NoError(t, err)

		now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
		next := sched.Next(now)
		assert.True(t, next.After(now))
	})

	t.Run("malformed cron expression is rejected", func(t *testing.T) {
		_, err := buildSchedule(Trigger{Kind: TriggerCron, Cron: "not a cron expression"})
		assert.Error(t, err)
	})

	t.Run("unknown timezone is rejected", func(t *testing.T) {
		_, err := buildSchedule(Trigger{Kind: TriggerCron, Cron: "0 2 * * *", Timezone: "Nowhere/Imaginary"})
		assert.Error(t, err)
	})
}
