package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInstance_Failed(t *testing.T) {
	now := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, BackoffFactor: 2.0, MaxDelay: time.Minute}

	t.Run("schedules a retry while attempts remain", func(t *testing.T) {
		in := &instance{jobID: "j1", attempt: 0}
		in.failed(errors.New("boom"), policy, now)

		assert.Equal(t, StatusRetryScheduled, in.status)
		assert.Equal(t, 1, in.attempt)
		assert.True(t, in.nextRetry.After(now))
	})

	t.Run("stays failed once max attempts are exhausted", func(t *testing.T) {
		in := &instance{jobID: "j1", attempt: 2}
		in.failed(errors.New("boom"), policy, now)

		assert.Equal(t, StatusFailed, in.status)
		assert.Equal(t, 2, in.attempt)
	})
}
