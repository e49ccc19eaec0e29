package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, BackoffFactor: 2.0, MaxDelay: 10 * time.Second}

	t.Run("grows exponentially with attempt", func(t *testing.T) {
		assert.Equal(t, 1*time.Second, policy.Delay(0))
		assert.Equal(t, 2*time.Second, policy.Delay(1))
		assert.Equal(t, 4*time.Second, policy.Delay(2))
	})

	t.Run("caps at max delay", func(t *testing.T) {
		assert.Equal(t, 10*time.Second, policy.Delay(10))
	})

	t.Run("defaults zero-value fields", func(t *testing.T) {
		var zero RetryPolicy
		assert.Equal(t, 2*time.Second, zero.Delay(1))
	})
}

func TestJobSpec_DependsOn(t *testing.T) {
	spec := NewJobSpec("b", "job-b", Trigger{Kind: TriggerInterval, Interval: time.Minute}, nil, JobDefaults{})
	spec.DependsOn("a", "c")

	_, hasA := spec.Dependencies["a"]
	_, hasC := spec.Dependencies["c"]
	assert.True(t, hasA)
	assert.True(t, hasC)
	assert.Len(t, spec.Dependencies, 2)
}
