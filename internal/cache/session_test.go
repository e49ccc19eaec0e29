package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSession_LRUFallback(t *testing.T) {
	s := NewSession(nil)
	now := time.Now()

	t.Run("a miss on an unseeded key reports false", func(t *testing.T) {
		_, ok := s.CompanyPopularity(context.Background(), "ACME", now)
		assert.False(t, ok)
	})

	t.Run("a value set then read within the same hour bucket hits", func(t *testing.T) {
		s.SetCompanyPopularity(context.Background(), "ACME", now, 0.87)
		val, ok := s.CompanyPopularity(context.Background(), "ACME", now)
		assert.True(t, ok)
		assert.Equal(t, 0.87, val)
	})

	t.Run("a different hour bucket misses even for the same company", func(t *testing.T) {
		later := now.Add(2 * time.Hour)
		_, ok := s.CompanyPopularity(context.Background(), "ACME", later)
		assert.False(t, ok)
	})
}

func TestBucketKey(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 15, 0, 0, time.UTC)
	a := bucketKey("ACME", now)
	b := bucketKey("ACME", now.Add(time.Minute))
	assert.Equal(t, a, b, "keys within the same hour window must collide")

	c := bucketKey("ACME", now.Add(2*time.Hour))
	assert.NotEqual(t, a, c)
}
