package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPersistent_IsAdjacent(t *testing.T) {
	p := NewPersistent()
	p.Load(map[string][]string{
		"13": {"14", "11"},
	}, nil)

	t.Run("registered adjacency reports true", func(t *testing.T) {
		assert.True(t, p.IsAdjacent("13", "14"))
	})

	t.Run("unregistered pair reports false", func(t *testing.T) {
		assert.False(t, p.IsAdjacent("13", "27"))
	})

	t.Run("unknown prefecture reports false", func(t *testing.T) {
		assert.False(t, p.IsAdjacent("99", "14"))
	})
}

func TestPersistent_SameMajorCategory(t *testing.T) {
	p := NewPersistent()
	p.Load(nil, map[int]int{
		100: 1,
		101: 1,
		200: 2,
	})

	t.Run("codes sharing a major category match", func(t *testing.T) {
		assert.True(t, p.SameMajorCategory(100, 101))
	})

	t.Run("codes in different major categories do not match", func(t *testing.T) {
		assert.False(t, p.SameMajorCategory(100, 200))
	})

	t.Run("unknown codes never match", func(t *testing.T) {
		assert.False(t, p.SameMajorCategory(999, 100))
	})
}
