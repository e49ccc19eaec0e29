package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileGuard(t *testing.T) {
	t.Run("no condition compiles to a nil program", func(t *testing.T) {
		program, err := compileGuard(nil)
		require.NoError(t, err)
		assert.Nil(t, program)
	})

	t.Run("valid condition compiles", func(t *testing.T) {
		program, err := compileGuard(map[string]any{"condition": `weekday != "Sunday"`})
		require.NoError(t, err)
		assert.NotNil(t, program)
	})

	t.Run("invalid condition fails to compile", func(t *testing.T) {
		_, err := compileGuard(map[string]any{"condition": `not valid expr (`})
		assert.Error(t, err)
	})
}

func TestScheduler_EvalGuard(t *testing.T) {
	s := &Scheduler{}
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) // a Saturday

	t.Run("no guard admits", func(t *testing.T) {
		d := &due{spec: &JobSpec{}}
		assert.True(t, s.evalGuard(d, now))
	})

	t.Run("matching condition admits", func(t *testing.T) {
		program, err := compileGuard(map[string]any{"condition": `weekday == "Saturday"`})
		require.NoError(t, err)
		d := &due{spec: &JobSpec{ServiceConfig: map[string]any{"condition": `weekday == "Saturday"`}}, guard: program}
		assert.True(t, s.evalGuard(d, now))
	})

	t.Run("non-matching condition blocks", func(t *testing.T) {
		program, err := compileGuard(map[string]any{"condition": `weekday == "Sunday"`})
		require.NoError(t, err)
		d := &due{spec: &JobSpec{ServiceConfig: map[string]any{"condition": `weekday == "Sunday"`}}, guard: program}
		assert.False(t, s.evalGuard(d, now))
	})
}
