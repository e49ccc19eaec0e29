package boltstore

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go.etcd.io/bbolt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scheduler.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_CheckpointRoundTrip(t *testing.T) {
	s := openTestStore(t)

	t.Run("loading a checkpoint that was never saved returns nil", func(t *testing.T) {
		rec, err := s.LoadCheckpoint("b1", "IMPORT")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("a saved checkpoint can be loaded back", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Second)
		err := s.SaveCheckpoint(CheckpointRecord{
			BatchID: "b1",
			Phase:   "IMPORT",
			At:      now,
			Payload: []byte(`{"offset":42}`),
		})
		require.NoError(t, err)

		rec, err := s.LoadCheckpoint("b1", "IMPORT")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "b1", rec.BatchID)
		assert.True(t, rec.At.Equal(now))
		assert.JSONEq(t, `{"offset":42}`, string(rec.Payload))
	})
}

func TestStore_Locking(t *testing.T) {
	t.Run("a free lock is acquired", func(t *testing.T) {
		s := openTestStore(t)
		ok, err := s.AcquireLock("job-a", "holder-1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("a lock held by another holder is not acquired", func(t *testing.T) {
		s := openTestStore(t)
		_, err := s.AcquireLock("job-a", "holder-1")
		require.NoError(t, err)

		ok, err := s.AcquireLock("job-a", "holder-2")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("the same holder can re-acquire its own lock", func(t *testing.T) {
		s := openTestStore(t)
		_, err := s.AcquireLock("job-a", "holder-1")
		require.NoError(t, err)

		ok, err := s.AcquireLock("job-a", "holder-1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("releasing a lock held by another holder is a no-op", func(t *testing.T) {
		s := openTestStore(t)
		_, err := s.AcquireLock("job-a", "holder-1")
		require.NoError(t, err)

		err = s.ReleaseLock("job-a", "holder-2")
		require.NoError(t, err)

		ok, err := s.AcquireLock("job-a", "holder-2")
		require.NoError(t, err)
		assert.False(t, ok, "release by the wrong holder must not clear the lock")
	})

	t.Run("releasing and re-acquiring frees the lock for another holder", func(t *testing.T) {
		s := openTestStore(t)
		_, err := s.AcquireLock("job-a", "holder-1")
		require.NoError(t, err)

		require.NoError(t, s.ReleaseLock("job-a", "holder-1"))

		ok, err := s.AcquireLock("job-a", "holder-2")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestStore_CleanupExpiredLocks(t *testing.T) {
	s := openTestStore(t)

	t.Run("a fresh lock is not reaped", func(t *testing.T) {
		_, err := s.AcquireLock("job-a", "holder-1")
		require.NoError(t, err)

		n, err := s.CleanupExpiredLocks()
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("a stale lock is reaped and can be reacquired afterward", func(t *testing.T) {
		stale := time.Now().Add(-2 * lockExpiry).UnixNano()
		err := s.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket([]byte(lockBucket))
			return b.Put([]byte("job-b"), []byte(fmt.Sprintf("holder-1:%d", stale)))
		})
		require.NoError(t, err)

		n, err := s.CleanupExpiredLocks()
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		ok, err := s.AcquireLock("job-b", "holder-2")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
