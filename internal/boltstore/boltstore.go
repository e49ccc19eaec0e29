// Package boltstore provides a bbolt-backed checkpoint and distributed-lock
// store independent of PostgreSQL. The Scheduler (C9) uses its job locks;
// the Phase Runner (C8) does not use it, and its checkpoint methods have no
// caller outside this package's tests. Grounded on
// bravo1goingdark-mailgrid's database/boltdb.go job/lock bucket design,
// adapted to checkpoints and scheduler job locks instead of mail jobs, and
// using fmt.Errorf wrapping (the rest of this codebase's idiom) instead of
// that repo's github.com/pkg/errors.
package boltstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	checkpointBucket = "checkpoints"
	lockBucket       = "locks"
	lockExpiry       = 5 * time.Minute
)

// Store wraps a bbolt database for checkpoint persistence and job locking.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) a BoltDB file at path and initializes
// its buckets.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open boltstore at %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(checkpointBucket)); err != nil {
			return fmt.Errorf("create %s bucket: %w", checkpointBucket, err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(lockBucket)); err != nil {
			return fmt.Errorf("create %s bucket: %w", lockBucket, err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize boltstore buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying BoltDB file.
func (s *Store) Close() error { return s.db.Close() }

func checkpointKey(batchID, phase string) string { return batchID + ":" + phase }

// CheckpointRecord is the durable encoding of one phase's checkpoint. The
// Phase Runner writes checkpoints only to Postgres's checkpoints table; no
// caller mirrors them here or reads them back on restart.
type CheckpointRecord struct {
	BatchID string          `json:"batch_id"`
	Phase   string          `json:"phase"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// SaveCheckpoint persists a checkpoint record for (batchID, phase).
func (s *Store) SaveCheckpoint(rec CheckpointRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(checkpointBucket))
		encoded, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal checkpoint: %w", err)
		}
		return b.Put([]byte(checkpointKey(rec.BatchID, rec.Phase)), encoded)
	})
}

// LoadCheckpoint retrieves the last checkpoint for (batchID, phase), or nil
// if none exists.
func (s *Store) LoadCheckpoint(batchID, phase string) (*CheckpointRecord, error) {
	var rec *CheckpointRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(checkpointBucket))
		val := b.Get([]byte(checkpointKey(batchID, phase)))
		if val == nil {
			return nil
		}
		var r CheckpointRecord
		if err := json.Unmarshal(val, &r); err != nil {
			return fmt.Errorf("unmarshal checkpoint: %w", err)
		}
		rec = &r
		return nil
	})
	return rec, err
}

func parseLockInfo(lockData []byte) (holder string, lockedAt time.Time, err error) {
	parts := strings.SplitN(string(lockData), ":", 2)
	if len(parts) != 2 {
		return "", time.Time{}, fmt.Errorf("malformed lock info: expected holder:timestamp")
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid lock timestamp: %w", err)
	}
	return parts[0], time.Unix(0, nanos), nil
}

func formatLockInfo(holder string) string {
	return fmt.Sprintf("%s:%d", holder, time.Now().UnixNano())
}

// AcquireLock acquires the single-instance run lock for jobID (a scheduler
// JobSpec.ID), preventing two scheduler processes from dispatching the same
// job concurrently. A malformed or expired lock is reclaimed rather than
// trusted.
func (s *Store) AcquireLock(jobID, holder string) (bool, error) {
	var acquired bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(lockBucket))
		key := []byte(jobID)
		current := b.Get(key)

		if current == nil {
			acquired = true
			return b.Put(key, []byte(formatLockInfo(holder)))
		}

		heldBy, lockedAt, err := parseLockInfo(current)
		if err != nil {
			acquired = true
			return b.Put(key, []byte(formatLockInfo(holder)))
		}

		if heldBy == holder || time.Since(lockedAt) > lockExpiry {
			acquired = true
			return b.Put(key, []byte(formatLockInfo(holder)))
		}

		acquired = false
		return nil
	})
	return acquired, err
}

// ReleaseLock releases jobID's lock if held by holder.
func (s *Store) ReleaseLock(jobID, holder string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(lockBucket))
		key := []byte(jobID)
		current := b.Get(key)
		if current == nil {
			return nil
		}
		heldBy, _, err := parseLockInfo(current)
		if err != nil {
			return b.Delete(key)
		}
		if heldBy == holder {
			return b.Delete(key)
		}
		return nil
	})
}

// CleanupExpiredLocks removes locks past their expiry, run periodically by
// the scheduler's health-check tick.
func (s *Store) CleanupExpiredLocks() (int, error) {
	cleaned := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(lockBucket))
		cur := b.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			_, lockedAt, err := parseLockInfo(v)
			if err != nil || time.Since(lockedAt) > lockExpiry {
				if err := b.Delete(k); err == nil {
					cleaned++
				}
			}
		}
		return nil
	})
	return cleaned, err
}
