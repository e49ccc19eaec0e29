package cache

import (
	"container/list"
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nagata-labs/shortlist-batch/internal/platform/redis"
)

// sessionTTL and sessionCap implement spec §4.2's Session tier defaults.
const (
	sessionTTL = time.Hour
	sessionCap = 50_000
)

// Session caches company popularity and hourly rollups, bucketed by
// (code, floor(now, 1h)). Redis is the primary store so the cache survives
// process restarts within its TTL window; an in-process LRU is the
// fallback path taken when Redis is unreachable, so a single-box deploy
// (or a Redis hiccup) degrades cache hit rate instead of failing scoring.
type Session struct {
	redis *redis.Client

	mu      sync.Mutex
	lru     *list.List
	entries map[string]*list.Element
}

type sessionEntry struct {
	key   string
	value float64
	until time.Time
}

// NewSession wires a Session cache against an optional Redis client; pass
// nil to run purely on the in-process LRU fallback.
func NewSession(r *redis.Client) *Session {
	return &Session{
		redis:   r,
		lru:     list.New(),
		entries: make(map[string]*list.Element),
	}
}

// bucketKey deterministically buckets a raw key by the hour window t falls
// into, per spec §4.2.
func bucketKey(code string, t time.Time) string {
	hour := t.UTC().Truncate(time.Hour).Unix()
	return fmt.Sprintf("session:%s:%d", code, hour)
}

// CompanyPopularity returns the cached popularity score for a company at
// time t, and whether it was a hit.
func (s *Session) CompanyPopularity(ctx context.Context, companyCode string, t time.Time) (float64, bool) {
	key := bucketKey(companyCode, t)

	if s.redis != nil {
		val, err := s.redis.Get(ctx, key).Result()
		if err == nil {
			if f, perr := strconv.ParseFloat(val, 64); perr == nil {
				return f, true
			}
		}
	}
	return s.lruGet(key)
}

// SetCompanyPopularity writes through to Redis (when configured) and to the
// in-process LRU, keeping both warm regardless of which one serves reads.
func (s *Session) SetCompanyPopularity(ctx context.Context, companyCode string, t time.Time, value float64) {
	key := bucketKey(companyCode, t)

	if s.redis != nil {
		_ = s.redis.Set(ctx, key, strconv.FormatFloat(value, 'f', -1, 64), sessionTTL).Err()
	}
	s.lruSet(key, value)
}

func (s *Session) lruGet(key string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		return 0, false
	}
	entry := elem.Value.(*sessionEntry)
	if time.Now().After(entry.until) {
		s.lru.Remove(elem)
		delete(s.entries, key)
		return 0, false
	}
	s.lru.MoveToFront(elem)
	return entry.value, true
}

func (s *Session) lruSet(key string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		elem.Value.(*sessionEntry).value = value
		elem.Value.(*sessionEntry).until = time.Now().Add(sessionTTL)
		s.lru.MoveToFront(elem)
		return
	}

	elem := s.lru.PushFront(&sessionEntry{key: key, value: value, until: time.Now().Add(sessionTTL)})
	s.entries[key] = elem

	for s.lru.Len() > sessionCap {
		oldest := s.lru.Back()
		if oldest == nil {
			break
		}
		s.lru.Remove(oldest)
		delete(s.entries, oldest.Value.(*sessionEntry).key)
	}
}
