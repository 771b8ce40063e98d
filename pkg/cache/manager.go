package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// DefaultStaleFor is how long an entry is kept after it turns stale.
const DefaultStaleFor = 24 * time.Hour

// Manager stores listings in Redis.
type Manager struct {
	redis *redis.Client
	now   func() time.Time

	// StaleFor is how long an entry outlives its TTL as a fallback copy.
	StaleFor time.Duration
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis:    redisClient,
		now:      time.Now,
		StaleFor: DefaultStaleFor,
	}
}

// SetClock replaces the time source (for testing).
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Get returns the entry for key, fresh or stale. Callers check Entry.Fresh.
// Returns ErrCacheMiss if the key doesn't exist.
func (m *Manager) Get(ctx context.Context, key Key) (Entry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, ErrCacheMiss
		}
		errorsTotal.WithLabelValues("get").Inc()
		return Entry{}, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		errorsTotal.WithLabelValues("get").Inc()
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return entry, nil
}

// Put stores body under key, fresh for ttl. Redis keeps it for ttl + StaleFor.
func (m *Manager) Put(ctx context.Context, key Key, body []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(NewEntry(body, m.now(), ttl))
	if err != nil {
		errorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl+m.StaleFor).Err(); err != nil {
		errorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	storedBytes.Set(float64(len(data)))
	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		errorsTotal.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// GetOrLoad returns the fresh cached body for key, or calls load and caches
// its result for ttl. If load fails and a stale copy exists, the stale body is
// returned with the load error as cacheErr. Redis failures never fail the call;
// they are reported through cacheErr so callers can log them.
func (m *Manager) GetOrLoad(ctx context.Context, key Key, ttl time.Duration, load func(ctx context.Context) ([]byte, error)) (data []byte, cacheErr error, err error) {
	entry, getErr := m.Get(ctx, key)
	haveEntry := getErr == nil
	if haveEntry && entry.Fresh(m.now()) {
		lookupsTotal.WithLabelValues("hit").Inc()
		return entry.Body, nil, nil
	}
	if getErr != nil && !errors.Is(getErr, ErrCacheMiss) {
		cacheErr = getErr
	}

	data, err = load(ctx)
	if err != nil {
		if haveEntry {
			lookupsTotal.WithLabelValues("stale").Inc()
			return entry.Body, fmt.Errorf("serving copy aged %s: %w", entry.Age(m.now()).Round(time.Second), err), nil
		}
		lookupsTotal.WithLabelValues("miss").Inc()
		return nil, cacheErr, err
	}
	lookupsTotal.WithLabelValues("miss").Inc()

	if putErr := m.Put(ctx, key, data, ttl); putErr != nil && cacheErr == nil {
		cacheErr = putErr
	}
	return data, cacheErr, nil
}
