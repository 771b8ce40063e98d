package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists the limiter state between admissions.
type Store interface {
	// Load returns the stored state. found is false when nothing was stored yet.
	Load(ctx context.Context) (state State, found bool, err error)

	// Save replaces the stored state.
	Save(ctx context.Context, state State) error

	// Update runs fn on the stored state and stores the result when fn
	// reports a change, as one atomic step with respect to other updaters
	// of the same store. It returns the state fn produced.
	Update(ctx context.Context, fn UpdateFunc) (State, error)
}

// UpdateFunc derives the next state from the stored one. found is false when
// nothing was stored yet. changed false leaves the store untouched.
type UpdateFunc func(state State, found bool) (next State, changed bool)

// ErrContention is returned when an update kept losing to concurrent writers.
var ErrContention = errors.New("rate limit state contended")

// maxUpdateAttempts bounds optimistic transaction retries in RedisStore.Update.
const maxUpdateAttempts = 50

// MemoryStore keeps the state in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	state State
	found bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.found, nil
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.found = true
	return nil
}

// Update implements Store.
func (m *MemoryStore) Update(ctx context.Context, fn UpdateFunc) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, changed := fn(m.state, m.found)
	if changed {
		m.state = next
		m.found = true
	}
	return next, nil
}

// RedisStore keeps the state in Redis so several processes draw from one budget.
// Updates use WATCH/MULTI on both keys, so concurrent admissions never
// overwrite each other's count. Keys expire after two periods of inactivity.
type RedisStore struct {
	redis          *redis.Client
	windowStartKey string
	countKey       string
	ttl            time.Duration
}

// NewRedisStore creates a Redis-backed store for the given budget namespace.
func NewRedisStore(redisClient *redis.Client, namespace string, period time.Duration) *RedisStore {
	if namespace == "" {
		namespace = "default"
	}
	return &RedisStore{
		redis:          redisClient,
		windowStartKey: fmt.Sprintf(RedisKeyWindowStart, namespace),
		countKey:       fmt.Sprintf(RedisKeyCount, namespace),
		ttl:            2 * period,
	}
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context) (State, bool, error) {
	return r.load(ctx, r.redis)
}

// stringGetter is satisfied by both *redis.Client and *redis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisStore) load(ctx context.Context, rdb stringGetter) (State, bool, error) {
	startMillis, err := rdb.Get(ctx, r.windowStartKey).Int64()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("get window start: %w", err)
	}

	count, err := rdb.Get(ctx, r.countKey).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return State{}, false, fmt.Errorf("get count: %w", err)
	}

	return State{
		WindowStart: time.UnixMilli(startMillis),
		Count:       count,
	}, true, nil
}

func (r *RedisStore) write(ctx context.Context, pipe redis.Pipeliner, state State) {
	pipe.Set(ctx, r.windowStartKey, state.WindowStart.UnixMilli(), r.ttl)
	pipe.Set(ctx, r.countKey, state.Count, r.ttl)
}

// Save implements Store.
func (r *RedisStore) Save(ctx context.Context, state State) error {
	pipe := r.redis.Pipeline()
	r.write(ctx, pipe, state)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}

// Update implements Store. fn may run several times when another process
// changes the keys between read and write; only the last run is stored.
func (r *RedisStore) Update(ctx context.Context, fn UpdateFunc) (State, error) {
	var result State
	txf := func(tx *redis.Tx) error {
		state, found, err := r.load(ctx, tx)
		if err != nil {
			return err
		}
		next, changed := fn(state, found)
		result = next
		if !changed {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.write(ctx, pipe, next)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := r.redis.Watch(ctx, txf, r.windowStartKey, r.countKey)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return State{}, fmt.Errorf("update rate limit state in redis: %w", err)
	}
	return State{}, ErrContention
}
