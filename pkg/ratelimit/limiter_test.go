package ratelimit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeClock advances only when told to, and records every sleep.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func newTestLimiter(maxRequests int, period time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)}
	limiter := NewLimiter(Config{MaxRequests: maxRequests, Period: period}, NewMemoryStore(), zerolog.Nop())
	limiter.SetClock(clock.Now, clock.Sleep)
	return limiter, clock
}

func TestLimiter_AdmitWithinBudget(t *testing.T) {
	limiter, clock := newTestLimiter(5, 10*time.Second)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := limiter.Admit(ctx); err != nil {
			t.Fatalf("Admit() #%d error = %v", i+1, err)
		}
	}

	if len(clock.sleeps) != 0 {
		t.Errorf("Expected no waits within budget, got %v", clock.sleeps)
	}

	state, _ := limiter.State(ctx)
	if state.Count != 5 {
		t.Errorf("Count = %d, want 5", state.Count)
	}
}

func TestLimiter_WaitsOnceForRemainingWindow(t *testing.T) {
	const n = 3
	limiter, clock := newTestLimiter(n, 10*time.Second)
	ctx := context.Background()
	windowStart := clock.now

	// N admissions one second apart.
	for i := 0; i < n; i++ {
		if err := limiter.Admit(ctx); err != nil {
			t.Fatalf("Admit() #%d error = %v", i+1, err)
		}
		clock.now = clock.now.Add(time.Second)
	}

	// N+1th admission at t+4s must wait the remaining 6s.
	clock.now = windowStart.Add(4 * time.Second)
	if err := limiter.Admit(ctx); err != nil {
		t.Fatalf("Admit() #%d error = %v", n+1, err)
	}

	if len(clock.sleeps) != 1 {
		t.Fatalf("Expected exactly one wait, got %d (%v)", len(clock.sleeps), clock.sleeps)
	}
	if clock.sleeps[0] != 6*time.Second {
		t.Errorf("Wait = %v, want 6s", clock.sleeps[0])
	}

	state, _ := limiter.State(ctx)
	if state.Count != 1 {
		t.Errorf("Count after wait = %d, want 1", state.Count)
	}
	if !state.WindowStart.Equal(windowStart.Add(10 * time.Second)) {
		t.Errorf("WindowStart after wait = %v, want %v", state.WindowStart, windowStart.Add(10*time.Second))
	}
}

func TestLimiter_ResetsAfterPeriod(t *testing.T) {
	limiter, clock := newTestLimiter(2, time.Minute)
	ctx := context.Background()

	_ = limiter.Admit(ctx)
	_ = limiter.Admit(ctx)

	// Window elapsed on its own: no wait, counter restarts.
	clock.now = clock.now.Add(time.Minute)
	if err := limiter.Admit(ctx); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}

	if len(clock.sleeps) != 0 {
		t.Errorf("Expected no wait after the period elapsed, got %v", clock.sleeps)
	}
	state, _ := limiter.State(ctx)
	if state.Count != 1 {
		t.Errorf("Count = %d, want 1", state.Count)
	}
}

func TestLimiter_Disabled(t *testing.T) {
	tests := []struct {
		name    string
		limiter *Limiter
	}{
		{name: "nil limiter", limiter: nil},
		{name: "zero budget", limiter: NewLimiter(Config{}, nil, zerolog.Nop())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 10; i++ {
				if err := tt.limiter.Admit(context.Background()); err != nil {
					t.Fatalf("Admit() error = %v", err)
				}
			}
		})
	}
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	limiter := NewLimiter(Config{MaxRequests: 1, Period: time.Hour}, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	if err := limiter.Admit(ctx); err != nil {
		t.Fatalf("first Admit() error = %v", err)
	}

	cancel()
	err := limiter.Admit(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Admit() error = %v, want context.Canceled", err)
	}
}

type failingStore struct{}

func (failingStore) Load(ctx context.Context) (State, bool, error) {
	return State{}, false, errors.New("store down")
}

func (failingStore) Save(ctx context.Context, state State) error { return nil }

func (failingStore) Update(ctx context.Context, fn UpdateFunc) (State, error) {
	return State{}, errors.New("store down")
}

func TestLimiter_StoreError(t *testing.T) {
	limiter := NewLimiter(DefaultConfig(), failingStore{}, zerolog.Nop())

	if err := limiter.Admit(context.Background()); err == nil {
		t.Error("Expected error from failing store")
	}
}

func TestLimiter_ConcurrentAdmissionsShareOneCount(t *testing.T) {
	store := NewMemoryStore()
	cfg := Config{MaxRequests: 1000, Period: time.Hour}
	ctx := context.Background()

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		limiter := NewLimiter(cfg, store, zerolog.Nop())
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := limiter.Admit(ctx); err != nil {
					t.Errorf("Admit() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	state, _, _ := store.Load(ctx)
	if state.Count != workers*perWorker {
		t.Errorf("Count = %d, want %d", state.Count, workers*perWorker)
	}
}

func TestLimiter_WaitJoinsWindowRestartedElsewhere(t *testing.T) {
	store := NewMemoryStore()
	cfg := Config{MaxRequests: 2, Period: time.Minute}
	start := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	restarted := start.Add(time.Minute)

	// While this limiter sleeps, another process restarts the window and
	// spends one request of it.
	clock := &fakeClock{now: start}
	limiter := NewLimiter(cfg, store, zerolog.Nop())
	limiter.SetClock(clock.Now, func(ctx context.Context, d time.Duration) error {
		clock.sleeps = append(clock.sleeps, d)
		clock.now = clock.now.Add(d)
		return store.Save(ctx, State{WindowStart: restarted, Count: 1})
	})

	ctx := context.Background()
	if err := store.Save(ctx, State{WindowStart: start, Count: 2}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := limiter.Admit(ctx); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}

	state, _, _ := store.Load(ctx)
	if !state.WindowStart.Equal(restarted) || state.Count != 2 {
		t.Errorf("state = %+v, want the restarted window with Count 2", state)
	}
	if len(clock.sleeps) != 1 {
		t.Errorf("sleeps = %v, want one", clock.sleeps)
	}
}

func TestLimiter_TracesAdmissions(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(buf).Level(zerolog.TraceLevel)
	limiter := NewLimiter(Config{MaxRequests: 10, Period: time.Minute}, nil, logger)

	if err := limiter.Admit(context.Background()); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"level":"trace"`) || !strings.Contains(out, "Request admitted") {
		t.Errorf("expected a trace line for the admission, got %q", out)
	}
	if !strings.Contains(out, `"count":1`) {
		t.Errorf("expected count field, got %q", out)
	}
}
