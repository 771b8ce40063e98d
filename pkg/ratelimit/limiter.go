package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for admission control.
var (
	admissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activity_rate_limit_admissions_total",
		Help: "Total number of requests admitted by the rate limiter",
	})

	waitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activity_rate_limit_waits_total",
		Help: "Total number of times the request budget was exhausted and the caller waited",
	})

	waitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "activity_rate_limit_wait_seconds",
		Help:    "Time spent waiting for the request budget to reset",
		Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600},
	})

	windowCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "activity_rate_limit_window_count",
		Help: "Requests admitted in the current budget window",
	})
)

// Config holds the request budget.
type Config struct {
	// MaxRequests per Period. Zero or negative disables the limiter.
	MaxRequests int

	// Period is the length of one budget window.
	Period time.Duration
}

// DefaultConfig returns the reporting API budget (5000 requests per hour).
func DefaultConfig() Config {
	return Config{
		MaxRequests: DefaultMaxRequests,
		Period:      DefaultPeriod,
	}
}

// Enabled reports whether the config describes an actual budget.
func (c Config) Enabled() bool {
	return c.MaxRequests > 0 && c.Period > 0
}

// Limiter is a fixed-window admission controller.
// It is not a sliding window: the counter resets only when a full period has
// passed since the window started, or after a caller waited out the window.
type Limiter struct {
	config Config
	store  Store
	logger zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter creates a limiter. A nil store defaults to a MemoryStore.
func NewLimiter(cfg Config, store Store, logger zerolog.Logger) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{
		config: cfg,
		store:  store,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// SetClock replaces the time source and sleep function (for testing).
func (l *Limiter) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	l.now = now
	l.sleep = sleep
}

// Config returns the limiter budget.
func (l *Limiter) Config() Config {
	return l.config
}

// Admit blocks until one more request fits in the budget, then counts it.
// A nil or disabled limiter admits unconditionally.
//
// The check and the increment are a single Store.Update, so limiters sharing
// a store never admit more than MaxRequests per window between them.
func (l *Limiter) Admit(ctx context.Context) error {
	if l == nil || !l.config.Enabled() {
		return nil
	}

	var (
		waited      bool
		waitedStart time.Time
	)
	for {
		now := l.now()
		admitted := false
		state, err := l.store.Update(ctx, func(state State, found bool) (State, bool) {
			admitted = false
			switch {
			case !found || state.Expired(now, l.config.Period):
				state = Reset(now)
			case waited && !state.WindowStart.After(waitedStart):
				// The window we waited out has not been restarted by anyone else.
				state = Reset(now)
			}
			if state.Exhausted(l.config.MaxRequests) {
				return state, false
			}
			state.Count++
			admitted = true
			return state, true
		})
		if err != nil {
			return fmt.Errorf("update rate limit state: %w", err)
		}

		if admitted {
			admissionsTotal.Inc()
			windowCount.Set(float64(state.Count))
			l.logger.Trace().
				Int("count", state.Count).
				Int("max_requests", l.config.MaxRequests).
				Time("window_start", state.WindowStart).
				Msg("Request admitted")
			return nil
		}

		wait := state.Remaining(now, l.config.Period)
		l.logger.Warn().
			Int("max_requests", l.config.MaxRequests).
			Dur("period", l.config.Period).
			Dur("wait", wait).
			Msg("Request budget exhausted - waiting for window reset")

		waitsTotal.Inc()
		waitSeconds.Observe(wait.Seconds())

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
		waited = true
		waitedStart = state.WindowStart
	}
}

// State returns the current stored state (for diagnostics and tests).
func (l *Limiter) State(ctx context.Context) (State, error) {
	state, _, err := l.store.Load(ctx)
	return state, err
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
