// Package scheduler fetches hours of activity, falling back to one fetch per
// minute when an hour cannot be retrieved by paging alone.
package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Sternrassler/activity-export/pkg/auth"
	"github.com/Sternrassler/activity-export/pkg/client"
	"github.com/Sternrassler/activity-export/pkg/pagination"
	"github.com/Sternrassler/activity-export/pkg/window"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var minuteFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "activity_minute_fallbacks_total",
	Help: "Total hours re-fetched minute by minute",
})

// DefaultHourCeiling is the offset ceiling of an hour fetch.
const DefaultHourCeiling = 10000

// Phase of an hour fetch.
type Phase string

const (
	PhaseWholeHour      Phase = "WHOLE_HOUR"
	PhaseMinuteFallback Phase = "MINUTE_FALLBACK"
	PhaseDone           Phase = "DONE"
)

// WindowFetcher retrieves one window.
type WindowFetcher interface {
	Fetch(ctx context.Context, cred auth.Credential, req pagination.Request, ceiling int) (pagination.Outcome, auth.Credential, error)
}

// Gap is a window whose events may be incomplete.
type Gap struct {
	Window window.TimeWindow
	State  pagination.State
	Reason error

	// Events is the number of events that were retrieved anyway.
	Events int
}

// HourResult is the outcome of one hour.
type HourResult struct {
	Hour   window.TimeWindow
	Events []json.RawMessage

	// MinuteFallback is true when the hour was re-fetched minute by minute.
	MinuteFallback bool

	// Phases lists the phases the hour went through, ending in PhaseDone.
	Phases []Phase

	Gaps []Gap
}

// Config holds the scheduler configuration.
type Config struct {
	// HourCeiling is the offset ceiling of the hour fetch; minute fetches are unbounded.
	HourCeiling int

	// PageSize overrides the fetcher's page size when positive.
	PageSize int

	Filters client.Filters
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{HourCeiling: DefaultHourCeiling}
}

// Scheduler fetches hours with minute fallback.
type Scheduler struct {
	fetcher WindowFetcher
	config  Config
	logger  zerolog.Logger
}

// New creates a scheduler.
func New(fetcher WindowFetcher, cfg Config, logger zerolog.Logger) *Scheduler {
	if cfg.HourCeiling <= 0 {
		cfg.HourCeiling = DefaultHourCeiling
	}
	return &Scheduler{
		fetcher: fetcher,
		config:  cfg,
		logger:  logger.With().Str("component", "scheduler").Logger(),
	}
}

func (s *Scheduler) request(w window.TimeWindow) pagination.Request {
	return pagination.Request{
		Window:   w,
		PageSize: s.config.PageSize,
		Filters:  s.config.Filters,
	}
}

// FetchHour retrieves the hour starting at hourStart. It fetches the whole
// hour first; if that outcome needs subdivision, it discards those events
// and fetches all 60 minutes instead, concatenated in minute order.
// The returned credential is the one in use at the end.
func (s *Scheduler) FetchHour(ctx context.Context, cred auth.Credential, hourStart time.Time) (HourResult, auth.Credential, error) {
	hour := window.Hour(hourStart)
	result := HourResult{Hour: hour, Phases: []Phase{PhaseWholeHour}}

	logger := s.logger.With().
		Time("window_start", hour.Start).
		Time("window_end", hour.End).
		Logger()

	outcome, cred, err := s.fetcher.Fetch(ctx, cred, s.request(hour), s.config.HourCeiling)
	if err != nil {
		return result, cred, err
	}

	if !outcome.NeedsSubdivision {
		result.Events = outcome.Events
		if outcome.Degraded() {
			result.Gaps = append(result.Gaps, gapOf(outcome))
		}
		result.Phases = append(result.Phases, PhaseDone)
		logger.Info().Int("events", len(result.Events)).Msg("Hour fetched")
		return result, cred, nil
	}

	minuteFallbacksTotal.Inc()
	logger.Info().
		Err(outcome.Reason).
		Int("discarded", len(outcome.Events)).
		Msg("Falling back to minute windows")

	result.MinuteFallback = true
	result.Phases = append(result.Phases, PhaseMinuteFallback)

	events, gaps, cred, err := s.FetchMinutes(ctx, cred, hour)
	result.Events = events
	result.Gaps = gaps
	if err != nil {
		return result, cred, err
	}

	result.Phases = append(result.Phases, PhaseDone)
	logger.Info().
		Int("events", len(result.Events)).
		Int("gaps", len(result.Gaps)).
		Msg("Hour fetched minute by minute")
	return result, cred, nil
}

// FetchMinutes retrieves each minute of hour without an offset ceiling and
// concatenates the results in minute order. Minutes that end degraded or
// still ask for subdivision are reported as gaps; they are not split further.
func (s *Scheduler) FetchMinutes(ctx context.Context, cred auth.Credential, hour window.TimeWindow) ([]json.RawMessage, []Gap, auth.Credential, error) {
	var (
		events []json.RawMessage
		gaps   []Gap
	)

	for _, minute := range hour.Minutes() {
		outcome, next, err := s.fetcher.Fetch(ctx, cred, s.request(minute), 0)
		cred = next
		events = append(events, outcome.Events...)
		if err != nil {
			return events, gaps, cred, err
		}

		if outcome.State != pagination.StateComplete {
			gaps = append(gaps, gapOf(outcome))
		}
		s.logger.Debug().
			Time("window_start", minute.Start).
			Int("events", len(outcome.Events)).
			Msg("Minute fetched")
	}

	return events, gaps, cred, nil
}

func gapOf(o pagination.Outcome) Gap {
	return Gap{
		Window: o.Window,
		State:  o.State,
		Reason: o.Reason,
		Events: len(o.Events),
	}
}
