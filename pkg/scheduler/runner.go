package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/activity-export/pkg/auth"
	"github.com/Sternrassler/activity-export/pkg/sink"
	"github.com/Sternrassler/activity-export/pkg/window"
	"github.com/rs/zerolog"
)

// RunRequest selects the days to export.
type RunRequest struct {
	Year  int
	Month time.Month

	// Days of the month; see window.MonthDays.
	Days []int

	// Location anchors the hours; nil means local time.
	Location *time.Location

	// Destination name passed to the sink, e.g. sink.MonthlyName(...).
	Destination string
}

// Summary reports a finished (or interrupted) run.
type Summary struct {
	RunID           string
	Hours           int
	Events          int
	MinuteFallbacks int
	Gaps            []Gap
	Elapsed         time.Duration
}

// Runner fetches every hour of the requested days in order and flushes each
// hour to the sink before moving on.
type Runner struct {
	scheduler *Scheduler
	sink      sink.EventSink
	runID     string
	logger    zerolog.Logger
	now       func() time.Time
}

// NewRunner creates a runner.
func NewRunner(scheduler *Scheduler, s sink.EventSink, runID string, logger zerolog.Logger) *Runner {
	return &Runner{
		scheduler: scheduler,
		sink:      s,
		runID:     runID,
		logger:    logger.With().Str("component", "runner").Str("run_id", runID).Logger(),
		now:       time.Now,
	}
}

// Run exports the requested days. It stops at the first sink failure or when
// ctx is done; hours already written stay written. The summary covers the
// hours processed so far in either case.
func (r *Runner) Run(ctx context.Context, cred auth.Credential, req RunRequest) (Summary, auth.Credential, error) {
	started := r.now()
	summary := Summary{RunID: r.runID}

	for i, day := range req.Days {
		r.logger.Info().
			Int("day", day).
			Str("progress", fmt.Sprintf("%d/%d", i+1, len(req.Days))).
			Msg("Processing day")

		for _, hour := range window.DayHours(req.Year, req.Month, day, req.Location) {
			r.logger.Info().Dur("elapsed", r.now().Sub(started)).Msg("Elapsed")

			result, next, err := r.scheduler.FetchHour(ctx, cred, hour.Start)
			cred = next
			if err != nil {
				summary.Elapsed = r.now().Sub(started)
				return summary, cred, fmt.Errorf("fetch hour %s: %w", hour, err)
			}

			dest := sink.Destination{Name: req.Destination, Hour: hour}
			if err := r.sink.Write(ctx, dest, result.Events); err != nil {
				summary.Elapsed = r.now().Sub(started)
				return summary, cred, fmt.Errorf("write hour %s: %w", hour, err)
			}

			summary.Hours++
			summary.Events += len(result.Events)
			if result.MinuteFallback {
				summary.MinuteFallbacks++
			}
			summary.Gaps = append(summary.Gaps, result.Gaps...)
		}
	}

	summary.Elapsed = r.now().Sub(started)
	r.logger.Info().
		Int("hours", summary.Hours).
		Int("events", summary.Events).
		Int("minute_fallbacks", summary.MinuteFallbacks).
		Int("gaps", len(summary.Gaps)).
		Dur("elapsed", summary.Elapsed).
		Msg("Run complete")

	for _, gap := range summary.Gaps {
		r.logger.Warn().
			Err(gap.Reason).
			Time("window_start", gap.Window.Start).
			Time("window_end", gap.Window.End).
			Str("state", string(gap.State)).
			Int("events", gap.Events).
			Msg("Incomplete window, re-run to fill the gap")
	}

	return summary, cred, nil
}
