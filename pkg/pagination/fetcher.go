package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Sternrassler/activity-export/pkg/auth"
	"github.com/Sternrassler/activity-export/pkg/client"
	"github.com/Sternrassler/activity-export/pkg/window"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for window fetches.
var (
	windowOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_window_outcomes_total",
		Help: "Total window fetches by granularity and terminal state",
	}, []string{"granularity", "state"})

	pageRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activity_page_retries_total",
		Help: "Total page retries after transient network failures",
	})

	reauthenticationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_reauthentications_total",
		Help: "Total reauthentications triggered by HTTP 403, by result",
	}, []string{"result"})

	eventsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activity_events_fetched_total",
		Help: "Total activity events retrieved",
	})
)

// PageGetter performs one activity page request.
type PageGetter interface {
	GetActivityPage(ctx context.Context, token string, req client.PageRequest) (*client.Page, error)
}

// Admitter gates every page request. A nil Admitter admits unconditionally.
type Admitter interface {
	Admit(ctx context.Context) error
}

// Reauthenticator replaces an expired credential.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) (auth.Credential, error)
}

// Config holds the fetcher configuration.
type Config struct {
	// PageSize is the limit sent with every page request.
	PageSize int

	// Retry is the backoff policy for transient network failures.
	Retry client.RetryConfig

	// MaxConsecutive403 is the number of consecutive 403 responses on a page
	// before the window is aborted.
	MaxConsecutive403 int

	// ReauthFailureDelay is the pause after a failed reauthentication.
	ReauthFailureDelay time.Duration
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:           1000,
		Retry:              client.DefaultRetryConfig(),
		MaxConsecutive403:  5,
		ReauthFailureDelay: 5 * time.Second,
	}
}

// Request describes one window fetch.
type Request struct {
	Window window.TimeWindow

	// Offset to start paging from, usually 0.
	Offset int

	// PageSize overrides Config.PageSize when positive.
	PageSize int

	Filters client.Filters
}

// Outcome is the result of one window fetch.
type Outcome struct {
	Window window.TimeWindow

	// Events in the order the API returned them.
	Events []json.RawMessage

	// Exhausted is true when paging reached the end of the window.
	Exhausted bool

	// NeedsSubdivision is true when the window cannot be fully retrieved by paging.
	NeedsSubdivision bool

	State  State
	Reason error

	// Pages counts non-empty 200 pages; Requests counts every page request issued.
	Pages    int
	Requests int
}

// Degraded reports whether the window ended with partial results and no
// subdivision to recover them.
func (o Outcome) Degraded() bool {
	return o.State == StateAborted
}

// Fetcher retrieves windows, one request at a time. A Fetcher is not safe
// for concurrent use.
type Fetcher struct {
	pages   PageGetter
	limiter Admitter
	tokens  Reauthenticator
	config  Config
	logger  zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a window fetcher.
func NewFetcher(pages PageGetter, limiter Admitter, tokens Reauthenticator, cfg Config, logger zerolog.Logger) *Fetcher {
	defaults := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaults.PageSize
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = defaults.Retry
	}
	if cfg.MaxConsecutive403 <= 0 {
		cfg.MaxConsecutive403 = defaults.MaxConsecutive403
	}
	if cfg.ReauthFailureDelay < 0 {
		cfg.ReauthFailureDelay = 0
	}

	return &Fetcher{
		pages:   pages,
		limiter: limiter,
		tokens:  tokens,
		config:  cfg,
		logger:  logger.With().Str("component", "window-fetcher").Logger(),
		sleep:   sleepContext,
	}
}

// SetSleep replaces the wait function (for testing).
func (f *Fetcher) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	f.sleep = sleep
}

// SetLogger replaces the fetcher logger.
func (f *Fetcher) SetLogger(logger zerolog.Logger) {
	f.logger = logger.With().Str("component", "window-fetcher").Logger()
}

// Config returns the fetcher configuration.
func (f *Fetcher) Config() Config {
	return f.config
}

// Fetch pages through req.Window. ceiling bounds the offset; 0 means
// unbounded. It returns the credential in use at the end, which differs from
// cred after a reauthentication. The error is non-nil only when ctx is done.
func (f *Fetcher) Fetch(ctx context.Context, cred auth.Credential, req Request, ceiling int) (Outcome, auth.Credential, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = f.config.PageSize
	}
	p := policy{
		maxNetworkAttempts: f.config.Retry.MaxAttempts,
		max403:             f.config.MaxConsecutive403,
	}

	logger := f.logger.With().
		Time("window_start", req.Window.Start).
		Time("window_end", req.Window.End).
		Logger()

	out := Outcome{Window: req.Window}
	m := start(req.Offset, pageSize, ceiling)

	for !m.state.Terminal() {
		switch m.state {
		case StatePaging:
			if f.limiter != nil {
				if err := f.limiter.Admit(ctx); err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return f.finish(out, m, logger), cred, ctxErr
					}
					logger.Warn().Err(err).Msg("Rate limiter failed, issuing request anyway")
				}
			}

			logger.Trace().
				Int("offset", m.offset).
				Int("limit", pageSize).
				Msg("Requesting page")
			out.Requests++
			page, err := f.pages.GetActivityPage(ctx, cred.Token, client.PageRequest{
				Window:  req.Window,
				Limit:   pageSize,
				Offset:  m.offset,
				Filters: req.Filters,
			})
			if err != nil && client.IsContextError(err) {
				return f.finish(out, m, logger), cred, err
			}

			obs := observe(page, err)
			if obs.kind == obsResponse && obs.status == http.StatusOK {
				out.Events = append(out.Events, page.Events...)
			}
			logger.Debug().
				Int("offset", m.offset).
				Int("status", obs.status).
				Int("events", obs.batch).
				Msg("Page fetched")
			m = next(m, obs, p)

		case StateRetryWait:
			wait := f.config.Retry.Backoff(m.networkFailures - 1)
			logger.Warn().
				Err(m.lastNetworkErr).
				Int("offset", m.offset).
				Int("attempt", m.networkFailures).
				Dur("wait", wait).
				Msg("Network error, retrying page")
			pageRetriesTotal.Inc()
			if err := f.sleep(ctx, wait); err != nil {
				return f.finish(out, m, logger), cred, err
			}
			m = next(m, observation{kind: obsWaited}, p)

		case StateReauth:
			logger.Warn().
				Int("offset", m.offset).
				Int("attempt", m.consecutive403).
				Msg("HTTP 403, renewing token and retrying page")

			fresh, err := f.reauthenticate(ctx)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return f.finish(out, m, logger), cred, ctxErr
				}
				reauthenticationsTotal.WithLabelValues("error").Inc()
				logger.Error().Err(err).Dur("wait", f.config.ReauthFailureDelay).Msg("Token renewal failed")
				if err := f.sleep(ctx, f.config.ReauthFailureDelay); err != nil {
					return f.finish(out, m, logger), cred, err
				}
			} else {
				reauthenticationsTotal.WithLabelValues("ok").Inc()
				cred = fresh
			}
			m = next(m, observation{kind: obsReauthenticated}, p)
		}
	}

	return f.finish(out, m, logger), cred, nil
}

func (f *Fetcher) reauthenticate(ctx context.Context) (auth.Credential, error) {
	if f.tokens == nil {
		return auth.Credential{}, errors.New("no token provider configured")
	}
	return f.tokens.Reauthenticate(ctx)
}

// finish fills the outcome from the final machine state and reports it.
func (f *Fetcher) finish(out Outcome, m machine, logger zerolog.Logger) Outcome {
	out.State = m.state
	out.Reason = m.reason
	out.Pages = m.pages
	out.Exhausted = m.state == StateComplete
	out.NeedsSubdivision = m.state == StateSubdivide

	if !m.state.Terminal() {
		return out
	}

	windowOutcomesTotal.WithLabelValues(granularity(out.Window), string(m.state)).Inc()
	eventsFetchedTotal.Add(float64(len(out.Events)))

	switch m.state {
	case StateAborted:
		logger.Error().
			Err(m.reason).
			Str("state", string(m.state)).
			Int("offset", m.offset).
			Int("events", len(out.Events)).
			Msg("Window aborted, returning partial results")
	case StateSubdivide:
		logger.Warn().
			Err(m.reason).
			Str("state", string(m.state)).
			Int("offset", m.offset).
			Int("events", len(out.Events)).
			Msg("Window needs subdivision")
	default:
		logger.Debug().
			Int("pages", m.pages).
			Int("events", len(out.Events)).
			Msg("Window complete")
	}
	return out
}

// observe turns the client result into a state machine observation.
func observe(page *client.Page, err error) observation {
	if errors.Is(err, client.ErrMissingToken) {
		// No token yet is handled like a rejected one.
		return observation{kind: obsResponse, status: http.StatusForbidden}
	}
	if err != nil {
		switch client.ClassOf(err) {
		case client.ErrorClassDecode:
			obs := observation{kind: obsDecodeError, err: err}
			if page != nil {
				obs.status = page.StatusCode
				obs.body = page.Body
			}
			return obs
		default:
			// Transport failures, and anything else the client could not classify.
			return observation{kind: obsNetworkError, err: err}
		}
	}

	return observation{
		kind:   obsResponse,
		status: page.StatusCode,
		batch:  len(page.Events),
		body:   page.Body,
	}
}

func granularity(w window.TimeWindow) string {
	switch w.Duration() {
	case time.Hour:
		return "hour"
	case time.Minute:
		return "minute"
	default:
		return "other"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
