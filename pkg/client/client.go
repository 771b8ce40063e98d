// Package client provides the HTTP client for the activity reporting API:
// one paginated activity page per call, plus the category catalogue.
//
// The client performs exactly one HTTP exchange per call. Retry, reauthentication
// and window subdivision are decided by the caller (see package pagination) from
// the returned status code and error class.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/activity-export/pkg/cache"
	"github.com/Sternrassler/activity-export/pkg/window"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for API client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_requests_total",
		Help: "Total activity API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "activity_request_duration_seconds",
		Help:    "Activity API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_errors_total",
		Help: "Total activity API errors by class",
	}, []string{"class"})
)

// API paths relative to Config.BaseURL.
const (
	ActivityPath   = "/reports/v2/activity"
	CategoriesPath = "/reports/v2/categories"
)

// maxBodySnippet bounds the response body kept in errors and logs.
const maxBodySnippet = 200

// Config holds the client configuration.
type Config struct {
	// BaseURL of the reporting API, e.g. "https://api.sse.cisco.com".
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout per HTTP exchange.
	Timeout time.Duration

	// Cache for the category catalogue (optional).
	Cache *cache.Manager

	// CategoriesTTL is how long a cached category listing stays valid.
	CategoriesTTL time.Duration

	// CacheScope separates cached listings of different organizations.
	CacheScope string
}

// DefaultConfig returns a default configuration for the given API base URL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		UserAgent:     "activity-export/1.0",
		Timeout:       60 * time.Second,
		CategoriesTTL: time.Hour,
	}
}

// Client talks to the activity reporting API.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL must be absolute (got %q)", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    base,
		config:     cfg,
		logger:     log.With().Str("component", "activity-client").Logger(),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SetLogger replaces the client logger.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// Filters narrows an activity query.
type Filters struct {
	// EventType selects a typed activity path segment (e.g. "dns", "proxy", "firewall").
	// Empty queries all activity.
	EventType string

	// CategoryIDs restricts results to the given category ids.
	CategoryIDs []int

	// Extra holds any additional query parameters passed through verbatim.
	Extra url.Values
}

// PageRequest describes one activity page.
type PageRequest struct {
	Window  window.TimeWindow
	Limit   int
	Offset  int
	Filters Filters
}

// Page is the decoded result of one HTTP exchange that produced a response.
type Page struct {
	// StatusCode of the response.
	StatusCode int

	// Events holds the raw records of a 200 response.
	Events []json.RawMessage

	// Body is a truncated copy of non-200 bodies, for diagnostics.
	Body string
}

// dataEnvelope is the {"data": [...]} shape shared by all listing endpoints.
type dataEnvelope struct {
	Data []json.RawMessage `json:"data"`
}

// Query returns the query parameters for the page.
func (r PageRequest) Query() url.Values {
	q := url.Values{}
	for key, values := range r.Filters.Extra {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	q.Set("from", strconv.FormatInt(r.Window.FromMillis(), 10))
	q.Set("to", strconv.FormatInt(r.Window.ToMillis(), 10))
	q.Set("limit", strconv.Itoa(r.Limit))
	q.Set("offset", strconv.Itoa(r.Offset))

	if len(r.Filters.CategoryIDs) > 0 {
		ids := make([]string, 0, len(r.Filters.CategoryIDs))
		for _, id := range r.Filters.CategoryIDs {
			ids = append(ids, strconv.Itoa(id))
		}
		q.Set("categories", strings.Join(ids, ","))
	}
	return q
}

// activityURL builds the page URL including the optional event type segment.
func (c *Client) activityURL(req PageRequest) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + ActivityPath
	if req.Filters.EventType != "" {
		u.Path += "/" + url.PathEscape(req.Filters.EventType)
	}
	u.RawQuery = req.Query().Encode()
	return u.String()
}

// GetActivityPage performs one activity page request.
//
// A nil error means a response was received; the caller inspects
// Page.StatusCode. Transport failures and truncated bodies are returned as
// *APIError with ErrorClassNetwork, a 200 body that does not decode as
// ErrorClassDecode. Context cancellation is returned unwrapped from the
// context so callers can test it with errors.Is.
func (c *Client) GetActivityPage(ctx context.Context, token string, req PageRequest) (*Page, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.activityURL(req), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	body, status, err := c.do(httpReq, token, "activity")
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		class := ClassifyStatus(status)
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Debug().
			Int("status", status).
			Str("error_class", string(class)).
			Int("offset", req.Offset).
			Msg("Activity page returned non-200 status")
		return &Page{StatusCode: status, Body: truncate(body, maxBodySnippet)}, nil
	}

	var envelope dataEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return &Page{StatusCode: status, Body: truncate(body, maxBodySnippet)}, &APIError{
			StatusCode: status,
			ErrorClass: ErrorClassDecode,
			Message:    "decode activity page",
			Err:        err,
		}
	}

	return &Page{StatusCode: status, Events: envelope.Data}, nil
}

// do executes the request and reads the whole body.
func (c *Client) do(req *http.Request, token, endpoint string) ([]byte, int, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, 0, &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, 0, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	return body, resp.StatusCode, nil
}

// IsContextError reports whether err stems from context cancellation or deadline.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
