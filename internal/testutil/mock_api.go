// Package testutil provides testing utilities for the activity export client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Paths served by the mock API.
const (
	TokenPath      = "/auth/v2/token"
	ActivityPath   = "/reports/v2/activity"
	CategoriesPath = "/reports/v2/categories"
)

// MockResponse defines a scripted response for one activity request.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration

	// Drop closes the connection without a response, producing a client-side
	// network error.
	Drop bool
}

// ActivityRequest records one activity request as seen by the server.
type ActivityRequest struct {
	Path   string
	From   int64
	To     int64
	Limit  int
	Offset int
	Token  string
	Query  map[string]string
}

// mockEvent is a stored event with its timestamp in epoch milliseconds.
type mockEvent struct {
	at  int64
	raw json.RawMessage
}

// MockActivityAPI is a configurable mock of the reporting API. By default it behaves
// as a correct server: it returns the stored events whose timestamp lies in
// [from, to], ordered by time, sliced by offset and limit.
type MockActivityAPI struct {
	server *httptest.Server
	mu     sync.Mutex

	clientID     string
	clientSecret string
	tokenSeq     int
	validTokens  map[string]bool

	events     []mockEvent
	categories string
	queue      []MockResponse

	// windowStatus, when set, overrides the status for a window (0 means serve normally).
	windowStatus func(from, to int64) int

	requests      []ActivityRequest
	tokenRequests int
}

// NewMockActivityAPI creates a mock API accepting the given client credentials.
func NewMockActivityAPI(clientID, clientSecret string) *MockActivityAPI {
	mock := &MockActivityAPI{
		clientID:     clientID,
		clientSecret: clientSecret,
		validTokens:  make(map[string]bool),
		categories:   `{"data":[]}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(TokenPath, mock.handleToken)
	mux.HandleFunc(CategoriesPath, mock.handleCategories)
	mux.HandleFunc(ActivityPath, mock.handleActivity)
	mux.HandleFunc(ActivityPath+"/", mock.handleActivity)
	// Without keep-alives a dropped connection is never silently retried by the transport.
	mock.server = httptest.NewUnstartedServer(mux)
	mock.server.Config.SetKeepAlivesEnabled(false)
	mock.server.Start()

	return mock
}

// URL returns the mock server URL.
func (m *MockActivityAPI) URL() string {
	return m.server.URL
}

// TokenURL returns the token endpoint URL.
func (m *MockActivityAPI) TokenURL() string {
	return m.server.URL + TokenPath
}

// Close shuts down the mock server.
func (m *MockActivityAPI) Close() {
	m.server.Close()
}

// AddEvents stores events; each must carry a numeric "timestamp" in epoch milliseconds.
func (m *MockActivityAPI) AddEvents(events ...json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, raw := range events {
		var probe struct {
			Timestamp int64 `json:"timestamp"`
		}
		_ = json.Unmarshal(raw, &probe)
		m.events = append(m.events, mockEvent{at: probe.Timestamp, raw: raw})
	}
	sort.SliceStable(m.events, func(i, j int) bool { return m.events[i].at < m.events[j].at })
}

// SetCategories sets the category catalogue body.
func (m *MockActivityAPI) SetCategories(body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories = body
}

// Enqueue scripts the next activity responses; they are consumed in order
// before the server falls back to serving stored events.
func (m *MockActivityAPI) Enqueue(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, responses...)
}

// SetWindowStatus installs a per-window status override.
func (m *MockActivityAPI) SetWindowStatus(fn func(from, to int64) int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windowStatus = fn
}

// RevokeTokens invalidates every issued token, so the next activity request gets 403.
func (m *MockActivityAPI) RevokeTokens() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validTokens = make(map[string]bool)
}

// Requests returns a copy of the recorded activity requests.
func (m *MockActivityAPI) Requests() []ActivityRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ActivityRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// TokenRequests returns the number of token requests.
func (m *MockActivityAPI) TokenRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenRequests
}

// IssueToken registers and returns a valid token without an HTTP round trip.
func (m *MockActivityAPI) IssueToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issueTokenLocked()
}

func (m *MockActivityAPI) issueTokenLocked() string {
	m.tokenSeq++
	token := fmt.Sprintf("token-%d", m.tokenSeq)
	m.validTokens[token] = true
	return token
}

func (m *MockActivityAPI) handleToken(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.tokenRequests++
	m.mu.Unlock()

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
		writeJSON(w, http.StatusBadRequest, `{"error":"unsupported_grant_type"}`)
		return
	}
	id, secret, ok := r.BasicAuth()
	if !ok || id != m.clientID || secret != m.clientSecret {
		writeJSON(w, http.StatusUnauthorized, `{"error":"invalid_client"}`)
		return
	}

	m.mu.Lock()
	token := m.issueTokenLocked()
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, fmt.Sprintf(`{"access_token":%q,"token_type":"bearer","expires_in":3600}`, token))
}

func (m *MockActivityAPI) handleCategories(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	body := m.categories
	valid := m.validTokens[bearer(r)]
	m.mu.Unlock()

	if !valid {
		writeJSON(w, http.StatusForbidden, `{"error":"forbidden"}`)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (m *MockActivityAPI) handleActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ActivityRequest{
		Path:  r.URL.Path,
		Token: bearer(r),
		Query: make(map[string]string),
	}
	req.From, _ = strconv.ParseInt(q.Get("from"), 10, 64)
	req.To, _ = strconv.ParseInt(q.Get("to"), 10, 64)
	req.Limit, _ = strconv.Atoi(q.Get("limit"))
	req.Offset, _ = strconv.Atoi(q.Get("offset"))
	for key := range q {
		req.Query[key] = q.Get(key)
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var scripted *MockResponse
	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		scripted = &next
	}
	valid := m.validTokens[req.Token]
	windowStatus := m.windowStatus
	m.mu.Unlock()

	if scripted != nil {
		m.writeScripted(w, *scripted)
		return
	}

	if !valid {
		writeJSON(w, http.StatusForbidden, `{"error":"forbidden"}`)
		return
	}

	if windowStatus != nil {
		if status := windowStatus(req.From, req.To); status != 0 {
			writeJSON(w, status, `{"error":"window rejected"}`)
			return
		}
	}

	writeJSON(w, http.StatusOK, m.page(req))
}

// page renders the stored events of the requested window and page.
func (m *MockActivityAPI) page(req ActivityRequest) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var inWindow []json.RawMessage
	for _, ev := range m.events {
		if ev.at >= req.From && ev.at <= req.To {
			inWindow = append(inWindow, ev.raw)
		}
	}

	start := req.Offset
	if start > len(inWindow) {
		start = len(inWindow)
	}
	end := len(inWindow)
	if req.Limit > 0 && start+req.Limit < end {
		end = start + req.Limit
	}

	data, _ := json.Marshal(struct {
		Data []json.RawMessage `json:"data"`
	}{Data: append([]json.RawMessage{}, inWindow[start:end]...)})
	return string(data)
}

func (m *MockActivityAPI) writeScripted(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	if resp.Drop {
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, err := hj.Hijack()
			if err == nil {
				conn.Close()
				return
			}
		}
	}
	writeJSON(w, resp.StatusCode, resp.Body)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body != "" {
		w.Write([]byte(body))
	}
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// SyntheticEvents returns n events spread uniformly across [start, start+span).
// Each event carries "id", "timestamp" (epoch ms) and "type".
func SyntheticEvents(start time.Time, span time.Duration, n int) []json.RawMessage {
	events := make([]json.RawMessage, 0, n)
	if n == 0 {
		return events
	}
	step := span / time.Duration(n)
	for i := 0; i < n; i++ {
		at := start.Add(time.Duration(i) * step).UnixMilli()
		events = append(events, json.RawMessage(fmt.Sprintf(`{"id":%d,"timestamp":%d,"type":"dns"}`, i, at)))
	}
	return events
}

// NewPageResponse creates a 200 response holding n synthetic records.
func NewPageResponse(n int) MockResponse {
	records := make([]string, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, fmt.Sprintf(`{"id":%d}`, i))
	}
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"data":[` + strings.Join(records, ",") + `]}`,
	}
}

// NewStatusResponse creates an error response with the given status.
func NewStatusResponse(status int) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       fmt.Sprintf(`{"error":"status %d"}`, status),
	}
}

// NewDropResponse creates a response that closes the connection.
func NewDropResponse() MockResponse {
	return MockResponse{Drop: true}
}
