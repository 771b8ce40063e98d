package pagination

import (
	"fmt"
	"net/http"
)

// State of a window fetch.
type State string

const (
	StatePaging    State = "PAGING"
	StateRetryWait State = "RETRY_WAIT"
	StateReauth    State = "REAUTH"
	StateComplete  State = "COMPLETE"
	StateSubdivide State = "SUBDIVIDE"
	StateAborted   State = "ABORTED"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case StateComplete, StateSubdivide, StateAborted:
		return true
	default:
		return false
	}
}

type observationKind int

const (
	// obsResponse: an HTTP response was received; status and batch are set.
	obsResponse observationKind = iota
	// obsNetworkError: transport failure, no response.
	obsNetworkError
	// obsDecodeError: 200 with a body that is not a data page.
	obsDecodeError
	// obsWaited: the backoff wait finished.
	obsWaited
	// obsReauthenticated: the reauthentication attempt finished, successful or not.
	obsReauthenticated
)

// observation is what the driver saw after performing the current state's action.
type observation struct {
	kind   observationKind
	status int
	batch  int
	body   string
	err    error
}

// machine is the per-window fetch state. It is a value; next returns a new one.
type machine struct {
	state    State
	offset   int
	pageSize int

	// ceiling bounds offset; 0 means unbounded.
	ceiling int

	networkFailures int
	consecutive403  int
	pages           int

	lastNetworkErr error
	reason         error
}

// policy holds the retry budgets the transitions depend on.
type policy struct {
	maxNetworkAttempts int
	max403             int
}

func start(offset, pageSize, ceiling int) machine {
	m := machine{
		state:    StatePaging,
		offset:   offset,
		pageSize: pageSize,
		ceiling:  ceiling,
	}
	return m.checkCeiling()
}

func (m machine) checkCeiling() machine {
	if m.ceiling > 0 && m.offset >= m.ceiling {
		m.state = StateSubdivide
		m.reason = fmt.Errorf("%w: offset %d >= %d", ErrOffsetCeiling, m.offset, m.ceiling)
	}
	return m
}

// next applies one observation to m.
func next(m machine, obs observation, p policy) machine {
	switch m.state {
	case StatePaging:
		return nextFromPaging(m, obs)

	case StateRetryWait:
		if obs.kind != obsWaited {
			return m
		}
		if m.networkFailures >= p.maxNetworkAttempts {
			m.state = StateAborted
			m.reason = fmt.Errorf("%w after %d attempts: %w", ErrTransientNetwork, m.networkFailures, m.lastNetworkErr)
			return m
		}
		m.state = StatePaging
		return m

	case StateReauth:
		if obs.kind != obsReauthenticated {
			return m
		}
		if m.consecutive403 >= p.max403 {
			m.state = StateAborted
			m.reason = fmt.Errorf("%w: %d consecutive 403 responses", ErrAuthorizationExpired, m.consecutive403)
			return m
		}
		m.state = StatePaging
		return m
	}

	return m
}

func nextFromPaging(m machine, obs observation) machine {
	switch obs.kind {
	case obsNetworkError:
		m.networkFailures++
		m.lastNetworkErr = obs.err
		m.state = StateRetryWait
		return m

	case obsDecodeError:
		m.state = StateAborted
		m.reason = &UnhandledResponseError{StatusCode: obs.status, Body: obs.body, Err: obs.err}
		return m

	case obsResponse:
		m.networkFailures = 0
		m.lastNetworkErr = nil
	default:
		return m
	}

	switch obs.status {
	case http.StatusOK:
		if obs.batch == 0 {
			m.state = StateComplete
			return m
		}
		m.consecutive403 = 0
		m.offset += obs.batch
		m.pages++
		if obs.batch < m.pageSize {
			m.state = StateComplete
			return m
		}
		return m.checkCeiling()

	case http.StatusForbidden:
		m.consecutive403++
		m.state = StateReauth
		return m

	case http.StatusBadRequest, http.StatusNotFound:
		m.state = StateSubdivide
		m.reason = fmt.Errorf("%w: status %d", ErrWindowTooCoarse, obs.status)
		return m

	default:
		m.state = StateAborted
		m.reason = &UnhandledResponseError{StatusCode: obs.status, Body: obs.body}
		return m
	}
}
