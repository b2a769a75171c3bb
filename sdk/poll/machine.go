// Package poll implements the authorization poll loop shared by the SSO, OIDC and Solana
// flows. The state machine lives in Machine and is driven either by the blocking Await
// driver or by the timer based Watch driver.
package poll

import (
	"fmt"
	"sync"
	"time"

	"github.com/alien-org/alien-sso-go/sdk/ssoerr"
)

// State is the state of one poll loop instance.
type State string

const (
	StateIdle       State = "idle"
	StatePolling    State = "polling"
	StateAuthorized State = "authorized"
	StateRejected   State = "rejected"
	StateExpired    State = "expired"
	StateError      State = "error"
)

// Terminal reports whether no further transitions can happen from s.
func (s State) Terminal() bool {
	switch s {
	case StateAuthorized, StateRejected, StateExpired, StateError:
		return true
	default:
		return false
	}
}

// Status is the provider reported outcome of a single poll request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusRejected   Status = "rejected"
	StatusExpired    Status = "expired"
)

// Response is a decoded poll reply. Value carries the payload of an authorized reply.
type Response[T any] struct {
	Status Status
	Value  T
}

// Machine holds the poll state as data. It is safe for concurrent use.
type Machine[T any] struct {
	mu        sync.Mutex
	state     State
	expiredAt time.Time
	now       func() time.Time
	value     T
	err       error
}

// NewMachine returns an idle machine. A nil now uses time.Now.
func NewMachine[T any](now func() time.Time) *Machine[T] {
	if now == nil {
		now = time.Now
	}
	return &Machine[T]{state: StateIdle, now: now}
}

// Begin moves an idle machine to polling when expiredAt lies in the future,
// or straight to expired otherwise. Calling Begin on a non-idle machine is an error.
func (m *Machine[T]) Begin(expiredAt time.Time) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return m.state, fmt.Errorf("poll: cannot begin from state %s", m.state)
	}
	m.expiredAt = expiredAt
	if !m.now().Before(expiredAt) {
		m.state = StateExpired
		return m.state, nil
	}
	m.state = StatePolling
	return m.state, nil
}

// CheckDeadline expires a polling machine whose deadline has passed.
func (m *Machine[T]) CheckDeadline() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkDeadlineLocked()
	return m.state
}

func (m *Machine[T]) checkDeadlineLocked() {
	if m.state == StatePolling && !m.now().Before(m.expiredAt) {
		m.state = StateExpired
	}
}

// Apply feeds the result of one poll request into the machine and returns the new state.
// A request error always moves to StateError; it is never treated as pending.
// The local deadline wins over whatever status the provider reported.
func (m *Machine[T]) Apply(resp Response[T], err error) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePolling {
		return m.state
	}
	if err != nil {
		m.state = StateError
		m.err = err
		return m.state
	}
	m.checkDeadlineLocked()
	if m.state != StatePolling {
		return m.state
	}
	switch resp.Status {
	case StatusPending:
	case StatusAuthorized:
		m.state = StateAuthorized
		m.value = resp.Value
	case StatusRejected:
		m.state = StateRejected
	case StatusExpired:
		m.state = StateExpired
	default:
		m.state = StateError
		m.err = &ssoerr.ValidationError{Op: "poll", Field: "status", Message: fmt.Sprintf("unknown status %q", resp.Status)}
	}
	return m.state
}

// Fail moves a non-terminal machine to StateError.
func (m *Machine[T]) Fail(err error) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Terminal() {
		m.state = StateError
		m.err = err
	}
	return m.state
}

// State returns the current state.
func (m *Machine[T]) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Outcome snapshots the machine.
func (m *Machine[T]) Outcome() Outcome[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Outcome[T]{State: m.state, Value: m.value, Err: m.err}
}

// ExpiredAt returns the deadline passed to Begin.
func (m *Machine[T]) ExpiredAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiredAt
}

// Outcome is the final (or current) result of a poll loop.
type Outcome[T any] struct {
	State State
	Value T
	Err   error
}
