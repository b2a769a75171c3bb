package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultInterval is the delay between two poll requests.
const DefaultInterval = 5 * time.Second

// ErrExpired is passed to Callbacks.OnError when no OnExpired callback is set.
var ErrExpired = errors.New("poll: authorization expired")

// Poller performs one poll request.
type Poller[T any] func(ctx context.Context) (Response[T], error)

// Options tunes a Loop. Zero values select the defaults.
type Options struct {
	Interval time.Duration
	Now      func() time.Time
}

func (o Options) interval() time.Duration {
	if o.Interval <= 0 {
		return DefaultInterval
	}
	return o.Interval
}

// Loop binds a Machine to a Poller. Ticks are strictly sequential: the next request is
// only issued once the previous response has been applied.
type Loop[T any] struct {
	machine  *Machine[T]
	poll     Poller[T]
	interval time.Duration
}

// New creates an idle loop.
func New[T any](poller Poller[T], opts Options) *Loop[T] {
	return &Loop[T]{
		machine:  NewMachine[T](opts.Now),
		poll:     poller,
		interval: opts.interval(),
	}
}

// Machine exposes the underlying state machine.
func (l *Loop[T]) Machine() *Machine[T] { return l.machine }

// Start arms the loop with the provider supplied deadline.
func (l *Loop[T]) Start(expiredAt time.Time) (State, error) {
	return l.machine.Begin(expiredAt)
}

// Step performs exactly one tick: the deadline is checked first, then a single
// request is issued and applied. Steps on a terminal machine are no-ops.
func (l *Loop[T]) Step(ctx context.Context) State {
	if state := l.machine.CheckDeadline(); state != StatePolling {
		return state
	}
	resp, err := l.poll(ctx)
	state := l.machine.Apply(resp, err)
	log.Debugf("poll: tick status=%s state=%s", resp.Status, state)
	return state
}

// Await drives the loop until it reaches a terminal state or ctx is done.
// Rejected and expired are returned as outcomes, not errors. The returned error is the
// request error for StateError, or the context error on cancellation.
func (l *Loop[T]) Await(ctx context.Context) (Outcome[T], error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		state := l.Step(ctx)
		if state == StateIdle {
			return l.machine.Outcome(), fmt.Errorf("poll: loop not started")
		}
		if state.Terminal() {
			out := l.machine.Outcome()
			return out, out.Err
		}

		if timer == nil {
			timer = time.NewTimer(l.interval)
		} else {
			timer.Reset(l.interval)
		}
		select {
		case <-ctx.Done():
			l.machine.Fail(ctx.Err())
			return l.machine.Outcome(), fmt.Errorf("poll: context cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// Callbacks receive the terminal outcome of a Watch loop. Nil callbacks are skipped.
type Callbacks[T any] struct {
	OnAuthorized func(T)
	OnRejected   func()
	// OnExpired falls back to OnError(ErrExpired) when nil.
	OnExpired func()
	OnError   func(error)
}

// Handle controls a timer driven loop started with Watch.
type Handle[T any] struct {
	loop   *Loop[T]
	cb     Callbacks[T]
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	timer    *time.Timer
	stopped  bool
	doneOnce sync.Once
	done     chan struct{}
}

// Watch runs the loop on timers and reports the outcome through cb. The first request is
// issued immediately; each following one is armed after the previous response.
// The loop must already be started; Watch on an idle loop reports an error.
func (l *Loop[T]) Watch(ctx context.Context, cb Callbacks[T]) *Handle[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithCancel(ctx)
	h := &Handle[T]{
		loop:   l,
		cb:     cb,
		ctx:    cctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.timer = time.AfterFunc(0, h.tick)
	h.mu.Unlock()
	return h
}

func (h *Handle[T]) tick() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	state := h.loop.machine.State()
	if state == StateIdle {
		h.loop.machine.Fail(fmt.Errorf("poll: loop not started"))
		h.mu.Unlock()
		h.finish()
		return
	}
	state = h.loop.machine.CheckDeadline()
	h.mu.Unlock()

	if !state.Terminal() {
		resp, err := h.loop.poll(h.ctx)
		h.mu.Lock()
		if h.stopped {
			// late response after Stop
			h.mu.Unlock()
			return
		}
		state = h.loop.machine.Apply(resp, err)
		h.mu.Unlock()
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	if !state.Terminal() {
		h.timer = time.AfterFunc(h.loop.interval, h.tick)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	h.finish()
}

func (h *Handle[T]) finish() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()
	h.cancel()

	out := h.loop.machine.Outcome()
	switch out.State {
	case StateAuthorized:
		if h.cb.OnAuthorized != nil {
			h.cb.OnAuthorized(out.Value)
		}
	case StateRejected:
		if h.cb.OnRejected != nil {
			h.cb.OnRejected()
		}
	case StateExpired:
		if h.cb.OnExpired != nil {
			h.cb.OnExpired()
		} else if h.cb.OnError != nil {
			h.cb.OnError(ErrExpired)
		}
	case StateError:
		if h.cb.OnError != nil {
			h.cb.OnError(out.Err)
		}
	}
	h.doneOnce.Do(func() { close(h.done) })
}

// Stop halts the loop. Further ticks are not issued and a response for an in-flight
// request is discarded. Stop is idempotent and safe after the loop has finished.
func (h *Handle[T]) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	if h.timer != nil {
		h.timer.Stop()
	}
	h.mu.Unlock()
	h.cancel()
	h.doneOnce.Do(func() { close(h.done) })
}

// Done is closed once the loop finished or was stopped.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// State returns the state of the underlying machine.
func (h *Handle[T]) State() State { return h.loop.machine.State() }
