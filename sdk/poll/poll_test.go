package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func scripted(responses ...Response[string]) (Poller[string], *atomic.Int32) {
	var calls atomic.Int32
	return func(ctx context.Context) (Response[string], error) {
		i := int(calls.Add(1)) - 1
		if i >= len(responses) {
			return responses[len(responses)-1], nil
		}
		return responses[i], nil
	}, &calls
}

func TestMachineTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		resp Response[string]
		err  error
		want State
	}{
		{name: "pending stays polling", resp: Response[string]{Status: StatusPending}, want: StatePolling},
		{name: "authorized", resp: Response[string]{Status: StatusAuthorized, Value: "code"}, want: StateAuthorized},
		{name: "rejected", resp: Response[string]{Status: StatusRejected}, want: StateRejected},
		{name: "expired", resp: Response[string]{Status: StatusExpired}, want: StateExpired},
		{name: "request error is not pending", resp: Response[string]{Status: StatusPending}, err: errors.New("502"), want: StateError},
		{name: "unknown status", resp: Response[string]{Status: "maybe"}, want: StateError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			clock := newFakeClock()
			m := NewMachine[string](clock.Now)
			if state, err := m.Begin(clock.Now().Add(time.Minute)); err != nil || state != StatePolling {
				t.Fatalf("Begin() = %s, %v", state, err)
			}
			if got := m.Apply(tt.resp, tt.err); got != tt.want {
				t.Fatalf("Apply() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMachineBeginPastDeadline(t *testing.T) {
	clock := newFakeClock()
	m := NewMachine[string](clock.Now)
	state, err := m.Begin(clock.Now().Add(-time.Second))
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if state != StateExpired {
		t.Fatalf("Begin() = %s, want expired", state)
	}
	if _, err = m.Begin(clock.Now().Add(time.Minute)); err == nil {
		t.Fatal("second Begin() should fail")
	}
}

func TestMachineTerminalIsAbsorbing(t *testing.T) {
	clock := newFakeClock()
	m := NewMachine[string](clock.Now)
	_, _ = m.Begin(clock.Now().Add(time.Minute))
	m.Apply(Response[string]{Status: StatusRejected}, nil)
	if got := m.Apply(Response[string]{Status: StatusAuthorized, Value: "late"}, nil); got != StateRejected {
		t.Fatalf("terminal state changed to %s", got)
	}
	if out := m.Outcome(); out.Value != "" {
		t.Fatalf("terminal machine picked up value %q", out.Value)
	}
}

func TestPendingAfterDeadlineExpires(t *testing.T) {
	clock := newFakeClock()
	m := NewMachine[string](clock.Now)
	_, _ = m.Begin(clock.Now().Add(10 * time.Second))
	clock.Advance(11 * time.Second)
	if got := m.Apply(Response[string]{Status: StatusPending}, nil); got != StateExpired {
		t.Fatalf("Apply(pending) after deadline = %s, want expired", got)
	}
}

func TestAuthorizedAfterDeadlineExpires(t *testing.T) {
	clock := newFakeClock()
	m := NewMachine[string](clock.Now)
	_, _ = m.Begin(clock.Now().Add(time.Second))
	clock.Advance(2 * time.Second)
	if got := m.Apply(Response[string]{Status: StatusAuthorized, Value: "code"}, nil); got != StateExpired {
		t.Fatalf("Apply(authorized) after deadline = %s, want expired", got)
	}
}

func TestAwaitUntilAuthorized(t *testing.T) {
	poller, calls := scripted(
		Response[string]{Status: StatusPending},
		Response[string]{Status: StatusPending},
		Response[string]{Status: StatusAuthorized, Value: "auth-code"},
	)
	loop := New(poller, Options{Interval: time.Millisecond})
	if _, err := loop.Start(time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	out, err := loop.Await(context.Background())
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if out.State != StateAuthorized || out.Value != "auth-code" {
		t.Fatalf("Await() = %+v", out)
	}
	if calls.Load() != 3 {
		t.Fatalf("poll calls = %d, want 3", calls.Load())
	}
}

func TestAwaitRejectedIsOutcome(t *testing.T) {
	poller, _ := scripted(Response[string]{Status: StatusRejected})
	loop := New(poller, Options{Interval: time.Millisecond})
	_, _ = loop.Start(time.Now().Add(time.Minute))
	out, err := loop.Await(context.Background())
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if out.State != StateRejected {
		t.Fatalf("state = %s, want rejected", out.State)
	}
}

func TestAwaitSurfacesRequestError(t *testing.T) {
	boom := errors.New("status 500")
	loop := New(func(ctx context.Context) (Response[string], error) {
		return Response[string]{}, boom
	}, Options{Interval: time.Millisecond})
	_, _ = loop.Start(time.Now().Add(time.Minute))
	out, err := loop.Await(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Await() error = %v, want %v", err, boom)
	}
	if out.State != StateError {
		t.Fatalf("state = %s, want error", out.State)
	}
}

func TestAwaitLocalDeadlineWinsOverPending(t *testing.T) {
	clock := newFakeClock()
	var calls atomic.Int32
	loop := New(func(ctx context.Context) (Response[string], error) {
		calls.Add(1)
		clock.Advance(3 * time.Second)
		return Response[string]{Status: StatusPending}, nil
	}, Options{Interval: time.Millisecond, Now: clock.Now})
	_, _ = loop.Start(clock.Now().Add(5 * time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := loop.Await(ctx)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if out.State != StateExpired {
		t.Fatalf("state = %s, want expired", out.State)
	}
	if calls.Load() != 2 {
		t.Fatalf("poll calls = %d, want 2", calls.Load())
	}
}

func TestAwaitContextCancel(t *testing.T) {
	poller, _ := scripted(Response[string]{Status: StatusPending})
	loop := New(poller, Options{Interval: time.Hour})
	_, _ = loop.Start(time.Now().Add(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := loop.Await(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Await() error = %v, want context.Canceled", err)
	}
}

func TestWatchCallsOnAuthorized(t *testing.T) {
	poller, _ := scripted(
		Response[string]{Status: StatusPending},
		Response[string]{Status: StatusAuthorized, Value: "auth-code"},
	)
	loop := New(poller, Options{Interval: time.Millisecond})
	_, _ = loop.Start(time.Now().Add(time.Minute))

	got := make(chan string, 1)
	h := loop.Watch(context.Background(), Callbacks[string]{
		OnAuthorized: func(code string) { got <- code },
		OnError:      func(err error) { t.Errorf("unexpected error: %v", err) },
	})
	select {
	case code := <-got:
		if code != "auth-code" {
			t.Fatalf("code = %q", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnAuthorized")
	}
	<-h.Done()
	h.Stop()
	h.Stop()
}

func TestWatchOnRejectedAndExpired(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		poller, _ := scripted(Response[string]{Status: StatusRejected})
		loop := New(poller, Options{Interval: time.Millisecond})
		_, _ = loop.Start(time.Now().Add(time.Minute))
		rejected := make(chan struct{})
		h := loop.Watch(context.Background(), Callbacks[string]{OnRejected: func() { close(rejected) }})
		select {
		case <-rejected:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for OnRejected")
		}
		<-h.Done()
	})
	t.Run("expired falls back to OnError", func(t *testing.T) {
		poller, _ := scripted(Response[string]{Status: StatusExpired})
		loop := New(poller, Options{Interval: time.Millisecond})
		_, _ = loop.Start(time.Now().Add(time.Minute))
		errs := make(chan error, 1)
		h := loop.Watch(context.Background(), Callbacks[string]{OnError: func(err error) { errs <- err }})
		select {
		case err := <-errs:
			if !errors.Is(err, ErrExpired) {
				t.Fatalf("OnError(%v), want ErrExpired", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for OnError")
		}
		<-h.Done()
	})
}

func TestWatchStopDiscardsLateResponse(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	loop := New(func(ctx context.Context) (Response[string], error) {
		close(started)
		<-release
		return Response[string]{Status: StatusAuthorized, Value: "late"}, nil
	}, Options{Interval: time.Millisecond})
	_, _ = loop.Start(time.Now().Add(time.Minute))

	var fired atomic.Bool
	h := loop.Watch(context.Background(), Callbacks[string]{
		OnAuthorized: func(string) { fired.Store(true) },
		OnError:      func(error) { fired.Store(true) },
	})
	<-started
	h.Stop()
	close(release)
	<-h.Done()
	time.Sleep(20 * time.Millisecond)

	if fired.Load() {
		t.Fatal("callback fired after Stop")
	}
	if state := h.State(); state != StatePolling {
		t.Fatalf("state after Stop = %s, want polling", state)
	}
	h.Stop()
}

func TestWatchTicksDoNotOverlap(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	var calls atomic.Int32
	loop := New(func(ctx context.Context) (Response[string], error) {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		if calls.Add(1) == 5 {
			return Response[string]{Status: StatusAuthorized, Value: "ok"}, nil
		}
		return Response[string]{Status: StatusPending}, nil
	}, Options{Interval: time.Microsecond})
	_, _ = loop.Start(time.Now().Add(time.Minute))

	h := loop.Watch(context.Background(), Callbacks[string]{})
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	if maxInFlight.Load() != 1 {
		t.Fatalf("max concurrent requests = %d, want 1", maxInFlight.Load())
	}
}

func TestWatchStoppedTickDoesNotExpire(t *testing.T) {
	clock := newFakeClock()
	first := make(chan struct{})
	var once sync.Once
	loop := New(func(ctx context.Context) (Response[string], error) {
		once.Do(func() { close(first) })
		return Response[string]{Status: StatusPending}, nil
	}, Options{Interval: time.Hour, Now: clock.Now})
	_, _ = loop.Start(clock.Now().Add(time.Minute))

	var fired atomic.Bool
	h := loop.Watch(context.Background(), Callbacks[string]{
		OnExpired: func() { fired.Store(true) },
		OnError:   func(error) { fired.Store(true) },
	})
	<-first
	h.Stop()
	clock.Advance(2 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.tick()
		}()
	}
	wg.Wait()

	if state := h.State(); state != StatePolling {
		t.Fatalf("state after Stop = %s, want polling", state)
	}
	if fired.Load() {
		t.Fatal("callback fired after Stop")
	}
}
