package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newBreaker(t *testing.T, maxFailures, halfOpenMax int) (*CircuitBreaker, *clock, *[]State) {
	t.Helper()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	var (
		mu    sync.Mutex
		trail []State
	)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  maxFailures,
		ResetTimeout: time.Minute,
		HalfOpenMax:  halfOpenMax,
		Now:          clk.Now,
		OnStateChange: func(_, to State) {
			mu.Lock()
			trail = append(trail, to)
			mu.Unlock()
		},
	})
	return cb, clk, &trail
}

func fail(context.Context) error { return errBoom }
func ok(context.Context) error   { return nil }

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d %s %d", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	cb, _, trail := newBreaker(t, 3, 1)
	ctx := context.Background()

	for i := range 3 {
		if err := cb.Execute(ctx, fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v, want errBoom", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open breaker: err = %v, called = %v", err, called)
	}
	if len(*trail) != 1 || (*trail)[0] != StateOpen {
		t.Errorf("transitions = %v", *trail)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	cb, _, _ := newBreaker(t, 3, 1)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, ok)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)

	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenCloses(t *testing.T) {
	t.Parallel()
	cb, clk, trail := newBreaker(t, 1, 2)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.Advance(time.Minute)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", cb.State())
	}

	if err := cb.Execute(ctx, ok); err != nil {
		t.Fatalf("probe 1: %v", err)
	}
	if err := cb.Execute(ctx, ok); err != nil {
		t.Fatalf("probe 2: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(*trail) != len(want) {
		t.Fatalf("transitions = %v, want %v", *trail, want)
	}
	for i := range want {
		if (*trail)[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, (*trail)[i], want[i])
		}
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	cb, clk, _ := newBreaker(t, 1, 3)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.Advance(time.Minute)
	_ = cb.Execute(ctx, fail)

	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}
	clk.Advance(30 * time.Second)
	if err := cb.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen before the timeout elapses again", err)
	}
}

func TestCircuitBreaker_ProbeBudget(t *testing.T) {
	t.Parallel()
	cb, clk, _ := newBreaker(t, 1, 1)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.Advance(time.Minute)

	// Hold the single probe open and try a second call.
	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	if err := cb.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe: err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()
	cb, _, _ := newBreaker(t, 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()
	cb, _, trail := newBreaker(t, 1, 1)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.State())
	}
	if err := cb.Execute(ctx, ok); err != nil {
		t.Errorf("after reset: %v", err)
	}
	if got := (*trail)[len(*trail)-1]; got != StateClosed {
		t.Errorf("last transition = %s, want closed", got)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
