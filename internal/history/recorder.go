package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/modplay/internal/observe"
	"github.com/MrWong99/modplay/internal/playback"
	"github.com/MrWong99/modplay/internal/resilience"
)

const (
	defaultQueueSize    = 64
	defaultWriteTimeout = 5 * time.Second
)

// Recorder writes session results to a [Store] from a background goroutine.
// Writes go through a circuit breaker; entries that cannot be written are
// logged, counted and dropped.
type Recorder struct {
	store   Store
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics
	log     *slog.Logger
	driver  string
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Entry
	done   chan struct{}

	written atomic.Int64
	dropped atomic.Int64
}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the logger. Defaults to [slog.Default].
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.log = l }
}

// WithRecorderMetrics sets the metrics sink. Defaults to
// [observe.DefaultMetrics].
func WithRecorderMetrics(m *observe.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) RecorderOption {
	return func(r *Recorder) { r.breaker = cb }
}

// WithQueueSize sets how many entries may wait for the writer. Default: 64.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan Entry, n)
		}
	}
}

// WithWriteTimeout bounds each store write. Default: 5s.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithDriverName labels log lines and metrics. Default: "memory".
func WithDriverName(name string) RecorderOption {
	return func(r *Recorder) { r.driver = name }
}

// NewRecorder starts a recorder writing to store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   store,
		log:     slog.Default(),
		driver:  "memory",
		timeout: defaultWriteTimeout,
		queue:   make(chan Entry, defaultQueueSize),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	if r.breaker == nil {
		r.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:   "history-" + r.driver,
			Logger: r.log,
		})
	}
	r.log = r.log.With("driver", r.driver)

	go r.loop()
	return r
}

// HandleSessionEnd queues res for writing. It never blocks, which makes it
// usable as a [playback.SessionEndFunc].
func (r *Recorder) HandleSessionEnd(res playback.SessionResult) {
	r.Add(FromResult(res))
}

// Add queues e and reports whether it was accepted. A full queue or a
// closed recorder drops the entry.
func (r *Recorder) Add(e Entry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return false
	}
	select {
	case r.queue <- e:
		return true
	default:
		r.dropped.Add(1)
		r.metrics.RecordHistoryError(context.Background(), r.driver)
		r.log.Warn("history queue full, dropping entry", "session_id", e.ID, "path", e.Path)
		return false
	}
}

// Written returns the number of entries stored.
func (r *Recorder) Written() int64 { return r.written.Load() }

// Dropped returns the number of entries that were not stored.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// BreakerState exposes the state of the write breaker.
func (r *Recorder) BreakerState() resilience.State { return r.breaker.State() }

// Close stops accepting entries and waits until the queue is drained or
// ctx is done. It does not close the store.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for e := range r.queue {
		r.write(e)
	}
}

func (r *Recorder) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.store.Record(ctx, e)
	})
	if err == nil {
		r.written.Add(1)
		return
	}

	r.dropped.Add(1)
	r.metrics.RecordHistoryError(ctx, r.driver)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		r.log.Debug("history write skipped, breaker open", "session_id", e.ID)
		return
	}
	r.log.Warn("history write failed", "session_id", e.ID, "path", e.Path, "err", err)
}
