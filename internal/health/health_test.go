package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func readyz(h *Handler, ctx context.Context) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)
	return rec
}

type fakePinger struct {
	err   error
	calls atomic.Int32
}

func (p *fakePinger) Ping(context.Context) error {
	p.calls.Add(1)
	return p.err
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New(ErrChecker("playback", func() error { return errors.New("faulted") }))

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := decode(t, rec); body.Status != "ok" || len(body.Checks) != 0 {
		t.Errorf("body = %+v", body)
	}
}

func TestReadyz_AllPass(t *testing.T) {
	t.Parallel()
	store := &fakePinger{}
	h := New(
		ErrChecker("playback", func() error { return nil }),
		PingChecker("history", store),
	)

	rec := readyz(h, context.Background())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decode(t, rec)
	if body.Status != "ok" || body.Checks["playback"] != "ok" || body.Checks["history"] != "ok" {
		t.Errorf("body = %+v", body)
	}
	if store.calls.Load() != 1 {
		t.Errorf("Ping calls = %d, want 1", store.calls.Load())
	}
}

func TestReadyz_OneFails(t *testing.T) {
	t.Parallel()
	h := New(
		ErrChecker("playback", func() error { return nil }),
		PingChecker("history", &fakePinger{err: errors.New("connection refused")}),
	)

	rec := readyz(h, context.Background())
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	body := decode(t, rec)
	if body.Status != "fail" {
		t.Errorf("status = %q, want fail", body.Status)
	}
	if body.Checks["history"] != "fail: connection refused" {
		t.Errorf("history check = %q", body.Checks["history"])
	}
	if body.Checks["playback"] != "ok" {
		t.Errorf("playback check = %q", body.Checks["playback"])
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	t.Parallel()
	rec := readyz(New(), context.Background())
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	// Each check waits for the other; sequential evaluation would hit the
	// deadline.
	a, b := make(chan struct{}), make(chan struct{})
	h := New(
		Checker{Name: "a", Check: func(ctx context.Context) error {
			close(a)
			select {
			case <-b:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
		Checker{Name: "b", Check: func(ctx context.Context) error {
			close(b)
			select {
			case <-a:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if rec := readyz(h, ctx); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if rec := readyz(h, ctx); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New(ErrChecker("playback", func() error { return nil })).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}
