package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/handoff/pkg/escalation/memstore"
	"github.com/MrWong99/handoff/pkg/escalation/mock"
)

func pass(context.Context) error { return nil }

func serve(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	h := New(Checker{Name: "store", Check: func(context.Context) error { return errors.New("down") }})
	code, body := serve(t, h, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d %+v", code, body)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "store", Check: pass},
				{Name: "insight", Check: pass},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"store": "ok", "insight": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "store", Check: func(context.Context) error { return errors.New("connection refused") }},
				{Name: "insight", Check: pass},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"store": "fail: connection refused", "insight": "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := serve(t, New(tt.checkers...), "/readyz")
			if code != tt.wantCode {
				t.Errorf("status code = %d, want %d", code, tt.wantCode)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			for name, want := range tt.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestCheck_RunsInParallel(t *testing.T) {
	slow := func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(
		Checker{Name: "a", Check: slow},
		Checker{Name: "b", Check: slow},
		Checker{Name: "c", Check: slow},
	)

	start := time.Now()
	checks, err := h.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(checks) != 3 {
		t.Errorf("checks = %v", checks)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("checks took %v; expected them to run concurrently", elapsed)
	}
}

func TestCheck_JoinsErrors(t *testing.T) {
	errA, errB := errors.New("a down"), errors.New("b down")
	h := New(
		Checker{Name: "a", Check: func(context.Context) error { return errA }},
		Checker{Name: "b", Check: func(context.Context) error { return errB }},
	)
	_, err := h.Check(context.Background())
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("err = %v, want both failures", err)
	}
}

func TestCheck_RespectsCancellation(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	checks, err := h.Check(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if checks["slow"] == "ok" {
		t.Error("cancelled check reported ok")
	}
}

func TestStoreChecker(t *testing.T) {
	ctx := context.Background()

	if err := StoreChecker(memstore.New()).Check(ctx); err != nil {
		t.Errorf("memstore: %v", err)
	}
	if err := StoreChecker(&mock.Store{}).Check(ctx); err != nil {
		t.Errorf("healthy pinger: %v", err)
	}

	down := errors.New("db unreachable")
	c := StoreChecker(&mock.Store{PingErr: down})
	if c.Name != "store" {
		t.Errorf("Name = %q", c.Name)
	}
	if err := c.Check(ctx); !errors.Is(err, down) {
		t.Errorf("err = %v, want %v", err, down)
	}
}
