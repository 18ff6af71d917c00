package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/handoff/pkg/escalation"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "handoff.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGet_RoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 5, 6, 7, 8, 9, 123456789, time.UTC)
	rec := escalation.NewPending("e1", escalation.Request{
		SessionRef:     "room-9",
		RequesterRef:   "agent-2",
		Reason:         "discount above authority",
		Urgency:        escalation.UrgencyCritical,
		DecisionType:   "discount",
		ContextDetails: "wants 40%",
		Transcript: []escalation.TranscriptLine{
			{Speaker: "caller", Text: "can I get 40% off?", Time: created.Add(-time.Minute)},
		},
	}, created)

	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, rec); !errors.Is(err, escalation.ErrDuplicateID) {
		t.Fatalf("duplicate Put err = %v, want ErrDuplicateID", err)
	}

	got, err := s.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, created)
	}
	if got.Urgency != escalation.UrgencyCritical || got.DecisionType != "discount" || got.ContextDetails != "wants 40%" {
		t.Errorf("unexpected record: %+v", got)
	}
	if len(got.Transcript) != 1 || got.Transcript[0].Text != "can I get 40% off?" {
		t.Errorf("transcript = %+v", got.Transcript)
	}
	if got.ResolvedAt != nil {
		t.Error("resolved_at should be nil for pending record")
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, escalation.ErrNotFound) {
		t.Errorf("missing err = %v, want ErrNotFound", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestListPending_FIFO(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now()

	for _, in := range []struct {
		id     string
		offset time.Duration
	}{{"late", 3 * time.Second}, {"early", 0}, {"mid", time.Second}, {"done", 2 * time.Second}} {
		if err := s.Put(ctx, escalation.NewPending(in.id, escalation.Request{Reason: "r"}, base.Add(in.offset))); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.CompareAndResolve(ctx, "done", "ok", time.Now()); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"early", "mid", "late"}
	if len(list) != len(want) {
		t.Fatalf("got %d pending, want %d", len(list), len(want))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("pending[%d] = %q, want %q", i, list[i].ID, id)
		}
	}
}

func TestCompareAndResolve(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	_ = s.Put(ctx, escalation.NewPending("e1", escalation.Request{Reason: "r"}, time.Now()))

	at := time.Now().UTC()
	got, err := s.CompareAndResolve(ctx, "e1", "approved", at)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Status != escalation.StatusResolved || got.Response != "approved" || !got.ResolvedAt.Equal(at) {
		t.Errorf("unexpected record: %+v", got)
	}

	_, err = s.CompareAndResolve(ctx, "e1", "denied", time.Now())
	var are *escalation.AlreadyResolvedError
	if !errors.As(err, &are) || are.Current.Response != "approved" {
		t.Fatalf("second resolve err = %v, want AlreadyResolvedError with approved", err)
	}

	if _, err := s.CompareAndResolve(ctx, "ghost", "x", time.Now()); !errors.Is(err, escalation.ErrNotFound) {
		t.Errorf("ghost err = %v, want ErrNotFound", err)
	}
}

func TestCompareAndResolve_ConcurrentSingleWinner(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	_ = s.Put(ctx, escalation.NewPending("race", escalation.Request{Reason: "r"}, time.Now()))

	const n = 16
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CompareAndResolve(ctx, "race", fmt.Sprintf("r%d", i), time.Now())
			if err == nil {
				winners.Add(1)
			} else if !errors.Is(err, escalation.ErrAlreadyResolved) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Fatalf("winners = %d, want 1", winners.Load())
	}
}

func TestAttachInsight(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	_ = s.Put(ctx, escalation.NewPending("e1", escalation.Request{Reason: "r"}, time.Now()))

	got, err := s.AttachInsight(ctx, "e1", "likely fraud")
	if err != nil || got.Insight != "likely fraud" {
		t.Fatalf("AttachInsight: %v %+v", err, got)
	}
	if _, err := s.AttachInsight(ctx, "ghost", "x"); !errors.Is(err, escalation.ErrNotFound) {
		t.Errorf("ghost err = %v, want ErrNotFound", err)
	}
}

// doneAfterCtx reports cancellation once Done has been consulted more than
// limit times, so a store call can be cut off between its internal steps.
type doneAfterCtx struct {
	context.Context
	limit int

	mu    sync.Mutex
	calls int
	done  chan struct{}
	once  sync.Once
}

func newDoneAfterCtx(limit int) *doneAfterCtx {
	return &doneAfterCtx{Context: context.Background(), limit: limit, done: make(chan struct{})}
}

func (c *doneAfterCtx) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls > c.limit {
		c.once.Do(func() { close(c.done) })
	}
	return c.done
}

func (c *doneAfterCtx) Err() error {
	select {
	case <-c.done:
		return context.Canceled
	default:
		return nil
	}
}

func TestCompareAndResolve_CallerCancelledMidCall(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	bg := context.Background()

	for limit := range 8 {
		id := fmt.Sprintf("e%d", limit)
		if err := s.Put(bg, escalation.NewPending(id, escalation.Request{Reason: "r"}, time.Now())); err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}

		got, err := s.CompareAndResolve(newDoneAfterCtx(limit), id, "approve", time.Now())
		stored, getErr := s.Get(bg, id)
		if getErr != nil {
			t.Fatalf("Get %s: %v", id, getErr)
		}
		if err != nil {
			t.Fatalf("limit=%d: resolve err = %v, stored status = %s", limit, err, stored.Status)
		}
		if got.Status != escalation.StatusResolved || got.Response != "approve" {
			t.Errorf("limit=%d: returned %+v", limit, got)
		}
		if stored.Status != escalation.StatusResolved || stored.Response != "approve" {
			t.Errorf("limit=%d: stored %+v", limit, stored)
		}
	}
}

func TestAttachInsight_CallerCancelledMidCall(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	bg := context.Background()
	_ = s.Put(bg, escalation.NewPending("e1", escalation.Request{Reason: "r"}, time.Now()))

	for limit := range 8 {
		text := fmt.Sprintf("insight %d", limit)
		got, err := s.AttachInsight(newDoneAfterCtx(limit), "e1", text)
		if err != nil {
			t.Fatalf("limit=%d: AttachInsight: %v", limit, err)
		}
		if got.Insight != text || got.Status != escalation.StatusPending {
			t.Errorf("limit=%d: returned %+v", limit, got)
		}
	}
}
