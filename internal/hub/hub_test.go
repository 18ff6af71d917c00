package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/handoff/internal/observe"
	"github.com/MrWong99/handoff/internal/registry"
	"github.com/MrWong99/handoff/pkg/escalation"
)

func newTestHub(t *testing.T, opts ...registry.Option) *Hub {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return New(registry.New(opts...), WithMetrics(m))
}

func created(id string, seq uint64) escalation.Event {
	return escalation.Event{
		Kind:       escalation.EventCreated,
		Seq:        seq,
		Escalation: &escalation.Escalation{ID: id, Status: escalation.StatusPending},
	}
}

func resolved(id string, seq uint64, response string) escalation.Event {
	return escalation.Event{
		Kind:       escalation.EventResolved,
		Seq:        seq,
		Escalation: &escalation.Escalation{ID: id, Status: escalation.StatusResolved, Response: response},
	}
}

func TestBroadcast_EachConsoleGetsExactlyOne(t *testing.T) {
	t.Parallel()
	h := newTestHub(t)
	ctx := context.Background()

	consoles := []*registry.Console{h.Subscribe(ctx), h.Subscribe(ctx), h.Subscribe(ctx)}
	if n := h.Broadcast(ctx, created("e1", 1)); n != 3 {
		t.Fatalf("accepted = %d, want 3", n)
	}

	for i, c := range consoles {
		select {
		case ev := <-c.Events():
			if ev.Kind != escalation.EventCreated || ev.Escalation.ID != "e1" {
				t.Errorf("console %d got %+v", i, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("console %d received nothing", i)
		}
		select {
		case ev := <-c.Events():
			t.Errorf("console %d got duplicate event %+v", i, ev)
		default:
		}
	}
}

func TestBroadcast_SlowConsoleDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, registry.WithConsoleBuffer(1))
	ctx := context.Background()

	slow := h.Subscribe(ctx)
	fast := h.Subscribe(ctx)

	var got []uint64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range fast.Events() {
			got = append(got, ev.Seq)
			if ev.Seq == 50 {
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(1); i <= 50; i++ {
			h.Broadcast(ctx, created("e", i))
			time.Sleep(time.Millisecond)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast blocked on a slow console")
	}
	wg.Wait()

	if got[len(got)-1] != 50 {
		t.Errorf("fast console last seq = %d, want 50", got[len(got)-1])
	}
	if slow.Dropped() == 0 {
		t.Error("slow console should have dropped events")
	}
	ev := <-slow.Events()
	if ev.Seq != 50 {
		t.Errorf("slow console kept seq %d, want newest 50", ev.Seq)
	}
}

func TestPublish_ResolvedReachesWaiterAndConsoles(t *testing.T) {
	t.Parallel()
	h := newTestHub(t)
	ctx := context.Background()

	w, err := h.Registry().RegisterWaiter("e1")
	if err != nil {
		t.Fatal(err)
	}
	c := h.Subscribe(ctx)

	h.Publish(ctx, resolved("e1", 2, "approve"))

	select {
	case ev := <-w.C():
		if ev.Escalation.Response != "approve" {
			t.Errorf("waiter response = %q", ev.Escalation.Response)
		}
	default:
		t.Fatal("waiter did not receive resolution")
	}
	if ev := <-c.Events(); ev.Kind != escalation.EventResolved {
		t.Errorf("console got %q, want resolved", ev.Kind)
	}
}

func TestPublish_NonResolutionSkipsWaiter(t *testing.T) {
	t.Parallel()
	h := newTestHub(t)
	ctx := context.Background()

	w, _ := h.Registry().RegisterWaiter("e1")
	h.Publish(ctx, escalation.Event{
		Kind:       escalation.EventInsightUpdated,
		Escalation: &escalation.Escalation{ID: "e1", Insight: "hint"},
	})

	select {
	case ev := <-w.C():
		t.Fatalf("waiter got non-resolution event %+v", ev)
	default:
	}
	if !h.Registry().HasWaiter("e1") {
		t.Error("waiter was retired by an insight event")
	}
}

func TestPublish_NoWaiterIsNoop(t *testing.T) {
	t.Parallel()
	h := newTestHub(t)
	h.Publish(context.Background(), resolved("ghost", 1, "late"))
}

func TestUnsubscribe_DuringBroadcast(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, registry.WithConsoleBuffer(2))
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c := h.Subscribe(ctx)
				h.Unsubscribe(ctx, c)
				h.Unsubscribe(ctx, c)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range uint64(500) {
			h.Broadcast(ctx, created("e", i))
		}
	}()
	wg.Wait()

	if n := h.Registry().ConsoleCount(); n != 0 {
		t.Errorf("ConsoleCount = %d, want 0", n)
	}
}
