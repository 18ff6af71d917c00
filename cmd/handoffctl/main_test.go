package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/handoff/internal/api"
	"github.com/MrWong99/handoff/internal/hub"
	"github.com/MrWong99/handoff/internal/observe"
	"github.com/MrWong99/handoff/internal/orchestrator"
	"github.com/MrWong99/handoff/internal/registry"
	"github.com/MrWong99/handoff/pkg/escalation"
	"github.com/MrWong99/handoff/pkg/escalation/memstore"
)

// syncBuffer lets the test read output while the watch goroutine writes it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, b *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(b.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("output never contained %q:\n%s", want, b.String())
}

// newServer starts an API server over a fresh in-memory orchestrator.
func newServer(t *testing.T) (*orchestrator.Orchestrator, string) {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	orch := orchestrator.New(memstore.New(), hub.New(registry.New(), hub.WithMetrics(m)), orchestrator.WithMetrics(m))

	mux := http.NewServeMux()
	api.New(orch).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return orch, srv.URL
}

// run executes handoffctl with args against server and returns its output.
func run(t *testing.T, ctx context.Context, server string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--server", server, "--no-color"}, args...))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestPending(t *testing.T) {
	orch, server := newServer(t)
	ctx := context.Background()

	out, err := run(t, ctx, server, "pending")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if !strings.Contains(out, "No pending escalations.") {
		t.Errorf("empty output = %q", out)
	}

	id, err := orch.Create(ctx, escalation.Request{
		Reason:       "refund above limit",
		Urgency:      escalation.UrgencyCritical,
		DecisionType: "financial",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, err = run(t, ctx, server, "ls")
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	for _, want := range []string{"ID", "URGENCY", id, "CRITICAL", "financial", "refund above limit"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestGet(t *testing.T) {
	orch, server := newServer(t)
	ctx := context.Background()

	id, err := orch.Create(ctx, escalation.Request{
		Reason:     "cancel contract",
		SessionRef: "room-3",
		Transcript: []escalation.TranscriptLine{{Speaker: "user", Text: "please cancel"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, err := run(t, ctx, server, "get", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, want := range []string{id, "pending", "MEDIUM", "cancel contract", "room-3", "user: please cancel"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if _, err := run(t, ctx, server, "get", "missing"); err == nil {
		t.Error("get missing returned nil error")
	}
}

func TestRespond(t *testing.T) {
	orch, server := newServer(t)
	ctx := context.Background()

	id, err := orch.Create(ctx, escalation.Request{Reason: "discount"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, err := run(t, ctx, server, "respond", id, "approved", "10%")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !strings.Contains(out, "Resolved "+id) {
		t.Errorf("output = %q", out)
	}
	rec, err := orch.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Response != "approved 10%" {
		t.Errorf("response = %q, want joined args", rec.Response)
	}

	out, err = run(t, ctx, server, "respond", id, "denied")
	if err == nil {
		t.Fatal("second respond returned nil error")
	}
	if !strings.Contains(out, "already resolved by another operator") || !strings.Contains(out, "Response: approved 10%") {
		t.Errorf("conflict output = %q, want winner shown", out)
	}
}

func TestInsight(t *testing.T) {
	orch, server := newServer(t)
	ctx := context.Background()

	id, err := orch.Create(ctx, escalation.Request{Reason: "upgrade"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := run(t, ctx, server, "insight", id, "loyal", "customer"); err != nil {
		t.Fatalf("insight: %v", err)
	}
	rec, err := orch.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Insight != "loyal customer" {
		t.Errorf("insight = %q, want %q", rec.Insight, "loyal customer")
	}
}

func TestCreateAndAwait(t *testing.T) {
	orch, server := newServer(t)
	ctx := context.Background()

	out, err := run(t, ctx, server, "create", "--urgency", "high", "-d", "authorization", "need", "approval")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	pending, err := orch.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	rec := pending[0]
	if rec.Reason != "need approval" || rec.Urgency != escalation.UrgencyHigh || rec.DecisionType != "authorization" {
		t.Errorf("created = %+v", rec)
	}
	if !strings.Contains(out, rec.ID) {
		t.Errorf("output = %q, want id", out)
	}

	out, err = run(t, ctx, server, "await", rec.ID, "--wait", "20ms")
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if !strings.Contains(out, "No answer yet") {
		t.Errorf("await output = %q", out)
	}

	if _, err := orch.Respond(ctx, rec.ID, "granted"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	out, err = run(t, ctx, server, "await", rec.ID)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if !strings.Contains(out, "Resolved: granted") {
		t.Errorf("await output = %q", out)
	}

	if _, err := run(t, ctx, server, "create", "--urgency", "whenever", "x"); err == nil {
		t.Error("create with bad urgency returned nil error")
	}
}

func TestWatch(t *testing.T) {
	orch, server := newServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	root := newRootCmd()
	root.SetOut(out)
	root.SetArgs([]string{"--server", server, "--no-color", "watch"})

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	// Wait for the snapshot banner so the create below is delivered as an event.
	waitFor(t, out, "watching for changes")

	if _, err := orch.Create(context.Background(), escalation.Request{Reason: "late night refund"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitFor(t, out, "late night refund")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watch returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestUrgencyLabelAndAge(t *testing.T) {
	if got := urgencyLabel(escalation.UrgencyLow); !strings.Contains(got, "LOW") {
		t.Errorf("urgencyLabel(low) = %q", got)
	}
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{3 * time.Hour, "3h"},
		{50 * time.Hour, "2d"},
	}
	for _, tt := range tests {
		if got := age(now, now.Add(-tt.ago)); got != tt.want {
			t.Errorf("age(%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
	if got := clip("a  very\nlong reason", 8); got != "a very …" {
		t.Errorf("clip = %q", got)
	}
}
