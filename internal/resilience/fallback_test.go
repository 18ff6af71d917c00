package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

type named struct{ name string }

func TestFallbackGroup_Names(t *testing.T) {
	fg := NewFallbackGroup(named{"a"}, "a", FallbackConfig{})
	fg.AddFallback("b", named{"b"})
	if got := fg.Names(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Names() = %v", got)
	}
	if fg.Primary().name != "a" {
		t.Errorf("Primary() = %v", fg.Primary())
	}
}

func TestExecute_FirstSuccessWins(t *testing.T) {
	fg := NewFallbackGroup(named{"a"}, "a", FallbackConfig{})
	fg.AddFallback("b", named{"b"})
	fg.AddFallback("c", named{"c"})

	var tried []string
	got, err := Execute(context.Background(), fg, func(_ context.Context, n named) (string, error) {
		tried = append(tried, n.name)
		if n.name == "a" {
			return "", errTest
		}
		return n.name, nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "b" {
		t.Errorf("result = %q, want b", got)
	}
	if !slices.Equal(tried, []string{"a", "b"}) {
		t.Errorf("tried = %v", tried)
	}
}

func TestExecute_AllFailed(t *testing.T) {
	fg := NewFallbackGroup(named{"a"}, "a", FallbackConfig{})
	fg.AddFallback("b", named{"b"})

	_, err := Execute(context.Background(), fg, func(context.Context, named) (int, error) {
		return 0, errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want it to wrap the last failure", err)
	}
}

func TestExecute_SkipsOpenCircuit(t *testing.T) {
	fg := NewFallbackGroup(named{"a"}, "a", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fg.AddFallback("b", named{"b"})
	ctx := context.Background()

	calls := map[string]int{}
	fn := func(_ context.Context, n named) (string, error) {
		calls[n.name]++
		if n.name == "a" {
			return "", errTest
		}
		return n.name, nil
	}
	for range 3 {
		if _, err := Execute(ctx, fg, fn); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if calls["a"] != 1 {
		t.Errorf("primary called %d times, want 1 (circuit should open)", calls["a"])
	}
	if calls["b"] != 3 {
		t.Errorf("fallback called %d times, want 3", calls["b"])
	}
	if fg.States()["a"] != StateOpen {
		t.Errorf("primary state = %v, want open", fg.States()["a"])
	}
}

func TestExecute_StopsOnCancel(t *testing.T) {
	fg := NewFallbackGroup(named{"a"}, "a", FallbackConfig{})
	fg.AddFallback("b", named{"b"})
	ctx, cancel := context.WithCancel(context.Background())

	var tried []string
	_, err := Execute(ctx, fg, func(_ context.Context, n named) (string, error) {
		tried = append(tried, n.name)
		cancel()
		return "", context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(tried) != 1 {
		t.Errorf("tried = %v, want only the primary", tried)
	}
}
