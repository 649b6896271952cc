package capability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestHandle_Lifecycle(t *testing.T) {
	var h Handle[string]
	if h.State() != StateUninitialized {
		t.Fatalf("expected uninitialized, got %s", h.State())
	}
	if _, err := h.Get(); !errors.Is(err, ErrCapabilityUnavailable) {
		t.Fatalf("expected unavailable before load, got %v", err)
	}
	if !h.Begin() {
		t.Fatalf("expected first Begin to succeed")
	}
	if h.Begin() {
		t.Fatalf("expected second Begin to be refused")
	}
	if _, err := h.Get(); !errors.Is(err, ErrCapabilityUnavailable) {
		t.Fatalf("expected unavailable while loading, got %v", err)
	}
	h.Ready("model")
	v, err := h.Get()
	if err != nil || v != "model" {
		t.Fatalf("expected ready value, got %q %v", v, err)
	}
}

func TestHandle_FailedRejectsGet(t *testing.T) {
	var h Handle[int]
	h.Begin()
	boom := errors.New("boom")
	h.Fail(boom)
	if h.State() != StateFailed {
		t.Fatalf("expected failed, got %s", h.State())
	}
	if _, err := h.Get(); !errors.Is(err, ErrCapabilityUnavailable) {
		t.Fatalf("expected unavailable when failed, got %v", err)
	}
	if _, err := h.Get(); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected load error to be reported, got %v", err)
	}
}

func TestFuture_FirstCompletionWins(t *testing.T) {
	f := NewFuture[string]()
	if !f.Resolve("first") {
		t.Fatalf("expected first resolve to win")
	}
	if f.Resolve("second") || f.Reject(errors.New("late")) {
		t.Fatalf("expected later completions to lose")
	}
	v, err := f.Await(context.Background())
	if err != nil || v != "first" {
		t.Fatalf("got %q %v", v, err)
	}
}

func TestFuture_AwaitHonoursContext(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestFuture_RejectedCarriesError(t *testing.T) {
	boom := errors.New("boom")
	f := Rejected[int](boom)
	select {
	case <-f.Done():
	default:
		t.Fatalf("expected rejected future to be done")
	}
	if _, err := f.Await(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
