package shared

import (
	"context"
	"testing"
)

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := TraceID(ctx); got != "-" {
		t.Fatalf("expected '-' for missing trace id, got %q", got)
	}

	id := NewTraceID()
	ctx = WithTraceID(ctx, id)
	if got := TraceID(ctx); got != id {
		t.Fatalf("expected %q, got %q", id, got)
	}
}

func TestJobRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := Job(ctx); got != "" {
		t.Fatalf("expected empty job, got %q", got)
	}
	ctx = WithJob(ctx, "sync")
	if got := Job(ctx); got != "sync" {
		t.Fatalf("expected sync, got %q", got)
	}
}

func TestNewTraceIDUnique(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	if a == b {
		t.Fatalf("expected unique trace ids, got %q twice", a)
	}
}
