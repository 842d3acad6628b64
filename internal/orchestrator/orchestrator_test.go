package orchestrator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/basket/neurovote/internal/shared"
)

func TestJobsFireWithTraceIDs(t *testing.T) {
	var execRuns atomic.Int64
	var lastTrace atomic.Value

	o := New(Config{
		SyncInterval:    time.Hour,
		AnalyzeInterval: time.Hour,
		ExecuteInterval: time.Second,
	}, Jobs{
		Execute: func(ctx context.Context) {
			lastTrace.Store(shared.TraceID(ctx))
			execRuns.Add(1)
		},
	}, slog.Default())

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop()

	deadline := time.After(5 * time.Second)
	for execRuns.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("execute job never fired")
		case <-time.After(20 * time.Millisecond):
		}
	}

	trace, _ := lastTrace.Load().(string)
	if trace == "" || trace == "-" {
		t.Fatalf("job context missing trace id: %q", trace)
	}
}

func TestPanickingJobDoesNotKillTimers(t *testing.T) {
	var runs atomic.Int64

	o := New(Config{
		SyncInterval:    time.Hour,
		AnalyzeInterval: time.Hour,
		ExecuteInterval: 50 * time.Millisecond,
	}, Jobs{
		Execute: func(ctx context.Context) {
			runs.Add(1)
			panic("tick went sideways")
		},
	}, slog.Default())

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop()

	deadline := time.After(5 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("job fired %d times; panic killed the timer", runs.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestStartupSyncRunsImmediately(t *testing.T) {
	var syncRuns atomic.Int64

	o := New(Config{
		SyncInterval:    time.Hour,
		AnalyzeInterval: time.Hour,
		ExecuteInterval: time.Hour,
	}, Jobs{
		Sync: func(ctx context.Context) { syncRuns.Add(1) },
	}, slog.Default())

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop()

	deadline := time.After(2 * time.Second)
	for syncRuns.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("startup sync never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
