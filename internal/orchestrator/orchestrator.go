// Package orchestrator drives the three periodic jobs of the agent:
// proposal sync, the analysis sweep over unprocessed proposals, and the
// due-vote execution sweep.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/neurovote/internal/shared"
)

// Jobs are the periodic entry points the orchestrator fires. Each call gets
// a fresh context carrying a trace ID; a slow run never blocks the next
// tick of another job.
type Jobs struct {
	Sync    func(ctx context.Context)
	Analyze func(ctx context.Context)
	Execute func(ctx context.Context)
}

// Config sets the firing intervals.
type Config struct {
	SyncInterval    time.Duration
	AnalyzeInterval time.Duration
	ExecuteInterval time.Duration
}

type Orchestrator struct {
	cron *cronlib.Cron
	jobs Jobs
	cfg  Config
	log  *slog.Logger

	cancel context.CancelFunc
}

func New(cfg Config, jobs Jobs, log *slog.Logger) *Orchestrator {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 30 * time.Minute
	}
	if cfg.AnalyzeInterval <= 0 {
		cfg.AnalyzeInterval = time.Minute
	}
	if cfg.ExecuteInterval <= 0 {
		cfg.ExecuteInterval = 10 * time.Second
	}
	return &Orchestrator{
		cron: cronlib.New(cronlib.WithSeconds()),
		jobs: jobs,
		cfg:  cfg,
		log:  log,
	}
}

// Start registers the jobs and begins firing them. Sync runs once
// immediately so a fresh install has proposals before the first interval
// elapses.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, o.cancel = context.WithCancel(ctx)

	type job struct {
		name     string
		interval time.Duration
		fn       func(ctx context.Context)
	}
	for _, j := range []job{
		{"sync", o.cfg.SyncInterval, o.jobs.Sync},
		{"analyze", o.cfg.AnalyzeInterval, o.jobs.Analyze},
		{"execute", o.cfg.ExecuteInterval, o.jobs.Execute},
	} {
		if j.fn == nil {
			continue
		}
		j := j
		spec := fmt.Sprintf("@every %s", j.interval)
		if _, err := o.cron.AddFunc(spec, func() { o.runJob(ctx, j.name, j.fn) }); err != nil {
			return fmt.Errorf("register %s job: %w", j.name, err)
		}
	}

	o.cron.Start()
	o.log.Info("orchestrator started",
		"sync_interval", o.cfg.SyncInterval,
		"analyze_interval", o.cfg.AnalyzeInterval,
		"execute_interval", o.cfg.ExecuteInterval,
	)

	if o.jobs.Sync != nil {
		go o.runJob(ctx, "sync", o.jobs.Sync)
	}
	return nil
}

// Stop halts the timers and waits for in-flight jobs to finish.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	<-o.cron.Stop().Done()
	o.log.Info("orchestrator stopped")
}

// runJob wraps one job invocation with a trace ID and panic recovery, so a
// bad tick never kills the timers.
func (o *Orchestrator) runJob(ctx context.Context, name string, fn func(ctx context.Context)) {
	if ctx.Err() != nil {
		return
	}
	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	ctx = shared.WithJob(ctx, name)

	defer func() {
		if r := recover(); r != nil {
			o.log.Error("periodic job panicked", "job", name, "trace_id", shared.TraceID(ctx), "panic", r)
		}
	}()
	fn(ctx)
}
