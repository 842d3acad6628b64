// Package service is the operation surface of the agent: everything an
// operator-facing layer (CLI, HTTP, chat channel) may do goes through here.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/basket/neurovote/internal/analysis"
	"github.com/basket/neurovote/internal/audit"
	"github.com/basket/neurovote/internal/governance"
	"github.com/basket/neurovote/internal/persistence"
	"github.com/basket/neurovote/internal/scheduler"
	"github.com/basket/neurovote/internal/shared"
	"github.com/basket/neurovote/internal/syncer"
)

// Polling bounds for WaitForAnalysis. Callers never wait forever on a
// verdict that is not coming.
const (
	pollAttempts = 30
	pollInterval = 2 * time.Second
)

// ErrAnalysisPending is returned by WaitForAnalysis when the attempt
// ceiling is reached without a verdict.
var ErrAnalysisPending = errors.New("analysis still pending")

type Service struct {
	store     *persistence.Store
	client    governance.Client
	pipeline  *analysis.Pipeline
	scheduler *scheduler.Scheduler
	syncer    *syncer.Syncer
	log       *slog.Logger
}

func New(store *persistence.Store, client governance.Client, pipeline *analysis.Pipeline, sched *scheduler.Scheduler, sync *syncer.Syncer, log *slog.Logger) *Service {
	return &Service{
		store:     store,
		client:    client,
		pipeline:  pipeline,
		scheduler: sched,
		syncer:    sync,
		log:       log,
	}
}

// --- proposals ---

func (s *Service) ListProposals(ctx context.Context, processed *bool, limit, offset int) ([]persistence.ProposalRecord, error) {
	return s.store.ListProposals(ctx, processed, limit, offset)
}

func (s *Service) GetProposal(ctx context.Context, id uint64) (*persistence.ProposalRecord, error) {
	return s.store.GetProposal(ctx, id)
}

// SyncNow runs one sync pass outside the periodic timer.
func (s *Service) SyncNow(ctx context.Context) syncer.Result {
	return s.syncer.SyncNewProposals(ctx)
}

// --- votes ---

// ScheduleVote queues a vote. With delaySeconds nil the operator-configured
// default delay applies.
func (s *Service) ScheduleVote(ctx context.Context, proposalID uint64, direction string, delaySeconds *int64) (*persistence.ScheduledVote, error) {
	dir, err := governance.ParseVoteDirection(direction)
	if err != nil {
		return nil, err
	}
	delay, err := s.voteDelay(ctx, delaySeconds)
	if err != nil {
		return nil, err
	}
	return s.scheduler.Schedule(ctx, proposalID, dir, delay)
}

func (s *Service) CancelVote(ctx context.Context, proposalID uint64) (bool, error) {
	return s.scheduler.Cancel(ctx, proposalID)
}

func (s *Service) GetScheduledVote(ctx context.Context, proposalID uint64) (*persistence.ScheduledVote, error) {
	return s.scheduler.Active(ctx, proposalID)
}

func (s *Service) ListScheduledVotes(ctx context.Context, limit int) ([]persistence.ScheduledVote, error) {
	return s.store.ListScheduledVotes(ctx, limit)
}

func (s *Service) voteDelay(ctx context.Context, override *int64) (int64, error) {
	if override != nil {
		if *override < 0 {
			return 0, nil
		}
		return *override, nil
	}
	return s.store.VoteDelaySeconds(ctx)
}

// --- analysis ---

// TriggerAnalysis starts an analysis in the background and returns
// immediately. Results are observed later through GetAgentVote and
// GetAgentLogs; WaitForAnalysis does the bounded polling.
func (s *Service) TriggerAnalysis(ctx context.Context, proposalID uint64) {
	traceID := shared.TraceID(ctx)
	if traceID == "-" {
		traceID = shared.NewTraceID()
	}
	go func() {
		bg := shared.WithTraceID(context.Background(), traceID)
		if _, err := s.pipeline.Analyze(bg, proposalID); err != nil && !errors.Is(err, analysis.ErrBusy) {
			s.log.Error("triggered analysis", "trace_id", traceID, "proposal_id", proposalID, "error", err)
		}
	}()
}

// WaitForAnalysis polls for a verdict with a fixed attempt ceiling.
func (s *Service) WaitForAnalysis(ctx context.Context, proposalID uint64) (*persistence.AgentVote, error) {
	for attempt := 0; attempt < pollAttempts; attempt++ {
		vote, err := s.store.GetAgentVote(ctx, proposalID)
		if err != nil {
			return nil, err
		}
		if vote != nil {
			return vote, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return nil, ErrAnalysisPending
}

// ResetAnalysis wipes a proposal's verdict, logs and active schedule so a
// fresh analysis can run.
func (s *Service) ResetAnalysis(ctx context.Context, proposalID uint64) error {
	return s.pipeline.Reset(ctx, proposalID)
}

// ResetAllAnalysis wipes every verdict, log and pending schedule. Mirrored
// proposals are kept and unmarked so the next sweep re-analyzes them.
func (s *Service) ResetAllAnalysis(ctx context.Context) error {
	if err := s.store.ResetAgentData(ctx); err != nil {
		audit.Record("fail", audit.ActionAnalysisReset, err.Error(), "all")
		return err
	}
	audit.Record("ok", audit.ActionAnalysisReset, "", "all")
	return nil
}

func (s *Service) GetAgentVote(ctx context.Context, proposalID uint64) (*persistence.AgentVote, error) {
	return s.store.GetAgentVote(ctx, proposalID)
}

func (s *Service) ListAgentVotes(ctx context.Context, limit int) ([]persistence.AgentVote, error) {
	return s.store.ListAgentVotes(ctx, limit)
}

func (s *Service) GetAgentLogs(ctx context.Context, proposalID uint64, limit int) ([]persistence.AgentLogEntry, error) {
	return s.store.ListAgentLogs(ctx, proposalID, limit)
}

// AnalyzeUnprocessed is the periodic sweep: run each unprocessed proposal
// through the pipeline and schedule the resulting vote. A proposal is
// marked processed only when the model actually answered: on success, or on
// a hard model-output failure, so one permanently confusing proposal cannot
// wedge the sweep. Environmental failures (no API key, transport) and busy
// drops leave it unprocessed for the next tick.
func (s *Service) AnalyzeUnprocessed(ctx context.Context) {
	log := s.log.With("trace_id", shared.TraceID(ctx), "job", "analyze")

	pending, err := s.store.ListUnprocessedProposals(ctx, 50)
	if err != nil {
		log.Error("list unprocessed proposals", "error", err)
		return
	}

	for _, rec := range pending {
		result, err := s.pipeline.Analyze(ctx, rec.ID)
		if errors.Is(err, analysis.ErrBusy) {
			return
		}
		if err != nil {
			log.Error("analysis sweep", "proposal_id", rec.ID, "error", err)
			continue
		}
		if result.Retryable() {
			log.Warn("analysis deferred", "proposal_id", rec.ID, "reason", result.Reasoning)
			continue
		}

		if result.Success {
			delay, delayErr := s.store.VoteDelaySeconds(ctx)
			if delayErr != nil {
				log.Error("read vote delay", "proposal_id", rec.ID, "error", delayErr)
				continue
			}
			if _, schedErr := s.scheduler.Schedule(ctx, rec.ID, result.Direction, delay); schedErr != nil {
				log.Error("schedule recommended vote", "proposal_id", rec.ID, "error", schedErr)
				continue
			}
			if markErr := s.store.MarkAgentVoteScheduled(ctx, rec.ID); markErr != nil {
				log.Error("flag verdict scheduled", "proposal_id", rec.ID, "error", markErr)
			}
		}

		if err := s.store.SetProposalProcessed(ctx, rec.ID, true); err != nil {
			log.Error("mark proposal processed", "proposal_id", rec.ID, "error", err)
		}
	}
}

// --- neurons ---

// ListNeurons returns the neurons of the configured identity.
func (s *Service) ListNeurons(ctx context.Context) ([]governance.Neuron, error) {
	return s.client.ListNeurons(ctx)
}

// SelectNeuron caches the neuron the executor votes with.
func (s *Service) SelectNeuron(ctx context.Context, neuronID uint64) error {
	return s.SetConfig(ctx, persistence.SettingNeuronID, strconv.FormatUint(neuronID, 10))
}

// SetDissolveDelay raises the neuron's dissolve delay, which governs
// voting eligibility on the network.
func (s *Service) SetDissolveDelay(ctx context.Context, neuronID, seconds uint64) error {
	return s.client.SetDissolveDelay(ctx, neuronID, seconds)
}

// --- config ---

func (s *Service) GetConfig(ctx context.Context, key string) (string, error) {
	return s.store.GetSetting(ctx, key)
}

func (s *Service) SetConfig(ctx context.Context, key, value string) error {
	if err := s.store.SetSetting(ctx, key, value); err != nil {
		audit.Record("fail", audit.ActionConfigWrite, err.Error(), key)
		return err
	}
	audit.Record("ok", audit.ActionConfigWrite, "", key)
	return nil
}

// Describe returns a short status line for operator channels.
func (s *Service) Describe(ctx context.Context) string {
	count, err := s.store.CountProposals(ctx)
	if err != nil {
		return fmt.Sprintf("status unavailable: %v", err)
	}
	pending, err := s.store.DueScheduledVotes(ctx, time.Now().Unix()+365*24*3600)
	if err != nil {
		return fmt.Sprintf("%d proposals mirrored", count)
	}
	return fmt.Sprintf("%d proposals mirrored, %d votes pending", count, len(pending))
}
