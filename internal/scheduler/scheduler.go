// Package scheduler owns the delayed-vote queue: votes are committed to
// durable storage with an execution time in the future, giving a human a
// window to intervene before the cast happens.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/basket/neurovote/internal/audit"
	"github.com/basket/neurovote/internal/governance"
	"github.com/basket/neurovote/internal/otel"
	"github.com/basket/neurovote/internal/persistence"
	"github.com/basket/neurovote/internal/shared"
)

// Notifier receives operator-facing event messages. The Telegram channel
// satisfies this; tests and headless runs use the nop default.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string) {}

// SwitchNotifier is a Notifier whose target is attached after construction.
// The operator channel needs the service, which needs the scheduler, which
// needs the notifier; handing the scheduler a SwitchNotifier and binding the
// channel last breaks that cycle. Messages sent before Bind are dropped.
type SwitchNotifier struct {
	mu     sync.Mutex
	target Notifier
}

// Bind attaches the delivery target. Safe to call while Notify runs.
func (s *SwitchNotifier) Bind(target Notifier) {
	s.mu.Lock()
	s.target = target
	s.mu.Unlock()
}

func (s *SwitchNotifier) Notify(ctx context.Context, message string) {
	s.mu.Lock()
	target := s.target
	s.mu.Unlock()
	if target != nil {
		target.Notify(ctx, message)
	}
}

type Scheduler struct {
	store    *persistence.Store
	log      *slog.Logger
	metrics  *otel.Metrics
	notifier Notifier
}

func New(store *persistence.Store, log *slog.Logger, metrics *otel.Metrics, notifier Notifier) *Scheduler {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Scheduler{store: store, log: log, metrics: metrics, notifier: notifier}
}

// Schedule queues a vote for execution after delaySeconds. The proposal row
// is guaranteed to exist first, so a schedule can never reference an
// unknown ID. A prior unexecuted schedule for the same proposal is
// superseded, last writer wins.
func (s *Scheduler) Schedule(ctx context.Context, proposalID uint64, direction governance.VoteDirection, delaySeconds int64) (*persistence.ScheduledVote, error) {
	if delaySeconds < 0 {
		delaySeconds = 0
	}
	if err := s.store.EnsureProposal(ctx, proposalID); err != nil {
		return nil, fmt.Errorf("ensure proposal %d: %w", proposalID, err)
	}

	when := time.Now().Unix() + delaySeconds
	vote, err := s.store.ReplaceScheduledVote(ctx, proposalID, string(direction), when)
	if err != nil {
		audit.Record("fail", audit.ActionVoteSchedule, err.Error(), strconv.FormatUint(proposalID, 10))
		return nil, err
	}

	audit.Record("ok", audit.ActionVoteSchedule, string(direction), strconv.FormatUint(proposalID, 10))
	if s.metrics != nil {
		s.metrics.VotesScheduled.Add(ctx, 1)
	}
	s.log.Info("vote scheduled",
		"trace_id", shared.TraceID(ctx),
		"proposal_id", proposalID,
		"direction", direction,
		"scheduled_time", when,
	)
	s.notifier.Notify(ctx, fmt.Sprintf("Scheduled %s vote on proposal %d, executing in %s. Reply /cancel %d to stop it.",
		direction, proposalID, time.Duration(delaySeconds)*time.Second, proposalID))
	return vote, nil
}

// Cancel removes the active schedule for the proposal. Returns false when
// there was nothing to cancel.
func (s *Scheduler) Cancel(ctx context.Context, proposalID uint64) (bool, error) {
	canceled, err := s.store.CancelScheduledVote(ctx, proposalID)
	if err != nil {
		audit.Record("fail", audit.ActionVoteCancel, err.Error(), strconv.FormatUint(proposalID, 10))
		return false, err
	}
	if canceled {
		audit.Record("ok", audit.ActionVoteCancel, "", strconv.FormatUint(proposalID, 10))
		s.log.Info("vote canceled", "trace_id", shared.TraceID(ctx), "proposal_id", proposalID)
		s.notifier.Notify(ctx, fmt.Sprintf("Canceled the scheduled vote on proposal %d.", proposalID))
	}
	return canceled, nil
}

// Active returns the unexecuted schedule for the proposal, or nil.
func (s *Scheduler) Active(ctx context.Context, proposalID uint64) (*persistence.ScheduledVote, error) {
	return s.store.ActiveScheduledVote(ctx, proposalID)
}
