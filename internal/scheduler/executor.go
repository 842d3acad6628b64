package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/basket/neurovote/internal/audit"
	"github.com/basket/neurovote/internal/governance"
	"github.com/basket/neurovote/internal/otel"
	"github.com/basket/neurovote/internal/persistence"
	"github.com/basket/neurovote/internal/shared"
)

// Executor sweeps due scheduled votes and casts them on the network. A due
// vote is terminalized after exactly one attempt: success and failure both
// mark the row executed, and a failed cast is never retried automatically.
type Executor struct {
	store    *persistence.Store
	client   governance.Client
	log      *slog.Logger
	metrics  *otel.Metrics
	notifier Notifier
}

func NewExecutor(store *persistence.Store, client governance.Client, log *slog.Logger, metrics *otel.Metrics, notifier Notifier) *Executor {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Executor{store: store, client: client, log: log, metrics: metrics, notifier: notifier}
}

// castFailure is the structured detail blob stored alongside a failed cast.
type castFailure struct {
	NeuronID      uint64 `json:"neuron_id"`
	ProposalID    uint64 `json:"proposal_id"`
	Direction     string `json:"direction"`
	ScheduledTime int64  `json:"scheduled_time"`
	AttemptedAt   int64  `json:"attempted_at"`
	Error         string `json:"error"`
}

// Sweep executes every scheduled vote that has come due. Errors on one vote
// never stop the rest of the sweep.
func (e *Executor) Sweep(ctx context.Context) {
	log := e.log.With("trace_id", shared.TraceID(ctx), "job", "execute")

	due, err := e.store.DueScheduledVotes(ctx, time.Now().Unix())
	if err != nil {
		log.Error("list due votes", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	neuronID, ok, err := e.store.GetSettingUint64(ctx, persistence.SettingNeuronID)
	if err != nil {
		log.Error("read voting neuron", "error", err)
		return
	}
	if !ok {
		// Leave the queue pending rather than burning every due vote on a
		// local misconfiguration.
		log.Warn("no voting neuron configured; leaving due votes pending", "due", len(due))
		return
	}

	for _, vote := range due {
		e.execute(ctx, log, neuronID, vote)
	}
}

func (e *Executor) execute(ctx context.Context, log *slog.Logger, neuronID uint64, vote persistence.ScheduledVote) {
	subject := strconv.FormatUint(vote.ProposalID, 10)

	direction, err := governance.ParseVoteDirection(vote.Direction)
	if err == nil {
		err = e.client.CastVote(ctx, neuronID, vote.ProposalID, direction)
	}

	if err != nil {
		msg := err.Error()
		detail := encodeFailure(castFailure{
			NeuronID:      neuronID,
			ProposalID:    vote.ProposalID,
			Direction:     vote.Direction,
			ScheduledTime: vote.ScheduledTime,
			AttemptedAt:   time.Now().Unix(),
			Error:         msg,
		})
		marked, markErr := e.store.MarkVoteExecuted(ctx, vote.ID, &msg, &detail)
		if markErr != nil {
			log.Error("mark failed vote executed", "vote_id", vote.ID, "error", markErr)
		} else if marked {
			audit.Record("fail", audit.ActionVoteCast, msg, subject)
			if e.metrics != nil {
				e.metrics.VoteCastFailures.Add(ctx, 1)
			}
			log.Error("vote cast failed", "proposal_id", vote.ProposalID, "direction", vote.Direction, "error", msg)
			e.notifier.Notify(ctx, fmt.Sprintf("Vote %s on proposal %d FAILED: %s. It will not be retried.", vote.Direction, vote.ProposalID, msg))
		}
		e.refreshProposal(ctx, log, vote.ProposalID)
		return
	}

	marked, markErr := e.store.MarkVoteExecuted(ctx, vote.ID, nil, nil)
	if markErr != nil {
		log.Error("mark vote executed", "vote_id", vote.ID, "error", markErr)
	} else if marked {
		audit.Record("ok", audit.ActionVoteCast, vote.Direction, subject)
		if e.metrics != nil {
			e.metrics.VotesCast.Add(ctx, 1)
		}
		log.Info("vote cast", "proposal_id", vote.ProposalID, "direction", vote.Direction, "neuron_id", neuronID)
		e.notifier.Notify(ctx, fmt.Sprintf("Cast %s vote on proposal %d.", vote.Direction, vote.ProposalID))
	}
	e.refreshProposal(ctx, log, vote.ProposalID)
}

// refreshProposal best-effort re-fetches the proposal so the stored payload
// reflects the post-vote tally. When the fetch fails too, a placeholder row
// is guaranteed so the proposal is never silently absent.
func (e *Executor) refreshProposal(ctx context.Context, log *slog.Logger, proposalID uint64) {
	proposal, err := e.client.GetProposal(ctx, proposalID)
	if err == nil && proposal != nil {
		payload, marshalErr := json.Marshal(proposal)
		if marshalErr == nil {
			if _, upsertErr := e.store.UpsertProposal(ctx, proposalID, string(payload)); upsertErr == nil {
				return
			} else {
				log.Error("refresh proposal payload", "proposal_id", proposalID, "error", upsertErr)
			}
		} else {
			log.Error("encode refreshed proposal", "proposal_id", proposalID, "error", marshalErr)
		}
	} else if err != nil {
		log.Warn("refresh proposal fetch failed", "proposal_id", proposalID, "error", err)
	}

	if err := e.store.EnsureProposal(ctx, proposalID); err != nil {
		log.Error("ensure proposal placeholder", "proposal_id", proposalID, "error", err)
	}
}

func encodeFailure(f castFailure) string {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, f.Error)
	}
	return string(data)
}
