package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/basket/neurovote/internal/audit"
	"github.com/basket/neurovote/internal/governance"
	"github.com/basket/neurovote/internal/otel"
	"github.com/basket/neurovote/internal/persistence"
	"github.com/basket/neurovote/internal/shared"
)

// ErrBusy is returned when an analysis is already in flight. The call is
// dropped, not queued; the periodic sweep will come back to the proposal.
var ErrBusy = errors.New("analysis already in flight")

// summaryLimit bounds how much proposal text reaches the prompt.
const summaryLimit = 8000

// responseFormat is appended to the operator instruction so the model
// answers in the shape the validator expects.
const responseFormat = `

Respond with a single JSON object and nothing else:
{"vote": "adopt" or "reject", "reasoning": "<one short paragraph>"}`

// Result is the outcome of one analysis attempt. On failure, Class holds
// the failure class and Reasoning carries it with the error detail instead
// of model output.
type Result struct {
	Success   bool                     `json:"success"`
	Direction governance.VoteDirection `json:"direction,omitempty"`
	Reasoning string                   `json:"reasoning"`
	Class     string                   `json:"failure_class,omitempty"`
}

// Retryable reports whether the failure was environmental rather than a bad
// model answer. A retryable proposal stays queued for a later attempt; state
// is left as if the attempt never happened.
func (r Result) Retryable() bool {
	if r.Success {
		return false
	}
	return r.Class != ClassInvalidVoteValue && r.Class != ClassUnparseableResult
}

// Pipeline runs proposals through the reasoning model one at a time.
type Pipeline struct {
	store     *persistence.Store
	brain     Brain
	validator *verdictValidator
	log       *slog.Logger
	metrics   *otel.Metrics

	promptMu      sync.RWMutex
	defaultPrompt string

	// mu is the process-wide single-flight guard around the model call.
	mu sync.Mutex
}

func NewPipeline(store *persistence.Store, brain Brain, log *slog.Logger, metrics *otel.Metrics, defaultPrompt string) (*Pipeline, error) {
	validator, err := newVerdictValidator()
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		store:         store,
		brain:         brain,
		validator:     validator,
		log:           log,
		metrics:       metrics,
		defaultPrompt: defaultPrompt,
	}, nil
}

// Analyze produces and persists a vote recommendation for the proposal.
// Exactly one analysis runs at a time: a second call while one is in flight
// returns ErrBusy with no side effects. Every other failure completes the
// attempt, with the failure class in Result.Reasoning and the exchange in
// the proposal's agent log.
func (p *Pipeline) Analyze(ctx context.Context, proposalID uint64) (Result, error) {
	if !p.mu.TryLock() {
		if p.metrics != nil {
			p.metrics.AnalysesRejected.Add(ctx, 1)
		}
		return Result{Success: false, Class: ClassInFlight, Reasoning: ClassInFlight}, ErrBusy
	}
	defer p.mu.Unlock()

	start := time.Now()
	log := p.log.With("trace_id", shared.TraceID(ctx), "proposal_id", proposalID)

	result := p.run(ctx, log, proposalID)

	if p.metrics != nil {
		p.metrics.AnalysesRun.Add(ctx, 1)
		p.metrics.AnalysisDuration.Record(ctx, time.Since(start).Seconds())
	}
	if result.Success {
		audit.Record("ok", audit.ActionAnalysisRun, string(result.Direction), strconv.FormatUint(proposalID, 10))
		log.Info("analysis complete", "direction", result.Direction)
	} else {
		audit.Record("fail", audit.ActionAnalysisRun, result.Reasoning, strconv.FormatUint(proposalID, 10))
		log.Warn("analysis failed", "reason", result.Reasoning)
	}
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, log *slog.Logger, proposalID uint64) Result {
	rec, err := p.store.GetProposal(ctx, proposalID)
	if err != nil {
		return failure(fmt.Errorf("%w: load proposal: %v", errTransport, err))
	}
	if rec == nil || rec.Placeholder {
		return failure(fmt.Errorf("%w: proposal %d has no payload", errTransport, proposalID))
	}

	var proposal governance.Proposal
	if err := json.Unmarshal([]byte(rec.Payload), &proposal); err != nil {
		return failure(fmt.Errorf("%w: decode stored payload: %v", errTransport, err))
	}

	system, err := p.instruction(ctx)
	if err != nil {
		return failure(fmt.Errorf("%w: read instruction: %v", errTransport, err))
	}
	prompt, err := p.buildPrompt(ctx, &proposal)
	if err != nil {
		return failure(err)
	}

	// The full outbound prompt goes to the log before the call so a crash
	// mid-flight still leaves a record of what was asked.
	if err := p.store.AppendAgentLog(ctx, proposalID, system+"\n\n"+prompt, ""); err != nil {
		log.Error("record outbound prompt", "error", err)
	}

	raw, err := p.brain.Complete(ctx, system, prompt)
	if err != nil {
		if logErr := p.store.AppendAgentLog(ctx, proposalID, "", "ERROR: "+err.Error()); logErr != nil {
			log.Error("record model error", "error", logErr)
		}
		return failure(err)
	}
	if err := p.store.AppendAgentLog(ctx, proposalID, "", raw); err != nil {
		log.Error("record raw result", "error", err)
	}

	verdict, err := p.validator.Parse(raw)
	if err != nil {
		return failure(err)
	}
	direction, err := governance.ParseVoteDirection(verdict.Vote)
	if err != nil {
		// Never guess: "maybe", empty, or any third value is a hard failure.
		return failure(fmt.Errorf("%w: %v", errInvalidVoteValue, err))
	}

	if err := p.store.ReplaceAgentVote(ctx, proposalID, string(direction), verdict.Reasoning); err != nil {
		return failure(fmt.Errorf("%w: persist verdict: %v", errTransport, err))
	}
	return Result{Success: true, Direction: direction, Reasoning: verdict.Reasoning}
}

// Reset wipes the proposal's verdict, conversation log and any active
// schedule so a fresh Analyze starts from zero.
func (p *Pipeline) Reset(ctx context.Context, proposalID uint64) error {
	if err := p.store.ResetProposalAnalysis(ctx, proposalID); err != nil {
		audit.Record("fail", audit.ActionAnalysisReset, err.Error(), strconv.FormatUint(proposalID, 10))
		return err
	}
	audit.Record("ok", audit.ActionAnalysisReset, "", strconv.FormatUint(proposalID, 10))
	return nil
}

// SetDefaultPrompt swaps the fallback instruction, used when PROMPT.md
// changes on disk while the daemon is running.
func (p *Pipeline) SetDefaultPrompt(text string) {
	p.promptMu.Lock()
	p.defaultPrompt = text
	p.promptMu.Unlock()
}

func (p *Pipeline) instruction(ctx context.Context) (string, error) {
	text, err := p.store.GetSetting(ctx, persistence.SettingPrompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		p.promptMu.RLock()
		text = p.defaultPrompt
		p.promptMu.RUnlock()
	}
	if strings.TrimSpace(text) == "" {
		text = "You are a governance voting agent. Decide whether the proposal below should be adopted or rejected, favoring the long-term health of the network."
	}
	return text + responseFormat, nil
}

func (p *Pipeline) buildPrompt(ctx context.Context, proposal *governance.Proposal) (string, error) {
	trustedMax, _, err := p.store.GetSettingUint64(ctx, persistence.SettingTrustedProposerMax)
	if err != nil {
		return "", fmt.Errorf("%w: read trusted proposer threshold: %v", errTransport, err)
	}

	summary := proposal.Summary
	if len(summary) > summaryLimit {
		summary = summary[:summaryLimit] + "\n[truncated]"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Proposal %d\n", proposal.ID)
	fmt.Fprintf(&b, "Title: %s\n", proposal.Title)
	fmt.Fprintf(&b, "Topic: %s\n", proposal.Topic)
	fmt.Fprintf(&b, "Proposer: %d (trusted authority: %t)\n", proposal.Proposer, proposal.Proposer <= trustedMax)
	if len(proposal.Action) > 0 {
		action := string(proposal.Action)
		if len(action) > summaryLimit {
			action = action[:summaryLimit] + "\n[truncated]"
		}
		fmt.Fprintf(&b, "Action: %s\n", action)
	}
	fmt.Fprintf(&b, "\nSummary:\n%s\n", summary)
	return b.String(), nil
}

func failure(err error) Result {
	class := FailureClass(err)
	return Result{Success: false, Class: class, Reasoning: class + ": " + err.Error()}
}
