package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/neurovote/internal/persistence"
)

type fakeBrain struct {
	reply   string
	err     error
	release chan struct{} // when set, Complete blocks until closed

	lastSystem string
	lastPrompt string
}

func (f *fakeBrain) Complete(_ context.Context, system, prompt string) (string, error) {
	f.lastSystem = system
	f.lastPrompt = prompt
	if f.release != nil {
		<-f.release
	}
	return f.reply, f.err
}

func newTestPipeline(t *testing.T, brain Brain) (*Pipeline, *persistence.Store) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	p, err := NewPipeline(store, brain, slog.Default(), nil, "Vote with care.")
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p, store
}

func seedProposal(t *testing.T, store *persistence.Store, id uint64) {
	t.Helper()
	payload := fmt.Sprintf(`{"id":%d,"title":"Raise node rewards","topic":"economics","summary":"Increase rewards by 5%%","proposer":12}`, id)
	if _, err := store.UpsertProposal(context.Background(), id, payload); err != nil {
		t.Fatalf("UpsertProposal: %v", err)
	}
}

func TestAnalyzeHappyPath(t *testing.T) {
	brain := &fakeBrain{reply: "```json\n{\"vote\": \"Adopt\", \"reasoning\": \"rewards are sustainable\"}\n```"}
	p, store := newTestPipeline(t, brain)
	ctx := context.Background()
	seedProposal(t, store, 42)

	result, err := p.Analyze(ctx, 42)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !result.Success || result.Direction != "adopt" {
		t.Fatalf("result = %+v, want adopt", result)
	}

	vote, err := store.GetAgentVote(ctx, 42)
	if err != nil {
		t.Fatalf("GetAgentVote: %v", err)
	}
	if vote == nil || vote.Direction != "adopt" || vote.Reasoning != "rewards are sustainable" {
		t.Fatalf("stored verdict = %+v", vote)
	}

	// Prompt first, raw result second.
	logs, err := store.ListAgentLogs(ctx, 42, 10)
	if err != nil {
		t.Fatalf("ListAgentLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(logs))
	}
	if !strings.Contains(logs[0].Request, "Raise node rewards") {
		t.Fatalf("outbound prompt not recorded: %q", logs[0].Request)
	}
	if !strings.Contains(logs[1].Response, "rewards are sustainable") {
		t.Fatalf("raw result not recorded: %q", logs[1].Response)
	}
}

func TestAnalyzePromptMarksTrustedProposer(t *testing.T) {
	brain := &fakeBrain{reply: `{"vote": "reject", "reasoning": "no"}`}
	p, store := newTestPipeline(t, brain)
	ctx := context.Background()
	seedProposal(t, store, 42) // proposer 12, default threshold 100

	if _, err := p.Analyze(ctx, 42); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !strings.Contains(brain.lastPrompt, "trusted authority: true") {
		t.Fatalf("prompt missing trusted flag:\n%s", brain.lastPrompt)
	}
	if !strings.Contains(brain.lastSystem, "Vote with care.") {
		t.Fatalf("system prompt missing operator instruction:\n%s", brain.lastSystem)
	}
}

func TestAnalyzeRejectsThirdVoteValue(t *testing.T) {
	brain := &fakeBrain{reply: `{"vote": "maybe", "reasoning": "on the fence"}`}
	p, store := newTestPipeline(t, brain)
	ctx := context.Background()
	seedProposal(t, store, 42)

	result, err := p.Analyze(ctx, 42)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Success {
		t.Fatal("a third vote value must never succeed")
	}
	if result.Class != ClassInvalidVoteValue || !strings.Contains(result.Reasoning, "invalid-vote-value") {
		t.Fatalf("result = %+v, want invalid-vote-value class", result)
	}
	if result.Retryable() {
		t.Fatal("a bad model answer is not retryable")
	}

	vote, err := store.GetAgentVote(ctx, 42)
	if err != nil {
		t.Fatalf("GetAgentVote: %v", err)
	}
	if vote != nil {
		t.Fatalf("verdict must not be stored on invalid vote: %+v", vote)
	}
}

func TestAnalyzeUnparseableResult(t *testing.T) {
	brain := &fakeBrain{reply: "I think this proposal is good overall."}
	p, store := newTestPipeline(t, brain)
	ctx := context.Background()
	seedProposal(t, store, 42)

	result, err := p.Analyze(ctx, 42)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Success || !strings.Contains(result.Reasoning, "unparseable-result") {
		t.Fatalf("result = %+v, want unparseable-result failure", result)
	}
}

func TestAnalyzeServiceNotConfigured(t *testing.T) {
	brain := &fakeBrain{err: ErrNotConfigured}
	p, store := newTestPipeline(t, brain)
	ctx := context.Background()
	seedProposal(t, store, 42)

	result, err := p.Analyze(ctx, 42)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Success || result.Class != ClassNotConfigured {
		t.Fatalf("result = %+v, want service-not-configured failure", result)
	}
	if !result.Retryable() {
		t.Fatal("a missing API key must leave the proposal retryable")
	}
}

func TestAnalyzeTransportError(t *testing.T) {
	brain := &fakeBrain{err: errors.New("connection reset")}
	p, store := newTestPipeline(t, brain)
	ctx := context.Background()
	seedProposal(t, store, 42)

	result, err := p.Analyze(ctx, 42)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Success || result.Class != ClassTransport {
		t.Fatalf("result = %+v, want transport-error failure", result)
	}
	if !result.Retryable() {
		t.Fatal("a transport failure must leave the proposal retryable")
	}
}

func TestAnalyzeSingleFlight(t *testing.T) {
	release := make(chan struct{})
	brain := &fakeBrain{reply: `{"vote": "adopt", "reasoning": "fine"}`, release: release}
	p, store := newTestPipeline(t, brain)
	ctx := context.Background()
	seedProposal(t, store, 42)
	seedProposal(t, store, 7)

	firstDone := make(chan Result, 1)
	go func() {
		result, _ := p.Analyze(ctx, 42)
		firstDone <- result
	}()

	// Wait for the first call to take the lock and enter the model call.
	deadline := time.After(2 * time.Second)
	for brain.lastPrompt == "" {
		select {
		case <-deadline:
			t.Fatal("first analysis never reached the model")
		case <-time.After(5 * time.Millisecond):
		}
	}

	result, err := p.Analyze(ctx, 7)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("second call err = %v, want ErrBusy", err)
	}
	if result.Success {
		t.Fatal("busy drop must not report success")
	}
	if vote, err := store.GetAgentVote(ctx, 7); err != nil || vote != nil {
		t.Fatalf("busy drop must have no side effects, got (%+v, %v)", vote, err)
	}

	close(release)
	first := <-firstDone
	if !first.Success {
		t.Fatalf("in-flight analysis should complete: %+v", first)
	}

	// Lock is free again.
	if _, err := p.Analyze(ctx, 7); err != nil {
		t.Fatalf("post-release analysis: %v", err)
	}
	if vote, err := store.GetAgentVote(ctx, 7); err != nil || vote == nil {
		t.Fatalf("post-release verdict missing: (%+v, %v)", vote, err)
	}
}

func TestResetClearsVerdictAndLogs(t *testing.T) {
	brain := &fakeBrain{reply: `{"vote": "adopt", "reasoning": "fine"}`}
	p, store := newTestPipeline(t, brain)
	ctx := context.Background()
	seedProposal(t, store, 42)

	if _, err := p.Analyze(ctx, 42); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if err := p.Reset(ctx, 42); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if vote, err := store.GetAgentVote(ctx, 42); err != nil || vote != nil {
		t.Fatalf("verdict should be gone after reset: (%+v, %v)", vote, err)
	}
	logs, err := store.ListAgentLogs(ctx, 42, 10)
	if err != nil || len(logs) != 0 {
		t.Fatalf("logs should be gone after reset: (%d, %v)", len(logs), err)
	}

	// A fresh analysis runs normally afterward.
	result, err := p.Analyze(ctx, 42)
	if err != nil || !result.Success {
		t.Fatalf("re-analysis after reset failed: (%+v, %v)", result, err)
	}
}
