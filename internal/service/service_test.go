package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/basket/neurovote/internal/analysis"
	"github.com/basket/neurovote/internal/governance"
	"github.com/basket/neurovote/internal/persistence"
	"github.com/basket/neurovote/internal/scheduler"
	"github.com/basket/neurovote/internal/syncer"
)

type fakeBrain struct {
	reply string
	err   error
}

func (f *fakeBrain) Complete(context.Context, string, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeClient struct {
	governance.Client

	neurons []governance.Neuron
}

func (f *fakeClient) ListNeurons(context.Context) ([]governance.Neuron, error) {
	return f.neurons, nil
}

func newTestService(t *testing.T, brainReply string) (*Service, *persistence.Store) {
	s, store, _ := newTestServiceWithBrain(t, &fakeBrain{reply: brainReply})
	return s, store
}

func newTestServiceWithBrain(t *testing.T, brain *fakeBrain) (*Service, *persistence.Store, *fakeBrain) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	client := &fakeClient{neurons: []governance.Neuron{{ID: 777, StakeE8s: 100}}}
	pipeline, err := analysis.NewPipeline(store, brain, slog.Default(), nil, "Vote with care.")
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	sched := scheduler.New(store, slog.Default(), nil, nil)
	sync := syncer.New(store, client, slog.Default(), nil)
	return New(store, client, pipeline, sched, sync, slog.Default()), store, brain
}

func seedProposal(t *testing.T, store *persistence.Store, id uint64) {
	t.Helper()
	payload := fmt.Sprintf(`{"id":%d,"title":"Proposal %d","topic":"governance","summary":"text","proposer":3}`, id, id)
	if _, err := store.UpsertProposal(context.Background(), id, payload); err != nil {
		t.Fatalf("UpsertProposal: %v", err)
	}
}

func TestAnalyzeUnprocessedSchedulesVerdicts(t *testing.T) {
	s, store := newTestService(t, `{"vote": "adopt", "reasoning": "net positive"}`)
	ctx := context.Background()
	seedProposal(t, store, 1)
	seedProposal(t, store, 2)

	s.AnalyzeUnprocessed(ctx)

	for _, id := range []uint64{1, 2} {
		vote, err := store.GetAgentVote(ctx, id)
		if err != nil {
			t.Fatalf("GetAgentVote(%d): %v", id, err)
		}
		if vote == nil || !vote.Scheduled {
			t.Fatalf("proposal %d verdict = %+v, want scheduled", id, vote)
		}

		active, err := store.ActiveScheduledVote(ctx, id)
		if err != nil {
			t.Fatalf("ActiveScheduledVote(%d): %v", id, err)
		}
		if active == nil || active.Direction != "adopt" {
			t.Fatalf("proposal %d schedule = %+v", id, active)
		}

		rec, err := store.GetProposal(ctx, id)
		if err != nil {
			t.Fatalf("GetProposal(%d): %v", id, err)
		}
		if !rec.Processed {
			t.Fatalf("proposal %d not marked processed", id)
		}
	}

	// Nothing left for the next tick.
	pending, err := store.ListUnprocessedProposals(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnprocessedProposals: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("sweep left %d unprocessed", len(pending))
	}
}

func TestAnalyzeUnprocessedMarksHardFailuresProcessed(t *testing.T) {
	s, store := newTestService(t, `{"vote": "maybe", "reasoning": "unsure"}`)
	ctx := context.Background()
	seedProposal(t, store, 1)

	s.AnalyzeUnprocessed(ctx)

	if vote, err := store.GetAgentVote(ctx, 1); err != nil || vote != nil {
		t.Fatalf("invalid verdict must not be stored: (%+v, %v)", vote, err)
	}
	if active, err := store.ActiveScheduledVote(ctx, 1); err != nil || active != nil {
		t.Fatalf("invalid verdict must not schedule: (%+v, %v)", active, err)
	}
	rec, err := store.GetProposal(ctx, 1)
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if !rec.Processed {
		t.Fatal("a completed failed attempt still marks the proposal processed")
	}
}

func TestAnalyzeUnprocessedDefersWhileUnconfigured(t *testing.T) {
	s, store, brain := newTestServiceWithBrain(t, &fakeBrain{err: analysis.ErrNotConfigured})
	ctx := context.Background()
	seedProposal(t, store, 1)
	seedProposal(t, store, 2)

	s.AnalyzeUnprocessed(ctx)

	// Nothing is consumed: the whole backlog waits for an API key.
	pending, err := store.ListUnprocessedProposals(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnprocessedProposals: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("unprocessed = %d, want the full backlog of 2", len(pending))
	}
	for _, id := range []uint64{1, 2} {
		rec, err := store.GetProposal(ctx, id)
		if err != nil {
			t.Fatalf("GetProposal(%d): %v", id, err)
		}
		if rec.Processed {
			t.Fatalf("proposal %d consumed by an unconfigured sweep", id)
		}
	}

	// Once the key arrives, the same proposals get analyzed.
	brain.err = nil
	brain.reply = `{"vote": "adopt", "reasoning": "fine"}`
	s.AnalyzeUnprocessed(ctx)

	pending, err = store.ListUnprocessedProposals(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnprocessedProposals: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("configured sweep left %d unprocessed", len(pending))
	}
	if vote, err := store.GetAgentVote(ctx, 1); err != nil || vote == nil {
		t.Fatalf("verdict missing after recovery: (%+v, %v)", vote, err)
	}
}

func TestAnalyzeUnprocessedDefersOnTransportError(t *testing.T) {
	s, store, _ := newTestServiceWithBrain(t, &fakeBrain{err: errors.New("upstream 503")})
	ctx := context.Background()
	seedProposal(t, store, 4)

	s.AnalyzeUnprocessed(ctx)

	rec, err := store.GetProposal(ctx, 4)
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if rec.Processed {
		t.Fatal("transport failure consumed the proposal")
	}
}

func TestScheduleVoteValidatesDirection(t *testing.T) {
	s, _ := newTestService(t, "")
	ctx := context.Background()

	if _, err := s.ScheduleVote(ctx, 5, "yes", nil); err == nil {
		t.Fatal("direction outside adopt/reject must be refused")
	}

	vote, err := s.ScheduleVote(ctx, 5, "Adopt", nil)
	if err != nil {
		t.Fatalf("ScheduleVote: %v", err)
	}
	if vote.Direction != "adopt" {
		t.Fatalf("direction = %q, want normalized adopt", vote.Direction)
	}
}

func TestScheduleVoteUsesConfiguredDelay(t *testing.T) {
	s, store := newTestService(t, "")
	ctx := context.Background()

	if err := store.SetSetting(ctx, persistence.SettingVoteDelaySeconds, "60"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}

	vote, err := s.ScheduleVote(ctx, 5, "reject", nil)
	if err != nil {
		t.Fatalf("ScheduleVote: %v", err)
	}
	// created now + 60, allow clock slack
	if vote.ScheduledTime < vote.CreatedAt.Unix()+55 || vote.ScheduledTime > vote.CreatedAt.Unix()+65 {
		t.Fatalf("scheduled_time = %d, want about created+60", vote.ScheduledTime)
	}

	override := int64(0)
	vote, err = s.ScheduleVote(ctx, 5, "reject", &override)
	if err != nil {
		t.Fatalf("ScheduleVote with override: %v", err)
	}
	if vote.ScheduledTime > vote.CreatedAt.Unix()+2 {
		t.Fatalf("zero override ignored: %d", vote.ScheduledTime)
	}
}

func TestTriggerAnalysisObservableViaPolling(t *testing.T) {
	s, store := newTestService(t, `{"vote": "reject", "reasoning": "too risky"}`)
	ctx := context.Background()
	seedProposal(t, store, 9)

	s.TriggerAnalysis(ctx, 9)

	vote, err := s.WaitForAnalysis(ctx, 9)
	if err != nil {
		t.Fatalf("WaitForAnalysis: %v", err)
	}
	if vote.Direction != "reject" {
		t.Fatalf("verdict = %+v", vote)
	}
}

func TestSelectNeuronPersistsChoice(t *testing.T) {
	s, store := newTestService(t, "")
	ctx := context.Background()

	neurons, err := s.ListNeurons(ctx)
	if err != nil || len(neurons) != 1 {
		t.Fatalf("ListNeurons: (%v, %v)", neurons, err)
	}
	if err := s.SelectNeuron(ctx, neurons[0].ID); err != nil {
		t.Fatalf("SelectNeuron: %v", err)
	}

	id, ok, err := store.GetSettingUint64(ctx, persistence.SettingNeuronID)
	if err != nil || !ok || id != 777 {
		t.Fatalf("stored neuron = (%d, %v, %v), want 777", id, ok, err)
	}
}
