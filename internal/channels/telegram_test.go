package channels

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/neurovote/internal/analysis"
	"github.com/basket/neurovote/internal/governance"
	"github.com/basket/neurovote/internal/persistence"
	"github.com/basket/neurovote/internal/scheduler"
	"github.com/basket/neurovote/internal/service"
	"github.com/basket/neurovote/internal/syncer"
)

type stubBrain struct{}

func (stubBrain) Complete(context.Context, string, string) (string, error) {
	return "", analysis.ErrNotConfigured
}

type stubClient struct{ governance.Client }

func newTestChannel(t *testing.T) *TelegramChannel {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	pipeline, err := analysis.NewPipeline(store, stubBrain{}, slog.Default(), nil, "")
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	sched := scheduler.New(store, slog.Default(), nil, nil)
	sync := syncer.New(store, stubClient{}, slog.Default(), nil)
	svc := service.New(store, stubClient{}, pipeline, sched, sync, slog.Default())
	return NewTelegramChannel("", []int64{1}, svc, slog.Default())
}

func TestPendingEmptyQueue(t *testing.T) {
	ch := newTestChannel(t)
	if got := ch.pendingText(context.Background()); got != "No votes pending." {
		t.Fatalf("pendingText = %q", got)
	}
}

func TestVoteThenPendingThenCancel(t *testing.T) {
	ch := newTestChannel(t)
	ctx := context.Background()

	if got := ch.manualVote(ctx, []string{"12345", "adopt"}); !strings.Contains(got, "Scheduled adopt on proposal 12345") {
		t.Fatalf("manualVote = %q", got)
	}
	if got := ch.pendingText(ctx); !strings.Contains(got, "proposal 12345: adopt") {
		t.Fatalf("pendingText = %q", got)
	}
	if got := ch.cancelVote(ctx, []string{"12345"}); !strings.Contains(got, "Canceled") {
		t.Fatalf("cancelVote = %q", got)
	}
	if got := ch.cancelVote(ctx, []string{"12345"}); !strings.Contains(got, "Nothing scheduled") {
		t.Fatalf("repeat cancelVote = %q", got)
	}
}

func TestManualVoteRejectsBadInput(t *testing.T) {
	ch := newTestChannel(t)
	ctx := context.Background()

	if got := ch.manualVote(ctx, []string{"12345"}); !strings.Contains(got, "Usage") {
		t.Fatalf("manualVote = %q", got)
	}
	if got := ch.manualVote(ctx, []string{"12345", "yes"}); !strings.Contains(got, "Error") {
		t.Fatalf("manualVote with junk direction = %q", got)
	}
	if got := ch.manualVote(ctx, []string{"abc", "adopt"}); !strings.Contains(got, "not a proposal ID") {
		t.Fatalf("manualVote with junk id = %q", got)
	}
}
