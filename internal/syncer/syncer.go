// Package syncer mirrors governance proposals into the local store by
// paginating backward from the newest proposal until it hits territory the
// store already knows about.
package syncer

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/basket/neurovote/internal/governance"
	"github.com/basket/neurovote/internal/otel"
	"github.com/basket/neurovote/internal/persistence"
	"github.com/basket/neurovote/internal/shared"
)

const (
	pageSize = 30
	// Safety cap so a misbehaving endpoint cannot make one sync run walk
	// forever.
	maxPages = 100
)

// Result summarizes one sync run.
type Result struct {
	Fetched int `json:"fetched"`
	New     int `json:"new"`
}

type Syncer struct {
	store   *persistence.Store
	client  governance.Client
	log     *slog.Logger
	metrics *otel.Metrics
}

func New(store *persistence.Store, client governance.Client, log *slog.Logger, metrics *otel.Metrics) *Syncer {
	return &Syncer{store: store, client: client, log: log, metrics: metrics}
}

// SyncNewProposals pulls proposals newest-first and upserts each page.
// It fails soft: any page or storage error ends the run with whatever
// partial progress was already committed.
//
// The store's minimum-known-ID setting is a fast-path cutoff: proposals at
// or below it are assumed present, so paging stops there. The cutoff is
// written once, after the first run that walks its pages without a fetch
// error, and never raised afterward. A run that loses a page mid-walk must
// not bootstrap the cutoff: pages below the failure were never stored, and
// a cutoff above them would hide that history forever.
func (s *Syncer) SyncNewProposals(ctx context.Context) Result {
	start := time.Now()
	log := s.log.With("trace_id", shared.TraceID(ctx), "job", "sync")

	cutoff, hasCutoff, err := s.store.GetSettingUint64(ctx, persistence.SettingMinimumKnownID)
	if err != nil {
		log.Error("read minimum known id", "error", err)
		return Result{}
	}

	var result Result
	var beforeID uint64
	var firstPageLowest uint64
	firstPageSeen := false
	fetchFailed := false

	for page := 0; page < maxPages; page++ {
		proposals, err := s.client.ListProposals(ctx, beforeID, pageSize)
		if err != nil {
			log.Error("list proposals page", "before_id", beforeID, "error", err)
			fetchFailed = true
			break
		}
		if len(proposals) == 0 {
			break
		}

		pageLowest := proposals[0].ID
		allExisted := true
		reachedCutoff := false
		for _, p := range proposals {
			if p.ID < pageLowest {
				pageLowest = p.ID
			}
			if hasCutoff && p.ID <= cutoff {
				reachedCutoff = true
				continue
			}
			payload, err := json.Marshal(p)
			if err != nil {
				log.Error("encode proposal", "proposal_id", p.ID, "error", err)
				continue
			}
			created, err := s.store.UpsertProposal(ctx, p.ID, string(payload))
			if err != nil {
				log.Error("store proposal", "proposal_id", p.ID, "error", err)
				continue
			}
			result.Fetched++
			if created {
				result.New++
				allExisted = false
			}
		}

		if !firstPageSeen {
			firstPageSeen = true
			firstPageLowest = pageLowest
		}
		if reachedCutoff {
			break
		}
		if allExisted && hasCutoff {
			// Steady state: everything on this page was already stored,
			// so everything older is too. Before the cutoff exists that
			// inference does not hold, a failed earlier run can leave
			// known pages above missing history, so bootstrap runs keep
			// walking to the end.
			break
		}
		beforeID = pageLowest
	}

	if !hasCutoff && firstPageSeen && !fetchFailed {
		if err := s.store.SetSetting(ctx, persistence.SettingMinimumKnownID, strconv.FormatUint(firstPageLowest, 10)); err != nil {
			log.Error("persist minimum known id", "value", firstPageLowest, "error", err)
		} else {
			log.Info("bootstrapped minimum known id", "value", firstPageLowest)
		}
	}

	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.ProposalsFetched.Add(ctx, int64(result.Fetched))
		s.metrics.ProposalsNew.Add(ctx, int64(result.New))
		s.metrics.SyncDuration.Record(ctx, elapsed.Seconds())
	}
	log.Info("sync complete", "fetched", result.Fetched, "new", result.New, "duration_ms", elapsed.Milliseconds())
	return result
}
