package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all neurovote metric instruments.
type Metrics struct {
	ProposalsFetched metric.Int64Counter
	ProposalsNew     metric.Int64Counter
	SyncDuration     metric.Float64Histogram
	AnalysesRun      metric.Int64Counter
	AnalysesRejected metric.Int64Counter
	AnalysisDuration metric.Float64Histogram
	VotesScheduled   metric.Int64Counter
	VotesCast        metric.Int64Counter
	VoteCastFailures metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ProposalsFetched, err = meter.Int64Counter("neurovote.sync.proposals_fetched",
		metric.WithDescription("Proposals fetched from the governance network"),
	)
	if err != nil {
		return nil, err
	}

	m.ProposalsNew, err = meter.Int64Counter("neurovote.sync.proposals_new",
		metric.WithDescription("Proposals stored for the first time"),
	)
	if err != nil {
		return nil, err
	}

	m.SyncDuration, err = meter.Float64Histogram("neurovote.sync.duration",
		metric.WithDescription("Proposal sync duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.AnalysesRun, err = meter.Int64Counter("neurovote.analysis.runs",
		metric.WithDescription("Completed analysis attempts"),
	)
	if err != nil {
		return nil, err
	}

	m.AnalysesRejected, err = meter.Int64Counter("neurovote.analysis.rejected",
		metric.WithDescription("Analysis calls rejected by the single-flight guard"),
	)
	if err != nil {
		return nil, err
	}

	m.AnalysisDuration, err = meter.Float64Histogram("neurovote.analysis.duration",
		metric.WithDescription("Reasoning-service call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.VotesScheduled, err = meter.Int64Counter("neurovote.votes.scheduled",
		metric.WithDescription("Votes placed on the delayed-execution queue"),
	)
	if err != nil {
		return nil, err
	}

	m.VotesCast, err = meter.Int64Counter("neurovote.votes.cast",
		metric.WithDescription("Votes successfully cast on the governance network"),
	)
	if err != nil {
		return nil, err
	}

	m.VoteCastFailures, err = meter.Int64Counter("neurovote.votes.failures",
		metric.WithDescription("Vote casts that terminally failed"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
