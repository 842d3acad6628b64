package governance

import "context"

// Client is the governance-network surface the agent depends on.
// Implementations must be safe for concurrent use.
type Client interface {
	// ListProposals returns up to limit proposals strictly older than
	// beforeID, newest first. beforeID == 0 starts from the newest proposal.
	ListProposals(ctx context.Context, beforeID uint64, limit int) ([]Proposal, error)

	// GetProposal fetches a single proposal by ID.
	GetProposal(ctx context.Context, id uint64) (*Proposal, error)

	// CastVote casts a vote with the given neuron on the proposal.
	CastVote(ctx context.Context, neuronID, proposalID uint64, direction VoteDirection) error

	// ListNeurons returns the neurons controlled by the configured identity.
	ListNeurons(ctx context.Context) ([]Neuron, error)

	// SetDissolveDelay increases the neuron's dissolve delay to the given
	// number of seconds, which affects voting eligibility.
	SetDissolveDelay(ctx context.Context, neuronID, seconds uint64) error
}
