// Package governance models the external governance network: proposals,
// neurons, ballots, and the client used to list proposals and cast votes.
package governance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VoteDirection is the binary vote on a proposal.
type VoteDirection string

const (
	VoteAdopt  VoteDirection = "adopt"
	VoteReject VoteDirection = "reject"
)

// ParseVoteDirection matches s against the two permitted directions,
// case-insensitively. Anything else is an error: a vote is never guessed.
func ParseVoteDirection(s string) (VoteDirection, error) {
	switch {
	case strings.EqualFold(s, string(VoteAdopt)):
		return VoteAdopt, nil
	case strings.EqualFold(s, string(VoteReject)):
		return VoteReject, nil
	default:
		return "", fmt.Errorf("invalid vote direction %q", s)
	}
}

// Tally is the aggregate vote count for a proposal.
type Tally struct {
	Yes       uint64 `json:"yes"`
	No        uint64 `json:"no"`
	Total     uint64 `json:"total"`
	Timestamp uint64 `json:"timestamp_seconds"`
}

// Ballot is one neuron's vote record on a proposal.
type Ballot struct {
	NeuronID uint64 `json:"neuron_id"`
	Vote     string `json:"vote"`
}

// BallotSet normalizes the two wire representations of ballots, an object
// keyed by neuron ID or a list of ballot records, into one internal shape.
// The ambiguity stops at this boundary.
type BallotSet map[uint64]Ballot

// UnmarshalJSON accepts either {"123": {"vote": "yes"}, ...} or
// [{"neuron_id": 123, "vote": "yes"}, ...].
func (b *BallotSet) UnmarshalJSON(data []byte) error {
	out := make(BallotSet)
	trimmed := firstNonSpace(data)
	switch trimmed {
	case '{':
		var byID map[string]Ballot
		if err := json.Unmarshal(data, &byID); err != nil {
			return fmt.Errorf("decode ballot map: %w", err)
		}
		for key, ballot := range byID {
			id, err := strconv.ParseUint(key, 10, 64)
			if err != nil {
				return fmt.Errorf("ballot map key %q is not a neuron id: %w", key, err)
			}
			ballot.NeuronID = id
			out[id] = ballot
		}
	case '[':
		var list []Ballot
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("decode ballot list: %w", err)
		}
		for _, ballot := range list {
			out[ballot.NeuronID] = ballot
		}
	case 'n': // null
		// leave empty
	default:
		return fmt.Errorf("ballots must be an object or array, got %q", string(trimmed))
	}
	*b = out
	return nil
}

func firstNonSpace(data []byte) byte {
	for _, c := range data {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return c
	}
	return 0
}

// Proposal is a governance item as returned by the network.
type Proposal struct {
	ID       uint64          `json:"id"`
	Title    string          `json:"title"`
	Summary  string          `json:"summary"`
	Topic    string          `json:"topic"`
	Status   string          `json:"status"`
	Proposer uint64          `json:"proposer"`
	Action   json.RawMessage `json:"action,omitempty"`

	// TimestampSeconds is the proposal creation time (epoch seconds).
	TimestampSeconds uint64 `json:"timestamp_seconds"`
	// VotingPeriodSeconds bounds the voting window from TimestampSeconds.
	VotingPeriodSeconds uint64 `json:"voting_period_seconds"`

	Tally   *Tally    `json:"tally,omitempty"`
	Ballots BallotSet `json:"ballots,omitempty"`
}

// EligibleToVote reports whether the given neuron can still vote on p:
// the neuron must hold a ballot on the proposal and the voting window must
// not have elapsed.
func (p *Proposal) EligibleToVote(neuronID uint64, now time.Time) bool {
	if p == nil {
		return false
	}
	if _, ok := p.Ballots[neuronID]; !ok {
		return false
	}
	deadline := time.Unix(int64(p.TimestampSeconds+p.VotingPeriodSeconds), 0)
	return now.Before(deadline)
}

// Neuron is a stake-weighted voting identity on the network.
type Neuron struct {
	ID                   uint64 `json:"id"`
	StakeE8s             uint64 `json:"stake_e8s"`
	DissolveDelaySeconds uint64 `json:"dissolve_delay_seconds"`
	State                string `json:"state"`
}
