package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AgentVote is the recorded analysis verdict for a proposal. At most one per
// proposal: a re-run replaces the previous verdict wholesale.
type AgentVote struct {
	ProposalID uint64    `json:"proposal_id"`
	Direction  string    `json:"direction"`
	Reasoning  string    `json:"reasoning"`
	CreatedAt  time.Time `json:"created_at"`
	Scheduled  bool      `json:"scheduled"`
}

// AgentLogEntry is one line of the model conversation trail for a proposal.
type AgentLogEntry struct {
	ID         int64     `json:"id"`
	ProposalID uint64    `json:"proposal_id"`
	Request    string    `json:"request"`
	Response   string    `json:"response"`
	CreatedAt  time.Time `json:"created_at"`
}

// ReplaceAgentVote records the analysis verdict for a proposal, replacing
// any prior verdict in the same transaction.
func (s *Store) ReplaceAgentVote(ctx context.Context, proposalID uint64, direction, reasoning string) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin agent vote tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM agent_votes WHERE proposal_id = ?;
		`, int64(proposalID)); err != nil {
			return fmt.Errorf("delete prior agent vote: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agent_votes (proposal_id, direction, reasoning)
			VALUES (?, ?, ?);
		`, int64(proposalID), direction, reasoning); err != nil {
			return fmt.Errorf("insert agent vote: %w", err)
		}
		return tx.Commit()
	})
}

// GetAgentVote returns the recorded verdict for a proposal, or nil.
func (s *Store) GetAgentVote(ctx context.Context, proposalID uint64) (*AgentVote, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT proposal_id, direction, reasoning, created_at, scheduled
		FROM agent_votes
		WHERE proposal_id = ?;
	`, int64(proposalID))

	var vote AgentVote
	var id int64
	var scheduled int
	err := row.Scan(&id, &vote.Direction, &vote.Reasoning, &vote.CreatedAt, &scheduled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent vote for %d: %w", proposalID, err)
	}
	vote.ProposalID = uint64(id)
	vote.Scheduled = scheduled != 0
	return &vote, nil
}

// MarkAgentVoteScheduled flags the verdict as handed to the vote scheduler.
func (s *Store) MarkAgentVoteScheduled(ctx context.Context, proposalID uint64) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE agent_votes SET scheduled = 1 WHERE proposal_id = ?;
		`, int64(proposalID))
		return err
	})
}

// ListAgentVotes returns recorded verdicts newest first.
func (s *Store) ListAgentVotes(ctx context.Context, limit int) ([]AgentVote, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT proposal_id, direction, reasoning, created_at, scheduled
		FROM agent_votes
		ORDER BY created_at DESC, proposal_id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query agent votes: %w", err)
	}
	defer rows.Close()

	var out []AgentVote
	for rows.Next() {
		var vote AgentVote
		var id int64
		var scheduled int
		if err := rows.Scan(&id, &vote.Direction, &vote.Reasoning, &vote.CreatedAt, &scheduled); err != nil {
			return nil, fmt.Errorf("scan agent vote: %w", err)
		}
		vote.ProposalID = uint64(id)
		vote.Scheduled = scheduled != 0
		out = append(out, vote)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agent vote rows: %w", err)
	}
	return out, nil
}

// AppendAgentLog appends one request/response pair to the proposal's
// conversation trail. Either side may be empty when only one direction of
// the exchange is known.
func (s *Store) AppendAgentLog(ctx context.Context, proposalID uint64, request, response string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO agent_logs (proposal_id, request, response)
			VALUES (?, ?, ?);
		`, int64(proposalID), request, response)
		return err
	})
}

// ListAgentLogs returns the conversation trail for a proposal, oldest first.
func (s *Store) ListAgentLogs(ctx context.Context, proposalID uint64, limit int) ([]AgentLogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposal_id, request, response, created_at
		FROM agent_logs
		WHERE proposal_id = ?
		ORDER BY id ASC
		LIMIT ?;
	`, int64(proposalID), limit)
	if err != nil {
		return nil, fmt.Errorf("query agent logs: %w", err)
	}
	defer rows.Close()

	var out []AgentLogEntry
	for rows.Next() {
		var entry AgentLogEntry
		var id int64
		if err := rows.Scan(&entry.ID, &id, &entry.Request, &entry.Response, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent log: %w", err)
		}
		entry.ProposalID = uint64(id)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agent log rows: %w", err)
	}
	return out, nil
}

// ResetProposalAnalysis wipes a single proposal's analysis output in one
// transaction: its verdict, its conversation trail, and any active scheduled
// vote derived from it. The proposal row itself stays, with its processed
// flag cleared so the analysis sweep will pick it up again.
func (s *Store) ResetProposalAnalysis(ctx context.Context, proposalID uint64) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin reset tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		id := int64(proposalID)
		if _, err := tx.ExecContext(ctx, `DELETE FROM agent_votes WHERE proposal_id = ?;`, id); err != nil {
			return fmt.Errorf("reset agent vote: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM agent_logs WHERE proposal_id = ?;`, id); err != nil {
			return fmt.Errorf("reset agent logs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_votes WHERE proposal_id = ? AND executed = 0;`, id); err != nil {
			return fmt.Errorf("reset scheduled vote: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE proposals SET processed = 0 WHERE id = ?;`, id); err != nil {
			return fmt.Errorf("reset processed flag: %w", err)
		}
		return tx.Commit()
	})
}

// ResetAgentData clears all analysis output in one transaction: verdicts,
// conversation trails, active scheduled votes, and the processed flags.
// Proposal rows and executed vote history are kept so the agent can
// re-analyze without re-syncing.
func (s *Store) ResetAgentData(ctx context.Context) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin reset tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM agent_votes;`); err != nil {
			return fmt.Errorf("reset agent votes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM agent_logs;`); err != nil {
			return fmt.Errorf("reset agent logs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_votes WHERE executed = 0;`); err != nil {
			return fmt.Errorf("reset scheduled votes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE proposals SET processed = 0;`); err != nil {
			return fmt.Errorf("reset processed flags: %w", err)
		}
		return tx.Commit()
	})
}
