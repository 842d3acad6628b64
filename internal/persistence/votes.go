package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ScheduledVote is one row on the delayed-action queue. Executed is
// terminal: a row is marked executed exactly once, on success (error fields
// null) or failure (error fields populated), and is never retried.
type ScheduledVote struct {
	ID            int64     `json:"id"`
	ProposalID    uint64    `json:"proposal_id"`
	Direction     string    `json:"direction"`
	ScheduledTime int64     `json:"scheduled_time"`
	Executed      bool      `json:"executed"`
	ExecutedTime  *int64    `json:"executed_time,omitempty"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	ErrorDetail   *string   `json:"error_detail,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ReplaceScheduledVote atomically supersedes any active (unexecuted)
// scheduled vote for the proposal with a new one: last writer wins.
// Executed rows are history and stay untouched.
func (s *Store) ReplaceScheduledVote(ctx context.Context, proposalID uint64, direction string, scheduledTime int64) (*ScheduledVote, error) {
	var out *ScheduledVote
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schedule tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM scheduled_votes WHERE proposal_id = ? AND executed = 0;
		`, int64(proposalID)); err != nil {
			return fmt.Errorf("delete superseded vote: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO scheduled_votes (proposal_id, direction, scheduled_time)
			VALUES (?, ?, ?);
		`, int64(proposalID), direction, scheduledTime)
		if err != nil {
			return fmt.Errorf("insert scheduled vote: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("scheduled vote insert id: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		out = &ScheduledVote{
			ID:            id,
			ProposalID:    proposalID,
			Direction:     direction,
			ScheduledTime: scheduledTime,
			CreatedAt:     time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelScheduledVote hard-deletes the active scheduled vote for the
// proposal. Returns false when nothing was scheduled.
func (s *Store) CancelScheduledVote(ctx context.Context, proposalID uint64) (bool, error) {
	var canceled bool
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM scheduled_votes WHERE proposal_id = ? AND executed = 0;
		`, int64(proposalID))
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		canceled = affected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("cancel scheduled vote for %d: %w", proposalID, err)
	}
	return canceled, nil
}

// ActiveScheduledVote returns the unexecuted scheduled vote for the
// proposal, or nil.
func (s *Store) ActiveScheduledVote(ctx context.Context, proposalID uint64) (*ScheduledVote, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, proposal_id, direction, scheduled_time, executed, executed_time, error_message, error_detail, created_at
		FROM scheduled_votes
		WHERE proposal_id = ? AND executed = 0;
	`, int64(proposalID))
	vote, err := scanScheduledVote(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active scheduled vote for %d: %w", proposalID, err)
	}
	return vote, nil
}

// DueScheduledVotes returns all unexecuted votes whose scheduled time is at
// or before now (epoch seconds), oldest first.
func (s *Store) DueScheduledVotes(ctx context.Context, now int64) ([]ScheduledVote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposal_id, direction, scheduled_time, executed, executed_time, error_message, error_detail, created_at
		FROM scheduled_votes
		WHERE executed = 0 AND scheduled_time <= ?
		ORDER BY scheduled_time ASC, id ASC;
	`, now)
	if err != nil {
		return nil, fmt.Errorf("query due votes: %w", err)
	}
	defer rows.Close()

	var out []ScheduledVote
	for rows.Next() {
		vote, err := scanScheduledVote(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan due vote: %w", err)
		}
		out = append(out, *vote)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("due vote rows: %w", err)
	}
	return out, nil
}

// MarkVoteExecuted terminalizes the row exactly once. errMsg/errDetail are
// nil on success. Returns false when the row was already executed or does
// not exist, so re-running a sweep is a no-op.
func (s *Store) MarkVoteExecuted(ctx context.Context, id int64, errMsg, errDetail *string) (bool, error) {
	var marked bool
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE scheduled_votes
			SET executed = 1,
				executed_time = ?,
				error_message = ?,
				error_detail = ?
			WHERE id = ? AND executed = 0;
		`, time.Now().Unix(), nullable(errMsg), nullable(errDetail), id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		marked = affected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("mark vote %d executed: %w", id, err)
	}
	return marked, nil
}

// ListScheduledVotes returns scheduled votes newest first, executed or not.
func (s *Store) ListScheduledVotes(ctx context.Context, limit int) ([]ScheduledVote, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposal_id, direction, scheduled_time, executed, executed_time, error_message, error_detail, created_at
		FROM scheduled_votes
		ORDER BY id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query scheduled votes: %w", err)
	}
	defer rows.Close()

	var out []ScheduledVote
	for rows.Next() {
		vote, err := scanScheduledVote(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled vote: %w", err)
		}
		out = append(out, *vote)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scheduled vote rows: %w", err)
	}
	return out, nil
}

func scanScheduledVote(scanFn func(dest ...any) error) (*ScheduledVote, error) {
	var vote ScheduledVote
	var proposalID int64
	var executed int
	var executedTime sql.NullInt64
	var errMsg, errDetail sql.NullString
	if err := scanFn(
		&vote.ID,
		&proposalID,
		&vote.Direction,
		&vote.ScheduledTime,
		&executed,
		&executedTime,
		&errMsg,
		&errDetail,
		&vote.CreatedAt,
	); err != nil {
		return nil, err
	}
	vote.ProposalID = uint64(proposalID)
	vote.Executed = executed != 0
	if executedTime.Valid {
		t := executedTime.Int64
		vote.ExecutedTime = &t
	}
	if errMsg.Valid {
		m := errMsg.String
		vote.ErrorMessage = &m
	}
	if errDetail.Valid {
		d := errDetail.String
		vote.ErrorDetail = &d
	}
	return &vote, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
