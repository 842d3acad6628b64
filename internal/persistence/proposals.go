package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ProposalRecord is one mirrored proposal row. Payload is the raw JSON
// returned by the governance network; Placeholder marks rows synthesized
// before the full payload was retrievable.
type ProposalRecord struct {
	ID          uint64    `json:"id"`
	Payload     string    `json:"payload"`
	Processed   bool      `json:"processed"`
	Placeholder bool      `json:"placeholder"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UpsertProposal stores the proposal payload, overwriting any previous
// payload so re-fetches pick up new ballots, tallies and status. Returns
// true when the row did not exist before. The placeholder flag is cleared:
// a full payload supersedes a synthesized row.
func (s *Store) UpsertProposal(ctx context.Context, id uint64, payload string) (bool, error) {
	var created bool
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin upsert proposal tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM proposals WHERE id = ?;`, int64(id)).Scan(&exists)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			created = true
		case err != nil:
			return fmt.Errorf("check proposal existence: %w", err)
		default:
			created = false
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO proposals (id, payload, placeholder, created_at, updated_at)
			VALUES (?, ?, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE SET
				payload = excluded.payload,
				placeholder = 0,
				updated_at = CURRENT_TIMESTAMP;
		`, int64(id), payload); err != nil {
			return fmt.Errorf("upsert proposal: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// EnsureProposal inserts a minimal placeholder row when the proposal is not
// yet known, so an action referencing it is never orphaned. Existing rows
// are left untouched.
func (s *Store) EnsureProposal(ctx context.Context, id uint64) error {
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO proposals (id, payload, placeholder)
			VALUES (?, ?, 1)
			ON CONFLICT(id) DO NOTHING;
		`, int64(id), fmt.Sprintf(`{"id":%d}`, id))
		return err
	})
	if err != nil {
		return fmt.Errorf("ensure proposal %d: %w", id, err)
	}
	return nil
}

// GetProposal returns the proposal row, or nil when unknown.
func (s *Store) GetProposal(ctx context.Context, id uint64) (*ProposalRecord, error) {
	var rec ProposalRecord
	var rowID int64
	var processed, placeholder int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, payload, processed, placeholder, created_at, updated_at
		FROM proposals
		WHERE id = ?;
	`, int64(id)).Scan(&rowID, &rec.Payload, &processed, &placeholder, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal %d: %w", id, err)
	}
	rec.ID = uint64(rowID)
	rec.Processed = processed != 0
	rec.Placeholder = placeholder != 0
	return &rec, nil
}

// ListProposals returns proposals ordered by ID descending. processed
// filters by the processed flag when non-nil.
func (s *Store) ListProposals(ctx context.Context, processed *bool, limit, offset int) ([]ProposalRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var rows *sql.Rows
	var err error
	if processed != nil {
		flag := 0
		if *processed {
			flag = 1
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, payload, processed, placeholder, created_at, updated_at
			FROM proposals
			WHERE processed = ?
			ORDER BY id DESC
			LIMIT ? OFFSET ?;
		`, flag, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, payload, processed, placeholder, created_at, updated_at
			FROM proposals
			ORDER BY id DESC
			LIMIT ? OFFSET ?;
		`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}
	defer rows.Close()

	return scanProposals(rows)
}

// ListUnprocessedProposals returns non-placeholder proposals awaiting
// analysis, oldest first so the backlog drains in arrival order.
func (s *Store) ListUnprocessedProposals(ctx context.Context, limit int) ([]ProposalRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload, processed, placeholder, created_at, updated_at
		FROM proposals
		WHERE processed = 0 AND placeholder = 0
		ORDER BY id ASC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed proposals: %w", err)
	}
	defer rows.Close()

	return scanProposals(rows)
}

func scanProposals(rows *sql.Rows) ([]ProposalRecord, error) {
	var out []ProposalRecord
	for rows.Next() {
		var rec ProposalRecord
		var rowID int64
		var processed, placeholder int
		if err := rows.Scan(&rowID, &rec.Payload, &processed, &placeholder, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		rec.ID = uint64(rowID)
		rec.Processed = processed != 0
		rec.Placeholder = placeholder != 0
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("proposal rows: %w", err)
	}
	return out, nil
}

// SetProposalProcessed flips the processed flag.
func (s *Store) SetProposalProcessed(ctx context.Context, id uint64, processed bool) error {
	flag := 0
	if processed {
		flag = 1
	}
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE proposals SET processed = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
		`, flag, int64(id))
		return err
	})
	if err != nil {
		return fmt.Errorf("set proposal %d processed=%v: %w", id, processed, err)
	}
	return nil
}

// CountProposals returns the total number of stored proposals.
func (s *Store) CountProposals(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM proposals;`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count proposals: %w", err)
	}
	return count, nil
}
