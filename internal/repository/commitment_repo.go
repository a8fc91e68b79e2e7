package repository

import (
	"context"
	"fmt"

	"github.com/evetabi/resolution/internal/domain"
	"github.com/jmoiron/sqlx"
)

// CommitmentRepository handles all database operations for prediction
// commitments. Reads match both schema generations: market_id on current
// rows, prediction_id on legacy rows.
type CommitmentRepository struct {
	db *sqlx.DB
}

// NewCommitmentRepository creates a new CommitmentRepository.
func NewCommitmentRepository(db *sqlx.DB) *CommitmentRepository {
	return &CommitmentRepository{db: db}
}

// ListActiveByMarket returns the market's commitments still awaiting
// resolution. Reads match the market through either id column; rows are
// unique by primary key, so the OR needs no dedup.
func (r *CommitmentRepository) ListActiveByMarket(ctx context.Context, marketID string) ([]*domain.PredictionCommitment, error) {
	var commitments []*domain.PredictionCommitment
	err := r.db.SelectContext(ctx, &commitments,
		`SELECT * FROM prediction_commitments
		 WHERE (market_id = $1 OR prediction_id = $1) AND status = 'active'
		 ORDER BY placed_at ASC, id ASC`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("commitment_repo.ListActiveByMarket: %w", err)
	}
	return commitments, nil
}

// LockActiveByMarket is ListActiveByMarket inside tx with row locks, so the
// set cannot change under an open distribution.
func (r *CommitmentRepository) LockActiveByMarket(ctx context.Context, tx *sqlx.Tx, marketID string) ([]*domain.PredictionCommitment, error) {
	var commitments []*domain.PredictionCommitment
	err := tx.SelectContext(ctx, &commitments,
		`SELECT * FROM prediction_commitments
		 WHERE (market_id = $1 OR prediction_id = $1) AND status = 'active'
		 ORDER BY placed_at ASC, id ASC
		 FOR UPDATE`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("commitment_repo.LockActiveByMarket: %w", err)
	}
	return commitments, nil
}

// ApplyOutcome writes one commitment's terminal outcome inside tx. The
// status='active' guard makes double-processing impossible: a second write
// against the same commitment matches zero rows and errors.
func (r *CommitmentRepository) ApplyOutcome(ctx context.Context, tx *sqlx.Tx, commitmentID string, status domain.CommitmentStatus, payout, profit int64, distributionID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE prediction_commitments
		SET status               = $2,
		    payout_tokens        = $3,
		    profit               = $4,
		    last_distribution_id = $5,
		    resolved_at          = now(),
		    version              = version + 1,
		    updated_at           = now()
		WHERE id = $1 AND status = 'active'`,
		commitmentID, string(status), payout, profit, distributionID)
	if err != nil {
		return fmt.Errorf("commitment_repo.ApplyOutcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("commitment_repo.ApplyOutcome: commitment %s is not active", commitmentID)
	}
	return nil
}

// Refund marks a commitment refunded inside tx, outside any distribution
// (market cancellation). Payout equals the stake; no distribution id.
func (r *CommitmentRepository) Refund(ctx context.Context, tx *sqlx.Tx, commitmentID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE prediction_commitments
		SET status        = 'refunded',
		    payout_tokens = tokens_committed,
		    profit        = 0,
		    resolved_at   = now(),
		    version       = version + 1,
		    updated_at    = now()
		WHERE id = $1 AND status = 'active'`,
		commitmentID)
	if err != nil {
		return fmt.Errorf("commitment_repo.Refund: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("commitment_repo.Refund: commitment %s is not active", commitmentID)
	}
	return nil
}

// Forfeit marks a commitment lost inside tx, outside any distribution
// (no-refund market cancellation). The full stake is forfeited.
func (r *CommitmentRepository) Forfeit(ctx context.Context, tx *sqlx.Tx, commitmentID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE prediction_commitments
		SET status        = 'lost',
		    payout_tokens = 0,
		    profit        = -tokens_committed,
		    resolved_at   = now(),
		    version       = version + 1,
		    updated_at    = now()
		WHERE id = $1 AND status = 'active'`,
		commitmentID)
	if err != nil {
		return fmt.Errorf("commitment_repo.Forfeit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("commitment_repo.Forfeit: commitment %s is not active", commitmentID)
	}
	return nil
}

// ResetForRollback reactivates every commitment a distribution settled,
// clearing the outcome fields. Returns the number of rows restored.
func (r *CommitmentRepository) ResetForRollback(ctx context.Context, tx *sqlx.Tx, distributionID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE prediction_commitments
		SET status               = 'active',
		    payout_tokens        = NULL,
		    profit               = NULL,
		    last_distribution_id = NULL,
		    resolved_at          = NULL,
		    version              = version + 1,
		    updated_at           = now()
		WHERE last_distribution_id = $1`,
		distributionID)
	if err != nil {
		return 0, fmt.Errorf("commitment_repo.ResetForRollback: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountActiveByMarket counts still-active commitments inside tx. After a
// distribution has applied every outcome this must be zero.
func (r *CommitmentRepository) CountActiveByMarket(ctx context.Context, tx *sqlx.Tx, marketID string) (int, error) {
	var n int
	err := tx.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM prediction_commitments
		 WHERE (market_id = $1 OR prediction_id = $1) AND status = 'active'`,
		marketID)
	if err != nil {
		return 0, fmt.Errorf("commitment_repo.CountActiveByMarket: %w", err)
	}
	return n, nil
}
