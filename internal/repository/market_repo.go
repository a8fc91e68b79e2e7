package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/resolution/internal/domain"
	"github.com/jmoiron/sqlx"
)

// MarketRepository handles all database operations for Markets.
type MarketRepository struct {
	db *sqlx.DB
}

// NewMarketRepository creates a new MarketRepository.
func NewMarketRepository(db *sqlx.DB) *MarketRepository {
	return &MarketRepository{db: db}
}

// GetByID fetches a market by its primary key.
func (r *MarketRepository) GetByID(ctx context.Context, id string) (*domain.Market, error) {
	var m domain.Market
	err := r.db.GetContext(ctx, &m, `SELECT * FROM markets WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("market_repo.GetByID: %w", err)
	}
	return &m, nil
}

// LockByID fetches a market inside tx with a row lock. Used by the
// distributor so the market row cannot move under an open apply.
func (r *MarketRepository) LockByID(ctx context.Context, tx *sqlx.Tx, id string) (*domain.Market, error) {
	var m domain.Market
	err := tx.GetContext(ctx, &m, `SELECT * FROM markets WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("market_repo.LockByID: %w", err)
	}
	return &m, nil
}

// ListPending returns the markets awaiting an operator decision: everything
// in pending_resolution plus open markets whose trading window has passed.
func (r *MarketRepository) ListPending(ctx context.Context, now time.Time) ([]*domain.Market, error) {
	var markets []*domain.Market
	err := r.db.SelectContext(ctx, &markets,
		`SELECT * FROM markets
		 WHERE status = 'pending_resolution'
		    OR (status = 'open' AND ends_at IS NOT NULL AND ends_at <= $1)
		 ORDER BY ends_at ASC NULLS LAST, id ASC`,
		now)
	if err != nil {
		return nil, fmt.Errorf("market_repo.ListPending: %w", err)
	}
	return markets, nil
}

// PromoteToPending flips an open market to pending_resolution. Returns false
// without error when the market was not open (already promoted, resolved or
// cancelled); the caller decides whether that matters.
func (r *MarketRepository) PromoteToPending(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE markets
		 SET status = 'pending_resolution', version = version + 1, updated_at = now()
		 WHERE id = $1 AND status = 'open'`, id)
	if err != nil {
		return false, fmt.Errorf("market_repo.PromoteToPending: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PromoteExpired promotes every open market whose ends_at has passed.
// Returns the number of markets promoted. Used by the scheduler sweep.
func (r *MarketRepository) PromoteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE markets
		 SET status = 'pending_resolution', version = version + 1, updated_at = now()
		 WHERE status = 'open' AND ends_at IS NOT NULL AND ends_at <= $1`,
		now)
	if err != nil {
		return 0, fmt.Errorf("market_repo.PromoteExpired: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ClaimForResolution is the engine's advisory lock: a conditional flip
// pending_resolution → resolving guarded by the version the caller read.
// Returns false when the claim did not land (status or version moved);
// the caller re-reads the market to find out why.
func (r *MarketRepository) ClaimForResolution(ctx context.Context, id string, version int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE markets
		 SET status = 'resolving', version = version + 1, updated_at = now()
		 WHERE id = $1 AND status = 'pending_resolution' AND version = $2`,
		id, version)
	if err != nil {
		return false, fmt.Errorf("market_repo.ClaimForResolution: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReleaseClaim returns a claimed market to pending_resolution after a failed
// apply. Idempotent: releasing an unclaimed market is a no-op.
func (r *MarketRepository) ReleaseClaim(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE markets
		 SET status = 'pending_resolution', version = version + 1, updated_at = now()
		 WHERE id = $1 AND status = 'resolving'`, id)
	if err != nil {
		return fmt.Errorf("market_repo.ReleaseClaim: %w", err)
	}
	return nil
}

// MarkResolved finishes a claimed resolution inside tx: resolving → resolved
// with the winner recorded.
func (r *MarketRepository) MarkResolved(ctx context.Context, tx *sqlx.Tx, id, winningOptionID string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE markets
		 SET status = 'resolved', winning_option_id = $2, resolved_at = now(),
		     version = version + 1, updated_at = now()
		 WHERE id = $1 AND status = 'resolving'`,
		id, winningOptionID)
	if err != nil {
		return fmt.Errorf("market_repo.MarkResolved: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("market_repo.MarkResolved: market %s is not in resolving state", id)
	}
	return nil
}

// RollbackToPending reopens a resolved market inside tx: resolved →
// pending_resolution with the winner cleared.
func (r *MarketRepository) RollbackToPending(ctx context.Context, tx *sqlx.Tx, id string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE markets
		 SET status = 'pending_resolution', winning_option_id = NULL, resolved_at = NULL,
		     version = version + 1, updated_at = now()
		 WHERE id = $1 AND status = 'resolved'`, id)
	if err != nil {
		return fmt.Errorf("market_repo.RollbackToPending: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("market_repo.RollbackToPending: market %s is not in resolved state", id)
	}
	return nil
}

// CancelTx voids a market inside tx, recording why. Only open and
// pending_resolution markets can be cancelled; returns false when the status
// guard did not match.
func (r *MarketRepository) CancelTx(ctx context.Context, tx *sqlx.Tx, id, reason string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE markets
		 SET status = 'cancelled', cancellation_reason = NULLIF($2, ''),
		     version = version + 1, updated_at = now()
		 WHERE id = $1 AND status IN ('open','pending_resolution')`, id, reason)
	if err != nil {
		return false, fmt.Errorf("market_repo.CancelTx: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
