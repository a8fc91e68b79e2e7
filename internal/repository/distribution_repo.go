package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/resolution/internal/domain"
	"github.com/jmoiron/sqlx"
)

// DistributionRepository handles payout_distributions and their per-commitment
// resolution_payouts plus the creator/house fee rows.
type DistributionRepository struct {
	db *sqlx.DB
}

// NewDistributionRepository creates a new DistributionRepository.
func NewDistributionRepository(db *sqlx.DB) *DistributionRepository {
	return &DistributionRepository{db: db}
}

// Create inserts a distribution in pending status inside tx. It only becomes
// authoritative once MarkCompleted flips it.
func (r *DistributionRepository) Create(ctx context.Context, tx *sqlx.Tx, d *domain.PayoutDistribution) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO payout_distributions (
			id, market_id, resolution_id, status,
			total_pool, house_fee, creator_fee, winner_pool, recipient_count,
			verification_checks, operation_id, version, created_at
		) VALUES (
			:id, :market_id, :resolution_id, :status,
			:total_pool, :house_fee, :creator_fee, :winner_pool, :recipient_count,
			:verification_checks, :operation_id, :version, :created_at
		)`, d)
	if err != nil {
		return fmt.Errorf("distribution_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a distribution by id.
func (r *DistributionRepository) GetByID(ctx context.Context, id string) (*domain.PayoutDistribution, error) {
	var d domain.PayoutDistribution
	err := r.db.GetContext(ctx, &d, `SELECT * FROM payout_distributions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDistributionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("distribution_repo.GetByID: %w", err)
	}
	return &d, nil
}

// LockByID fetches a distribution inside tx with a row lock, serializing
// concurrent rollback attempts against it.
func (r *DistributionRepository) LockByID(ctx context.Context, tx *sqlx.Tx, id string) (*domain.PayoutDistribution, error) {
	var d domain.PayoutDistribution
	err := tx.GetContext(ctx, &d, `SELECT * FROM payout_distributions WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDistributionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("distribution_repo.LockByID: %w", err)
	}
	return &d, nil
}

// GetLatestByMarket returns the market's most recent distribution, nil when
// the market has never been distributed.
func (r *DistributionRepository) GetLatestByMarket(ctx context.Context, marketID string) (*domain.PayoutDistribution, error) {
	var d domain.PayoutDistribution
	err := r.db.GetContext(ctx, &d,
		`SELECT * FROM payout_distributions
		 WHERE market_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		marketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("distribution_repo.GetLatestByMarket: %w", err)
	}
	return &d, nil
}

// HasCompletedForMarket reports whether the market already has a completed
// distribution. Checked inside tx before paying anything out.
func (r *DistributionRepository) HasCompletedForMarket(ctx context.Context, tx *sqlx.Tx, marketID string) (bool, error) {
	var n int
	err := tx.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM payout_distributions
		 WHERE market_id = $1 AND status = 'completed'`,
		marketID)
	if err != nil {
		return false, fmt.Errorf("distribution_repo.HasCompletedForMarket: %w", err)
	}
	return n > 0, nil
}

// MarkCompleted flips a pending distribution to completed inside tx, storing
// the verification results alongside.
func (r *DistributionRepository) MarkCompleted(ctx context.Context, tx *sqlx.Tx, id string, checks domain.VerificationChecks) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE payout_distributions
		SET status              = 'completed',
		    verification_checks = $2,
		    completed_at        = now(),
		    version             = version + 1
		WHERE id = $1 AND status = 'pending'`,
		id, checks)
	if err != nil {
		return fmt.Errorf("distribution_repo.MarkCompleted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("distribution_repo.MarkCompleted: distribution %s is not pending", id)
	}
	return nil
}

// MarkRolledBack flips a completed distribution to rolled_back inside tx.
// Returns ErrAlreadyRolledBack when the distribution is in any other state,
// which makes rollback idempotent from the caller's perspective.
func (r *DistributionRepository) MarkRolledBack(ctx context.Context, tx *sqlx.Tx, id, reason string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE payout_distributions
		SET status          = 'rolled_back',
		    rolled_back_at  = now(),
		    rollback_reason = $2,
		    version         = version + 1
		WHERE id = $1 AND status = 'completed'`,
		id, reason)
	if err != nil {
		return fmt.Errorf("distribution_repo.MarkRolledBack: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAlreadyRolledBack
	}
	return nil
}

// CreatePayouts bulk-inserts the per-commitment payout rows inside tx.
func (r *DistributionRepository) CreatePayouts(ctx context.Context, tx *sqlx.Tx, payouts []*domain.ResolutionPayout) error {
	if len(payouts) == 0 {
		return nil
	}
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO resolution_payouts (
			id, distribution_id, market_id, commitment_id, user_id,
			kind, origin, tokens_staked, payout_tokens, profit,
			reason, transaction_id, created_at
		) VALUES (
			:id, :distribution_id, :market_id, :commitment_id, :user_id,
			:kind, :origin, :tokens_staked, :payout_tokens, :profit,
			:reason, :transaction_id, :created_at
		)`, payouts)
	if err != nil {
		return fmt.Errorf("distribution_repo.CreatePayouts: %w", err)
	}
	return nil
}

// CreateCreatorPayout records the creator fee credit inside tx.
func (r *DistributionRepository) CreateCreatorPayout(ctx context.Context, tx *sqlx.Tx, p *domain.CreatorPayout) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO creator_payouts (
			id, distribution_id, market_id, creator_id, account_id,
			fee_tokens, transaction_id, created_at
		) VALUES (
			:id, :distribution_id, :market_id, :creator_id, :account_id,
			:fee_tokens, :transaction_id, :created_at
		)`, p)
	if err != nil {
		return fmt.Errorf("distribution_repo.CreateCreatorPayout: %w", err)
	}
	return nil
}

// CreateHousePayout records the house fee credit inside tx.
func (r *DistributionRepository) CreateHousePayout(ctx context.Context, tx *sqlx.Tx, p *domain.HousePayout) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO house_payouts (
			id, distribution_id, market_id, account_id,
			fee_tokens, absorbed_tokens, transaction_id, created_at
		) VALUES (
			:id, :distribution_id, :market_id, :account_id,
			:fee_tokens, :absorbed_tokens, :transaction_id, :created_at
		)`, p)
	if err != nil {
		return fmt.Errorf("distribution_repo.CreateHousePayout: %w", err)
	}
	return nil
}

// ListPayouts returns a distribution's payout rows, largest first.
func (r *DistributionRepository) ListPayouts(ctx context.Context, distributionID string) ([]*domain.ResolutionPayout, error) {
	var payouts []*domain.ResolutionPayout
	err := r.db.SelectContext(ctx, &payouts,
		`SELECT * FROM resolution_payouts
		 WHERE distribution_id = $1
		 ORDER BY payout_tokens DESC, commitment_id ASC`,
		distributionID)
	if err != nil {
		return nil, fmt.Errorf("distribution_repo.ListPayouts: %w", err)
	}
	return payouts, nil
}

// SumPayouts re-reads a distribution's payout rows inside tx, returning row
// count and token sum for verification against the computed plan.
func (r *DistributionRepository) SumPayouts(ctx context.Context, tx *sqlx.Tx, distributionID string) (int, int64, error) {
	var row struct {
		N   int   `db:"n"`
		Sum int64 `db:"sum"`
	}
	err := tx.GetContext(ctx, &row,
		`SELECT COUNT(*) AS n, COALESCE(SUM(payout_tokens), 0) AS sum
		 FROM resolution_payouts
		 WHERE distribution_id = $1`,
		distributionID)
	if err != nil {
		return 0, 0, fmt.Errorf("distribution_repo.SumPayouts: %w", err)
	}
	return row.N, row.Sum, nil
}
