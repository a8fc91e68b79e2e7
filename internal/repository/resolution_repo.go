package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/resolution/internal/domain"
	"github.com/jmoiron/sqlx"
)

// ResolutionRepository handles market_resolutions and the append-only
// resolution_logs audit trail.
type ResolutionRepository struct {
	db *sqlx.DB
}

// NewResolutionRepository creates a new ResolutionRepository.
func NewResolutionRepository(db *sqlx.DB) *ResolutionRepository {
	return &ResolutionRepository{db: db}
}

// Create inserts a resolution record inside tx.
func (r *ResolutionRepository) Create(ctx context.Context, tx *sqlx.Tx, res *domain.MarketResolution) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO market_resolutions (
			id, market_id, winning_option_id, resolved_by, evidence,
			total_pool, house_fee, creator_fee, winner_pool, winner_count,
			no_winners, status, operation_id, version, created_at
		) VALUES (
			:id, :market_id, :winning_option_id, :resolved_by, :evidence,
			:total_pool, :house_fee, :creator_fee, :winner_pool, :winner_count,
			:no_winners, :status, :operation_id, :version, :created_at
		)`, res)
	if err != nil {
		return fmt.Errorf("resolution_repo.Create: %w", err)
	}
	return nil
}

// GetActiveByMarket returns the market's current resolution, nil when none
// exists. Rolled-back resolutions are kept but never returned here.
func (r *ResolutionRepository) GetActiveByMarket(ctx context.Context, marketID string) (*domain.MarketResolution, error) {
	var res domain.MarketResolution
	err := r.db.GetContext(ctx, &res,
		`SELECT * FROM market_resolutions
		 WHERE market_id = $1 AND status = 'active'
		 ORDER BY created_at DESC
		 LIMIT 1`,
		marketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolution_repo.GetActiveByMarket: %w", err)
	}
	return &res, nil
}

// MarkRolledBack retires an active resolution inside tx.
func (r *ResolutionRepository) MarkRolledBack(ctx context.Context, tx *sqlx.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE market_resolutions
		SET status = 'rolled_back', version = version + 1
		WHERE id = $1 AND status = 'active'`,
		id)
	if err != nil {
		return fmt.Errorf("resolution_repo.MarkRolledBack: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("resolution_repo.MarkRolledBack: resolution %s is not active", id)
	}
	return nil
}

// AppendLog writes an audit event outside any transaction. Used for events
// that must survive a failed resolution attempt.
func (r *ResolutionRepository) AppendLog(ctx context.Context, log *domain.ResolutionLog) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO resolution_logs (
			id, market_id, operation_id, event, actor, detail, created_at
		) VALUES (
			:id, :market_id, :operation_id, :event, :actor, :detail, :created_at
		)`, log)
	if err != nil {
		return fmt.Errorf("resolution_repo.AppendLog: %w", err)
	}
	return nil
}

// AppendLogTx writes an audit event inside tx, committing or vanishing with
// the rest of the work.
func (r *ResolutionRepository) AppendLogTx(ctx context.Context, tx *sqlx.Tx, log *domain.ResolutionLog) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO resolution_logs (
			id, market_id, operation_id, event, actor, detail, created_at
		) VALUES (
			:id, :market_id, :operation_id, :event, :actor, :detail, :created_at
		)`, log)
	if err != nil {
		return fmt.Errorf("resolution_repo.AppendLogTx: %w", err)
	}
	return nil
}

// ListLogsByMarket returns the market's audit trail, oldest first.
func (r *ResolutionRepository) ListLogsByMarket(ctx context.Context, marketID string, limit int) ([]*domain.ResolutionLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var logs []*domain.ResolutionLog
	err := r.db.SelectContext(ctx, &logs,
		`SELECT * FROM resolution_logs
		 WHERE market_id = $1
		 ORDER BY seq ASC
		 LIMIT $2`,
		marketID, limit)
	if err != nil {
		return nil, fmt.Errorf("resolution_repo.ListLogsByMarket: %w", err)
	}
	return logs, nil
}
