package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/resolution/internal/domain"
	"github.com/jmoiron/sqlx"
)

// Fold replays entries from a zero balance and returns the accumulated
// deltas. Because reversal entries carry negated amounts under the same
// type, rolled-back work cancels out without special casing.
func Fold(entries []*domain.TokenTransaction) (domain.BalanceDelta, error) {
	var acc domain.BalanceDelta
	for _, e := range entries {
		d, err := e.Deltas()
		if err != nil {
			return domain.BalanceDelta{}, fmt.Errorf("ledger.Fold entry %s: %w", e.ID, err)
		}
		acc.Available += d.Available
		acc.Committed += d.Committed
		acc.Earned += d.Earned
		acc.Spent += d.Spent
	}
	return acc, nil
}

// ReconcileReport is the outcome of comparing an account's stored balance
// against the fold of its transaction history and its live commitments.
type ReconcileReport struct {
	AccountID         string              `json:"account_id"`
	TxCount           int                 `json:"tx_count"`
	Stored            domain.BalanceDelta `json:"stored"`
	Computed          domain.BalanceDelta `json:"computed"`
	ActiveCommitments int                 `json:"active_commitments"`
	ActiveStake       int64               `json:"active_stake"`
	Drift             []string            `json:"drift,omitempty"`
	Repaired          bool                `json:"repaired"`
}

// Consistent reports whether the stored balance matched the fold.
func (r *ReconcileReport) Consistent() bool {
	return len(r.Drift) == 0
}

// Reconcile folds an account's full history inside tx and compares it to the
// stored balance row and the account's active commitments. With repair set, a
// drifted balance row is rewritten to the folded values; the history is never
// touched and a commitment mismatch is only reported.
func (l *Ledger) Reconcile(ctx context.Context, tx *sqlx.Tx, accountID string, repair bool) (*ReconcileReport, error) {
	resolved, err := l.identity.ResolveTx(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}

	var bal domain.UserBalance
	err = tx.GetContext(ctx, &bal, `SELECT * FROM user_balances WHERE user_id = $1 FOR UPDATE`, resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBalanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger.Reconcile lock: %w", err)
	}

	var entries []*domain.TokenTransaction
	err = tx.SelectContext(ctx, &entries,
		`SELECT * FROM token_transactions WHERE user_id = $1 ORDER BY seq ASC`,
		resolved)
	if err != nil {
		return nil, fmt.Errorf("ledger.Reconcile history: %w", err)
	}

	computed, err := Fold(entries)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{
		AccountID: resolved,
		TxCount:   len(entries),
		Stored: domain.BalanceDelta{
			Available: bal.Available,
			Committed: bal.Committed,
			Earned:    bal.TotalEarned,
			Spent:     bal.TotalSpent,
		},
		Computed: computed,
	}
	if report.Stored.Available != computed.Available {
		report.Drift = append(report.Drift, "available_tokens")
	}
	if report.Stored.Committed != computed.Committed {
		report.Drift = append(report.Drift, "committed_tokens")
	}
	if report.Stored.Earned != computed.Earned {
		report.Drift = append(report.Drift, "total_earned")
	}
	if report.Stored.Spent != computed.Spent {
		report.Drift = append(report.Drift, "total_spent")
	}
	balanceDrift := len(report.Drift) > 0

	// Active commitments are the third leg. Upstream stakes not yet imported
	// keep the fold below the commitment sum, which is fine; committed tokens
	// with no live commitment behind them are not. Rows may carry the wallet
	// address where the ledger carries the uid, so both spellings match.
	var active struct {
		Count int   `db:"count"`
		Stake int64 `db:"stake"`
	}
	err = tx.GetContext(ctx, &active, `
		SELECT COUNT(*) AS count, COALESCE(SUM(tokens_committed), 0) AS stake
		FROM prediction_commitments
		WHERE (user_id = $1 OR LOWER(user_id) = LOWER($2)) AND status = 'active'`,
		resolved, accountID)
	if err != nil {
		return nil, fmt.Errorf("ledger.Reconcile commitments: %w", err)
	}
	report.ActiveCommitments = active.Count
	report.ActiveStake = active.Stake
	if computed.Committed > active.Stake {
		report.Drift = append(report.Drift, "committed_exceeds_active_stake")
	}

	if repair && balanceDrift {
		_, err = tx.ExecContext(ctx, `
			UPDATE user_balances
			SET available_tokens = $2,
			    committed_tokens = $3,
			    total_earned     = $4,
			    total_spent      = $5,
			    version          = version + 1,
			    last_updated     = now()
			WHERE user_id = $1`,
			resolved, computed.Available, computed.Committed, computed.Earned, computed.Spent)
		if err != nil {
			return nil, fmt.Errorf("ledger.Reconcile repair: %w", err)
		}
		report.Repaired = true
	}
	return report, nil
}
