// Package ledger implements token accounting on top of user_balances and
// token_transactions. Every balance mutation goes through Apply, which locks
// the account row, derives the field deltas from the transaction type, and
// writes an audit entry carrying before/after balances. Rollbacks are
// reversal entries of the same type with negated amounts, so folding an
// account's full history always reproduces its stored balance.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/resolution/internal/domain"
	"github.com/evetabi/resolution/internal/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Ledger mediates all reads and writes of token balances. Wallet-address
// account ids are translated through the identity repository before any row
// is touched.
type Ledger struct {
	db       *sqlx.DB
	identity *repository.IdentityRepository
	grant    int64
	houseID  string
}

// New creates a Ledger. grant is the token amount credited to an account on
// first contact; houseID names the platform account, which never receives
// the grant.
func New(db *sqlx.DB, identity *repository.IdentityRepository, grant int64, houseID string) *Ledger {
	return &Ledger{db: db, identity: identity, grant: grant, houseID: houseID}
}

// HouseAccountID returns the platform account id fees are credited to.
func (l *Ledger) HouseAccountID() string {
	return l.houseID
}

// GetOrCreateTx locks the account's balance row inside tx, creating it with
// the initial grant when the account has never been seen. The grant itself is
// logged as a purchase entry so the history folds to the stored balance.
func (l *Ledger) GetOrCreateTx(ctx context.Context, tx *sqlx.Tx, accountID string) (*domain.UserBalance, error) {
	var b domain.UserBalance
	err := tx.GetContext(ctx, &b, `SELECT * FROM user_balances WHERE user_id = $1 FOR UPDATE`, accountID)
	if err == nil {
		return &b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger.GetOrCreateTx lock: %w", err)
	}

	grant := l.grant
	if accountID == l.houseID {
		grant = 0
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO user_balances
			(user_id, available_tokens, committed_tokens, total_earned, total_spent, version, last_updated)
		VALUES ($1, $2, 0, $2, 0, 1, now())
		ON CONFLICT (user_id) DO NOTHING`,
		accountID, grant)
	if err != nil {
		return nil, fmt.Errorf("ledger.GetOrCreateTx insert: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 && grant > 0 {
		entry := &domain.TokenTransaction{
			ID:             uuid.NewString(),
			UserID:         accountID,
			Type:           domain.TxPurchase,
			Amount:         grant,
			BalanceBefore:  0,
			BalanceAfter:   grant,
			BalanceVersion: 1,
			Metadata:       domain.JSONMap{domain.MetaReason: "initial_grant"},
			CreatedAt:      time.Now().UTC(),
		}
		if err := l.insertTransaction(ctx, tx, entry); err != nil {
			return nil, err
		}
	}

	err = tx.GetContext(ctx, &b, `SELECT * FROM user_balances WHERE user_id = $1 FOR UPDATE`, accountID)
	if err != nil {
		return nil, fmt.Errorf("ledger.GetOrCreateTx reread: %w", err)
	}
	return &b, nil
}

// Apply executes one ledger operation inside tx: resolve identity, lock the
// account, apply the type's balance deltas, persist, and write the audit
// entry. Returns the entry so callers can link it from payout rows.
func (l *Ledger) Apply(ctx context.Context, tx *sqlx.Tx, op domain.LedgerOp) (*domain.TokenTransaction, error) {
	accountID, err := l.identity.ResolveTx(ctx, tx, op.UserID)
	if err != nil {
		return nil, err
	}

	bal, err := l.GetOrCreateTx(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}

	delta, err := op.Deltas()
	if err != nil {
		return nil, fmt.Errorf("ledger.Apply: %w", err)
	}
	before := bal.Available
	if err := bal.Apply(delta); err != nil {
		return nil, fmt.Errorf("ledger.Apply account %s: %w", accountID, err)
	}

	newVersion := bal.Version + 1
	_, err = tx.ExecContext(ctx, `
		UPDATE user_balances
		SET available_tokens = $2,
		    committed_tokens = $3,
		    total_earned     = $4,
		    total_spent      = $5,
		    version          = $6,
		    last_updated     = now()
		WHERE user_id = $1`,
		accountID, bal.Available, bal.Committed, bal.TotalEarned, bal.TotalSpent, newVersion)
	if err != nil {
		return nil, fmt.Errorf("ledger.Apply update: %w", err)
	}

	meta := domain.JSONMap{}
	for k, v := range op.Metadata {
		meta[k] = v
	}
	if op.StakeReturned != 0 {
		meta[domain.MetaStakeReturned] = op.StakeReturned
	}
	if len(meta) == 0 {
		meta = nil
	}
	var related *string
	if op.RelatedID != "" {
		related = &op.RelatedID
	}
	entry := &domain.TokenTransaction{
		ID:             uuid.NewString(),
		UserID:         accountID,
		Type:           op.Type,
		Amount:         op.Amount,
		BalanceBefore:  before,
		BalanceAfter:   bal.Available,
		BalanceVersion: newVersion,
		RelatedID:      related,
		Metadata:       meta,
		CreatedAt:      time.Now().UTC(),
	}
	if err := l.insertTransaction(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// EnsureCommitted tops an account's committed balance up to stake by writing
// a purchase entry followed by a commit entry for the shortfall. Commitments
// placed before this ledger existed have no commit history here, so their
// first settlement materializes the upstream stake. Accounts migrated with
// correct committed_tokens have no shortfall and are untouched.
func (l *Ledger) EnsureCommitted(ctx context.Context, tx *sqlx.Tx, userID string, stake int64, relatedID, operationID string) error {
	accountID, err := l.identity.ResolveTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	bal, err := l.GetOrCreateTx(ctx, tx, accountID)
	if err != nil {
		return err
	}
	shortfall := stake - bal.Committed
	if shortfall <= 0 {
		return nil
	}
	meta := domain.JSONMap{
		domain.MetaReason:      "stake_import",
		domain.MetaOperationID: operationID,
	}
	if _, err := l.Apply(ctx, tx, domain.LedgerOp{
		UserID:    accountID,
		Type:      domain.TxPurchase,
		Amount:    shortfall,
		RelatedID: relatedID,
		Metadata:  meta,
	}); err != nil {
		return err
	}
	if _, err := l.Apply(ctx, tx, domain.LedgerOp{
		UserID:    accountID,
		Type:      domain.TxCommit,
		Amount:    -shortfall,
		RelatedID: relatedID,
		Metadata:  meta,
	}); err != nil {
		return err
	}
	return nil
}

// ApplyBatch runs ops in order inside tx, stopping at the first failure.
func (l *Ledger) ApplyBatch(ctx context.Context, tx *sqlx.Tx, ops []domain.LedgerOp) ([]*domain.TokenTransaction, error) {
	entries := make([]*domain.TokenTransaction, 0, len(ops))
	for _, op := range ops {
		entry, err := l.Apply(ctx, tx, op)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Reverse writes the compensating entry for orig inside tx: same type,
// negated amount and stake, tagged with rollback_of. Reversing a reversal or
// reversing twice is rejected.
func (l *Ledger) Reverse(ctx context.Context, tx *sqlx.Tx, orig *domain.TokenTransaction, reason string) (*domain.TokenTransaction, error) {
	if orig.RollbackOf() != "" {
		return nil, fmt.Errorf("ledger.Reverse: transaction %s is itself a reversal", orig.ID)
	}
	var n int
	err := tx.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM token_transactions WHERE metadata->>'rollback_of' = $1`,
		orig.ID)
	if err != nil {
		return nil, fmt.Errorf("ledger.Reverse check: %w", err)
	}
	if n > 0 {
		return nil, fmt.Errorf("ledger.Reverse: transaction %s already reversed", orig.ID)
	}

	meta := domain.JSONMap{domain.MetaRollbackOf: orig.ID}
	if reason != "" {
		meta[domain.MetaReason] = reason
	}
	var related string
	if orig.RelatedID != nil {
		related = *orig.RelatedID
	}
	return l.Apply(ctx, tx, domain.LedgerOp{
		UserID:        orig.UserID,
		Type:          orig.Type,
		Amount:        -orig.Amount,
		StakeReturned: -orig.StakeReturned(),
		RelatedID:     related,
		Metadata:      meta,
	})
}

// GetBalance returns an account's stored balance without creating it.
func (l *Ledger) GetBalance(ctx context.Context, accountID string) (*domain.UserBalance, error) {
	resolved, err := l.identity.Resolve(ctx, accountID)
	if err != nil {
		return nil, err
	}
	var b domain.UserBalance
	err = l.db.GetContext(ctx, &b, `SELECT * FROM user_balances WHERE user_id = $1`, resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBalanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger.GetBalance: %w", err)
	}
	return &b, nil
}

// GetTransactions returns an account's entries, newest first.
func (l *Ledger) GetTransactions(ctx context.Context, accountID string, limit, offset int) ([]*domain.TokenTransaction, error) {
	resolved, err := l.identity.Resolve(ctx, accountID)
	if err != nil {
		return nil, err
	}
	var txns []*domain.TokenTransaction
	err = l.db.SelectContext(ctx, &txns, `
		SELECT * FROM token_transactions
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3`,
		resolved, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger.GetTransactions: %w", err)
	}
	return txns, nil
}

// ListByRelated returns every entry linked to relatedID in creation order.
// Rollback walks this slice backwards.
func (l *Ledger) ListByRelated(ctx context.Context, tx *sqlx.Tx, relatedID string) ([]*domain.TokenTransaction, error) {
	var txns []*domain.TokenTransaction
	err := tx.SelectContext(ctx, &txns, `
		SELECT * FROM token_transactions
		WHERE related_id = $1
		ORDER BY seq ASC`,
		relatedID)
	if err != nil {
		return nil, fmt.Errorf("ledger.ListByRelated: %w", err)
	}
	return txns, nil
}

func (l *Ledger) insertTransaction(ctx context.Context, tx *sqlx.Tx, entry *domain.TokenTransaction) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO token_transactions (
			id, user_id, type, amount, balance_before, balance_after,
			balance_version, related_id, metadata, created_at
		) VALUES (
			:id, :user_id, :type, :amount, :balance_before, :balance_after,
			:balance_version, :related_id, :metadata, :created_at
		)`, entry)
	if err != nil {
		return fmt.Errorf("ledger.insertTransaction: %w", err)
	}
	return nil
}
