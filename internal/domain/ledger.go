package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// TxType classifies a token transaction.
type TxType string

const (
	TxPurchase TxType = "purchase" // tokens granted or bought: available and earned grow
	TxCommit   TxType = "commit"   // stake locked: available → committed
	TxWin      TxType = "win"      // payout credited: committed stake released, profit earned
	TxLoss     TxType = "loss"     // stake forfeited: committed → spent
	TxRefund   TxType = "refund"   // stake returned: committed → available
)

// IsValid returns true if t is a recognised transaction type.
func (t TxType) IsValid() bool {
	switch t {
	case TxPurchase, TxCommit, TxWin, TxLoss, TxRefund:
		return true
	}
	return false
}

// Well-known metadata keys on token transactions.
const (
	MetaStakeReturned = "stake_returned" // win: committed stake released by the payout
	MetaRollbackOf    = "rollback_of"    // reversal entries: id of the reversed transaction
	MetaReason        = "reason"         // free-form cause ("initial_grant", "market_cancelled", ...)
	MetaRole          = "role"           // fee credits: "house_fee" | "creator_fee"
	MetaOperationID   = "operation_id"   // engine operation that produced the entry
)

// ──────────────────────────────────────────────────────────────────────────────
// BalanceDelta — the arithmetic core shared by the applier and the fold
// ──────────────────────────────────────────────────────────────────────────────

// BalanceDelta is the effect of one ledger operation on a user balance.
type BalanceDelta struct {
	Available int64
	Committed int64
	Earned    int64
	Spent     int64
}

// Deltas derives the balance effect of a transaction from its type, its signed
// amount and (for wins) the committed stake the payout releases.
//
// Sign conventions on amount: purchase, win and refund record positive values;
// commit and loss record negative values. Reversal entries keep the original
// type with both amount and stakeReturned negated, so the same rules fold a
// rollback back to the pre-payout state.
func Deltas(typ TxType, amount, stakeReturned int64) (BalanceDelta, error) {
	switch typ {
	case TxPurchase:
		return BalanceDelta{Available: amount, Earned: amount}, nil
	case TxCommit, TxRefund:
		return BalanceDelta{Available: amount, Committed: -amount}, nil
	case TxWin:
		return BalanceDelta{Available: amount, Committed: -stakeReturned, Earned: amount - stakeReturned}, nil
	case TxLoss:
		return BalanceDelta{Committed: amount, Spent: -amount}, nil
	default:
		return BalanceDelta{}, fmt.Errorf("unknown transaction type %q", typ)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// UserBalance
// ──────────────────────────────────────────────────────────────────────────────

// UserBalance is one user's token position. version increases on every write
// and orders that user's transactions totally.
type UserBalance struct {
	UserID      string    `json:"user_id"      db:"user_id"`
	Available   int64     `json:"available"    db:"available_tokens"`
	Committed   int64     `json:"committed"    db:"committed_tokens"`
	TotalEarned int64     `json:"total_earned" db:"total_earned"`
	TotalSpent  int64     `json:"total_spent"  db:"total_spent"`
	Version     int64     `json:"version"      db:"version"`
	LastUpdated time.Time `json:"last_updated" db:"last_updated"`
}

// Apply adds d to the balance counters, rejecting any result that would go
// negative. Version and LastUpdated are the storage layer's concern.
func (b *UserBalance) Apply(d BalanceDelta) error {
	avail := b.Available + d.Available
	committed := b.Committed + d.Committed
	earned := b.TotalEarned + d.Earned
	spent := b.TotalSpent + d.Spent
	if avail < 0 || committed < 0 || earned < 0 || spent < 0 {
		return fmt.Errorf("%w: available %d→%d committed %d→%d",
			ErrInsufficientFunds, b.Available, avail, b.Committed, committed)
	}
	b.Available = avail
	b.Committed = committed
	b.TotalEarned = earned
	b.TotalSpent = spent
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// JSONMap — generic JSONB column
// ──────────────────────────────────────────────────────────────────────────────

// JSONMap is a free-form JSONB column.
type JSONMap map[string]any

// Value implements driver.Valuer. A nil map stores as SQL NULL.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("json map: unsupported scan type %T", src)
	}
	return json.Unmarshal(b, m)
}

// Int64 reads an integer value, tolerating the float64 shape JSON decoding
// produces after a database round trip.
func (m JSONMap) Int64(key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// String reads a string value, empty when absent or not a string.
func (m JSONMap) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// ──────────────────────────────────────────────────────────────────────────────
// TokenTransaction
// ──────────────────────────────────────────────────────────────────────────────

// TokenTransaction is one append-only ledger entry. balance_before/after track
// the available counter; balance_version is the balance version the entry
// produced.
type TokenTransaction struct {
	Seq            int64     `json:"-"               db:"seq"`
	ID             string    `json:"id"              db:"id"`
	UserID         string    `json:"user_id"         db:"user_id"`
	Type           TxType    `json:"type"            db:"type"`
	Amount         int64     `json:"amount"          db:"amount"` // signed, see Deltas
	BalanceBefore  int64     `json:"balance_before"  db:"balance_before"`
	BalanceAfter   int64     `json:"balance_after"   db:"balance_after"`
	BalanceVersion int64     `json:"balance_version" db:"balance_version"`
	RelatedID      *string   `json:"related_id"      db:"related_id"`
	Metadata       JSONMap   `json:"metadata"        db:"metadata"`
	CreatedAt      time.Time `json:"created_at"      db:"created_at"`
}

// StakeReturned reads the win entry's released-stake amount from metadata.
// Zero for every other type.
func (t *TokenTransaction) StakeReturned() int64 {
	if t.Metadata == nil {
		return 0
	}
	return t.Metadata.Int64(MetaStakeReturned)
}

// RollbackOf returns the reversed transaction's id when this entry is a
// rollback reversal, empty otherwise.
func (t *TokenTransaction) RollbackOf() string {
	if t.Metadata == nil {
		return ""
	}
	return t.Metadata.String(MetaRollbackOf)
}

// Deltas derives the entry's balance effect.
func (t *TokenTransaction) Deltas() (BalanceDelta, error) {
	return Deltas(t.Type, t.Amount, t.StakeReturned())
}

// ──────────────────────────────────────────────────────────────────────────────
// LedgerOp — a planned mutation, before it becomes a transaction row
// ──────────────────────────────────────────────────────────────────────────────

// LedgerOp describes one balance mutation to apply. The distributor builds
// ordered op lists from a payout plan; the ledger turns each into a locked
// balance update plus a token_transactions row.
type LedgerOp struct {
	UserID        string
	Type          TxType
	Amount        int64 // signed, same convention as TokenTransaction.Amount
	StakeReturned int64 // win ops only
	RelatedID     string
	Metadata      JSONMap
}

// Deltas derives the op's balance effect.
func (op LedgerOp) Deltas() (BalanceDelta, error) {
	return Deltas(op.Type, op.Amount, op.StakeReturned)
}
