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

// DistributionStatus tracks the lifecycle of a payout distribution.
type DistributionStatus string

const (
	DistributionPending    DistributionStatus = "pending"     // created inside the apply tx
	DistributionCompleted  DistributionStatus = "completed"   // all checks passed, tx committed
	DistributionRolledBack DistributionStatus = "rolled_back" // reversed by an operator
)

// PayoutKind classifies one commitment's outcome inside a distribution.
type PayoutKind string

const (
	PayoutWin    PayoutKind = "win"    // winner share of the pool
	PayoutLoss   PayoutKind = "loss"   // stake forfeited, nothing credited
	PayoutRefund PayoutKind = "refund" // stake (or pro-rata share) returned
)

// ──────────────────────────────────────────────────────────────────────────────
// VerificationChecks
// ──────────────────────────────────────────────────────────────────────────────

// VerificationChecks are the five in-transaction gates a distribution must
// pass before it may commit. Any false aborts the whole transaction.
type VerificationChecks struct {
	AllCommitmentsProcessed   bool `json:"all_commitments_processed"`
	PayoutSumsCorrect         bool `json:"payout_sums_correct"`
	NoDoublePayouts           bool `json:"no_double_payouts"`
	BalanceUpdatesSuccessful  bool `json:"balance_updates_successful"`
	TransactionRecordsCreated bool `json:"transaction_records_created"`
}

// AllPassed returns true when every check holds.
func (c VerificationChecks) AllPassed() bool {
	return c.AllCommitmentsProcessed &&
		c.PayoutSumsCorrect &&
		c.NoDoublePayouts &&
		c.BalanceUpdatesSuccessful &&
		c.TransactionRecordsCreated
}

// Failed lists the names of the checks that did not hold.
func (c VerificationChecks) Failed() []string {
	var failed []string
	if !c.AllCommitmentsProcessed {
		failed = append(failed, "all_commitments_processed")
	}
	if !c.PayoutSumsCorrect {
		failed = append(failed, "payout_sums_correct")
	}
	if !c.NoDoublePayouts {
		failed = append(failed, "no_double_payouts")
	}
	if !c.BalanceUpdatesSuccessful {
		failed = append(failed, "balance_updates_successful")
	}
	if !c.TransactionRecordsCreated {
		failed = append(failed, "transaction_records_created")
	}
	return failed
}

// Value implements driver.Valuer for JSONB storage.
func (c VerificationChecks) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner for JSONB retrieval.
func (c *VerificationChecks) Scan(src any) error {
	if src == nil {
		*c = VerificationChecks{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("verification checks: unsupported scan type %T", src)
	}
	return json.Unmarshal(b, c)
}

// ──────────────────────────────────────────────────────────────────────────────
// PayoutDistribution
// ──────────────────────────────────────────────────────────────────────────────

// PayoutDistribution is the applied result of one resolution: the fee split,
// the recipient count and the verification outcome. Its status is the only
// field that ever changes after creation.
type PayoutDistribution struct {
	ID             string             `json:"id"                  db:"id"`
	MarketID       string             `json:"market_id"           db:"market_id"`
	ResolutionID   string             `json:"resolution_id"       db:"resolution_id"`
	Status         DistributionStatus `json:"status"              db:"status"`
	TotalPool      int64              `json:"total_pool"          db:"total_pool"`
	HouseFee       int64              `json:"house_fee"           db:"house_fee"`
	CreatorFee     int64              `json:"creator_fee"         db:"creator_fee"`
	WinnerPool     int64              `json:"winner_pool"         db:"winner_pool"`
	RecipientCount int                `json:"recipient_count"     db:"recipient_count"`
	Checks         VerificationChecks `json:"verification_checks" db:"verification_checks"`
	OperationID    string             `json:"operation_id"        db:"operation_id"`
	Version        int64              `json:"version"             db:"version"`
	CompletedAt    *time.Time         `json:"completed_at"        db:"completed_at"`
	RolledBackAt   *time.Time         `json:"rolled_back_at"      db:"rolled_back_at"`
	RollbackReason *string            `json:"rollback_reason"     db:"rollback_reason"`
	CreatedAt      time.Time          `json:"created_at"          db:"created_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Payout records — append-only, one row per outcome
// ──────────────────────────────────────────────────────────────────────────────

// ResolutionPayout records one commitment's outcome in a distribution: what
// was staked, what (if anything) was credited, and why.
type ResolutionPayout struct {
	ID             string           `json:"id"              db:"id"`
	DistributionID string           `json:"distribution_id" db:"distribution_id"`
	MarketID       string           `json:"market_id"       db:"market_id"`
	CommitmentID   string           `json:"commitment_id"   db:"commitment_id"`
	UserID         string           `json:"user_id"         db:"user_id"`
	Kind           PayoutKind       `json:"kind"            db:"kind"`
	Origin         CommitmentOrigin `json:"origin"          db:"origin"`
	TokensStaked   int64            `json:"tokens_staked"   db:"tokens_staked"`
	PayoutTokens   int64            `json:"payout_tokens"   db:"payout_tokens"`
	Profit         int64            `json:"profit"          db:"profit"`
	Reason         *string          `json:"reason"          db:"reason"` // ill-formed detail, remainder note
	TransactionID  *string          `json:"transaction_id"  db:"transaction_id"`
	CreatedAt      time.Time        `json:"created_at"      db:"created_at"`
}

// CreatorPayout records the creator fee credit of one distribution.
type CreatorPayout struct {
	ID             string    `json:"id"              db:"id"`
	DistributionID string    `json:"distribution_id" db:"distribution_id"`
	MarketID       string    `json:"market_id"       db:"market_id"`
	CreatorID      string    `json:"creator_id"      db:"creator_id"`  // as recorded on the market
	AccountID      string    `json:"account_id"      db:"account_id"`  // ledger account after identity mapping
	FeeTokens      int64     `json:"fee_tokens"      db:"fee_tokens"`
	TransactionID  *string   `json:"transaction_id"  db:"transaction_id"`
	CreatedAt      time.Time `json:"created_at"      db:"created_at"`
}

// HousePayout records the house fee credit of one distribution. Under the
// house_absorbs no-winners policy it also carries the absorbed winner pool.
type HousePayout struct {
	ID             string    `json:"id"              db:"id"`
	DistributionID string    `json:"distribution_id" db:"distribution_id"`
	MarketID       string    `json:"market_id"       db:"market_id"`
	AccountID      string    `json:"account_id"      db:"account_id"`
	FeeTokens      int64     `json:"fee_tokens"      db:"fee_tokens"`
	AbsorbedTokens int64     `json:"absorbed_tokens" db:"absorbed_tokens"`
	TransactionID  *string   `json:"transaction_id"  db:"transaction_id"`
	CreatedAt      time.Time `json:"created_at"      db:"created_at"`
}
