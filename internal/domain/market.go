// Package domain defines the core business entities and types for the
// market resolution and payout engine.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	StatusOpen              MarketStatus = "open"               // accepting commitments upstream
	StatusPendingResolution MarketStatus = "pending_resolution" // awaiting an operator decision
	StatusResolving         MarketStatus = "resolving"          // claimed by a resolution in flight
	StatusResolved          MarketStatus = "resolved"           // winner determined, payouts applied
	StatusCancelled         MarketStatus = "cancelled"          // voided; all commitments refunded
)

// IsValid returns true if the status is a recognised lifecycle state.
func (s MarketStatus) IsValid() bool {
	switch s {
	case StatusOpen, StatusPendingResolution, StatusResolving, StatusResolved, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal status
// transition. resolved → pending_resolution is the rollback edge; resolving →
// pending_resolution releases a claim after a failed apply.
func (s MarketStatus) CanTransitionTo(next MarketStatus) bool {
	switch s {
	case StatusOpen:
		return next == StatusPendingResolution || next == StatusCancelled
	case StatusPendingResolution:
		return next == StatusResolving || next == StatusCancelled
	case StatusResolving:
		return next == StatusResolved || next == StatusPendingResolution
	case StatusResolved:
		return next == StatusPendingResolution
	case StatusCancelled:
		return false
	}
	return false
}

// IsTerminal returns true for states no forward transition leaves. Cancelled
// is fully terminal; resolved is terminal except for the rollback edge.
func (s MarketStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

// Reserved option ids for binary markets. Legacy position-based commitments
// are only meaningful on markets whose options carry exactly these ids.
const (
	BinaryOptionYes = "yes"
	BinaryOptionNo  = "no"
)

// ──────────────────────────────────────────────────────────────────────────────
// MarketOption / OptionList
// ──────────────────────────────────────────────────────────────────────────────

// MarketOption is a single outcome a market can resolve to.
type MarketOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// OptionList is the market's option set, stored as a JSONB column.
type OptionList []MarketOption

// Value implements driver.Valuer for JSONB storage.
func (o OptionList) Value() (driver.Value, error) {
	return json.Marshal(o)
}

// Scan implements sql.Scanner for JSONB retrieval.
func (o *OptionList) Scan(src any) error {
	if src == nil {
		*o = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("option list: unsupported scan type %T", src)
	}
	return json.Unmarshal(b, o)
}

// ──────────────────────────────────────────────────────────────────────────────
// Market
// ──────────────────────────────────────────────────────────────────────────────

// Market is the resolution engine's view of a prediction market. Token pools
// are derived from commitments at resolution time and are not stored here.
type Market struct {
	ID                 string          `json:"id"                   db:"id"`
	Title              string          `json:"title"                db:"title"`
	Description        string          `json:"description"          db:"description"`
	CreatorID          string          `json:"creator_id"           db:"creator_id"`
	Options            OptionList      `json:"options"              db:"options"`
	Status             MarketStatus    `json:"status"               db:"status"`
	WinningOptionID    *string         `json:"winning_option_id"    db:"winning_option_id"`
	CancellationReason *string         `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CreatorFeeFraction decimal.Decimal `json:"creator_fee_fraction" db:"creator_fee_fraction"`
	Version            int64           `json:"version"              db:"version"`
	EndsAt             *time.Time      `json:"ends_at"              db:"ends_at"`
	ResolvedAt         *time.Time      `json:"resolved_at"          db:"resolved_at"`
	CreatedAt          time.Time       `json:"created_at"           db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"           db:"updated_at"`
}

// Option returns the option with the given id and true when it exists.
func (m *Market) Option(id string) (MarketOption, bool) {
	for _, opt := range m.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return MarketOption{}, false
}

// HasOption returns true when id is one of the market's options.
func (m *Market) HasOption(id string) bool {
	_, ok := m.Option(id)
	return ok
}

// IsBinary returns true when the market carries exactly the two reserved
// yes/no options. Only binary markets accept legacy position commitments.
func (m *Market) IsBinary() bool {
	if len(m.Options) != 2 {
		return false
	}
	return m.HasOption(BinaryOptionYes) && m.HasOption(BinaryOptionNo)
}

// CreatorFeeBps converts the market's creator fee fraction to integer basis
// points. All pool math downstream is integer-only.
func (m *Market) CreatorFeeBps() int64 {
	return m.CreatorFeeFraction.Mul(decimal.NewFromInt(10000)).IntPart()
}

// IsEnded returns true once the market's trading window has passed. Markets
// with no ends_at never self-expire and wait for an operator.
func (m *Market) IsEnded(now time.Time) bool {
	return m.EndsAt != nil && now.After(*m.EndsAt)
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketAnalytics — read model for the analytics endpoint and feed pushes
// ──────────────────────────────────────────────────────────────────────────────

// OptionStat aggregates active commitments for one option.
type OptionStat struct {
	OptionID    string          `json:"option_id"`
	Label       string          `json:"label"`
	Tokens      int64           `json:"tokens"`
	Commitments int             `json:"commitments"`
	PoolShare   decimal.Decimal `json:"pool_share"` // 0–100
	Multiplier  decimal.Decimal `json:"multiplier"` // fee-adjusted payout per token
}

// MarketAnalytics is a derived, read-only aggregation over a market's active
// commitments.
type MarketAnalytics struct {
	MarketID         string       `json:"market_id"`
	Status           MarketStatus `json:"status"`
	TotalPool        int64        `json:"total_pool"`
	CommitmentCount  int          `json:"commitment_count"`
	ParticipantCount int          `json:"participant_count"`
	UnattributedPool int64        `json:"unattributed_pool"` // ill-formed commitments
	Options          []OptionStat `json:"options"`
	GeneratedAt      time.Time    `json:"generated_at"`
}
