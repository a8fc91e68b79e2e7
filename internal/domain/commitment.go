package domain

import (
	"fmt"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// CommitmentStatus represents the lifecycle state of a prediction commitment.
type CommitmentStatus string

const (
	CommitmentActive   CommitmentStatus = "active"   // staked, awaiting resolution
	CommitmentWon      CommitmentStatus = "won"      // paid out by a distribution
	CommitmentLost     CommitmentStatus = "lost"     // stake forfeited
	CommitmentRefunded CommitmentStatus = "refunded" // stake (or pro-rata share) returned
)

// CommitmentOrigin records which schema generation produced the commitment's
// option attribution. The engine resolves all three to a concrete option id.
type CommitmentOrigin string

const (
	OriginOptionID CommitmentOrigin = "option_id" // authoritative option_id field
	OriginPosition CommitmentOrigin = "position"  // legacy binary yes/no field
	OriginHybrid   CommitmentOrigin = "hybrid"    // both present and agreeing
)

// ──────────────────────────────────────────────────────────────────────────────
// PredictionCommitment
// ──────────────────────────────────────────────────────────────────────────────

// PredictionCommitment is a user's stake on one market option. The table holds
// two schema generations side by side: new rows carry market_id + option_id,
// legacy rows carry prediction_id + position. Reads match either id column;
// Normalize reconciles the option attribution.
type PredictionCommitment struct {
	ID                 string           `json:"id"                   db:"id"`
	UserID             string           `json:"user_id"              db:"user_id"`
	MarketID           string           `json:"market_id"            db:"market_id"`
	PredictionID       *string          `json:"prediction_id"        db:"prediction_id"` // legacy alias of market_id
	OptionID           *string          `json:"option_id"            db:"option_id"`
	Position           *string          `json:"position"             db:"position"` // legacy yes/no
	TokensCommitted    int64            `json:"tokens_committed"     db:"tokens_committed"`
	Status             CommitmentStatus `json:"status"               db:"status"`
	PayoutTokens       *int64           `json:"payout_tokens"        db:"payout_tokens"`
	Profit             *int64           `json:"profit"               db:"profit"`
	LastDistributionID *string          `json:"last_distribution_id" db:"last_distribution_id"`
	Version            int64            `json:"version"              db:"version"`
	PlacedAt           time.Time        `json:"placed_at"            db:"placed_at"`
	ResolvedAt         *time.Time       `json:"resolved_at"          db:"resolved_at"`
	UpdatedAt          time.Time        `json:"updated_at"           db:"updated_at"`
}

// IsActive returns true while the commitment awaits resolution.
func (c *PredictionCommitment) IsActive() bool {
	return c.Status == CommitmentActive
}

// Normalize resolves the commitment's dual-schema option attribution against
// the market's option set. It returns the concrete option id and the origin
// that produced it.
//
// Rules, in order:
//   - option_id alone: must name a market option.
//   - position alone: market must be binary (reserved yes/no option ids) and
//     position must be one of them; the position value is the option id.
//   - both present: option_id must be valid as above, position must agree with
//     it on a binary market. Disagreement is ill-formed.
//   - neither present, zero/negative stake, or any rule failing: ill-formed.
//
// The returned error describes the defect; ill-formed commitments are excluded
// from pool math and refunded, never dropped silently.
func (c *PredictionCommitment) Normalize(m *Market) (string, CommitmentOrigin, error) {
	if c.TokensCommitted <= 0 {
		return "", "", fmt.Errorf("non-positive stake %d", c.TokensCommitted)
	}

	hasOption := c.OptionID != nil && *c.OptionID != ""
	hasPosition := c.Position != nil && *c.Position != ""

	switch {
	case hasOption && hasPosition:
		if !m.HasOption(*c.OptionID) {
			return "", "", fmt.Errorf("option %q is not a market option", *c.OptionID)
		}
		if !m.IsBinary() {
			return "", "", fmt.Errorf("position %q on non-binary market", *c.Position)
		}
		if *c.Position != BinaryOptionYes && *c.Position != BinaryOptionNo {
			return "", "", fmt.Errorf("position %q is not yes/no", *c.Position)
		}
		if *c.Position != *c.OptionID {
			return "", "", fmt.Errorf("position %q disagrees with option %q", *c.Position, *c.OptionID)
		}
		return *c.OptionID, OriginHybrid, nil

	case hasOption:
		if !m.HasOption(*c.OptionID) {
			return "", "", fmt.Errorf("option %q is not a market option", *c.OptionID)
		}
		return *c.OptionID, OriginOptionID, nil

	case hasPosition:
		if !m.IsBinary() {
			return "", "", fmt.Errorf("position %q on non-binary market", *c.Position)
		}
		if *c.Position != BinaryOptionYes && *c.Position != BinaryOptionNo {
			return "", "", fmt.Errorf("position %q is not yes/no", *c.Position)
		}
		return *c.Position, OriginPosition, nil

	default:
		return "", "", fmt.Errorf("neither option_id nor position set")
	}
}
