package domain

// ──────────────────────────────────────────────────────────────────────────────
// No-winners policy
// ──────────────────────────────────────────────────────────────────────────────

// NoWinnersPolicy decides where the winner pool goes when the winning option
// holds zero well-formed stake.
type NoWinnersPolicy string

const (
	// NoWinnersRefundLosers returns the post-fee pool to the losing commitments
	// pro-rata to their stakes. The default.
	NoWinnersRefundLosers NoWinnersPolicy = "refund_losers"

	// NoWinnersHouseAbsorbs credits the post-fee pool to the house account and
	// lets losers take their full losses.
	NoWinnersHouseAbsorbs NoWinnersPolicy = "house_absorbs"
)

// IsValid returns true if p is a recognised policy.
func (p NoWinnersPolicy) IsValid() bool {
	return p == NoWinnersRefundLosers || p == NoWinnersHouseAbsorbs
}

// ──────────────────────────────────────────────────────────────────────────────
// PayoutPlan
// ──────────────────────────────────────────────────────────────────────────────

// PlanLine is one commitment's planned outcome. A refund line whose payout is
// smaller than the stake is a pro-rata loser refund and settles as a loss of
// the difference plus a refund of the payout.
type PlanLine struct {
	CommitmentID string           `json:"commitment_id"`
	UserID       string           `json:"user_id"`
	OptionID     string           `json:"option_id,omitempty"` // empty when ill-formed
	Origin       CommitmentOrigin `json:"origin,omitempty"`
	Kind         PayoutKind       `json:"kind"`
	TokensStaked int64            `json:"tokens_staked"`
	Payout       int64            `json:"payout"`
	Profit       int64            `json:"profit"`
	Reason       *string          `json:"reason,omitempty"`
}

// PayoutPlan is the calculator's complete, deterministic answer for one
// market and winner: fee split, per-commitment outcomes, and the ill-formed
// exclusions. Two calls over the same inputs produce identical plans, so a
// preview is exactly the plan a resolve would apply.
type PayoutPlan struct {
	MarketID        string          `json:"market_id"`
	WinningOptionID string          `json:"winning_option_id"`
	Policy          NoWinnersPolicy `json:"policy"`
	NoWinners       bool            `json:"no_winners"`
	TotalPool       int64           `json:"total_pool"` // well-formed stake only
	HouseFeeBps     int64           `json:"house_fee_bps"`
	CreatorFeeBps   int64           `json:"creator_fee_bps"`
	HouseFee        int64           `json:"house_fee"`
	CreatorFee      int64           `json:"creator_fee"`
	WinnerPool      int64           `json:"winner_pool"`
	HouseAbsorbed   int64           `json:"house_absorbed"` // house_absorbs policy only
	WinnerCount     int             `json:"winner_count"`
	Lines           []*PlanLine     `json:"lines"`
}

// Outflow sums everything the plan pays out of the pool: fees, absorbed
// remainder, winner credits and refund credits. Conservation demands this
// equals TotalPool.
func (p *PayoutPlan) Outflow() int64 {
	total := p.HouseFee + p.CreatorFee + p.HouseAbsorbed
	for _, line := range p.Lines {
		total += line.Payout
	}
	return total
}

// WinnerLines returns the win lines in plan order.
func (p *PayoutPlan) WinnerLines() []*PlanLine {
	var out []*PlanLine
	for _, line := range p.Lines {
		if line.Kind == PayoutWin {
			out = append(out, line)
		}
	}
	return out
}
