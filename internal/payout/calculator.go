// Package payout computes pari-mutuel distribution plans. All arithmetic is
// integer: fees round down against the recipient, winner shares round down
// against the winner, and the leftover tokens from rounding go one apiece to
// the largest stakes so the winner pool is paid out exactly.
package payout

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/evetabi/resolution/internal/domain"
)

const bpsDenominator = 10000

// Params carries the platform-level fee and fallback settings. Per-market
// creator fees come from the market row and are validated against
// MaxCreatorFeeBps at compute time.
type Params struct {
	HouseFeeBps      int64
	MaxCreatorFeeBps int64
	Policy           domain.NoWinnersPolicy
}

// Calculator turns a market plus its active commitments into a PayoutPlan.
// It holds no state beyond Params and is safe for concurrent use.
type Calculator struct {
	params Params
}

// NewCalculator creates a Calculator.
func NewCalculator(p Params) *Calculator {
	return &Calculator{params: p}
}

type entrant struct {
	commitmentID string
	userID       string
	optionID     string
	origin       domain.CommitmentOrigin
	stake        int64
}

// Compute builds the full distribution plan for resolving market m with
// winningOptionID. The plan is a pure function of its inputs: same market,
// same commitments in the same order, same winner give the same plan.
//
// Ill-formed commitments (unknown option, position on a non-binary market,
// contradictory fields, missing both, non-positive stake) are excluded from
// the pool and planned as full refunds with the classification reason.
func (c *Calculator) Compute(m *domain.Market, commitments []*domain.PredictionCommitment, winningOptionID string) (*domain.PayoutPlan, error) {
	if !m.HasOption(winningOptionID) {
		return nil, fmt.Errorf("%w: market %s has no option %q", domain.ErrInvalidWinner, m.ID, winningOptionID)
	}

	houseBps := c.params.HouseFeeBps
	creatorBps := m.CreatorFeeBps()
	if houseBps < 0 || houseBps >= bpsDenominator {
		return nil, fmt.Errorf("%w: house fee %d bps out of range", domain.ErrInvalidFeeConfiguration, houseBps)
	}
	if creatorBps < 0 || creatorBps > c.params.MaxCreatorFeeBps {
		return nil, fmt.Errorf("%w: creator fee %d bps exceeds maximum %d bps",
			domain.ErrInvalidFeeConfiguration, creatorBps, c.params.MaxCreatorFeeBps)
	}
	if houseBps+creatorBps >= bpsDenominator {
		return nil, fmt.Errorf("%w: combined fees %d bps would consume the pool",
			domain.ErrInvalidFeeConfiguration, houseBps+creatorBps)
	}

	// ── 1. classify commitments, build the pool ──────────────────────────
	var (
		wellFormed []entrant
		illFormed  []*domain.PlanLine
		totalPool  int64
	)
	for _, cm := range commitments {
		if !cm.IsActive() {
			continue
		}
		optionID, origin, err := cm.Normalize(m)
		if err != nil {
			// No Origin: the commitment never attributed to an option.
			reason := err.Error()
			illFormed = append(illFormed, &domain.PlanLine{
				CommitmentID: cm.ID,
				UserID:       cm.UserID,
				Kind:         domain.PayoutRefund,
				TokensStaked: cm.TokensCommitted,
				Payout:       cm.TokensCommitted,
				Profit:       0,
				Reason:       &reason,
			})
			continue
		}
		wellFormed = append(wellFormed, entrant{
			commitmentID: cm.ID,
			userID:       cm.UserID,
			optionID:     optionID,
			origin:       origin,
			stake:        cm.TokensCommitted,
		})
		totalPool += cm.TokensCommitted
	}

	// ── 2. fees off the top, floor division ──────────────────────────────
	houseFee := mulDiv(totalPool, houseBps, bpsDenominator)
	creatorFee := mulDiv(totalPool, creatorBps, bpsDenominator)
	winnerPool := totalPool - houseFee - creatorFee

	var (
		winners     []entrant
		losers      []entrant
		winnerStake int64
	)
	for _, e := range wellFormed {
		if e.optionID == winningOptionID {
			winners = append(winners, e)
			winnerStake += e.stake
		} else {
			losers = append(losers, e)
		}
	}

	plan := &domain.PayoutPlan{
		MarketID:        m.ID,
		WinningOptionID: winningOptionID,
		Policy:          c.params.Policy,
		TotalPool:       totalPool,
		HouseFeeBps:     houseBps,
		CreatorFeeBps:   creatorBps,
		HouseFee:        houseFee,
		CreatorFee:      creatorFee,
		WinnerPool:      winnerPool,
		WinnerCount:     len(winners),
	}

	// ── 3. split the winner pool ─────────────────────────────────────────
	switch {
	case winnerStake > 0:
		shares := distribute(winnerPool, winners)
		for i, e := range winners {
			payout := shares[i]
			plan.Lines = append(plan.Lines, &domain.PlanLine{
				CommitmentID: e.commitmentID,
				UserID:       e.userID,
				OptionID:     e.optionID,
				Origin:       e.origin,
				Kind:         domain.PayoutWin,
				TokensStaked: e.stake,
				Payout:       payout,
				Profit:       payout - e.stake,
			})
		}
		for _, e := range losers {
			plan.Lines = append(plan.Lines, lossLine(e))
		}

	case totalPool > 0:
		// Nobody backed the winning option. The pool after fees either goes
		// back to the losing side pro rata or is absorbed by the house.
		plan.NoWinners = true
		switch c.params.Policy {
		case domain.NoWinnersRefundLosers:
			reason := "no commitments on winning option, pool refunded pro rata"
			shares := distribute(winnerPool, losers)
			for i, e := range losers {
				payout := shares[i]
				plan.Lines = append(plan.Lines, &domain.PlanLine{
					CommitmentID: e.commitmentID,
					UserID:       e.userID,
					OptionID:     e.optionID,
					Origin:       e.origin,
					Kind:         domain.PayoutRefund,
					TokensStaked: e.stake,
					Payout:       payout,
					Profit:       payout - e.stake,
					Reason:       &reason,
				})
			}
		case domain.NoWinnersHouseAbsorbs:
			plan.HouseAbsorbed = winnerPool
			for _, e := range losers {
				plan.Lines = append(plan.Lines, lossLine(e))
			}
		default:
			return nil, fmt.Errorf("%w: unknown no-winners policy %q",
				domain.ErrCalculatorInvariantViolated, c.params.Policy)
		}

	default:
		// Empty pool: nothing staked on well-formed commitments. Fees are
		// zero and the market still resolves.
		plan.NoWinners = true
	}

	plan.Lines = append(plan.Lines, illFormed...)

	if err := verify(plan, commitments); err != nil {
		return nil, err
	}
	return plan, nil
}

func lossLine(e entrant) *domain.PlanLine {
	return &domain.PlanLine{
		CommitmentID: e.commitmentID,
		UserID:       e.userID,
		OptionID:     e.optionID,
		Origin:       e.origin,
		Kind:         domain.PayoutLoss,
		TokensStaked: e.stake,
		Payout:       0,
		Profit:       -e.stake,
	}
}

// distribute splits pool across entrants proportionally to stake using floor
// division, then hands the rounding remainder out one token at a time in
// stake-descending order (commitment id breaks ties). The returned shares are
// index-aligned with entrants and sum to pool exactly.
func distribute(pool int64, entrants []entrant) []int64 {
	shares := make([]int64, len(entrants))
	if len(entrants) == 0 || pool <= 0 {
		return shares
	}
	var totalStake int64
	for _, e := range entrants {
		totalStake += e.stake
	}

	var distributed int64
	for i, e := range entrants {
		shares[i] = mulDiv(pool, e.stake, totalStake)
		distributed += shares[i]
	}

	remainder := pool - distributed
	if remainder == 0 {
		return shares
	}
	order := make([]int, len(entrants))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ea, eb := entrants[order[a]], entrants[order[b]]
		if ea.stake != eb.stake {
			return ea.stake > eb.stake
		}
		return ea.commitmentID < eb.commitmentID
	})
	for i := int64(0); i < remainder; i++ {
		shares[order[i]]++
	}
	return shares
}

// mulDiv computes floor(a*b/d) without intermediate overflow.
func mulDiv(a, b, d int64) int64 {
	if d == 0 {
		return 0
	}
	x := new(big.Int).SetInt64(a)
	x.Mul(x, big.NewInt(b))
	x.Quo(x, big.NewInt(d))
	return x.Int64()
}

// verify recomputes the plan's invariants before anyone acts on it: every
// active commitment lands on exactly one line, total outflow equals total
// inflow, and the winner pool is paid out to the token.
func verify(plan *domain.PayoutPlan, commitments []*domain.PredictionCommitment) error {
	planned := make(map[string]bool, len(plan.Lines))
	for _, l := range plan.Lines {
		if planned[l.CommitmentID] {
			return fmt.Errorf("%w: commitment %s planned twice", domain.ErrCalculatorInvariantViolated, l.CommitmentID)
		}
		planned[l.CommitmentID] = true
	}

	var inflow int64
	var active int
	for _, cm := range commitments {
		if !cm.IsActive() {
			continue
		}
		active++
		if !planned[cm.ID] {
			return fmt.Errorf("%w: active commitment %s missing from the plan",
				domain.ErrCalculatorInvariantViolated, cm.ID)
		}
		inflow += cm.TokensCommitted
	}
	if len(plan.Lines) != active {
		return fmt.Errorf("%w: %d lines planned for %d active commitments",
			domain.ErrCalculatorInvariantViolated, len(plan.Lines), active)
	}
	if out := plan.Outflow(); out != inflow {
		return fmt.Errorf("%w: outflow %d != inflow %d", domain.ErrCalculatorInvariantViolated, out, inflow)
	}

	// Ill-formed refund lines carry no option id; pro-rata refunds do.
	var winPayouts, proRata int64
	for _, l := range plan.Lines {
		if l.Payout < 0 {
			return fmt.Errorf("%w: negative payout on commitment %s", domain.ErrCalculatorInvariantViolated, l.CommitmentID)
		}
		switch {
		case l.Kind == domain.PayoutWin:
			winPayouts += l.Payout
		case l.Kind == domain.PayoutRefund && l.OptionID != "":
			proRata += l.Payout
		}
	}
	if plan.WinnerCount > 0 && winPayouts != plan.WinnerPool {
		return fmt.Errorf("%w: winner payouts %d != winner pool %d",
			domain.ErrCalculatorInvariantViolated, winPayouts, plan.WinnerPool)
	}
	if plan.NoWinners && plan.Policy == domain.NoWinnersRefundLosers && plan.TotalPool > 0 && proRata != plan.WinnerPool {
		return fmt.Errorf("%w: pro-rata refunds %d != winner pool %d",
			domain.ErrCalculatorInvariantViolated, proRata, plan.WinnerPool)
	}
	return nil
}
