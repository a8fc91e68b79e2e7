package payout_test

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/evetabi/resolution/internal/domain"
	"github.com/evetabi/resolution/internal/payout"
	"github.com/shopspring/decimal"
)

// ── fixtures ──────────────────────────────────────────────────────────────────

func binaryMarket(creatorFee float64) *domain.Market {
	return &domain.Market{
		ID:        "mkt-1",
		Title:     "Will it rain tomorrow?",
		CreatorID: "creator-1",
		Options: domain.OptionList{
			{ID: domain.BinaryOptionYes, Label: "Yes"},
			{ID: domain.BinaryOptionNo, Label: "No"},
		},
		Status:             domain.StatusResolving,
		CreatorFeeFraction: decimal.NewFromFloat(creatorFee),
	}
}

func commit(id, user, option string, stake int64) *domain.PredictionCommitment {
	return &domain.PredictionCommitment{
		ID:              id,
		UserID:          user,
		MarketID:        "mkt-1",
		OptionID:        &option,
		TokensCommitted: stake,
		Status:          domain.CommitmentActive,
	}
}

func newCalc(houseBps int64, policy domain.NoWinnersPolicy) *payout.Calculator {
	return payout.NewCalculator(payout.Params{
		HouseFeeBps:      houseBps,
		MaxCreatorFeeBps: 500,
		Policy:           policy,
	})
}

func lineFor(t *testing.T, plan *domain.PayoutPlan, commitmentID string) *domain.PlanLine {
	t.Helper()
	for _, l := range plan.Lines {
		if l.CommitmentID == commitmentID {
			return l
		}
	}
	t.Fatalf("plan has no line for commitment %s", commitmentID)
	return nil
}

// ── winner pool split ─────────────────────────────────────────────────────────

// TestComputeTwoWaySplit walks the standard case end to end.
//
//	Stakes: alice 600 yes, bob 200 yes, carol 200 no — winner yes.
//	  pool        = 1000
//	  house fee   = floor(1000 × 500/10000)  = 50
//	  creator fee = floor(1000 × 200/10000)  = 20
//	  winner pool = 1000 - 50 - 20           = 930
//	  alice       = floor(930 × 600/800)     = 697
//	  bob         = floor(930 × 200/800)     = 232
//	  remainder   = 930 - 929 = 1 → alice (largest stake) → 698
func TestComputeTwoWaySplit(t *testing.T) {
	m := binaryMarket(0.02)
	cms := []*domain.PredictionCommitment{
		commit("cm-1", "alice", "yes", 600),
		commit("cm-2", "bob", "yes", 200),
		commit("cm-3", "carol", "no", 200),
	}

	plan, err := newCalc(500, domain.NoWinnersRefundLosers).Compute(m, cms, "yes")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if plan.TotalPool != 1000 {
		t.Errorf("TotalPool = %d, want 1000", plan.TotalPool)
	}
	if plan.HouseFee != 50 {
		t.Errorf("HouseFee = %d, want 50", plan.HouseFee)
	}
	if plan.CreatorFee != 20 {
		t.Errorf("CreatorFee = %d, want 20", plan.CreatorFee)
	}
	if plan.WinnerPool != 930 {
		t.Errorf("WinnerPool = %d, want 930", plan.WinnerPool)
	}
	if plan.WinnerCount != 2 {
		t.Errorf("WinnerCount = %d, want 2", plan.WinnerCount)
	}
	if plan.NoWinners {
		t.Error("NoWinners should be false when the winning option has stake")
	}

	alice := lineFor(t, plan, "cm-1")
	if alice.Kind != domain.PayoutWin || alice.Payout != 698 || alice.Profit != 98 {
		t.Errorf("alice line = %s payout=%d profit=%d, want win 698 / +98",
			alice.Kind, alice.Payout, alice.Profit)
	}
	bob := lineFor(t, plan, "cm-2")
	if bob.Kind != domain.PayoutWin || bob.Payout != 232 || bob.Profit != 32 {
		t.Errorf("bob line = %s payout=%d profit=%d, want win 232 / +32",
			bob.Kind, bob.Payout, bob.Profit)
	}
	carol := lineFor(t, plan, "cm-3")
	if carol.Kind != domain.PayoutLoss || carol.Payout != 0 || carol.Profit != -200 {
		t.Errorf("carol line = %s payout=%d profit=%d, want loss 0 / -200",
			carol.Kind, carol.Payout, carol.Profit)
	}

	// Every token staked leaves the plan exactly once.
	if out := plan.Outflow(); out != 1000 {
		t.Errorf("Outflow() = %d, want 1000", out)
	}

	t.Logf("pool=%d house=%d creator=%d winners=%d+%d",
		plan.TotalPool, plan.HouseFee, plan.CreatorFee, alice.Payout, bob.Payout)
}

// TestComputeRemainderOrdering pins down who receives the rounding leftovers:
// one token apiece, largest stake first, commitment id as the tie break.
//
//	Stakes: 100 (cm-a), 100 (cm-b), 101 (cm-c) on yes; 100 on no — winner yes.
//	  pool        = 401
//	  house fee   = floor(401 × 500/10000) = 20
//	  creator fee = floor(401 × 200/10000) = 8
//	  winner pool = 373, winner stake = 301
//	  floors      = 123 / 123 / 125  (sum 371, remainder 2)
//	  +1 → cm-c (stake 101), +1 → cm-a (id before cm-b)
//	  final       = 124 / 123 / 126
func TestComputeRemainderOrdering(t *testing.T) {
	m := binaryMarket(0.02)
	cms := []*domain.PredictionCommitment{
		// cm-b listed first so input order cannot masquerade as id order.
		commit("cm-b", "bob", "yes", 100),
		commit("cm-a", "alice", "yes", 100),
		commit("cm-c", "carol", "yes", 101),
		commit("cm-d", "dave", "no", 100),
	}

	plan, err := newCalc(500, domain.NoWinnersRefundLosers).Compute(m, cms, "yes")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if plan.WinnerPool != 373 {
		t.Fatalf("WinnerPool = %d, want 373", plan.WinnerPool)
	}
	if got := lineFor(t, plan, "cm-c").Payout; got != 126 {
		t.Errorf("cm-c payout = %d, want 126 (largest stake takes first leftover)", got)
	}
	if got := lineFor(t, plan, "cm-a").Payout; got != 124 {
		t.Errorf("cm-a payout = %d, want 124 (id breaks the 100/100 tie)", got)
	}
	if got := lineFor(t, plan, "cm-b").Payout; got != 123 {
		t.Errorf("cm-b payout = %d, want 123", got)
	}

	var winTotal int64
	for _, l := range plan.WinnerLines() {
		winTotal += l.Payout
	}
	if winTotal != plan.WinnerPool {
		t.Errorf("win payouts sum = %d, want full winner pool %d", winTotal, plan.WinnerPool)
	}
}

// TestComputeFeesCanOutweighWinnings covers the degenerate case where everyone
// backed the winner: there is no losing side to take fees from, so winners get
// back less than they staked.
//
//	Stakes: 150 (w-2), 150 (w-1), both on yes — winner yes, house 5%, creator 0.
//	  winner pool = 300 - 15 = 285
//	  floors      = 142 / 142, remainder 1 → w-1 (id order) → 143
func TestComputeFeesCanOutweighWinnings(t *testing.T) {
	m := binaryMarket(0)
	cms := []*domain.PredictionCommitment{
		commit("w-2", "bob", "yes", 150),
		commit("w-1", "alice", "yes", 150),
	}

	plan, err := newCalc(500, domain.NoWinnersRefundLosers).Compute(m, cms, "yes")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	w1 := lineFor(t, plan, "w-1")
	w2 := lineFor(t, plan, "w-2")
	if w1.Payout != 143 || w2.Payout != 142 {
		t.Errorf("payouts = %d/%d, want 143/142", w1.Payout, w2.Payout)
	}
	if w1.Profit != -7 || w2.Profit != -8 {
		t.Errorf("profits = %d/%d, want -7/-8", w1.Profit, w2.Profit)
	}
	if out := plan.Outflow(); out != 300 {
		t.Errorf("Outflow() = %d, want 300", out)
	}
}

// ── no winners ────────────────────────────────────────────────────────────────

// TestComputeNoWinnersRefundLosers: nobody backed the winning option and the
// policy hands the post-fee pool back to the losing side pro rata. Fees are
// still charged.
//
//	Stakes: alice 300 yes, bob 100 yes — winner no.
//	  pool        = 400, house = 20, creator = 8
//	  winner pool = 372
//	  alice       = floor(372 × 300/400) = 279
//	  bob         = floor(372 × 100/400) = 93
func TestComputeNoWinnersRefundLosers(t *testing.T) {
	m := binaryMarket(0.02)
	cms := []*domain.PredictionCommitment{
		commit("cm-1", "alice", "yes", 300),
		commit("cm-2", "bob", "yes", 100),
	}

	plan, err := newCalc(500, domain.NoWinnersRefundLosers).Compute(m, cms, "no")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if !plan.NoWinners {
		t.Error("NoWinners should be true when the winning option has no stake")
	}
	if plan.WinnerCount != 0 {
		t.Errorf("WinnerCount = %d, want 0", plan.WinnerCount)
	}

	alice := lineFor(t, plan, "cm-1")
	if alice.Kind != domain.PayoutRefund || alice.Payout != 279 || alice.Profit != -21 {
		t.Errorf("alice line = %s payout=%d profit=%d, want refund 279 / -21",
			alice.Kind, alice.Payout, alice.Profit)
	}
	if alice.OptionID != "yes" {
		t.Errorf("pro-rata refund should keep its option id, got %q", alice.OptionID)
	}
	if alice.Reason == nil {
		t.Error("pro-rata refund should carry a reason")
	}
	bob := lineFor(t, plan, "cm-2")
	if bob.Payout != 93 {
		t.Errorf("bob payout = %d, want 93", bob.Payout)
	}

	if out := plan.Outflow(); out != 400 {
		t.Errorf("Outflow() = %d, want 400", out)
	}
}

// TestComputeNoWinnersHouseAbsorbs: same stakes, opposite policy — losers stay
// losers and the post-fee pool lands on the house account.
func TestComputeNoWinnersHouseAbsorbs(t *testing.T) {
	m := binaryMarket(0.02)
	cms := []*domain.PredictionCommitment{
		commit("cm-1", "alice", "yes", 300),
		commit("cm-2", "bob", "yes", 100),
	}

	plan, err := newCalc(500, domain.NoWinnersHouseAbsorbs).Compute(m, cms, "no")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if !plan.NoWinners {
		t.Error("NoWinners should be true")
	}
	if plan.HouseAbsorbed != 372 {
		t.Errorf("HouseAbsorbed = %d, want 372", plan.HouseAbsorbed)
	}
	for _, id := range []string{"cm-1", "cm-2"} {
		l := lineFor(t, plan, id)
		if l.Kind != domain.PayoutLoss || l.Payout != 0 {
			t.Errorf("%s line = %s payout=%d, want loss 0", id, l.Kind, l.Payout)
		}
	}
	// 20 house + 8 creator + 372 absorbed = the whole pool.
	if out := plan.Outflow(); out != 400 {
		t.Errorf("Outflow() = %d, want 400", out)
	}
}

// TestComputeEmptyPool: a market can resolve with no active commitments at
// all. Everything is zero and no lines are planned.
func TestComputeEmptyPool(t *testing.T) {
	m := binaryMarket(0.02)

	plan, err := newCalc(500, domain.NoWinnersRefundLosers).Compute(m, nil, "yes")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !plan.NoWinners {
		t.Error("NoWinners should be true for an empty pool")
	}
	if plan.TotalPool != 0 || plan.HouseFee != 0 || plan.CreatorFee != 0 {
		t.Errorf("pool/fees = %d/%d/%d, want all zero",
			plan.TotalPool, plan.HouseFee, plan.CreatorFee)
	}
	if len(plan.Lines) != 0 {
		t.Errorf("len(Lines) = %d, want 0", len(plan.Lines))
	}
	if out := plan.Outflow(); out != 0 {
		t.Errorf("Outflow() = %d, want 0", out)
	}
}

// ── ill-formed commitments ────────────────────────────────────────────────────

// TestComputeIllFormedRefunds: commitments that cannot be attributed to an
// option are excluded from the pool and refunded in full, while non-active
// rows are ignored outright.
//
//	alice 500 yes, bob 300 no, carol 200 on unknown option, dave 100 with
//	neither field, eve 999 already refunded — winner yes, house 5%, creator 0.
//	  pool        = 800 (alice + bob only)
//	  house fee   = 40
//	  winner pool = 760 → alice, sole winner
func TestComputeIllFormedRefunds(t *testing.T) {
	m := binaryMarket(0)
	carolOpt := "maybe"
	stale := commit("cm-5", "eve", "yes", 999)
	stale.Status = domain.CommitmentRefunded
	cms := []*domain.PredictionCommitment{
		commit("cm-1", "alice", "yes", 500),
		commit("cm-2", "bob", "no", 300),
		{ID: "cm-3", UserID: "carol", MarketID: "mkt-1", OptionID: &carolOpt,
			TokensCommitted: 200, Status: domain.CommitmentActive},
		{ID: "cm-4", UserID: "dave", MarketID: "mkt-1",
			TokensCommitted: 100, Status: domain.CommitmentActive},
		stale,
	}

	plan, err := newCalc(500, domain.NoWinnersRefundLosers).Compute(m, cms, "yes")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if plan.TotalPool != 800 {
		t.Errorf("TotalPool = %d, want 800 (ill-formed stakes excluded)", plan.TotalPool)
	}
	if got := lineFor(t, plan, "cm-1").Payout; got != 760 {
		t.Errorf("alice payout = %d, want 760", got)
	}

	for _, id := range []string{"cm-3", "cm-4"} {
		l := lineFor(t, plan, id)
		if l.Kind != domain.PayoutRefund {
			t.Errorf("%s kind = %s, want refund", id, l.Kind)
		}
		if l.Payout != l.TokensStaked || l.Profit != 0 {
			t.Errorf("%s payout=%d staked=%d profit=%d, want full refund", id, l.Payout, l.TokensStaked, l.Profit)
		}
		if l.OptionID != "" {
			t.Errorf("%s ill-formed refund should carry no option id, got %q", id, l.OptionID)
		}
		if l.Reason == nil || *l.Reason == "" {
			t.Errorf("%s ill-formed refund should carry a reason", id)
		}
	}

	for _, l := range plan.Lines {
		if l.CommitmentID == "cm-5" {
			t.Error("non-active commitment must not be planned")
		}
	}

	// inflow = 500 + 300 + 200 + 100; eve's refunded row counts for nothing.
	if out := plan.Outflow(); out != 1100 {
		t.Errorf("Outflow() = %d, want 1100", out)
	}
}

// TestComputeIllFormedClassification checks the remaining ways a commitment
// fails attribution: positions on a non-binary market, contradictory fields,
// and non-positive stakes.
func TestComputeIllFormedClassification(t *testing.T) {
	multi := &domain.Market{
		ID: "mkt-multi",
		Options: domain.OptionList{
			{ID: "red", Label: "Red"}, {ID: "green", Label: "Green"}, {ID: "blue", Label: "Blue"},
		},
		Status:             domain.StatusResolving,
		CreatorFeeFraction: decimal.Zero,
	}
	pos := "yes"
	posOnMulti := &domain.PredictionCommitment{
		ID: "cm-pos", UserID: "u1", MarketID: "mkt-multi", Position: &pos,
		TokensCommitted: 100, Status: domain.CommitmentActive,
	}

	plan, err := newCalc(0, domain.NoWinnersRefundLosers).Compute(multi,
		[]*domain.PredictionCommitment{posOnMulti, {
			ID: "cm-ok", UserID: "u2", MarketID: "mkt-multi",
			OptionID: strPtr("red"), TokensCommitted: 50, Status: domain.CommitmentActive,
		}}, "red")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if l := lineFor(t, plan, "cm-pos"); l.Kind != domain.PayoutRefund {
		t.Errorf("position on a 3-option market should refund, got %s", l.Kind)
	}

	// Contradictory option/position on a binary market.
	bm := binaryMarket(0)
	no := "no"
	contradictory := commit("cm-x", "u3", "yes", 100)
	contradictory.Position = &no
	plan, err = newCalc(0, domain.NoWinnersRefundLosers).Compute(bm,
		[]*domain.PredictionCommitment{contradictory, commit("cm-y", "u4", "yes", 100)}, "yes")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if l := lineFor(t, plan, "cm-x"); l.Kind != domain.PayoutRefund {
		t.Errorf("contradictory fields should refund, got %s", l.Kind)
	}
	if got := lineFor(t, plan, "cm-y").Payout; got != 100 {
		t.Errorf("sole well-formed winner payout = %d, want 100", got)
	}

	// Zero stake is ill-formed even with a valid option.
	plan, err = newCalc(0, domain.NoWinnersRefundLosers).Compute(bm,
		[]*domain.PredictionCommitment{commit("cm-z", "u5", "yes", 0),
			commit("cm-w", "u6", "yes", 10)}, "yes")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if l := lineFor(t, plan, "cm-z"); l.Kind != domain.PayoutRefund || l.Payout != 0 {
		t.Errorf("zero stake line = %s payout=%d, want refund 0", l.Kind, l.Payout)
	}
}

func strPtr(s string) *string { return &s }

// ── input validation ──────────────────────────────────────────────────────────

func TestComputeInvalidWinner(t *testing.T) {
	m := binaryMarket(0.02)
	_, err := newCalc(500, domain.NoWinnersRefundLosers).Compute(m, nil, "sideways")
	if !errors.Is(err, domain.ErrInvalidWinner) {
		t.Errorf("err = %v, want ErrInvalidWinner", err)
	}
}

func TestComputeFeeValidation(t *testing.T) {
	cases := []struct {
		name       string
		houseBps   int64
		creatorFee float64
	}{
		{"house fee eats the pool", 10000, 0},
		{"negative house fee", -1, 0},
		{"creator fee above maximum", 500, 0.06},
		{"combined fees at 100%", 9900, 0.02},
	}
	for _, tc := range cases {
		m := binaryMarket(tc.creatorFee)
		_, err := newCalc(tc.houseBps, domain.NoWinnersRefundLosers).Compute(m,
			[]*domain.PredictionCommitment{commit("cm-1", "alice", "yes", 100)}, "yes")
		if !errors.Is(err, domain.ErrInvalidFeeConfiguration) {
			t.Errorf("%s: err = %v, want ErrInvalidFeeConfiguration", tc.name, err)
		}
	}
}

// ── determinism & conservation ────────────────────────────────────────────────

// TestComputeDeterministic: the plan is a pure function of its inputs, and
// conservation holds across a spread of awkward stake sizes.
func TestComputeDeterministic(t *testing.T) {
	m := &domain.Market{
		ID: "mkt-det",
		Options: domain.OptionList{
			{ID: "a", Label: "A"}, {ID: "b", Label: "B"}, {ID: "c", Label: "C"},
		},
		Status:             domain.StatusResolving,
		CreatorFeeFraction: decimal.NewFromFloat(0.015),
	}
	options := []string{"a", "b", "c"}
	var cms []*domain.PredictionCommitment
	var inflow int64
	for i := 0; i < 33; i++ {
		stake := int64(1 + (i*i*7)%997) // awkward, non-round stakes
		cms = append(cms, commit(
			"cm-"+string(rune('a'+i%26))+string(rune('0'+i/26)),
			"user", options[i%3], stake))
		inflow += stake
	}

	calc := newCalc(250, domain.NoWinnersRefundLosers)
	first, err := calc.Compute(m, cms, "b")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	second, err := calc.Compute(m, cms, "b")
	if err != nil {
		t.Fatalf("Compute (second): %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("same inputs should produce an identical plan")
	}

	if out := first.Outflow(); out != inflow {
		t.Errorf("Outflow() = %d, want inflow %d", out, inflow)
	}
	var winTotal int64
	for _, l := range first.WinnerLines() {
		winTotal += l.Payout
	}
	if winTotal != first.WinnerPool {
		t.Errorf("win payouts = %d, want winner pool %d exactly", winTotal, first.WinnerPool)
	}
	t.Logf("pool=%d house=%d creator=%d winners=%d lines=%d",
		first.TotalPool, first.HouseFee, first.CreatorFee, first.WinnerCount, len(first.Lines))
}

// TestComputeConcurrentUse: one Calculator shared by many goroutines must
// hand every caller a conserving plan. Confirms the no-state claim under -race.
func TestComputeConcurrentUse(t *testing.T) {
	const workers = 20

	m := binaryMarket(0.02)
	cms := []*domain.PredictionCommitment{
		commit("cm-1", "alice", "yes", 600),
		commit("cm-2", "bob", "yes", 200),
		commit("cm-3", "carol", "no", 200),
	}
	calc := newCalc(500, domain.NoWinnersRefundLosers)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			plan, err := calc.Compute(m, cms, "yes")
			if err != nil {
				errs <- err
				return
			}
			if out := plan.Outflow(); out != 1000 {
				errs <- errors.New("outflow mismatch under concurrency")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Compute: %v", err)
	}
}
