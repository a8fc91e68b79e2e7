package ledger_test

import (
	"testing"

	"github.com/evetabi/resolution/internal/domain"
	"github.com/evetabi/resolution/internal/ledger"
)

func entry(id string, typ domain.TxType, amount int64, meta domain.JSONMap) *domain.TokenTransaction {
	return &domain.TokenTransaction{ID: id, UserID: "u1", Type: typ, Amount: amount, Metadata: meta}
}

// TestFold_ReproducesLifecycle replays a full user lifecycle and checks the
// fold lands on the balance the applier would have written.
//
//	grant 1000 → commit 300 → win 450 (stake 300 back) → commit 200 → loss 200
//	  available = 1000 - 300 + 450 - 200 = 950
//	  committed = 300 - 300 + 200 - 200  = 0
//	  earned    = 1000 + (450 - 300)     = 1150
//	  spent     = 200
func TestFold_ReproducesLifecycle(t *testing.T) {
	entries := []*domain.TokenTransaction{
		entry("t1", domain.TxPurchase, 1000, nil),
		entry("t2", domain.TxCommit, -300, nil),
		entry("t3", domain.TxWin, 450, domain.JSONMap{domain.MetaStakeReturned: int64(300)}),
		entry("t4", domain.TxCommit, -200, nil),
		entry("t5", domain.TxLoss, -200, nil),
	}
	got, err := ledger.Fold(entries)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	want := domain.BalanceDelta{Available: 950, Committed: 0, Earned: 1150, Spent: 200}
	if got != want {
		t.Errorf("Fold = %+v, want %+v", got, want)
	}
}

// TestFold_ReversalCancels: a payout followed by its rollback reversal folds
// back to the pre-payout state — reversals carry negated amounts under the
// original type, so no special casing is needed.
func TestFold_ReversalCancels(t *testing.T) {
	prePayout := []*domain.TokenTransaction{
		entry("t1", domain.TxPurchase, 500, nil),
		entry("t2", domain.TxCommit, -200, nil),
	}
	withRolledBackWin := append(prePayout,
		entry("t3", domain.TxWin, 260, domain.JSONMap{domain.MetaStakeReturned: int64(200)}),
		entry("t4", domain.TxWin, -260, domain.JSONMap{
			domain.MetaStakeReturned: int64(-200),
			domain.MetaRollbackOf:    "t3",
		}),
	)

	before, err := ledger.Fold(prePayout)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	after, err := ledger.Fold(withRolledBackWin)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if before != after {
		t.Errorf("fold after reversal = %+v, want pre-payout state %+v", after, before)
	}
}

func TestFold_EmptyHistory(t *testing.T) {
	got, err := ledger.Fold(nil)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if got != (domain.BalanceDelta{}) {
		t.Errorf("Fold(nil) = %+v, want zero", got)
	}
}

func TestFold_UnknownType(t *testing.T) {
	if _, err := ledger.Fold([]*domain.TokenTransaction{
		entry("t1", domain.TxType("dividend"), 10, nil),
	}); err == nil {
		t.Error("unknown transaction type should fail the fold")
	}
}

// ── ReconcileReport ───────────────────────────────────────────────────────────

func TestReconcileReport_Consistent(t *testing.T) {
	r := &ledger.ReconcileReport{
		AccountID: "u1",
		Stored:    domain.BalanceDelta{Available: 950, Earned: 1150, Spent: 200},
		Computed:  domain.BalanceDelta{Available: 950, Earned: 1150, Spent: 200},
	}
	if !r.Consistent() {
		t.Error("report without drift should be consistent")
	}
	r.Drift = []string{"available_tokens"}
	if r.Consistent() {
		t.Error("report with drift should not be consistent")
	}
}
