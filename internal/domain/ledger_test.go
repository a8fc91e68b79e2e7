package domain_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/evetabi/resolution/internal/domain"
)

// ── Deltas ────────────────────────────────────────────────────────────────────

// TestDeltas pins the sign conventions: purchase/win/refund record positive
// amounts, commit/loss negative, and a win's released stake moves from
// committed without touching earned.
func TestDeltas(t *testing.T) {
	cases := []struct {
		name          string
		typ           domain.TxType
		amount        int64
		stakeReturned int64
		want          domain.BalanceDelta
	}{
		{"purchase grants available and earned", domain.TxPurchase, 500, 0,
			domain.BalanceDelta{Available: 500, Earned: 500}},
		{"commit locks available into committed", domain.TxCommit, -100, 0,
			domain.BalanceDelta{Available: -100, Committed: 100}},
		{"refund releases committed back", domain.TxRefund, 100, 0,
			domain.BalanceDelta{Available: 100, Committed: -100}},
		{"win releases stake and earns the rest", domain.TxWin, 130, 100,
			domain.BalanceDelta{Available: 130, Committed: -100, Earned: 30}},
		{"loss forfeits committed into spent", domain.TxLoss, -100, 0,
			domain.BalanceDelta{Committed: -100, Spent: 100}},
	}
	for _, tc := range cases {
		got, err := domain.Deltas(tc.typ, tc.amount, tc.stakeReturned)
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: Deltas = %+v, want %+v", tc.name, got, tc.want)
		}
	}

	if _, err := domain.Deltas(domain.TxType("dividend"), 1, 0); err == nil {
		t.Error("unknown transaction type should error")
	}
}

// TestDeltas_ReversalCancels: a reversal entry keeps the type and negates
// amount and stakeReturned, so its delta is the exact negation of the
// original. Folding both lands back on zero.
func TestDeltas_ReversalCancels(t *testing.T) {
	fwd, err := domain.Deltas(domain.TxWin, 130, 100)
	if err != nil {
		t.Fatalf("Deltas: %v", err)
	}
	rev, err := domain.Deltas(domain.TxWin, -130, -100)
	if err != nil {
		t.Fatalf("Deltas (reversal): %v", err)
	}
	sum := domain.BalanceDelta{
		Available: fwd.Available + rev.Available,
		Committed: fwd.Committed + rev.Committed,
		Earned:    fwd.Earned + rev.Earned,
		Spent:     fwd.Spent + rev.Spent,
	}
	if sum != (domain.BalanceDelta{}) {
		t.Errorf("forward + reversal = %+v, want zero", sum)
	}
}

// ── UserBalance.Apply ─────────────────────────────────────────────────────────

func TestUserBalance_Apply(t *testing.T) {
	b := &domain.UserBalance{UserID: "u1", Available: 100, Committed: 50}

	if err := b.Apply(domain.BalanceDelta{Available: -40, Committed: 40}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if b.Available != 60 || b.Committed != 90 {
		t.Errorf("balance = %d/%d, want 60/90", b.Available, b.Committed)
	}
}

func TestUserBalance_Apply_RejectsNegative(t *testing.T) {
	b := &domain.UserBalance{UserID: "u1", Available: 30}

	err := b.Apply(domain.BalanceDelta{Available: -40, Committed: 40})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("err = %v, want ErrInsufficientFunds", err)
	}
	// A rejected apply must leave the balance untouched.
	if b.Available != 30 || b.Committed != 0 {
		t.Errorf("balance after rejection = %d/%d, want 30/0", b.Available, b.Committed)
	}
}

// ── TokenTransaction metadata ─────────────────────────────────────────────────

func TestTokenTransaction_Metadata(t *testing.T) {
	tx := &domain.TokenTransaction{
		Type:   domain.TxWin,
		Amount: 130,
		Metadata: domain.JSONMap{
			domain.MetaStakeReturned: int64(100),
			domain.MetaRollbackOf:    "tx-42",
		},
	}
	if got := tx.StakeReturned(); got != 100 {
		t.Errorf("StakeReturned() = %d, want 100", got)
	}
	if got := tx.RollbackOf(); got != "tx-42" {
		t.Errorf("RollbackOf() = %q, want tx-42", got)
	}

	d, err := tx.Deltas()
	if err != nil {
		t.Fatalf("Deltas: %v", err)
	}
	if d.Earned != 30 {
		t.Errorf("Earned = %d, want 30 (payout minus released stake)", d.Earned)
	}

	bare := &domain.TokenTransaction{Type: domain.TxLoss, Amount: -50}
	if bare.StakeReturned() != 0 || bare.RollbackOf() != "" {
		t.Error("nil metadata should read as zero values")
	}
}

// TestJSONMap_DatabaseRoundTrip: after a JSONB round trip integers come back
// as float64; Int64 must tolerate that.
func TestJSONMap_DatabaseRoundTrip(t *testing.T) {
	in := domain.JSONMap{
		domain.MetaStakeReturned: int64(100),
		domain.MetaReason:        "initial_grant",
	}
	v, err := in.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	var out domain.JSONMap
	if err := out.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if _, isFloat := out[domain.MetaStakeReturned].(float64); !isFloat {
		t.Fatalf("expected float64 after round trip, got %T", out[domain.MetaStakeReturned])
	}
	if got := out.Int64(domain.MetaStakeReturned); got != 100 {
		t.Errorf("Int64 = %d, want 100", got)
	}
	if got := out.String(domain.MetaReason); got != "initial_grant" {
		t.Errorf("String = %q, want initial_grant", got)
	}
	if out.Int64("missing") != 0 || out.String("missing") != "" {
		t.Error("missing keys should read as zero values")
	}

	var null domain.JSONMap
	if err := null.Scan(nil); err != nil || null != nil {
		t.Errorf("Scan(nil) = %v map=%v, want nil/nil", err, null)
	}
}

func TestJSONMap_Int64Shapes(t *testing.T) {
	m := domain.JSONMap{
		"i64":  int64(7),
		"i":    3,
		"f":    float64(9),
		"num":  json.Number("11"),
		"text": "not a number",
	}
	for key, want := range map[string]int64{"i64": 7, "i": 3, "f": 9, "num": 11, "text": 0} {
		if got := m.Int64(key); got != want {
			t.Errorf("Int64(%s) = %d, want %d", key, got, want)
		}
	}
}
