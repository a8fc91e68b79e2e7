package domain_test

import (
	"testing"
	"time"

	"github.com/evetabi/resolution/internal/domain"
	"github.com/shopspring/decimal"
)

// ── status lifecycle ──────────────────────────────────────────────────────────

func TestMarketStatus_IsValid(t *testing.T) {
	valid := []domain.MarketStatus{
		domain.StatusOpen, domain.StatusPendingResolution, domain.StatusResolving,
		domain.StatusResolved, domain.StatusCancelled,
	}
	for _, s := range valid {
		if !s.IsValid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if domain.MarketStatus("suspended").IsValid() {
		t.Error("suspended is not a recognised status")
	}
}

// TestMarketStatus_CanTransitionTo pins the whole transition matrix, including
// the two backward edges: resolving → pending_resolution (claim release) and
// resolved → pending_resolution (rollback).
func TestMarketStatus_CanTransitionTo(t *testing.T) {
	all := []domain.MarketStatus{
		domain.StatusOpen, domain.StatusPendingResolution, domain.StatusResolving,
		domain.StatusResolved, domain.StatusCancelled,
	}
	allowed := map[domain.MarketStatus][]domain.MarketStatus{
		domain.StatusOpen:              {domain.StatusPendingResolution, domain.StatusCancelled},
		domain.StatusPendingResolution: {domain.StatusResolving, domain.StatusCancelled},
		domain.StatusResolving:         {domain.StatusResolved, domain.StatusPendingResolution},
		domain.StatusResolved:          {domain.StatusPendingResolution},
		domain.StatusCancelled:         {},
	}

	for from, nexts := range allowed {
		ok := make(map[domain.MarketStatus]bool, len(nexts))
		for _, n := range nexts {
			ok[n] = true
		}
		for _, to := range all {
			if got := from.CanTransitionTo(to); got != ok[to] {
				t.Errorf("CanTransitionTo(%s → %s) = %v, want %v", from, to, got, ok[to])
			}
		}
	}

	// Self-transitions are never legal.
	for _, s := range all {
		if s.CanTransitionTo(s) {
			t.Errorf("%s → %s should not be allowed", s, s)
		}
	}
}

func TestMarketStatus_IsTerminal(t *testing.T) {
	if !domain.StatusResolved.IsTerminal() {
		t.Error("resolved should be terminal")
	}
	if !domain.StatusCancelled.IsTerminal() {
		t.Error("cancelled should be terminal")
	}
	for _, s := range []domain.MarketStatus{
		domain.StatusOpen, domain.StatusPendingResolution, domain.StatusResolving,
	} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

// ── option helpers ────────────────────────────────────────────────────────────

func TestMarket_Option_HasOption(t *testing.T) {
	m := &domain.Market{
		Options: domain.OptionList{
			{ID: "yes", Label: "Yes"},
			{ID: "no", Label: "No"},
		},
	}
	opt, ok := m.Option("yes")
	if !ok || opt.Label != "Yes" {
		t.Errorf("Option(yes) = %+v/%v, want the Yes option", opt, ok)
	}
	if _, ok := m.Option("maybe"); ok {
		t.Error("Option(maybe) should not exist")
	}
	if !m.HasOption("no") || m.HasOption("") {
		t.Error("HasOption should match exact option ids only")
	}
}

func TestMarket_IsBinary(t *testing.T) {
	binary := &domain.Market{Options: domain.OptionList{
		{ID: "yes", Label: "Yes"}, {ID: "no", Label: "No"},
	}}
	if !binary.IsBinary() {
		t.Error("yes/no market should be binary")
	}

	// Two options is not enough on its own; the reserved ids are what counts.
	twoWay := &domain.Market{Options: domain.OptionList{
		{ID: "red", Label: "Red"}, {ID: "blue", Label: "Blue"},
	}}
	if twoWay.IsBinary() {
		t.Error("red/blue market should not count as binary")
	}

	multi := &domain.Market{Options: domain.OptionList{
		{ID: "yes", Label: "Yes"}, {ID: "no", Label: "No"}, {ID: "void", Label: "Void"},
	}}
	if multi.IsBinary() {
		t.Error("three-option market should not count as binary")
	}
}

// ── fees & timing ─────────────────────────────────────────────────────────────

func TestMarket_CreatorFeeBps(t *testing.T) {
	cases := []struct {
		fraction string
		want     int64
	}{
		{"0", 0},
		{"0.02", 200},
		{"0.025", 250},
		{"0.1", 1000},
	}
	for _, tc := range cases {
		f, err := decimal.NewFromString(tc.fraction)
		if err != nil {
			t.Fatalf("decimal %q: %v", tc.fraction, err)
		}
		m := &domain.Market{CreatorFeeFraction: f}
		if got := m.CreatorFeeBps(); got != tc.want {
			t.Errorf("CreatorFeeBps(%s) = %d, want %d", tc.fraction, got, tc.want)
		}
	}
}

func TestMarket_IsEnded(t *testing.T) {
	now := time.Now().UTC()

	open := &domain.Market{}
	if open.IsEnded(now) {
		t.Error("market without ends_at never self-expires")
	}

	past := now.Add(-time.Hour)
	ended := &domain.Market{EndsAt: &past}
	if !ended.IsEnded(now) {
		t.Error("market past ends_at should be ended")
	}

	future := now.Add(time.Hour)
	running := &domain.Market{EndsAt: &future}
	if running.IsEnded(now) {
		t.Error("market before ends_at should not be ended")
	}
}

// ── JSONB round trip ──────────────────────────────────────────────────────────

func TestOptionList_ScanValue(t *testing.T) {
	in := domain.OptionList{
		{ID: "yes", Label: "Yes"},
		{ID: "no", Label: "No"},
	}
	v, err := in.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var out domain.OptionList
	if err := out.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(out) != 2 || out[0].ID != "yes" || out[1].Label != "No" {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}

	var null domain.OptionList
	if err := null.Scan(nil); err != nil {
		t.Fatalf("Scan(nil): %v", err)
	}
	if null != nil {
		t.Errorf("Scan(nil) = %+v, want nil", null)
	}
}
