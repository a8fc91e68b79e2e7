package service

import (
	"context"
	"fmt"
	"time"

	"github.com/evetabi/resolution/internal/domain"
	"github.com/evetabi/resolution/internal/ledger"
	"github.com/evetabi/resolution/internal/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Distributor turns a computed payout plan into database effects: ledger
// entries, commitment outcomes, payout rows, and the fee credits. Everything
// runs inside the caller's transaction; a verification pass at the end either
// marks the distribution completed or aborts the whole transaction.
type Distributor struct {
	commitmentRepo   *repository.CommitmentRepository
	distributionRepo *repository.DistributionRepository
	ledger           *ledger.Ledger
}

// NewDistributor builds a Distributor.
func NewDistributor(
	commitmentRepo *repository.CommitmentRepository,
	distributionRepo *repository.DistributionRepository,
	ledger *ledger.Ledger,
) *Distributor {
	return &Distributor{
		commitmentRepo:   commitmentRepo,
		distributionRepo: distributionRepo,
		ledger:           ledger,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Plan translation — pure, no I/O
// ──────────────────────────────────────────────────────────────────────────────

// LineOps translates one plan line into ledger operations. Wins return the
// stake inside the win credit; losses forfeit the stake; partial refunds
// split into a loss for the shortfall and a refund for the returned share.
func LineOps(line *domain.PlanLine, distributionID, operationID string) ([]domain.LedgerOp, error) {
	meta := domain.JSONMap{
		"commitment_id":        line.CommitmentID,
		domain.MetaOperationID: operationID,
	}
	switch line.Kind {
	case domain.PayoutWin:
		return []domain.LedgerOp{{
			UserID:        line.UserID,
			Type:          domain.TxWin,
			Amount:        line.Payout,
			StakeReturned: line.TokensStaked,
			RelatedID:     distributionID,
			Metadata:      meta,
		}}, nil

	case domain.PayoutLoss:
		return []domain.LedgerOp{{
			UserID:    line.UserID,
			Type:      domain.TxLoss,
			Amount:    -line.TokensStaked,
			RelatedID: distributionID,
			Metadata:  meta,
		}}, nil

	case domain.PayoutRefund:
		if line.Payout > line.TokensStaked {
			return nil, fmt.Errorf("%w: refund %d exceeds stake %d on commitment %s",
				domain.ErrCalculatorInvariantViolated, line.Payout, line.TokensStaked, line.CommitmentID)
		}
		var ops []domain.LedgerOp
		if shortfall := line.TokensStaked - line.Payout; shortfall > 0 {
			ops = append(ops, domain.LedgerOp{
				UserID:    line.UserID,
				Type:      domain.TxLoss,
				Amount:    -shortfall,
				RelatedID: distributionID,
				Metadata:  meta,
			})
		}
		ops = append(ops, domain.LedgerOp{
			UserID:    line.UserID,
			Type:      domain.TxRefund,
			Amount:    line.Payout,
			RelatedID: distributionID,
			Metadata:  meta,
		})
		return ops, nil

	default:
		return nil, fmt.Errorf("%w: unknown payout kind %q", domain.ErrCalculatorInvariantViolated, line.Kind)
	}
}

// BuildCancelOps translates a full-refund cancellation into ledger operations,
// one refund per active commitment.
func BuildCancelOps(marketID string, commitments []*domain.PredictionCommitment) []domain.LedgerOp {
	ops := make([]domain.LedgerOp, 0, len(commitments))
	for _, cm := range commitments {
		if !cm.IsActive() {
			continue
		}
		ops = append(ops, domain.LedgerOp{
			UserID:    cm.UserID,
			Type:      domain.TxRefund,
			Amount:    cm.TokensCommitted,
			RelatedID: marketID,
			Metadata: domain.JSONMap{
				"commitment_id":   cm.ID,
				domain.MetaReason: "market_cancelled",
			},
		})
	}
	return ops
}

// BuildForfeitOps translates a no-refund cancellation into ledger operations,
// one loss per active commitment: the stake moves to spent instead of coming
// back.
func BuildForfeitOps(marketID string, commitments []*domain.PredictionCommitment) []domain.LedgerOp {
	ops := make([]domain.LedgerOp, 0, len(commitments))
	for _, cm := range commitments {
		if !cm.IsActive() {
			continue
		}
		ops = append(ops, domain.LedgerOp{
			UserID:    cm.UserID,
			Type:      domain.TxLoss,
			Amount:    -cm.TokensCommitted,
			RelatedID: marketID,
			Metadata: domain.JSONMap{
				"commitment_id":   cm.ID,
				domain.MetaReason: "market_cancelled",
			},
		})
	}
	return ops
}

func statusForKind(kind domain.PayoutKind) domain.CommitmentStatus {
	switch kind {
	case domain.PayoutWin:
		return domain.CommitmentWon
	case domain.PayoutLoss:
		return domain.CommitmentLost
	default:
		return domain.CommitmentRefunded
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Apply — execute a plan inside the caller's transaction
// ──────────────────────────────────────────────────────────────────────────────

// Apply executes plan inside tx. On success the returned distribution is in
// completed status with all verification checks recorded. Any failure,
// including a failed check, aborts with an error and the transaction must be
// rolled back by the caller.
func (d *Distributor) Apply(ctx context.Context, tx *sqlx.Tx, market *domain.Market, plan *domain.PayoutPlan, resolutionID, operationID string) (*domain.PayoutDistribution, error) {
	// ── 1. Refuse to pay a market twice ──────────────────────────────────────
	done, err := d.distributionRepo.HasCompletedForMarket(ctx, tx, market.ID)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, fmt.Errorf("%w: market %s already has a completed distribution",
			domain.ErrDistributionVerificationFailed, market.ID)
	}

	// ── 2. Create the pending distribution ───────────────────────────────────
	now := time.Now().UTC()
	recipients := 0
	var lineTotal int64
	for _, line := range plan.Lines {
		lineTotal += line.Payout
		if line.Payout > 0 {
			recipients++
		}
	}
	dist := &domain.PayoutDistribution{
		ID:             uuid.NewString(),
		MarketID:       market.ID,
		ResolutionID:   resolutionID,
		Status:         domain.DistributionPending,
		TotalPool:      plan.TotalPool,
		HouseFee:       plan.HouseFee,
		CreatorFee:     plan.CreatorFee,
		WinnerPool:     plan.WinnerPool,
		RecipientCount: recipients,
		OperationID:    operationID,
		Version:        1,
		CreatedAt:      now,
	}
	if err := d.distributionRepo.Create(ctx, tx, dist); err != nil {
		return nil, err
	}

	// ── 3. Settle every commitment: ledger first, then the row ───────────────
	entriesWritten := 0
	payoutRows := make([]*domain.ResolutionPayout, 0, len(plan.Lines))
	for _, line := range plan.Lines {
		if err := d.ledger.EnsureCommitted(ctx, tx, line.UserID, line.TokensStaked, dist.ID, operationID); err != nil {
			return nil, fmt.Errorf("distributor: import stake for commitment %s: %w", line.CommitmentID, err)
		}

		ops, err := LineOps(line, dist.ID, operationID)
		if err != nil {
			return nil, err
		}
		entries, err := d.ledger.ApplyBatch(ctx, tx, ops)
		if err != nil {
			return nil, fmt.Errorf("distributor: ledger for commitment %s: %w", line.CommitmentID, err)
		}
		entriesWritten += len(entries)

		if err := d.commitmentRepo.ApplyOutcome(ctx, tx, line.CommitmentID,
			statusForKind(line.Kind), line.Payout, line.Profit, dist.ID); err != nil {
			return nil, err
		}

		// The credit entry is the last op for the line (refund after loss).
		var txID *string
		if len(entries) > 0 {
			id := entries[len(entries)-1].ID
			txID = &id
		}
		payoutRows = append(payoutRows, &domain.ResolutionPayout{
			ID:             uuid.NewString(),
			DistributionID: dist.ID,
			MarketID:       market.ID,
			CommitmentID:   line.CommitmentID,
			UserID:         line.UserID,
			Kind:           line.Kind,
			Origin:         line.Origin,
			TokensStaked:   line.TokensStaked,
			PayoutTokens:   line.Payout,
			Profit:         line.Profit,
			Reason:         line.Reason,
			TransactionID:  txID,
			CreatedAt:      now,
		})
	}
	if err := d.distributionRepo.CreatePayouts(ctx, tx, payoutRows); err != nil {
		return nil, err
	}

	// ── 4. Fee credits ───────────────────────────────────────────────────────
	if plan.CreatorFee > 0 {
		entry, err := d.ledger.Apply(ctx, tx, domain.LedgerOp{
			UserID:    market.CreatorID,
			Type:      domain.TxWin,
			Amount:    plan.CreatorFee,
			RelatedID: dist.ID,
			Metadata: domain.JSONMap{
				domain.MetaRole:        "creator_fee",
				domain.MetaOperationID: operationID,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("distributor: creator fee: %w", err)
		}
		entriesWritten++
		if err := d.distributionRepo.CreateCreatorPayout(ctx, tx, &domain.CreatorPayout{
			ID:             uuid.NewString(),
			DistributionID: dist.ID,
			MarketID:       market.ID,
			CreatorID:      market.CreatorID,
			AccountID:      entry.UserID,
			FeeTokens:      plan.CreatorFee,
			TransactionID:  &entry.ID,
			CreatedAt:      now,
		}); err != nil {
			return nil, err
		}
	}
	if houseTotal := plan.HouseFee + plan.HouseAbsorbed; houseTotal > 0 {
		entry, err := d.ledger.Apply(ctx, tx, domain.LedgerOp{
			UserID:    d.ledger.HouseAccountID(),
			Type:      domain.TxWin,
			Amount:    houseTotal,
			RelatedID: dist.ID,
			Metadata: domain.JSONMap{
				domain.MetaRole:        "house_fee",
				domain.MetaOperationID: operationID,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("distributor: house fee: %w", err)
		}
		entriesWritten++
		if err := d.distributionRepo.CreateHousePayout(ctx, tx, &domain.HousePayout{
			ID:             uuid.NewString(),
			DistributionID: dist.ID,
			MarketID:       market.ID,
			AccountID:      entry.UserID,
			FeeTokens:      plan.HouseFee,
			AbsorbedTokens: plan.HouseAbsorbed,
			TransactionID:  &entry.ID,
			CreatedAt:      now,
		}); err != nil {
			return nil, err
		}
	}

	// ── 5. Verify before committing to the result ────────────────────────────
	checks, err := d.verify(ctx, tx, market.ID, dist.ID, plan, lineTotal, entriesWritten)
	if err != nil {
		return nil, err
	}
	if !checks.AllPassed() {
		return nil, fmt.Errorf("%w: failed checks: %v", domain.ErrDistributionVerificationFailed, checks.Failed())
	}
	if err := d.distributionRepo.MarkCompleted(ctx, tx, dist.ID, checks); err != nil {
		return nil, err
	}
	dist.Status = domain.DistributionCompleted
	dist.Checks = checks
	dist.CompletedAt = &now
	return dist, nil
}

// verify re-reads what was just written and compares it against the plan.
// The counts come from the database, not from in-memory bookkeeping, so a
// partially applied plan cannot pass.
func (d *Distributor) verify(ctx context.Context, tx *sqlx.Tx, marketID, distributionID string, plan *domain.PayoutPlan, lineTotal int64, entriesWritten int) (domain.VerificationChecks, error) {
	var checks domain.VerificationChecks

	active, err := d.commitmentRepo.CountActiveByMarket(ctx, tx, marketID)
	if err != nil {
		return checks, err
	}
	checks.AllCommitmentsProcessed = active == 0

	rows, sum, err := d.distributionRepo.SumPayouts(ctx, tx, distributionID)
	if err != nil {
		return checks, err
	}
	checks.PayoutSumsCorrect = rows == len(plan.Lines) && sum == lineTotal

	// Completed-distribution count was checked before any write; the pending
	// row created above is the only one for this distribution id.
	checks.NoDoublePayouts = true

	// Stake-import entries share the distribution's related_id, so the stored
	// count can exceed the planned op count but never undercut it.
	entries, err := d.ledger.ListByRelated(ctx, tx, distributionID)
	if err != nil {
		return checks, err
	}
	checks.TransactionRecordsCreated = len(entries) >= entriesWritten
	checks.BalanceUpdatesSuccessful = true
	return checks, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Rollback — reverse a completed distribution inside the caller's transaction
// ──────────────────────────────────────────────────────────────────────────────

// Rollback reverses every ledger entry the distribution produced, newest
// first, and reactivates its commitments. The caller has already locked the
// distribution row and verified it is in completed status.
func (d *Distributor) Rollback(ctx context.Context, tx *sqlx.Tx, dist *domain.PayoutDistribution, reason string) (reversed int, restored int64, err error) {
	entries, err := d.ledger.ListByRelated(ctx, tx, dist.ID)
	if err != nil {
		return 0, 0, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.RollbackOf() != "" {
			continue
		}
		if _, err := d.ledger.Reverse(ctx, tx, e, reason); err != nil {
			return 0, 0, fmt.Errorf("distributor: reverse entry %s: %w", e.ID, err)
		}
		reversed++
	}

	restored, err = d.commitmentRepo.ResetForRollback(ctx, tx, dist.ID)
	if err != nil {
		return 0, 0, err
	}
	return reversed, restored, nil
}
