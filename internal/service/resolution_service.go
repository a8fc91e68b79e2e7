package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/evetabi/resolution/internal/config"
	"github.com/evetabi/resolution/internal/domain"
	"github.com/evetabi/resolution/internal/ledger"
	"github.com/evetabi/resolution/internal/payout"
	"github.com/evetabi/resolution/internal/repository"
	"github.com/evetabi/resolution/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Broadcaster pushes resolution events to subscribed clients. Implemented by
// ws.Hub; declared here so the service layer does not import the transport.
type Broadcaster interface {
	PublishMarket(marketID, event string, payload any)
}

// ──────────────────────────────────────────────────────────────────────────────
// Request / Response types
// ──────────────────────────────────────────────────────────────────────────────

// ResolveRequest is the operator's resolution order for one market.
type ResolveRequest struct {
	WinningOptionID string            `json:"winning_option_id" binding:"required"`
	Evidence        []domain.Evidence `json:"evidence"`
}

// ResolveResult is returned after a successful resolution.
type ResolveResult struct {
	Resolution   *domain.MarketResolution   `json:"resolution"`
	Distribution *domain.PayoutDistribution `json:"distribution"`
	Plan         *domain.PayoutPlan         `json:"plan"`
	Warnings     []string                   `json:"warnings,omitempty"`
	OperationID  string                     `json:"operation_id"`
}

// CancelResult is returned after a market cancellation. The refund fields are
// populated when stakes came back, the forfeit fields when they did not.
type CancelResult struct {
	MarketID         string `json:"market_id"`
	RefundedCount    int    `json:"refunded_count"`
	TokensReturned   int64  `json:"tokens_returned"`
	ForfeitedCount   int    `json:"forfeited_count,omitempty"`
	TokensForfeited  int64  `json:"tokens_forfeited,omitempty"`
	AlreadyCancelled bool   `json:"already_cancelled,omitempty"`
	OperationID      string `json:"operation_id"`
}

// RollbackResult is returned after a distribution rollback.
type RollbackResult struct {
	DistributionID      string `json:"distribution_id"`
	MarketID            string `json:"market_id"`
	EntriesReversed     int    `json:"entries_reversed"`
	CommitmentsRestored int64  `json:"commitments_restored"`
	OperationID         string `json:"operation_id"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ResolutionService
// ──────────────────────────────────────────────────────────────────────────────

// ResolutionService orchestrates market settlement: claiming the market,
// computing the payout plan, applying it through the Distributor, cancelling
// with refund or forfeit, and rolling completed distributions back. Every
// operation carries an operation id through the audit trail.
type ResolutionService struct {
	store            *store.Store
	marketRepo       *repository.MarketRepository
	commitmentRepo   *repository.CommitmentRepository
	resolutionRepo   *repository.ResolutionRepository
	distributionRepo *repository.DistributionRepository
	ledger           *ledger.Ledger
	calculator       *payout.Calculator
	distributor      *Distributor
	prober           *EvidenceProber
	cfg              *config.Config
	broadcaster      Broadcaster
}

// NewResolutionService builds a ResolutionService.
func NewResolutionService(
	st *store.Store,
	marketRepo *repository.MarketRepository,
	commitmentRepo *repository.CommitmentRepository,
	resolutionRepo *repository.ResolutionRepository,
	distributionRepo *repository.DistributionRepository,
	ledger *ledger.Ledger,
	calculator *payout.Calculator,
	distributor *Distributor,
	prober *EvidenceProber,
	cfg *config.Config,
) *ResolutionService {
	return &ResolutionService{
		store:            st,
		marketRepo:       marketRepo,
		commitmentRepo:   commitmentRepo,
		resolutionRepo:   resolutionRepo,
		distributionRepo: distributionRepo,
		ledger:           ledger,
		calculator:       calculator,
		distributor:      distributor,
		prober:           prober,
		cfg:              cfg,
	}
}

// SetBroadcaster wires the websocket hub in after construction.
func (s *ResolutionService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// authorize rejects requests whose actor is not a configured admin operator.
// Transport-level auth has already happened; this is the engine-side gate
// that holds regardless of how the call arrived.
func (s *ResolutionService) authorize(actor string) error {
	if actor == "" {
		return domain.ErrUnauthorized
	}
	if !s.cfg.Ops.IsAdminOperator(actor) {
		return fmt.Errorf("%w: operator %s may not settle markets", domain.ErrForbidden, actor)
	}
	return nil
}

func opErr(op, operationID, stage string, err error) error {
	return &domain.OpError{Op: op, OperationID: operationID, Stage: stage, Err: err}
}

// ──────────────────────────────────────────────────────────────────────────────
// Resolve
// ──────────────────────────────────────────────────────────────────────────────

// Resolve settles a market: validates winner and evidence, claims the market
// against concurrent resolvers, computes the plan from the locked commitment
// set, and applies it atomically. On any failure after the claim the market
// is released back to pending_resolution.
func (s *ResolutionService) Resolve(ctx context.Context, marketID, actor string, req ResolveRequest) (*ResolveResult, error) {
	operationID := uuid.NewString()
	started := time.Now()

	if err := s.authorize(actor); err != nil {
		return nil, opErr("resolve", operationID, "authorize", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Resolution.OperationDeadline)
	defer cancel()

	// ── Step 1: Load and validate ────────────────────────────────────────────
	market, err := s.marketRepo.GetByID(ctx, marketID)
	if err != nil {
		return nil, opErr("resolve", operationID, "load", err)
	}
	switch market.Status {
	case domain.StatusResolved:
		return nil, opErr("resolve", operationID, "load", domain.ErrMarketAlreadyResolved)
	case domain.StatusCancelled:
		return nil, opErr("resolve", operationID, "load", domain.ErrMarketCancelled)
	}
	if !market.HasOption(req.WinningOptionID) {
		return nil, opErr("resolve", operationID, "validate",
			fmt.Errorf("%w: market %s has no option %q", domain.ErrInvalidWinner, marketID, req.WinningOptionID))
	}
	if bps := market.CreatorFeeBps(); bps < 0 || bps > s.cfg.Resolution.MaxCreatorFeeBps() {
		return nil, opErr("resolve", operationID, "validate",
			fmt.Errorf("%w: creator fee %d bps exceeds maximum %d bps",
				domain.ErrInvalidFeeConfiguration, bps, s.cfg.Resolution.MaxCreatorFeeBps()))
	}

	warnings, err := domain.ValidateEvidence(req.Evidence)
	if err != nil {
		return nil, opErr("resolve", operationID, "validate", err)
	}
	if s.prober != nil {
		warnings = append(warnings, s.prober.Probe(ctx, req.Evidence)...)
	}

	if err := s.logEvent(ctx, marketID, operationID, domain.EventStarted, actor, domain.JSONMap{
		"winning_option_id": req.WinningOptionID,
		"evidence_items":    len(req.Evidence),
	}); err != nil {
		return nil, opErr("resolve", operationID, "audit", err)
	}
	if err := s.logEvent(ctx, marketID, operationID, domain.EventEvidenceValidated, actor, domain.JSONMap{
		"warnings": len(warnings),
	}); err != nil {
		return nil, opErr("resolve", operationID, "audit", err)
	}

	// ── Step 2: Promote an open market, then claim it ────────────────────────
	if market.Status == domain.StatusOpen {
		if _, err := s.marketRepo.PromoteToPending(ctx, marketID); err != nil {
			return nil, opErr("resolve", operationID, "claim", err)
		}
		if market, err = s.marketRepo.GetByID(ctx, marketID); err != nil {
			return nil, opErr("resolve", operationID, "claim", err)
		}
	}
	claimed, err := s.marketRepo.ClaimForResolution(ctx, marketID, market.Version)
	if err != nil {
		return nil, opErr("resolve", operationID, "claim", err)
	}
	if !claimed {
		current, rerr := s.marketRepo.GetByID(ctx, marketID)
		if rerr != nil {
			return nil, opErr("resolve", operationID, "claim", rerr)
		}
		return nil, opErr("resolve", operationID, "claim", classifyClaimFailure(current))
	}

	// ── Step 3: Atomic settlement transaction ────────────────────────────────
	var (
		resolution *domain.MarketResolution
		dist       *domain.PayoutDistribution
		plan       *domain.PayoutPlan
	)
	runErr := s.store.RunTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.marketRepo.LockByID(ctx, tx, marketID)
		if err != nil {
			return err
		}
		if locked.Status != domain.StatusResolving {
			return fmt.Errorf("%w: market %s lost its claim", domain.ErrConcurrencyExhausted, marketID)
		}

		commitments, err := s.commitmentRepo.LockActiveByMarket(ctx, tx, marketID)
		if err != nil {
			return err
		}
		if plan, err = s.calculator.Compute(locked, commitments, req.WinningOptionID); err != nil {
			return err
		}

		now := time.Now().UTC()
		resolution = &domain.MarketResolution{
			ID:              uuid.NewString(),
			MarketID:        marketID,
			WinningOptionID: req.WinningOptionID,
			ResolvedBy:      actor,
			Evidence:        domain.EvidenceList(req.Evidence),
			TotalPool:       plan.TotalPool,
			HouseFee:        plan.HouseFee,
			CreatorFee:      plan.CreatorFee,
			WinnerPool:      plan.WinnerPool,
			WinnerCount:     plan.WinnerCount,
			NoWinners:       plan.NoWinners,
			Status:          domain.ResolutionActive,
			OperationID:     operationID,
			Version:         1,
			CreatedAt:       now,
		}
		if err := s.resolutionRepo.Create(ctx, tx, resolution); err != nil {
			return err
		}
		if err := s.appendLogTx(ctx, tx, marketID, operationID, domain.EventPlanComputed, actor, domain.JSONMap{
			"total_pool":   plan.TotalPool,
			"house_fee":    plan.HouseFee,
			"creator_fee":  plan.CreatorFee,
			"winner_pool":  plan.WinnerPool,
			"winner_count": plan.WinnerCount,
			"no_winners":   plan.NoWinners,
			"lines":        len(plan.Lines),
		}); err != nil {
			return err
		}

		if dist, err = s.distributor.Apply(ctx, tx, locked, plan, resolution.ID, operationID); err != nil {
			return err
		}
		if err := s.marketRepo.MarkResolved(ctx, tx, marketID, req.WinningOptionID); err != nil {
			return err
		}
		return s.appendLogTx(ctx, tx, marketID, operationID, domain.EventApplied, actor, domain.JSONMap{
			"resolution_id":   resolution.ID,
			"distribution_id": dist.ID,
			"recipients":      dist.RecipientCount,
		})
	})
	if runErr != nil {
		release := context.WithoutCancel(ctx)
		if relErr := s.marketRepo.ReleaseClaim(release, marketID); relErr != nil {
			log.Printf("[resolution] WARN: could not release claim on market %s: %v", marketID, relErr)
		}
		s.logFailure(release, marketID, operationID, actor, "apply", runErr)
		return nil, opErr("resolve", operationID, "apply", runErr)
	}

	// ── Step 4: Audit completion and notify ──────────────────────────────────
	if err := s.logEvent(ctx, marketID, operationID, domain.EventCompleted, actor, domain.JSONMap{
		"resolution_id":   resolution.ID,
		"distribution_id": dist.ID,
		"duration_ms":     time.Since(started).Milliseconds(),
	}); err != nil {
		log.Printf("[resolution] WARN: completion audit for market %s: %v", marketID, err)
	}
	s.publish(marketID, "market_resolved", map[string]any{
		"market_id":         marketID,
		"winning_option_id": req.WinningOptionID,
		"resolution_id":     resolution.ID,
		"distribution_id":   dist.ID,
		"winner_count":      plan.WinnerCount,
		"winner_pool":       plan.WinnerPool,
	})
	log.Printf("[resolution] market %s resolved: winner=%s pool=%d winners=%d op=%s",
		marketID, req.WinningOptionID, plan.TotalPool, plan.WinnerCount, operationID)

	return &ResolveResult{
		Resolution:   resolution,
		Distribution: dist,
		Plan:         plan,
		Warnings:     warnings,
		OperationID:  operationID,
	}, nil
}

func classifyClaimFailure(m *domain.Market) error {
	switch m.Status {
	case domain.StatusResolved:
		return domain.ErrMarketAlreadyResolved
	case domain.StatusCancelled:
		return domain.ErrMarketCancelled
	case domain.StatusResolving:
		return fmt.Errorf("%w: market %s is being resolved by another operation",
			domain.ErrConcurrencyExhausted, m.ID)
	default:
		return fmt.Errorf("%w: market %s changed while claiming", domain.ErrConcurrencyExhausted, m.ID)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Preview
// ──────────────────────────────────────────────────────────────────────────────

// Preview computes the payout plan a resolution would produce, without
// claiming the market or writing anything. feeOverride substitutes the
// market's creator fee when set, for what-if queries.
func (s *ResolutionService) Preview(ctx context.Context, marketID, winningOptionID string, feeOverride *decimal.Decimal) (*domain.PayoutPlan, error) {
	market, err := s.marketRepo.GetByID(ctx, marketID)
	if err != nil {
		return nil, err
	}
	switch market.Status {
	case domain.StatusResolved:
		return nil, domain.ErrMarketAlreadyResolved
	case domain.StatusCancelled:
		return nil, domain.ErrMarketCancelled
	}
	if feeOverride != nil {
		if feeOverride.IsNegative() || feeOverride.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("%w: creator_fee_fraction must be in [0,1)", domain.ErrInvalidInput)
		}
		clone := *market
		clone.CreatorFeeFraction = *feeOverride
		market = &clone
	}

	commitments, err := s.commitmentRepo.ListActiveByMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	return s.calculator.Compute(market, commitments, winningOptionID)
}

// ──────────────────────────────────────────────────────────────────────────────
// Cancel
// ──────────────────────────────────────────────────────────────────────────────

// Cancel voids a market. With refundTokens every active commitment comes back
// in full, fees untouched; without it the stakes are forfeited to spent.
// Cancelling an already-cancelled market is a no-op; a resolved market cannot
// be cancelled (roll its distribution back first).
func (s *ResolutionService) Cancel(ctx context.Context, marketID, actor, reason string, refundTokens bool) (*CancelResult, error) {
	operationID := uuid.NewString()
	if err := s.authorize(actor); err != nil {
		return nil, opErr("cancel", operationID, "authorize", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Resolution.OperationDeadline)
	defer cancel()

	result := &CancelResult{MarketID: marketID, OperationID: operationID}
	runErr := s.store.RunTx(ctx, func(tx *sqlx.Tx) error {
		market, err := s.marketRepo.LockByID(ctx, tx, marketID)
		if err != nil {
			return err
		}
		switch market.Status {
		case domain.StatusCancelled:
			result.AlreadyCancelled = true
			return nil
		case domain.StatusResolved:
			return domain.ErrMarketAlreadyResolved
		case domain.StatusResolving:
			return fmt.Errorf("%w: market %s is being resolved", domain.ErrConcurrencyExhausted, marketID)
		}

		ok, err := s.marketRepo.CancelTx(ctx, tx, marketID, reason)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: market %s changed while cancelling", domain.ErrConcurrencyExhausted, marketID)
		}

		commitments, err := s.commitmentRepo.LockActiveByMarket(ctx, tx, marketID)
		if err != nil {
			return err
		}
		// Forfeited stakes debit committed_tokens too, so both paths need the
		// stake present in the local ledger first.
		for _, cm := range commitments {
			if err := s.ledger.EnsureCommitted(ctx, tx, cm.UserID, cm.TokensCommitted, marketID, operationID); err != nil {
				return fmt.Errorf("cancel: import stake for commitment %s: %w", cm.ID, err)
			}
		}
		var ops []domain.LedgerOp
		if refundTokens {
			ops = BuildCancelOps(marketID, commitments)
		} else {
			ops = BuildForfeitOps(marketID, commitments)
		}
		if _, err := s.ledger.ApplyBatch(ctx, tx, ops); err != nil {
			return err
		}
		for _, cm := range commitments {
			if refundTokens {
				if err := s.commitmentRepo.Refund(ctx, tx, cm.ID); err != nil {
					return err
				}
				result.RefundedCount++
				result.TokensReturned += cm.TokensCommitted
			} else {
				if err := s.commitmentRepo.Forfeit(ctx, tx, cm.ID); err != nil {
					return err
				}
				result.ForfeitedCount++
				result.TokensForfeited += cm.TokensCommitted
			}
		}
		return s.appendLogTx(ctx, tx, marketID, operationID, domain.EventCancelled, actor, domain.JSONMap{
			"reason":           reason,
			"refund_tokens":    refundTokens,
			"refunded_count":   result.RefundedCount,
			"tokens_returned":  result.TokensReturned,
			"forfeited_count":  result.ForfeitedCount,
			"tokens_forfeited": result.TokensForfeited,
		})
	})
	if runErr != nil {
		s.logFailure(context.WithoutCancel(ctx), marketID, operationID, actor, "cancel", runErr)
		return nil, opErr("cancel", operationID, "apply", runErr)
	}

	if !result.AlreadyCancelled {
		s.publish(marketID, "market_cancelled", map[string]any{
			"market_id":        marketID,
			"reason":           reason,
			"refund_tokens":    refundTokens,
			"refunded_count":   result.RefundedCount,
			"tokens_returned":  result.TokensReturned,
			"forfeited_count":  result.ForfeitedCount,
			"tokens_forfeited": result.TokensForfeited,
		})
		if refundTokens {
			log.Printf("[resolution] market %s cancelled: refunded %d commitments (%d tokens) op=%s",
				marketID, result.RefundedCount, result.TokensReturned, operationID)
		} else {
			log.Printf("[resolution] market %s cancelled: forfeited %d commitments (%d tokens) op=%s",
				marketID, result.ForfeitedCount, result.TokensForfeited, operationID)
		}
	}
	return result, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Rollback
// ──────────────────────────────────────────────────────────────────────────────

// RollbackDistribution reverses a completed distribution: every ledger entry
// is compensated newest-first, commitments return to active, and the market
// drops back to pending_resolution for re-resolution. Fails when any winner
// has already spent the tokens being clawed back.
func (s *ResolutionService) RollbackDistribution(ctx context.Context, distributionID, actor, reason string) (*RollbackResult, error) {
	operationID := uuid.NewString()
	if err := s.authorize(actor); err != nil {
		return nil, opErr("rollback", operationID, "authorize", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Resolution.OperationDeadline)
	defer cancel()

	dist, err := s.distributionRepo.GetByID(ctx, distributionID)
	if err != nil {
		return nil, opErr("rollback", operationID, "load", err)
	}
	if dist.Status != domain.DistributionCompleted {
		return nil, opErr("rollback", operationID, "load", domain.ErrAlreadyRolledBack)
	}

	if err := s.logEvent(ctx, dist.MarketID, operationID, domain.EventRollbackInitiated, actor, domain.JSONMap{
		"distribution_id": distributionID,
		"reason":          reason,
	}); err != nil {
		return nil, opErr("rollback", operationID, "audit", err)
	}

	result := &RollbackResult{DistributionID: distributionID, MarketID: dist.MarketID, OperationID: operationID}
	runErr := s.store.RunTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.distributionRepo.LockByID(ctx, tx, distributionID)
		if err != nil {
			return err
		}
		if locked.Status != domain.DistributionCompleted {
			return domain.ErrAlreadyRolledBack
		}
		if _, err := s.marketRepo.LockByID(ctx, tx, locked.MarketID); err != nil {
			return err
		}

		reversed, restored, err := s.distributor.Rollback(ctx, tx, locked, reason)
		if err != nil {
			return err
		}
		result.EntriesReversed = reversed
		result.CommitmentsRestored = restored

		if err := s.resolutionRepo.MarkRolledBack(ctx, tx, locked.ResolutionID); err != nil {
			return err
		}
		if err := s.marketRepo.RollbackToPending(ctx, tx, locked.MarketID); err != nil {
			return err
		}
		return s.distributionRepo.MarkRolledBack(ctx, tx, distributionID, reason)
	})
	if runErr != nil {
		s.logFailure(context.WithoutCancel(ctx), dist.MarketID, operationID, actor, "rollback", runErr)
		return nil, opErr("rollback", operationID, "apply", runErr)
	}

	if err := s.logEvent(ctx, dist.MarketID, operationID, domain.EventRollbackCompleted, actor, domain.JSONMap{
		"distribution_id":      distributionID,
		"entries_reversed":     result.EntriesReversed,
		"commitments_restored": result.CommitmentsRestored,
	}); err != nil {
		log.Printf("[resolution] WARN: rollback audit for distribution %s: %v", distributionID, err)
	}
	s.publish(dist.MarketID, "distribution_rolled_back", map[string]any{
		"market_id":       dist.MarketID,
		"distribution_id": distributionID,
		"reason":          reason,
	})
	log.Printf("[resolution] distribution %s rolled back: %d entries reversed, %d commitments restored op=%s",
		distributionID, result.EntriesReversed, result.CommitmentsRestored, operationID)
	return result, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Audit and broadcast helpers
// ──────────────────────────────────────────────────────────────────────────────

func (s *ResolutionService) logEvent(ctx context.Context, marketID, operationID string, event domain.ResolutionEvent, actor string, detail domain.JSONMap) error {
	return s.resolutionRepo.AppendLog(ctx, &domain.ResolutionLog{
		ID:          uuid.NewString(),
		MarketID:    marketID,
		OperationID: operationID,
		Event:       event,
		Actor:       actor,
		Detail:      detail,
		CreatedAt:   time.Now().UTC(),
	})
}

func (s *ResolutionService) appendLogTx(ctx context.Context, tx *sqlx.Tx, marketID, operationID string, event domain.ResolutionEvent, actor string, detail domain.JSONMap) error {
	return s.resolutionRepo.AppendLogTx(ctx, tx, &domain.ResolutionLog{
		ID:          uuid.NewString(),
		MarketID:    marketID,
		OperationID: operationID,
		Event:       event,
		Actor:       actor,
		Detail:      detail,
		CreatedAt:   time.Now().UTC(),
	})
}

// logFailure records a failed event outside the aborted transaction so the
// attempt survives in the audit trail. Best effort.
func (s *ResolutionService) logFailure(ctx context.Context, marketID, operationID, actor, stage string, cause error) {
	err := s.logEvent(ctx, marketID, operationID, domain.EventFailed, actor, domain.JSONMap{
		"stage": stage,
		"error": cause.Error(),
	})
	if err != nil {
		log.Printf("[resolution] WARN: failure audit for market %s: %v", marketID, err)
	}
}

func (s *ResolutionService) publish(marketID, event string, payload any) {
	if s.broadcaster != nil {
		s.broadcaster.PublishMarket(marketID, event, payload)
	}
}
