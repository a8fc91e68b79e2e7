package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/evetabi/resolution/internal/config"
	"github.com/evetabi/resolution/internal/domain"
	"github.com/evetabi/resolution/internal/repository"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// MarketQueryService
// ──────────────────────────────────────────────────────────────────────────────

// MarketQueryService serves the read side: the pending-resolution queue, a
// market's full resolution status, and pool analytics. Markets are created by
// the upstream platform, so this engine only ever reads them.
type MarketQueryService struct {
	marketRepo       *repository.MarketRepository
	commitmentRepo   *repository.CommitmentRepository
	resolutionRepo   *repository.ResolutionRepository
	distributionRepo *repository.DistributionRepository
	cfg              *config.Config

	// 500 ms pending-queue cache
	pendingMu        sync.RWMutex
	pendingMarkets   []*domain.Market
	pendingCacheTime time.Time
}

// NewMarketQueryService creates a MarketQueryService.
func NewMarketQueryService(
	marketRepo *repository.MarketRepository,
	commitmentRepo *repository.CommitmentRepository,
	resolutionRepo *repository.ResolutionRepository,
	distributionRepo *repository.DistributionRepository,
	cfg *config.Config,
) *MarketQueryService {
	return &MarketQueryService{
		marketRepo:       marketRepo,
		commitmentRepo:   commitmentRepo,
		resolutionRepo:   resolutionRepo,
		distributionRepo: distributionRepo,
		cfg:              cfg,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Pending
// ──────────────────────────────────────────────────────────────────────────────

// Pending returns the resolution queue: everything in pending_resolution
// plus open markets whose close time has passed. Expired open markets are
// promoted to pending_resolution in the same call; the promotion is
// idempotent, so concurrent reads and the scheduler sweep never conflict.
// The result is cached for 500 ms to reduce DB pressure from dashboard
// polling.
func (s *MarketQueryService) Pending(ctx context.Context) ([]*domain.Market, error) {
	const cacheDuration = 500 * time.Millisecond

	s.pendingMu.RLock()
	if s.pendingMarkets != nil && time.Since(s.pendingCacheTime) < cacheDuration {
		markets := s.pendingMarkets
		s.pendingMu.RUnlock()
		return markets, nil
	}
	s.pendingMu.RUnlock()

	// The list predicate already covers expired open markets, so a failed
	// promotion degrades to a stale status field, not a missing market.
	if promoted, err := s.marketRepo.PromoteExpired(ctx, time.Now().UTC()); err != nil {
		log.Printf("[resolution] WARN: pending queue promotion: %v", err)
	} else if promoted > 0 {
		log.Printf("[resolution] promoted %d ended markets to pending_resolution", promoted)
	}

	markets, err := s.marketRepo.ListPending(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("market_query.Pending: %w", err)
	}

	s.pendingMu.Lock()
	s.pendingMarkets = markets
	s.pendingCacheTime = time.Now()
	s.pendingMu.Unlock()

	return markets, nil
}

// InvalidatePending drops the pending cache. Called after sweeps promote
// markets so the next read sees them immediately.
func (s *MarketQueryService) InvalidatePending() {
	s.pendingMu.Lock()
	s.pendingMarkets = nil
	s.pendingCacheTime = time.Time{}
	s.pendingMu.Unlock()
}

// ──────────────────────────────────────────────────────────────────────────────
// ResolutionStatus
// ──────────────────────────────────────────────────────────────────────────────

// ResolutionStatus bundles everything an operator needs to inspect one
// market's settlement state.
type ResolutionStatus struct {
	Market       *domain.Market             `json:"market"`
	Resolution   *domain.MarketResolution   `json:"resolution,omitempty"`
	Distribution *domain.PayoutDistribution `json:"distribution,omitempty"`
	Logs         []*domain.ResolutionLog    `json:"logs"`
}

// Status returns the market, its active resolution and latest distribution
// (either may be absent), and the audit trail.
func (s *MarketQueryService) Status(ctx context.Context, marketID string) (*ResolutionStatus, error) {
	market, err := s.marketRepo.GetByID(ctx, marketID)
	if err != nil {
		return nil, err
	}
	resolution, err := s.resolutionRepo.GetActiveByMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	distribution, err := s.distributionRepo.GetLatestByMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	logs, err := s.resolutionRepo.ListLogsByMarket(ctx, marketID, 100)
	if err != nil {
		return nil, err
	}
	return &ResolutionStatus{
		Market:       market,
		Resolution:   resolution,
		Distribution: distribution,
		Logs:         logs,
	}, nil
}

// Payouts returns a distribution's per-commitment payout rows.
func (s *MarketQueryService) Payouts(ctx context.Context, distributionID string) ([]*domain.ResolutionPayout, error) {
	if _, err := s.distributionRepo.GetByID(ctx, distributionID); err != nil {
		return nil, err
	}
	return s.distributionRepo.ListPayouts(ctx, distributionID)
}

// ──────────────────────────────────────────────────────────────────────────────
// Analytics
// ──────────────────────────────────────────────────────────────────────────────

// Analytics aggregates a market's active commitments into per-option pools,
// shares, and fee-adjusted payout multipliers. Ill-formed commitments count
// toward the unattributed pool only.
func (s *MarketQueryService) Analytics(ctx context.Context, marketID string) (*domain.MarketAnalytics, error) {
	market, err := s.marketRepo.GetByID(ctx, marketID)
	if err != nil {
		return nil, err
	}
	commitments, err := s.commitmentRepo.ListActiveByMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}

	tokens := make(map[string]int64, len(market.Options))
	counts := make(map[string]int, len(market.Options))
	participants := make(map[string]struct{})
	var totalPool, unattributed int64
	for _, cm := range commitments {
		participants[cm.UserID] = struct{}{}
		optionID, _, err := cm.Normalize(market)
		if err != nil {
			unattributed += cm.TokensCommitted
			continue
		}
		tokens[optionID] += cm.TokensCommitted
		counts[optionID]++
		totalPool += cm.TokensCommitted
	}

	feeBps := s.cfg.Resolution.HouseFeeBps() + market.CreatorFeeBps()
	winnerPool := decimal.NewFromInt(totalPool).Mul(bpsFactor(feeBps))
	hundred := decimal.NewFromInt(100)

	stats := make([]domain.OptionStat, 0, len(market.Options))
	for _, opt := range market.Options {
		stat := domain.OptionStat{
			OptionID:    opt.ID,
			Label:       opt.Label,
			Tokens:      tokens[opt.ID],
			Commitments: counts[opt.ID],
			PoolShare:   decimalZero(),
			Multiplier:  decimalZero(),
		}
		if totalPool > 0 && stat.Tokens > 0 {
			optTokens := decimal.NewFromInt(stat.Tokens)
			stat.PoolShare = optTokens.Div(decimal.NewFromInt(totalPool)).Mul(hundred).RoundDown(2)
			stat.Multiplier = winnerPool.Div(optTokens).RoundDown(4)
		}
		stats = append(stats, stat)
	}

	return &domain.MarketAnalytics{
		MarketID:         marketID,
		Status:           market.Status,
		TotalPool:        totalPool,
		CommitmentCount:  len(commitments),
		ParticipantCount: len(participants),
		UnattributedPool: unattributed,
		Options:          stats,
		GeneratedAt:      time.Now().UTC(),
	}, nil
}
