// Package scheduler manages the two background goroutines that keep the
// settlement surface fresh:
//  1. pendingSweepLoop    – promotes open markets whose deadline passed to
//     pending_resolution so they show up in the operator queue.
//  2. analyticsRefreshLoop – pushes live pool analytics to WS subscribers of
//     each watched market.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/evetabi/resolution/internal/config"
	"github.com/evetabi/resolution/internal/repository"
	"github.com/evetabi/resolution/internal/service"
	"github.com/evetabi/resolution/internal/store"
	"github.com/evetabi/resolution/internal/ws"
)

// ──────────────────────────────────────────────────────────────────────────────
// FeedHub interface — minimally required from the Hub
// ──────────────────────────────────────────────────────────────────────────────

// FeedHub defines the broadcast operations the Scheduler needs from the
// WebSocket hub.  Declared here so the scheduler package depends on behaviour,
// not on the ws package internals.
type FeedHub interface {
	ActiveMarkets() []string
	PublishMarket(marketID, event string, payload any)
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler runs the background maintenance loops.  Call Start(ctx) once from
// main(); cancel the context to shut it down gracefully.  A zero interval in
// the config disables the corresponding loop.
type Scheduler struct {
	marketRepo *repository.MarketRepository
	querySvc   *service.MarketQueryService
	hub        FeedHub
	cfg        *config.Config
	logger     *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	marketRepo *repository.MarketRepository,
	querySvc *service.MarketQueryService,
	hub FeedHub,
	cfg *config.Config,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		marketRepo: marketRepo,
		querySvc:   querySvc,
		hub:        hub,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start launches the enabled background goroutines.  It returns immediately;
// all loops run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.Scheduler.PendingSweepInterval > 0 {
		go s.pendingSweepLoop(ctx)
	}
	if s.cfg.Scheduler.FeedRefreshInterval > 0 && s.hub != nil {
		go s.analyticsRefreshLoop(ctx)
	}
	s.logger.Info("scheduler started",
		"pending_sweep", s.cfg.Scheduler.PendingSweepInterval,
		"feed_refresh", s.cfg.Scheduler.FeedRefreshInterval)
}

// ──────────────────────────────────────────────────────────────────────────────
// pendingSweepLoop
// ──────────────────────────────────────────────────────────────────────────────

// pendingSweepLoop promotes expired open markets to pending_resolution on a
// fixed interval.  Promotion is a plain status flip — no money moves until an
// operator resolves the market — so a missed tick only delays queue visibility.
func (s *Scheduler) pendingSweepLoop(ctx context.Context) {
	defer s.recoverAndLog("pendingSweepLoop")

	ticker := time.NewTicker(s.cfg.Scheduler.PendingSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("pendingSweepLoop: shutting down")
			return
		case <-ticker.C:
			s.sweepPending(ctx)
		}
	}
}

// sweepPending promotes every expired market in one statement and drops the
// pending cache when anything moved.
func (s *Scheduler) sweepPending(ctx context.Context) {
	promoted, err := s.marketRepo.PromoteExpired(ctx, time.Now().UTC())
	if err != nil {
		if store.IsTransient(err) {
			s.logger.Warn("pendingSweepLoop: transient failure, next tick retries", "err", err)
		} else {
			s.logger.Error("pendingSweepLoop: PromoteExpired", "err", err)
		}
		return
	}
	if promoted > 0 {
		s.querySvc.InvalidatePending()
		s.logger.Info("markets promoted to pending_resolution", "count", promoted)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// analyticsRefreshLoop
// ──────────────────────────────────────────────────────────────────────────────

// analyticsRefreshLoop recomputes pool analytics for every market that has at
// least one WS subscriber and pushes the snapshot into that market's room.
// Markets nobody watches cost nothing.
func (s *Scheduler) analyticsRefreshLoop(ctx context.Context) {
	defer s.recoverAndLog("analyticsRefreshLoop")

	ticker := time.NewTicker(s.cfg.Scheduler.FeedRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("analyticsRefreshLoop: shutting down")
			return
		case <-ticker.C:
			s.refreshAnalytics(ctx)
		}
	}
}

// refreshAnalytics pushes one analytics snapshot into every room with at
// least one subscriber.
func (s *Scheduler) refreshAnalytics(ctx context.Context) {
	for _, marketID := range s.hub.ActiveMarkets() {
		analytics, err := s.querySvc.Analytics(ctx, marketID)
		if err != nil {
			// Rooms can outlive their market (cancelled, typo'd id); skip quietly.
			s.logger.Warn("analyticsRefreshLoop: analytics failed", "market", marketID, "err", err)
			continue
		}
		s.hub.PublishMarket(marketID, string(ws.MsgTypeAnalytics), analytics)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside each goroutine to catch unexpected panics,
// log them, and allow the scheduler to continue running.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
