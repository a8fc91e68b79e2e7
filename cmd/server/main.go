// Package main is the entry point for the market resolution engine API
// server.  It wires together the settlement services and starts the HTTP
// server alongside the WebSocket hub and background scheduler.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/evetabi/resolution/internal/api"
	"github.com/evetabi/resolution/internal/config"
	"github.com/evetabi/resolution/internal/ledger"
	"github.com/evetabi/resolution/internal/payout"
	"github.com/evetabi/resolution/internal/repository"
	"github.com/evetabi/resolution/internal/scheduler"
	"github.com/evetabi/resolution/internal/service"
	"github.com/evetabi/resolution/internal/store"
	"github.com/evetabi/resolution/internal/ws"
	_ "github.com/lib/pq" // postgres driver
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting resolution engine", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Database ───────────────────────────────────────────────────────────
	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// ── 3. Migrations ─────────────────────────────────────────────────────────
	if err = st.RunMigrations("migrations"); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── 4. Repositories ───────────────────────────────────────────────────────
	db := st.DB()
	marketRepo := repository.NewMarketRepository(db)
	commitmentRepo := repository.NewCommitmentRepository(db)
	resolutionRepo := repository.NewResolutionRepository(db)
	distributionRepo := repository.NewDistributionRepository(db)
	identityRepo := repository.NewIdentityRepository(db)

	// ── 5. Ledger + calculator ────────────────────────────────────────────────
	ldgr := ledger.New(db, identityRepo, cfg.Resolution.InitialGrant, cfg.Resolution.HouseAccountID)

	calc := payout.NewCalculator(payout.Params{
		HouseFeeBps:      cfg.Resolution.HouseFeeBps(),
		MaxCreatorFeeBps: cfg.Resolution.MaxCreatorFeeBps(),
		Policy:           cfg.Resolution.NoWinnersPolicy,
	})

	// ── 6. Services (order matters for injection) ─────────────────────────────
	distributor := service.NewDistributor(commitmentRepo, distributionRepo, ldgr)

	var prober *service.EvidenceProber
	if cfg.Resolution.EvidenceProbeTimeout > 0 {
		prober = service.NewEvidenceProber(cfg.Resolution.EvidenceProbeTimeout)
		logger.Info("evidence url probing enabled", "timeout", cfg.Resolution.EvidenceProbeTimeout)
	}

	authSvc := service.NewAuthService(cfg)

	resolutionSvc := service.NewResolutionService(
		st, marketRepo, commitmentRepo, resolutionRepo, distributionRepo,
		ldgr, calc, distributor, prober, cfg,
	)

	querySvc := service.NewMarketQueryService(
		marketRepo, commitmentRepo, resolutionRepo, distributionRepo, cfg,
	)

	// ── 7. WebSocket Hub ──────────────────────────────────────────────────────
	jwtSecret := []byte(cfg.JWT.Secret)
	var allowedOrigins []string
	if ori := os.Getenv("WS_ALLOWED_ORIGINS"); ori != "" {
		for _, o := range strings.Split(ori, ",") {
			allowedOrigins = append(allowedOrigins, strings.TrimSpace(o))
		}
	}
	hub := ws.NewHub(jwtSecret, allowedOrigins)

	// Wire WS broadcaster into the resolution service
	resolutionSvc.SetBroadcaster(hub)

	// ── 8. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 9. Start WS Hub ───────────────────────────────────────────────────────
	go hub.Run()
	logger.Info("websocket hub started")

	// ── 10. Scheduler ─────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(marketRepo, querySvc, hub, cfg, logger)
	sched.Start(ctx)

	// ── 11. HTTP Router ───────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		AuthSvc:       authSvc,
		ResolutionSvc: resolutionSvc,
		QuerySvc:      querySvc,
		Ledger:        ldgr,
		Store:         st,
		Hub:           hub,
		Cfg:           cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 12. Start server ──────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 13. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	st.Close()
	logger.Info("server stopped cleanly")
}
