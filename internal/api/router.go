package api

import (
	"net/http"

	"github.com/evetabi/resolution/internal/api/handler"
	"github.com/evetabi/resolution/internal/api/middleware"
	"github.com/evetabi/resolution/internal/config"
	"github.com/evetabi/resolution/internal/ledger"
	"github.com/evetabi/resolution/internal/service"
	"github.com/evetabi/resolution/internal/store"
	"github.com/evetabi/resolution/internal/ws"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	AuthSvc       *service.AuthService
	ResolutionSvc *service.ResolutionService
	QuerySvc      *service.MarketQueryService
	Ledger        *ledger.Ledger
	Store         *store.Store
	Hub           *ws.Hub
	Cfg           *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	authH := handler.NewAuthHandler(deps.AuthSvc)
	marketH := handler.NewMarketHandler(deps.QuerySvc)
	resolutionH := handler.NewResolutionHandler(deps.ResolutionSvc)
	ledgerH := handler.NewLedgerHandler(deps.Ledger, deps.Store)

	// ── JWT middleware (shared) ───────────────────────────────────────────────
	jwtMW := middleware.JWTMiddleware(deps.AuthSvc)

	// ── Rate limiters ─────────────────────────────────────────────────────────
	authRL := middleware.RateLimitMiddleware(10)          // 10 req/s per IP for token issuance
	settleRL := middleware.OperatorRateLimitMiddleware(5) // 5 req/s per operator for settlement writes

	api := r.Group("/api")
	{
		// ── Auth (public, strict rate limit) ─────────────────────────────────
		auth := api.Group("/auth")
		auth.Use(authRL)
		{
			auth.POST("/token", authH.Token)
		}

		// ── Market resolution reads (public) ─────────────────────────────────
		markets := api.Group("/markets")
		{
			markets.GET("/pending-resolution", marketH.Pending)
			markets.GET("/:id/resolution-status", marketH.Status)
			markets.GET("/:id/analytics", marketH.Analytics)
		}
		api.GET("/distributions/:id/payouts", marketH.Payouts)

		// ── Authenticated routes ──────────────────────────────────────────────
		authed := api.Group("")
		authed.Use(jwtMW)
		{
			// Dry-run settlement math; operator tool, any role.
			authed.GET("/markets/:id/payout-preview", resolutionH.Preview)

			// Accounts
			accounts := authed.Group("/accounts")
			{
				accounts.GET("/:id/balance", ledgerH.GetBalance)
				accounts.GET("/:id/transactions", ledgerH.GetTransactions)
			}

			// ── Settlement writes (admin only) ────────────────────────────────
			admin := authed.Group("")
			admin.Use(middleware.AdminMiddleware(), settleRL)
			{
				admin.POST("/markets/:id/resolve", resolutionH.Resolve)
				admin.POST("/markets/:id/cancel", resolutionH.Cancel)
				admin.POST("/distributions/:id/rollback", resolutionH.Rollback)
				admin.POST("/accounts/:id/reconcile", ledgerH.Reconcile)
			}
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws/markets/:id", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request, c.Param("id"))
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// In development all origins are allowed; in production only the configured
// origin, and none when CORS_ORIGIN is unset.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			// Development: allow any origin
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && origin == cfg.Server.CORSOrigin {
			c.Header("Access-Control-Allow-Origin", origin)
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
