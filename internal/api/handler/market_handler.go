package handler

import (
	"net/http"
	"strconv"

	"github.com/evetabi/resolution/internal/service"
	"github.com/gin-gonic/gin"
)

// MarketHandler serves market resolution query endpoints.
type MarketHandler struct {
	querySvc *service.MarketQueryService
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(querySvc *service.MarketQueryService) *MarketHandler {
	return &MarketHandler{querySvc: querySvc}
}

// Pending godoc
// GET /api/markets/pending-resolution
func (h *MarketHandler) Pending(c *gin.Context) {
	markets, err := h.querySvc.Pending(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch pending markets")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"markets": markets,
		"count":   len(markets),
	})
}

// Status godoc
// GET /api/markets/:id/resolution-status
func (h *MarketHandler) Status(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	status, err := h.querySvc.Status(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, status)
}

// Analytics godoc
// GET /api/markets/:id/analytics
func (h *MarketHandler) Analytics(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	analytics, err := h.querySvc.Analytics(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, analytics)
}

// Payouts godoc
// GET /api/distributions/:id/payouts
func (h *MarketHandler) Payouts(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	payouts, err := h.querySvc.Payouts(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"distribution_id": id,
		"payouts":         payouts,
		"count":           len(payouts),
	})
}

// ── helpers ──────────────────────────────────────────────────────────────────

// idParam extracts the :id path parameter. Ids here are opaque upstream
// identifiers (market ids, wallet addresses, operation ids), not UUIDs, so the
// only shape check is the column width.
func idParam(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if id == "" || len(id) > 64 {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid id")
		return "", false
	}
	return id, true
}

func parsePagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return
}
