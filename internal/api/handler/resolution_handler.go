package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/evetabi/resolution/internal/api/middleware"
	"github.com/evetabi/resolution/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ResolutionHandler serves the settlement write endpoints: resolve, cancel,
// rollback, and the read-only payout preview.
type ResolutionHandler struct {
	resolutionSvc *service.ResolutionService
}

// NewResolutionHandler creates a ResolutionHandler.
func NewResolutionHandler(resolutionSvc *service.ResolutionService) *ResolutionHandler {
	return &ResolutionHandler{resolutionSvc: resolutionSvc}
}

// cancelRequest's refund_tokens defaults to true when omitted, so a bare
// cancel always gives the stakes back.
type cancelRequest struct {
	Reason       string `json:"reason"`
	RefundTokens *bool  `json:"refund_tokens"`
}

type rollbackRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Resolve godoc
// POST /api/markets/:id/resolve
func (h *ResolutionHandler) Resolve(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req service.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_BODY", err.Error())
		return
	}

	result, err := h.resolutionSvc.Resolve(c.Request.Context(), id, middleware.GetOperatorID(c), req)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, result)
}

// Cancel godoc
// POST /api/markets/:id/cancel
func (h *ResolutionHandler) Cancel(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	// The body is optional — cancelling without a reason is allowed.
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_BODY", err.Error())
		return
	}
	refund := req.RefundTokens == nil || *req.RefundTokens

	result, err := h.resolutionSvc.Cancel(c.Request.Context(), id, middleware.GetOperatorID(c), req.Reason, refund)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, result)
}

// Rollback godoc
// POST /api/distributions/:id/rollback
func (h *ResolutionHandler) Rollback(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_BODY", "rollback requires a reason")
		return
	}

	result, err := h.resolutionSvc.RollbackDistribution(c.Request.Context(), id, middleware.GetOperatorID(c), req.Reason)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, result)
}

// Preview godoc
// GET /api/markets/:id/payout-preview?winning_option_id=yes&creator_fee_fraction=0.05
//
// Computes the payout plan against the current commitment set without touching
// any state. The fee override is a fraction in [0, 1), not basis points, to
// match how market rows store creator fees.
func (h *ResolutionHandler) Preview(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	winningOptionID := c.Query("winning_option_id")
	if winningOptionID == "" {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_INPUT", "winning_option_id is required")
		return
	}

	var feeOverride *decimal.Decimal
	if raw := c.Query("creator_fee_fraction"); raw != "" {
		fee, err := decimal.NewFromString(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_INPUT", "creator_fee_fraction must be a decimal")
			return
		}
		feeOverride = &fee
	}

	plan, err := h.resolutionSvc.Preview(c.Request.Context(), id, winningOptionID, feeOverride)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, plan)
}
