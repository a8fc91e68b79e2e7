package handler

import (
	"errors"
	"net/http"

	"github.com/evetabi/resolution/internal/domain"
	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondList writes {"success": true, "data": items, "meta": {...}}.
func respondList(c *gin.Context, items interface{}, total, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"total": total,
			"page":  page,
			"limit": limit,
		},
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Domain error mapping
// ──────────────────────────────────────────────────────────────────────────────

// respondDomainError translates a service error into the HTTP envelope. The
// mapping runs most-specific first; anything unrecognized is a 500 with the
// detail withheld from the client.
func respondDomainError(c *gin.Context, err error) {
	switch {
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", err.Error())

	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrForbidden):
		respondError(c, http.StatusForbidden, "ERR_FORBIDDEN", err.Error())

	case domain.IsInvalidInput(err):
		respondError(c, http.StatusBadRequest, "ERR_INVALID_INPUT", err.Error())

	case errors.Is(err, domain.ErrMarketAlreadyResolved):
		respondError(c, http.StatusConflict, "ERR_ALREADY_RESOLVED", err.Error())
	case errors.Is(err, domain.ErrMarketCancelled):
		respondError(c, http.StatusConflict, "ERR_MARKET_CANCELLED", err.Error())
	case errors.Is(err, domain.ErrAlreadyRolledBack):
		respondError(c, http.StatusConflict, "ERR_ALREADY_ROLLED_BACK", err.Error())
	case errors.Is(err, domain.ErrConcurrencyExhausted):
		respondError(c, http.StatusConflict, "ERR_CONTENTION", err.Error())

	case errors.Is(err, domain.ErrInsufficientEvidence):
		respondError(c, http.StatusUnprocessableEntity, "ERR_INSUFFICIENT_EVIDENCE", err.Error())
	case errors.Is(err, domain.ErrInvalidWinner):
		respondError(c, http.StatusUnprocessableEntity, "ERR_INVALID_WINNER", err.Error())
	case errors.Is(err, domain.ErrInvalidFeeConfiguration):
		respondError(c, http.StatusUnprocessableEntity, "ERR_INVALID_FEES", err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		respondError(c, http.StatusUnprocessableEntity, "ERR_INSUFFICIENT_FUNDS", err.Error())

	default:
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "internal error")
	}
}
