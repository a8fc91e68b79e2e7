package handler

import (
	"net/http"

	"github.com/evetabi/resolution/internal/service"
	"github.com/gin-gonic/gin"
)

// AuthHandler serves operator token issuance.
type AuthHandler struct {
	authSvc *service.AuthService
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(authSvc *service.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// Token godoc
// POST /api/auth/token
func (h *AuthHandler) Token(c *gin.Context) {
	var req service.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_BODY", err.Error())
		return
	}

	resp, err := h.authSvc.IssueToken(req)
	if err != nil {
		// Deliberately vague: do not reveal whether the operator id exists.
		respondError(c, http.StatusUnauthorized, "ERR_UNAUTHORIZED", "invalid operator credentials")
		return
	}
	respondSuccess(c, http.StatusOK, resp)
}
