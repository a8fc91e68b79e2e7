package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/resolution/internal/config"
	"github.com/evetabi/resolution/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ──────────────────────────────────────────────────────────────────────────────
// Request / Response types
// ──────────────────────────────────────────────────────────────────────────────

// TokenRequest contains the credentials for operator token issuance.
type TokenRequest struct {
	OperatorID string `json:"operator_id" binding:"required"`
	APIKey     string `json:"api_key"     binding:"required"`
}

// TokenResponse is returned on successful issuance.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	Role        string    `json:"role"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// JWT claims
// ──────────────────────────────────────────────────────────────────────────────

// AppClaims extends jwt.RegisteredClaims with application-specific fields.
type AppClaims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	TokenType string `json:"type"`
}

// ──────────────────────────────────────────────────────────────────────────────
// AuthService
// ──────────────────────────────────────────────────────────────────────────────

// AuthService issues and validates operator JWTs. There is no self-service
// registration: operators are provisioned through ADMIN_API_KEYS, which maps
// operator ids to bcrypt hashes of their API keys.
type AuthService struct {
	cfg *config.Config
}

// NewAuthService creates an AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg}
}

// IssueToken validates an operator's API key and returns a signed access
// token. Unknown operators and bad keys both map to ErrUnauthorized to
// prevent operator-id enumeration.
func (s *AuthService) IssueToken(req TokenRequest) (*TokenResponse, error) {
	hash, ok := s.cfg.Ops.AdminAPIKeys[req.OperatorID]
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.APIKey)); err != nil {
		return nil, domain.ErrUnauthorized
	}

	role := "service"
	if s.cfg.Ops.IsAdminOperator(req.OperatorID) {
		role = "admin"
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.cfg.JWT.TTL)
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.OperatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role:      role,
		TokenType: "access",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWT.Secret))
	if err != nil {
		return nil, fmt.Errorf("auth_service.IssueToken: sign: %w", err)
	}

	return &TokenResponse{AccessToken: token, Role: role, ExpiresAt: expiresAt}, nil
}

// ParseToken validates the token signature, algorithm, and expiry. Exported
// for use by the JWT middleware.
func (s *AuthService) ParseToken(tokenString string) (*AppClaims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWT.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrTokenInvalid
	}
	claims, ok := tok.Claims.(*AppClaims)
	if !ok || !tok.Valid {
		return nil, domain.ErrTokenInvalid
	}
	return claims, nil
}
