package service

import (
	"fmt"
	"time"

	"github.com/evetabi/surebet/internal/config"
	"github.com/evetabi/surebet/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in bearer tokens.
const (
	RoleOperator = "operator" // settles surebets, reads provenance
	RoleService  = "service"  // ingestion/verification pipeline, triggers matching
	RoleAdmin    = "admin"    // corrections, funding, backfills
)

// ──────────────────────────────────────────────────────────────────────────────
// JWT claims
// ──────────────────────────────────────────────────────────────────────────────

// AppClaims extends jwt.RegisteredClaims with the caller's role. Subject is
// recorded as the author of ledger entries the caller creates.
type AppClaims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	TokenType string `json:"type"`
}

// ──────────────────────────────────────────────────────────────────────────────
// AuthService
// ──────────────────────────────────────────────────────────────────────────────

// AuthService verifies bearer tokens issued by the identity collaborator and
// can mint tokens for tooling and tests.
type AuthService struct {
	cfg config.JWTConfig
}

// NewAuthService creates an AuthService.
func NewAuthService(cfg config.JWTConfig) *AuthService {
	return &AuthService{cfg: cfg}
}

// IssueAccessToken signs an access token for subject with role.
func (s *AuthService) IssueAccessToken(subject, role string) (string, error) {
	now := time.Now().UTC()
	ttl := s.cfg.AccessTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:      role,
		TokenType: "access",
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.AccessSecret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return tok, nil
}

// ParseAccessToken validates the token signature, algorithm, expiry and type.
func (s *AuthService) ParseAccessToken(tokenString string) (*AppClaims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.AccessSecret), nil
	})
	if err != nil || !tok.Valid {
		return nil, domain.ErrTokenInvalid
	}
	claims, ok := tok.Claims.(*AppClaims)
	if !ok || claims.TokenType != "access" || claims.Subject == "" {
		return nil, domain.ErrTokenInvalid
	}
	return claims, nil
}
