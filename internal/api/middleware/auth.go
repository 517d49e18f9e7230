package middleware

import (
	"net/http"
	"strings"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/evetabi/surebet/internal/service"
	"github.com/gin-gonic/gin"
)

// ContextKey constants for gin.Context values set by middleware.
const (
	CtxSubject = "subject"
	CtxRole    = "role"
)

// TokenParser verifies bearer tokens. Satisfied by *service.AuthService.
type TokenParser interface {
	ParseAccessToken(token string) (*service.AppClaims, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// JWTMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// JWTMiddleware validates the Bearer token in the Authorization header.
// On success it stores the subject and role in the gin context.
func JWTMiddleware(auth TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			abortAuth(c, http.StatusUnauthorized, "ERR_UNAUTHORIZED", domain.ErrUnauthorized)
			return
		}

		claims, err := auth.ParseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			abortAuth(c, http.StatusUnauthorized, "ERR_TOKEN_INVALID", domain.ErrTokenInvalid)
			return
		}

		c.Set(CtxSubject, claims.Subject)
		c.Set(CtxRole, claims.Role)
		c.Next()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// RoleMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// RoleMiddleware ensures the authenticated caller has one of the allowed roles.
// Must be placed after JWTMiddleware in the chain.
func RoleMiddleware(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		if !allowed[GetRole(c)] {
			abortAuth(c, http.StatusForbidden, "ERR_FORBIDDEN", domain.ErrForbidden)
			return
		}
		c.Next()
	}
}

// AdminMiddleware allows only the admin role.
func AdminMiddleware() gin.HandlerFunc {
	return RoleMiddleware(service.RoleAdmin)
}

func abortAuth(c *gin.Context, status int, code string, err error) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    code,
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers for handlers
// ──────────────────────────────────────────────────────────────────────────────

// GetSubject returns the authenticated caller, recorded as the author of any
// ledger entries the request writes. Empty if the middleware was not applied.
func GetSubject(c *gin.Context) string {
	v, _ := c.Get(CtxSubject)
	s, _ := v.(string)
	return s
}

// GetRole retrieves the authenticated caller's role from the gin context.
func GetRole(c *gin.Context) string {
	v, _ := c.Get(CtxRole)
	r, _ := v.(string)
	return r
}
