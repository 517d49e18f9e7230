package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
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
func respondList(c *gin.Context, items interface{}, count, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"count": count,
			"page":  page,
			"limit": limit,
		},
	})
}

// respondServiceError maps a service error onto the envelope by class.
// Unclassified errors are logged and reported as 500 without detail.
func respondServiceError(c *gin.Context, op string, err error) {
	switch {
	case domain.IsValidation(err):
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", rootMessage(err))
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", rootMessage(err))
	case domain.IsConflict(err):
		respondError(c, http.StatusConflict, "ERR_CONFLICT", rootMessage(err))
	case domain.IsIntegrity(err):
		respondError(c, http.StatusConflict, "ERR_INTEGRITY", rootMessage(err))
	default:
		slog.Error("request failed", "op", op, "path", c.FullPath(), "error", err)
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", op+" failed")
	}
}

// rootMessage strips call-site prefixes so clients see the sentinel text and
// any detail attached directly to it.
func rootMessage(err error) string {
	chain := []error{err}
	for next := errors.Unwrap(err); next != nil; next = errors.Unwrap(next) {
		chain = append(chain, next)
	}
	root := chain[len(chain)-1].Error()
	for _, e := range chain {
		if strings.HasPrefix(e.Error(), root) {
			return e.Error()
		}
	}
	return root
}

// ──────────────────────────────────────────────────────────────────────────────
// Request parsing
// ──────────────────────────────────────────────────────────────────────────────

// pathID parses the named path parameter as a UUID, responding 400 on failure.
func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// parsePagination reads page and limit query params with sane defaults.
func parsePagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	return
}
