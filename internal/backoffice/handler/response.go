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
// Standard admin response helpers (mirrors internal/api/handler/response.go)
// ──────────────────────────────────────────────────────────────────────────────

func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

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

func respondServiceError(c *gin.Context, op string, err error) {
	switch {
	case domain.IsValidation(err):
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", detail(err))
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", detail(err))
	case domain.IsConflict(err):
		respondError(c, http.StatusConflict, "ERR_CONFLICT", detail(err))
	case domain.IsIntegrity(err):
		respondError(c, http.StatusConflict, "ERR_INTEGRITY", detail(err))
	default:
		slog.Error("admin request failed", "op", op, "path", c.FullPath(), "error", err)
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", op+" failed")
	}
}

// detail drops call-site prefixes, keeping the sentinel and its detail.
func detail(err error) string {
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

// adminPagination reads page/limit query params with sane defaults for admin views.
func adminPagination(c *gin.Context) (page, limit int) {
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

func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func queryID(c *gin.Context, name string) (*uuid.UUID, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid "+name)
		return nil, false
	}
	return &id, true
}
