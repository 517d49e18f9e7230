package handler

import (
	"net/http"

	"github.com/evetabi/surebet/internal/service"
	"github.com/gin-gonic/gin"
)

// BetHandler exposes matching to the verification pipeline.
type BetHandler struct {
	matchSvc *service.MatchService
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(matchSvc *service.MatchService) *BetHandler {
	return &BetHandler{matchSvc: matchSvc}
}

// Match godoc
// POST /api/bets/:id/match [JWT service|operator|admin]
// Idempotent: an already matched bet returns its surebet.
func (h *BetHandler) Match(c *gin.Context) {
	betID, ok := pathID(c, "id")
	if !ok {
		return
	}

	res, err := h.matchSvc.AttemptMatch(c.Request.Context(), betID)
	if err != nil {
		respondServiceError(c, "match", err)
		return
	}
	respondSuccess(c, http.StatusOK, res)
}
