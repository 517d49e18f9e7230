package handler

import (
	"net/http"
	"strconv"

	"github.com/evetabi/surebet/internal/service"
	"github.com/gin-gonic/gin"
)

// OpsHandler triggers background jobs on demand.
type OpsHandler struct {
	matchSvc      *service.MatchService
	provenanceSvc *service.ProvenanceService
	sweepSize     int
}

// NewOpsHandler creates an OpsHandler. sweepSize is the default batch for
// verified-bet sweeps.
func NewOpsHandler(matchSvc *service.MatchService, provenanceSvc *service.ProvenanceService, sweepSize int) *OpsHandler {
	if sweepSize <= 0 {
		sweepSize = 200
	}
	return &OpsHandler{matchSvc: matchSvc, provenanceSvc: provenanceSvc, sweepSize: sweepSize}
}

// Backfill godoc
// POST /admin/provenance/backfill/:associate_id
func (h *OpsHandler) Backfill(c *gin.Context) {
	id, ok := paramID(c, "associate_id")
	if !ok {
		return
	}
	rep, err := h.provenanceSvc.BackfillMissingLinks(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, "provenance backfill", err)
		return
	}
	respondSuccess(c, http.StatusOK, rep)
}

// BackfillAll godoc
// POST /admin/provenance/backfill
func (h *OpsHandler) BackfillAll(c *gin.Context) {
	reps, err := h.provenanceSvc.BackfillAll(c.Request.Context())
	if err != nil {
		respondServiceError(c, "provenance backfill", err)
		return
	}
	respondSuccess(c, http.StatusOK, reps)
}

// Sweep godoc
// POST /admin/bets/sweep?limit=200
func (h *OpsHandler) Sweep(c *gin.Context) {
	limit := h.sweepSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "limit must be a positive integer")
			return
		}
		limit = n
	}
	matched, err := h.matchSvc.SweepVerified(c.Request.Context(), limit)
	if err != nil {
		respondServiceError(c, "sweep", err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"matched": matched, "limit": limit})
}
