package handler

import (
	"net/http"

	"github.com/evetabi/surebet/internal/api/middleware"
	"github.com/evetabi/surebet/internal/domain"
	"github.com/evetabi/surebet/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SurebetHandler serves surebet reads, settlement and per-surebet provenance.
type SurebetHandler struct {
	matchSvc      *service.MatchService
	settlementSvc *service.SettlementService
	provenanceSvc *service.ProvenanceService
}

// NewSurebetHandler creates a SurebetHandler.
func NewSurebetHandler(
	matchSvc *service.MatchService,
	settlementSvc *service.SettlementService,
	provenanceSvc *service.ProvenanceService,
) *SurebetHandler {
	return &SurebetHandler{
		matchSvc:      matchSvc,
		settlementSvc: settlementSvc,
		provenanceSvc: provenanceSvc,
	}
}

// outcomesBody maps bet ids to WON, LOST or VOID.
type outcomesBody struct {
	Outcomes map[uuid.UUID]domain.Outcome `json:"outcomes"`
}

// Get godoc
// GET /api/surebets/:id [JWT]
func (h *SurebetHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	v, err := h.matchSvc.Surebet(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, "get surebet", err)
		return
	}
	respondSuccess(c, http.StatusOK, v)
}

// Preview godoc
// POST /api/surebets/:id/settlement/preview [JWT operator|admin]
// Body: {"outcomes":{"<bet id>":"WON","<bet id>":"LOST"}}
func (h *SurebetHandler) Preview(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var body outcomesBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	if len(body.Outcomes) == 0 {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "outcomes are required")
		return
	}

	p, err := h.settlementSvc.Preview(c.Request.Context(), id, body.Outcomes)
	if err != nil {
		respondServiceError(c, "settlement preview", err)
		return
	}
	respondSuccess(c, http.StatusOK, p)
}

// Commit godoc
// POST /api/surebets/:id/settlement/commit [JWT operator|admin]
// Body: {"preview":{...}} to commit a reviewed preview with its frozen rates,
// or {"outcomes":{...}} to preview and commit in one step.
func (h *SurebetHandler) Commit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var body struct {
		outcomesBody
		Preview *domain.SettlementPreview `json:"preview"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	author := middleware.GetSubject(c)
	var (
		res *service.SettlementResult
		err error
	)
	switch {
	case body.Preview != nil:
		if body.Preview.SurebetID != id {
			respondError(c, http.StatusBadRequest, "ERR_VALIDATION", domain.ErrPreviewMismatch.Error())
			return
		}
		res, err = h.settlementSvc.Commit(c.Request.Context(), id, body.Preview, author)
	case len(body.Outcomes) > 0:
		res, err = h.settlementSvc.Settle(c.Request.Context(), id, body.Outcomes, author)
	default:
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "preview or outcomes are required")
		return
	}
	if err != nil {
		respondServiceError(c, "settlement commit", err)
		return
	}
	respondSuccess(c, http.StatusCreated, res)
}

// Provenance godoc
// GET /api/surebets/:id/provenance [JWT]
// Rebuilds a missing link for settled surebets.
func (h *SurebetHandler) Provenance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	link, err := h.provenanceSvc.DetailsFor(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, "surebet provenance", err)
		return
	}
	respondSuccess(c, http.StatusOK, link)
}
