package handler

import (
	"net/http"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/evetabi/surebet/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AssociateHandler serves per-associate read models.
type AssociateHandler struct {
	ledgerSvc     *service.LedgerService
	provenanceSvc *service.ProvenanceService
}

// NewAssociateHandler creates an AssociateHandler.
func NewAssociateHandler(ledgerSvc *service.LedgerService, provenanceSvc *service.ProvenanceService) *AssociateHandler {
	return &AssociateHandler{ledgerSvc: ledgerSvc, provenanceSvc: provenanceSvc}
}

// Provenance godoc
// GET /api/associates/:id/provenance [JWT]
func (h *AssociateHandler) Provenance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	sum, err := h.provenanceSvc.SummaryFor(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, "associate provenance", err)
		return
	}
	respondSuccess(c, http.StatusOK, sum)
}

// Balance godoc
// GET /api/associates/:id/balance [JWT]
func (h *AssociateHandler) Balance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	b, err := h.ledgerSvc.Balance(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, "balance", err)
		return
	}
	respondSuccess(c, http.StatusOK, b)
}

// Ledger godoc
// GET /api/associates/:id/ledger?type=BET_RESULT,DEPOSIT&surebet_id=&page=1&limit=50 [JWT]
func (h *AssociateHandler) Ledger(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	f, ok := ledgerFilter(c)
	if !ok {
		return
	}
	f.AssociateID = &id

	entries, err := h.ledgerSvc.Entries(c.Request.Context(), f)
	if err != nil {
		respondServiceError(c, "ledger", err)
		return
	}
	respondList(c, entries, len(entries), f.Offset/f.Limit+1, f.Limit)
}

// ledgerFilter reads the optional query filters shared by ledger listings.
func ledgerFilter(c *gin.Context) (domain.LedgerFilter, bool) {
	var f domain.LedgerFilter
	types, err := domain.ParseEntryTypes(c.Query("type"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", rootMessage(err))
		return f, false
	}
	f.Types = types

	for name, dst := range map[string]**uuid.UUID{
		"surebet_id": &f.SurebetID,
		"bet_id":     &f.BetID,
	} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid "+name)
			return f, false
		}
		*dst = &id
	}
	if batch := c.Query("batch_id"); batch != "" {
		f.SettlementBatchID = &batch
	}

	page, limit := parsePagination(c)
	f.Limit = limit
	f.Offset = (page - 1) * limit
	return f, true
}
