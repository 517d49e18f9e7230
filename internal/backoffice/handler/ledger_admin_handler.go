package handler

import (
	"net/http"

	"github.com/evetabi/surebet/internal/api/middleware"
	"github.com/evetabi/surebet/internal/domain"
	"github.com/evetabi/surebet/internal/service"
	"github.com/gin-gonic/gin"
)

// LedgerAdminHandler serves corrections, funding and the raw ledger view.
type LedgerAdminHandler struct {
	ledgerSvc     *service.LedgerService
	correctionSvc *service.CorrectionService
}

// NewLedgerAdminHandler creates a LedgerAdminHandler.
func NewLedgerAdminHandler(ledgerSvc *service.LedgerService, correctionSvc *service.CorrectionService) *LedgerAdminHandler {
	return &LedgerAdminHandler{ledgerSvc: ledgerSvc, correctionSvc: correctionSvc}
}

// Correction godoc
// POST /admin/corrections
// Body: {"associate_id","bookmaker_id","amount":"-12.50","currency":"GBP","note","counterparty_id"?}
func (h *LedgerAdminHandler) Correction(c *gin.Context) {
	var req service.CorrectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	req.CreatedBy = middleware.GetSubject(c)

	res, err := h.correctionSvc.ApplyCorrection(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, "correction", err)
		return
	}
	respondSuccess(c, http.StatusCreated, res)
}

// Funding godoc
// POST /admin/funding
// Body: {"associate_id","bookmaker_id"?,"type":"DEPOSIT","amount":"500","currency":"EUR","note"}
func (h *LedgerAdminHandler) Funding(c *gin.Context) {
	var req service.FundingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	req.CreatedBy = middleware.GetSubject(c)

	entry, err := h.ledgerSvc.RecordFunding(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, "funding", err)
		return
	}
	respondSuccess(c, http.StatusCreated, entry)
}

// Ledger godoc
// GET /admin/ledger?associate_id=&surebet_id=&bet_id=&batch_id=&type=&page=1&limit=50
func (h *LedgerAdminHandler) Ledger(c *gin.Context) {
	var f domain.LedgerFilter
	var ok bool
	if f.AssociateID, ok = queryID(c, "associate_id"); !ok {
		return
	}
	if f.SurebetID, ok = queryID(c, "surebet_id"); !ok {
		return
	}
	if f.BetID, ok = queryID(c, "bet_id"); !ok {
		return
	}
	if batch := c.Query("batch_id"); batch != "" {
		f.SettlementBatchID = &batch
	}
	types, err := domain.ParseEntryTypes(c.Query("type"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", detail(err))
		return
	}
	f.Types = types
	page, limit := adminPagination(c)
	f.Limit, f.Offset = limit, (page-1)*limit

	entries, err := h.ledgerSvc.Entries(c.Request.Context(), f)
	if err != nil {
		respondServiceError(c, "ledger", err)
		return
	}
	respondList(c, entries, len(entries), page, limit)
}

// RejectMutation godoc
// PUT|DELETE /admin/ledger/:id
// Ledger rows are append-only; both verbs always fail. Fix mistakes with a
// correction instead.
func (h *LedgerAdminHandler) RejectMutation(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var err error
	if c.Request.Method == http.MethodDelete {
		err = h.ledgerSvc.DeleteEntry(c.Request.Context(), id)
	} else {
		err = h.ledgerSvc.UpdateEntry(c.Request.Context(), &domain.LedgerEntry{ID: id})
	}
	respondServiceError(c, "ledger mutation", err)
}
