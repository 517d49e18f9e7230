package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CorrectionRequest adjusts a bookmaker balance after the fact.
type CorrectionRequest struct {
	AssociateID    uuid.UUID       `json:"associate_id"    binding:"required"`
	BookmakerID    uuid.UUID       `json:"bookmaker_id"    binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"        binding:"required"`
	Note           string          `json:"note"`
	CounterpartyID *uuid.UUID      `json:"counterparty_id"`
	CreatedBy      string          `json:"-"`
}

// CorrectionResult is the entry written and, with a counterparty, its link.
type CorrectionResult struct {
	Entry *domain.LedgerEntry    `json:"entry"`
	Link  *domain.SettlementLink `json:"link,omitempty"`
}

// CorrectionService appends BOOKMAKER_CORRECTION entries.
type CorrectionService struct {
	store      Store
	ledger     *LedgerService
	provenance *ProvenanceService
	publisher  Publisher
	metrics    *Metrics
	now        Clock
	log        *slog.Logger
}

// NewCorrectionService builds a CorrectionService.
func NewCorrectionService(
	store Store,
	ledger *LedgerService,
	provenance *ProvenanceService,
	publisher Publisher,
	metrics *Metrics,
) *CorrectionService {
	return &CorrectionService{
		store:      store,
		ledger:     ledger,
		provenance: provenance,
		publisher:  publisher,
		metrics:    metrics,
		now:        systemClock,
		log:        slog.Default().With("component", "correction"),
	}
}

// SetClock replaces the time source. Used by tests.
func (s *CorrectionService) SetClock(c Clock) { s.now = c }

// ApplyCorrection validates the request and appends the correction entry. A
// counterparty turns the correction into a provenance link: a positive amount
// makes the associate the winner, a negative one the loser.
func (s *CorrectionService) ApplyCorrection(ctx context.Context, req CorrectionRequest) (*CorrectionResult, error) {
	res, err := s.apply(ctx, req)
	s.metrics.IncCorrection(err)
	if err != nil {
		return nil, err
	}

	s.metrics.IncEntries(domain.EntryBookmakerCorrection, 1)
	if res.Link != nil {
		s.metrics.IncLinks("correction", 1)
	}
	s.log.Info("correction applied",
		"associate_id", req.AssociateID,
		"bookmaker_id", req.BookmakerID,
		"amount", res.Entry.AmountNative,
		"currency", res.Entry.NativeCurrency,
	)
	amount := res.Entry.AmountEUR
	assoc := res.Entry.AssociateID
	entryID := res.Entry.ID
	publish(ctx, s.publisher, domain.Event{
		Type:        domain.EventLedgerCorrected,
		AssociateID: &assoc,
		EntryID:     &entryID,
		AmountEUR:   &amount,
		OccurredAt:  res.Entry.CreatedAt,
	})
	return res, nil
}

func (s *CorrectionService) apply(ctx context.Context, req CorrectionRequest) (*CorrectionResult, error) {
	amount := domain.Quantize(req.Amount)
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: %s rounds to zero", domain.ErrZeroAmount, req.Amount)
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		return nil, domain.ErrEmptyNote
	}
	currency := domain.NormalizeCurrency(req.Currency)
	if !s.ledger.Supports(currency) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedCurrency, currency)
	}
	if req.CounterpartyID != nil && *req.CounterpartyID == req.AssociateID {
		return nil, domain.ErrSelfCounterparty
	}

	res := &CorrectionResult{}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		res.Link = nil
		bookmakerID := req.BookmakerID
		if err := validateAccount(ctx, tx, req.AssociateID, &bookmakerID); err != nil {
			return err
		}
		if req.CounterpartyID != nil {
			if _, err := tx.GetAssociate(ctx, *req.CounterpartyID); err != nil {
				return fmt.Errorf("%w: %s", domain.ErrCounterpartyAbsent, *req.CounterpartyID)
			}
		}

		rate, err := s.ledger.Rate(ctx, currency)
		if err != nil {
			return err
		}
		entry := &domain.LedgerEntry{
			ID:                  uuid.New(),
			Type:                domain.EntryBookmakerCorrection,
			AssociateID:         req.AssociateID,
			BookmakerID:         &bookmakerID,
			AmountNative:        amount,
			NativeCurrency:      currency,
			FXRateSnapshot:      rate,
			AmountEUR:           domain.ToEUR(amount, rate),
			OpposingAssociateID: req.CounterpartyID,
			CreatedAt:           s.now(),
			CreatedBy:           authorOrSystem(req.CreatedBy),
			Note:                &note,
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}
		res.Entry = entry

		if req.CounterpartyID == nil {
			return nil
		}
		link := &domain.SettlementLink{
			ID:        uuid.New(),
			Kind:      domain.LinkKindCorrection,
			AmountEUR: entry.AmountEUR.Abs(),
			CreatedAt: entry.CreatedAt,
		}
		if entry.AmountEUR.IsPositive() || (entry.AmountEUR.IsZero() && amount.IsPositive()) {
			link.WinnerAssociateID = req.AssociateID
			link.LoserAssociateID = *req.CounterpartyID
			link.WinnerEntryID = &entry.ID
		} else {
			link.WinnerAssociateID = *req.CounterpartyID
			link.LoserAssociateID = req.AssociateID
			link.LoserEntryID = &entry.ID
		}
		if err := s.provenance.CreateLink(ctx, tx, link); err != nil {
			return err
		}
		res.Link = link
		return nil
	})
	if err != nil {
		return nil, domain.AsTransactionError("correction_service.ApplyCorrection", err)
	}
	return res, nil
}
