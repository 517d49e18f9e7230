package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementResult describes a committed settlement.
type SettlementResult struct {
	SurebetID uuid.UUID                 `json:"surebet_id"`
	BatchID   string                    `json:"settlement_batch_id"`
	Entries   []*domain.LedgerEntry     `json:"entries"`
	Link      *domain.SettlementLink    `json:"link"`
	Preview   *domain.SettlementPreview `json:"preview"`
	SettledAt time.Time                 `json:"settled_at"`
}

// SettlementService turns outcomes into equal-split ledger entries.
type SettlementService struct {
	store      Store
	ledger     *LedgerService
	provenance *ProvenanceService
	publisher  Publisher
	metrics    *Metrics
	now        Clock
	log        *slog.Logger
}

// NewSettlementService builds a SettlementService.
func NewSettlementService(
	store Store,
	ledger *LedgerService,
	provenance *ProvenanceService,
	publisher Publisher,
	metrics *Metrics,
) *SettlementService {
	return &SettlementService{
		store:      store,
		ledger:     ledger,
		provenance: provenance,
		publisher:  publisher,
		metrics:    metrics,
		now:        systemClock,
		log:        slog.Default().With("component", "settlement"),
	}
}

// SetClock replaces the time source. Used by tests.
func (s *SettlementService) SetClock(c Clock) { s.now = c }

// ──────────────────────────────────────────────────────────────────────────────
// Preview
// ──────────────────────────────────────────────────────────────────────────────

// Preview computes the settlement of surebetID for the given outcomes without
// writing anything. FX rates are frozen once per currency for the preview.
func (s *SettlementService) Preview(ctx context.Context, surebetID uuid.UUID, outcomes map[uuid.UUID]domain.Outcome) (*domain.SettlementPreview, error) {
	start := time.Now()
	p, err := s.preview(ctx, surebetID, outcomes)
	s.metrics.ObserveSettlement("preview", err, time.Since(start))
	return p, err
}

func (s *SettlementService) preview(ctx context.Context, surebetID uuid.UUID, outcomes map[uuid.UUID]domain.Outcome) (*domain.SettlementPreview, error) {
	var legs []domain.SurebetLeg
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetSurebet(ctx, surebetID, false); err != nil {
			return err
		}
		var err error
		legs, err = tx.ListLegs(ctx, surebetID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("settlement_service.Preview: %w", err)
	}

	currencies, err := domain.RequiredCurrencies(legs)
	if err != nil {
		return nil, fmt.Errorf("settlement_service.Preview: %w", err)
	}
	rates := make(map[string]decimal.Decimal, len(currencies))
	for _, cur := range currencies {
		rate, err := s.ledger.Rate(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("settlement_service.Preview: %w", err)
		}
		rates[cur] = rate
	}

	p, err := domain.BuildPreview(surebetID, legs, outcomes, rates, s.now())
	if err != nil {
		return nil, fmt.Errorf("settlement_service.Preview: %w", err)
	}
	return p, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Commit
// ──────────────────────────────────────────────────────────────────────────────

// Commit persists a preview atomically: one BET_RESULT entry per bet under a
// fresh batch id, stake release, bet and surebet status changes and the
// settlement link. Only the outcomes and frozen FX rates of p are taken as
// given; every row is recomputed from the locked bets and a preview whose
// figures differ fails with domain.ErrPreviewMismatch. Committing a surebet
// that is no longer open fails with domain.ErrSurebetNotOpen and writes
// nothing.
func (s *SettlementService) Commit(ctx context.Context, surebetID uuid.UUID, p *domain.SettlementPreview, author string) (*SettlementResult, error) {
	start := time.Now()
	res, err := s.commit(ctx, surebetID, p, author)
	s.metrics.ObserveSettlement("commit", err, time.Since(start))
	if err != nil {
		return nil, err
	}

	s.metrics.IncEntries(domain.EntryBetResult, len(res.Entries))
	s.metrics.IncLinks("settlement", 1)
	settled := res.Preview
	s.log.Info("surebet settled",
		"surebet_id", surebetID,
		"batch_id", res.BatchID,
		"profit_eur", settled.SurebetProfitEUR,
		"participants", settled.ParticipantCount,
	)
	warnings := make([]string, 0, len(settled.Warnings))
	for _, w := range settled.Warnings {
		warnings = append(warnings, string(w))
	}
	profit := settled.SurebetProfitEUR
	publish(ctx, s.publisher, domain.Event{
		Type:       domain.EventSurebetSettled,
		SurebetID:  &surebetID,
		BetIDs:     settled.BetIDs(),
		BatchID:    res.BatchID,
		AmountEUR:  &profit,
		Warnings:   warnings,
		OccurredAt: res.SettledAt,
	})
	return res, nil
}

// Settle previews and commits in one call, freezing FX at commit time.
func (s *SettlementService) Settle(ctx context.Context, surebetID uuid.UUID, outcomes map[uuid.UUID]domain.Outcome, author string) (*SettlementResult, error) {
	p, err := s.Preview(ctx, surebetID, outcomes)
	if err != nil {
		return nil, err
	}
	return s.Commit(ctx, surebetID, p, author)
}

func (s *SettlementService) commit(ctx context.Context, surebetID uuid.UUID, p *domain.SettlementPreview, author string) (*SettlementResult, error) {
	if p == nil || p.SurebetID != surebetID {
		return nil, fmt.Errorf("settlement_service.Commit: %w: preview is for another surebet", domain.ErrPreviewMismatch)
	}
	author = authorOrSystem(author)

	res := &SettlementResult{
		SurebetID: surebetID,
		BatchID:   uuid.NewString(),
		Preview:   p,
		SettledAt: s.now(),
	}

	err := s.store.WithTx(ctx, func(tx Tx) error {
		res.Entries = nil
		res.Link = nil

		sb, err := tx.GetSurebet(ctx, surebetID, true)
		if err != nil {
			return err
		}
		if !sb.IsOpen() {
			return fmt.Errorf("%w: surebet %s is %s", domain.ErrSurebetNotOpen, sb.ID, sb.Status)
		}

		legs, err := tx.ListLegs(ctx, surebetID)
		if err != nil {
			return err
		}
		bets, err := matchPreview(legs, p)
		if err != nil {
			return err
		}
		settled, err := rederive(surebetID, legs, p)
		if err != nil {
			return err
		}
		res.Preview = settled

		participants := settled.Participants()
		wi, li, paired := domain.PickPair(participants)

		entries := make([]*domain.LedgerEntry, len(settled.Rows))
		for i, row := range settled.Rows {
			entries[i] = resultEntry(row, surebetID, res.BatchID, res.SettledAt, author)
			participants[i].EntryID = &entries[i].ID
		}
		if paired {
			assignOpposing(entries, settled.Rows, wi, li)
		}

		for i, e := range entries {
			if err := tx.AppendEntry(ctx, e); err != nil {
				return fmt.Errorf("append result for bet %s: %w", settled.Rows[i].BetID, err)
			}
		}

		for _, row := range settled.Rows {
			bet := bets[row.BetID]
			if _, err := s.ledger.ReconcileStake(ctx, tx, bet, nil, settled.FXRates, author); err != nil {
				return err
			}
			if err := tx.UpdateBetStatus(ctx, bet.ID, domain.BetStatusMatched, domain.BetStatusSettled); err != nil {
				return err
			}
		}

		if err := tx.MarkSurebetSettled(ctx, surebetID, res.SettledAt); err != nil {
			return err
		}

		if paired {
			winner, loser := participants[wi], participants[li]
			link := &domain.SettlementLink{
				ID:                uuid.New(),
				Kind:              domain.LinkKindSettlement,
				SurebetID:         &surebetID,
				WinnerAssociateID: winner.AssociateID,
				LoserAssociateID:  loser.AssociateID,
				AmountEUR:         domain.TransferAmount(loser),
				WinnerEntryID:     winner.EntryID,
				LoserEntryID:      loser.EntryID,
				CreatedAt:         res.SettledAt,
			}
			if err := s.provenance.CreateLink(ctx, tx, link); err != nil {
				return err
			}
			res.Link = link
		}
		res.Entries = entries
		return nil
	})
	if err != nil {
		return nil, domain.AsTransactionError("settlement_service.Commit", err)
	}
	return res, nil
}

// matchPreview checks that the preview covers exactly the linked bets and
// that each is still matched, returning the bets by id.
func matchPreview(legs []domain.SurebetLeg, p *domain.SettlementPreview) (map[uuid.UUID]*domain.Bet, error) {
	bets := make(map[uuid.UUID]*domain.Bet, len(legs))
	for _, leg := range legs {
		bets[leg.Bet.ID] = leg.Bet
	}
	if len(bets) != len(p.Rows) {
		return nil, fmt.Errorf("%w: %d linked bets, %d preview rows", domain.ErrPreviewMismatch, len(bets), len(p.Rows))
	}
	for _, row := range p.Rows {
		bet, ok := bets[row.BetID]
		if !ok {
			return nil, fmt.Errorf("%w: bet %s is not linked", domain.ErrPreviewMismatch, row.BetID)
		}
		if bet.Status != domain.BetStatusMatched {
			return nil, fmt.Errorf("%w: bet %s is %s", domain.ErrInvalidTransition, bet.ID, bet.Status)
		}
	}
	return bets, nil
}

// rederive rebuilds the preview from the locked legs using only the outcomes
// and frozen rates of p, and fails when any figure of p differs.
func rederive(surebetID uuid.UUID, legs []domain.SurebetLeg, p *domain.SettlementPreview) (*domain.SettlementPreview, error) {
	outcomes, err := p.Outcomes()
	if err != nil {
		return nil, err
	}
	currencies, err := domain.RequiredCurrencies(legs)
	if err != nil {
		return nil, err
	}
	for _, cur := range currencies {
		if cur == domain.CurrencyEUR {
			continue
		}
		rate, ok := p.FXRates[cur]
		if !ok || !rate.IsPositive() {
			return nil, fmt.Errorf("%w: no frozen %s rate", domain.ErrPreviewMismatch, cur)
		}
	}

	fresh, err := domain.BuildPreview(surebetID, legs, outcomes, p.FXRates, p.ComputedAt)
	if err != nil {
		return nil, err
	}
	if len(fresh.Rows) != len(p.Rows) {
		return nil, fmt.Errorf("%w: %d rows, want %d", domain.ErrPreviewMismatch, len(p.Rows), len(fresh.Rows))
	}
	for i := range fresh.Rows {
		if !fresh.Rows[i].Equal(p.Rows[i]) {
			return nil, fmt.Errorf("%w: row for bet %s does not match the linked bet", domain.ErrPreviewMismatch, p.Rows[i].BetID)
		}
	}
	if fresh.ParticipantCount != p.ParticipantCount ||
		!fresh.SurebetProfitEUR.Equal(p.SurebetProfitEUR) ||
		!fresh.PerShareEUR.Equal(p.PerShareEUR) {
		return nil, fmt.Errorf("%w: totals do not match the linked bets", domain.ErrPreviewMismatch)
	}
	return fresh, nil
}

func resultEntry(row domain.SettlementRow, surebetID uuid.UUID, batchID string, at time.Time, author string) *domain.LedgerEntry {
	outcome := row.Outcome
	principal := row.PrincipalReturnedEUR
	share := row.ShareEUR
	net := row.NetGainEUR
	betID := row.BetID
	bookmakerID := row.BookmakerID
	batch := batchID
	sbID := surebetID
	return &domain.LedgerEntry{
		ID:                   uuid.New(),
		Type:                 domain.EntryBetResult,
		AssociateID:          row.AssociateID,
		BookmakerID:          &bookmakerID,
		AmountNative:         row.TotalNative,
		NativeCurrency:       row.Currency,
		FXRateSnapshot:       row.FXRate,
		AmountEUR:            row.TotalEUR,
		SettlementState:      &outcome,
		PrincipalReturnedEUR: &principal,
		PerSurebetShareEUR:   &share,
		NetGainEUR:           &net,
		SurebetID:            &sbID,
		BetID:                &betID,
		SettlementBatchID:    &batch,
		CreatedAt:            at,
		CreatedBy:            author,
	}
}

// assignOpposing records the counterpart associate on result entries: the
// chosen winner and loser point at each other, other WON seats at the loser
// and other LOST seats at the winner. VOID seats only get one in the
// all-VOID pairing.
func assignOpposing(entries []*domain.LedgerEntry, rows []domain.SettlementRow, wi, li int) {
	winnerAssoc := rows[wi].AssociateID
	loserAssoc := rows[li].AssociateID
	for i, e := range entries {
		var opp uuid.UUID
		switch {
		case i == wi:
			opp = loserAssoc
		case i == li:
			opp = winnerAssoc
		case rows[i].Outcome == domain.OutcomeWon:
			opp = loserAssoc
		case rows[i].Outcome == domain.OutcomeLost:
			opp = winnerAssoc
		default:
			continue
		}
		e.OpposingAssociateID = &opp
	}
}
