package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/google/uuid"
)

// ProvenanceService answers "who funded this surplus or deficit" from
// settlement links, rebuilding missing links from ledger rows on demand.
type ProvenanceService struct {
	store   Store
	metrics *Metrics
	now     Clock
	log     *slog.Logger
}

// NewProvenanceService builds a ProvenanceService.
func NewProvenanceService(store Store, metrics *Metrics) *ProvenanceService {
	return &ProvenanceService{
		store:   store,
		metrics: metrics,
		now:     systemClock,
		log:     slog.Default().With("component", "provenance"),
	}
}

// SetClock replaces the time source. Used by tests.
func (s *ProvenanceService) SetClock(c Clock) { s.now = c }

// CreateLink validates and persists a link inside the caller's transaction.
func (s *ProvenanceService) CreateLink(ctx context.Context, tx Tx, l *domain.SettlementLink) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("provenance_service.CreateLink: %w", err)
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	if err := tx.InsertLink(ctx, l); err != nil {
		return fmt.Errorf("provenance_service.CreateLink: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// DetailsFor returns the settlement link of a surebet. A settled surebet
// without a link gets one rebuilt from its BET_RESULT entries and persisted.
func (s *ProvenanceService) DetailsFor(ctx context.Context, surebetID uuid.UUID) (*domain.SettlementLink, error) {
	link, created, err := s.ensureLink(ctx, surebetID)
	if errors.Is(err, domain.ErrLinkExists) {
		// Rebuilt concurrently by another caller.
		link, created, err = s.ensureLink(ctx, surebetID)
	}
	if err != nil {
		return nil, fmt.Errorf("provenance_service.DetailsFor: %w", err)
	}
	if created {
		s.metrics.IncLinks("lazy", 1)
	}
	return link, nil
}

// SummaryFor groups the associate's links by counterparty with signed sums.
func (s *ProvenanceService) SummaryFor(ctx context.Context, associateID uuid.UUID) (domain.ProvenanceSummary, error) {
	var summary domain.ProvenanceSummary
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetAssociate(ctx, associateID); err != nil {
			return err
		}
		links, err := tx.ListLinksForAssociate(ctx, associateID)
		if err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(links))
		for _, l := range links {
			if _, cp, ok := l.SignedFor(associateID); ok {
				ids = append(ids, cp)
			}
		}
		aliases, err := tx.AssociateAliases(ctx, ids)
		if err != nil {
			return err
		}
		summary = domain.Summarize(associateID, links, aliases)
		return nil
	})
	if err != nil {
		return domain.ProvenanceSummary{}, fmt.Errorf("provenance_service.SummaryFor: %w", err)
	}
	return summary, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Backfill
// ──────────────────────────────────────────────────────────────────────────────

// BackfillMissingLinks rebuilds the link of every settled surebet the
// associate took part in that has none. Surebets whose rows cannot be paired
// are counted as skipped.
func (s *ProvenanceService) BackfillMissingLinks(ctx context.Context, associateID uuid.UUID) (domain.BackfillReport, error) {
	report := domain.BackfillReport{AssociateID: associateID, SurebetIDs: []uuid.UUID{}}

	var surebets []uuid.UUID
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetAssociate(ctx, associateID); err != nil {
			return err
		}
		var err error
		surebets, err = tx.ListSettledSurebetIDsForAssociate(ctx, associateID)
		return err
	})
	if err != nil {
		return report, fmt.Errorf("provenance_service.BackfillMissingLinks: %w", err)
	}

	for _, id := range surebets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		_, created, err := s.ensureLink(ctx, id)
		switch {
		case errors.Is(err, domain.ErrProvenanceUnresolvable), errors.Is(err, domain.ErrLinkExists):
			report.Skipped++
			s.log.Warn("provenance backfill skipped", "surebet_id", id, "error", err)
		case err != nil:
			return report, fmt.Errorf("provenance_service.BackfillMissingLinks: surebet %s: %w", id, err)
		case created:
			report.Created++
			report.SurebetIDs = append(report.SurebetIDs, id)
		default:
			report.Existing++
		}
	}
	s.metrics.IncLinks("backfill", report.Created)
	if report.Created > 0 {
		s.log.Info("provenance backfilled", "associate_id", associateID, "created", report.Created, "skipped", report.Skipped)
	}
	return report, nil
}

// BackfillAll runs BackfillMissingLinks for every associate with settled
// results.
func (s *ProvenanceService) BackfillAll(ctx context.Context) ([]domain.BackfillReport, error) {
	var ids []uuid.UUID
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		ids, err = tx.ListAssociateIDsWithResults(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("provenance_service.BackfillAll: %w", err)
	}
	reports := make([]domain.BackfillReport, 0, len(ids))
	for _, id := range ids {
		r, err := s.BackfillMissingLinks(ctx, id)
		if err != nil {
			return reports, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Reconstruction
// ──────────────────────────────────────────────────────────────────────────────

func (s *ProvenanceService) ensureLink(ctx context.Context, surebetID uuid.UUID) (*domain.SettlementLink, bool, error) {
	var (
		link    *domain.SettlementLink
		created bool
	)
	err := s.store.WithTx(ctx, func(tx Tx) error {
		sb, err := tx.GetSurebet(ctx, surebetID, false)
		if err != nil {
			return err
		}
		link, err = tx.GetLinkBySurebet(ctx, surebetID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrLinkNotFound) || sb.Status != domain.SurebetStatusSettled {
			return err
		}
		if link, err = s.rebuild(ctx, tx, sb); err != nil {
			return err
		}
		created = true
		return s.CreateLink(ctx, tx, link)
	})
	if err != nil {
		return nil, false, err
	}
	return link, created, nil
}

// rebuild pairs the surebet's BET_RESULT entries in leg order, the same order
// settlement uses.
func (s *ProvenanceService) rebuild(ctx context.Context, tx Tx, sb *domain.Surebet) (*domain.SettlementLink, error) {
	legs, err := tx.ListLegs(ctx, sb.ID)
	if err != nil {
		return nil, err
	}
	domain.SortLegs(legs)

	entries, err := tx.ListEntries(ctx, domain.LedgerFilter{
		SurebetID: &sb.ID,
		Types:     []domain.EntryType{domain.EntryBetResult},
	})
	if err != nil {
		return nil, err
	}
	byBet := make(map[uuid.UUID]*domain.LedgerEntry, len(entries))
	for _, e := range entries {
		if e.BetID != nil {
			byBet[*e.BetID] = e
		}
	}

	participants := make([]domain.Participant, 0, len(legs))
	for _, leg := range legs {
		e, ok := byBet[leg.Bet.ID]
		if !ok {
			continue
		}
		if e.SettlementState == nil || e.NetGainEUR == nil || e.PerSurebetShareEUR == nil {
			return nil, fmt.Errorf("%w: entry %s lacks settlement components", domain.ErrProvenanceUnresolvable, e.ID)
		}
		id := e.ID
		participants = append(participants, domain.Participant{
			AssociateID: e.AssociateID,
			Outcome:     *e.SettlementState,
			NetGainEUR:  *e.NetGainEUR,
			ShareEUR:    *e.PerSurebetShareEUR,
			EntryID:     &id,
		})
	}

	wi, li, ok := domain.PickPair(participants)
	if !ok {
		return nil, fmt.Errorf("%w: surebet %s has %d result entries", domain.ErrProvenanceUnresolvable, sb.ID, len(participants))
	}
	winner, loser := participants[wi], participants[li]
	sbID := sb.ID
	createdAt := s.now()
	if sb.SettledAt != nil {
		createdAt = *sb.SettledAt
	}
	return &domain.SettlementLink{
		ID:                uuid.New(),
		Kind:              domain.LinkKindSettlement,
		SurebetID:         &sbID,
		WinnerAssociateID: winner.AssociateID,
		LoserAssociateID:  loser.AssociateID,
		AmountEUR:         domain.TransferAmount(loser),
		WinnerEntryID:     winner.EntryID,
		LoserEntryID:      loser.EntryID,
		CreatedAt:         createdAt,
	}, nil
}
