package repository

import (
	"context"
	"time"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// pgTx binds the repositories to one open transaction.
type pgTx struct {
	tx *sqlx.Tx
	s  *Store
}

func (t *pgTx) GetAssociate(ctx context.Context, id uuid.UUID) (*domain.Associate, error) {
	return t.s.refs.GetAssociate(ctx, t.tx, id)
}

func (t *pgTx) GetBookmaker(ctx context.Context, id uuid.UUID) (*domain.Bookmaker, error) {
	return t.s.refs.GetBookmaker(ctx, t.tx, id)
}

func (t *pgTx) AssociateAliases(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	return t.s.refs.Aliases(ctx, t.tx, ids)
}

func (t *pgTx) ListAssociateIDsWithResults(ctx context.Context) ([]uuid.UUID, error) {
	return t.s.ledger.AssociatesWithResults(ctx, t.tx)
}

func (t *pgTx) GetBetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Bet, error) {
	return t.s.bets.GetForUpdate(ctx, t.tx, id)
}

func (t *pgTx) FindMatchCandidates(ctx context.Context, key domain.MarketKey, side domain.Side, excludeBetID uuid.UUID) ([]*domain.Bet, error) {
	return t.s.bets.FindCandidates(ctx, t.tx, key, side, excludeBetID)
}

func (t *pgTx) UpdateBetStatus(ctx context.Context, id uuid.UUID, from, to domain.BetStatus) error {
	return t.s.bets.UpdateStatus(ctx, t.tx, id, from, to)
}

func (t *pgTx) ListVerifiedBetIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return t.s.bets.ListVerifiedIDs(ctx, t.tx, limit)
}

func (t *pgTx) LockMarketKey(ctx context.Context, key domain.MarketKey) error {
	return t.s.surebets.LockKey(ctx, t.tx, key)
}

func (t *pgTx) GetSurebet(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.Surebet, error) {
	return t.s.surebets.Get(ctx, t.tx, id, forUpdate)
}

func (t *pgTx) FindOpenSurebetForBets(ctx context.Context, key domain.MarketKey, betIDs []uuid.UUID) (*domain.Surebet, error) {
	return t.s.surebets.FindOpenForBets(ctx, t.tx, key, betIDs)
}

func (t *pgTx) SurebetIDForBet(ctx context.Context, betID uuid.UUID) (uuid.UUID, error) {
	return t.s.surebets.IDForBet(ctx, t.tx, betID)
}

func (t *pgTx) CreateSurebet(ctx context.Context, sb *domain.Surebet) error {
	return t.s.surebets.Create(ctx, t.tx, sb)
}

func (t *pgTx) LinkBet(ctx context.Context, link domain.SurebetBet) (bool, error) {
	return t.s.surebets.LinkBet(ctx, t.tx, link)
}

func (t *pgTx) ListLegs(ctx context.Context, surebetID uuid.UUID) ([]domain.SurebetLeg, error) {
	return t.s.surebets.ListLegs(ctx, t.tx, surebetID)
}

func (t *pgTx) UpdateSurebetRisk(ctx context.Context, id uuid.UUID, m domain.RiskMetrics) error {
	return t.s.surebets.UpdateRisk(ctx, t.tx, id, m)
}

func (t *pgTx) MarkSurebetSettled(ctx context.Context, id uuid.UUID, at time.Time) error {
	return t.s.surebets.MarkSettled(ctx, t.tx, id, at)
}

func (t *pgTx) ListSettledSurebetIDsForAssociate(ctx context.Context, associateID uuid.UUID) ([]uuid.UUID, error) {
	return t.s.surebets.SettledIDsForAssociate(ctx, t.tx, associateID)
}

func (t *pgTx) AppendEntry(ctx context.Context, e *domain.LedgerEntry) error {
	return t.s.ledger.Append(ctx, t.tx, e)
}

func (t *pgTx) UpdateEntry(ctx context.Context, e *domain.LedgerEntry) error {
	return t.s.ledger.Update(ctx, t.tx, e)
}

func (t *pgTx) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	return t.s.ledger.Delete(ctx, t.tx, id)
}

func (t *pgTx) GetEntry(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	return t.s.ledger.Get(ctx, t.tx, id)
}

func (t *pgTx) ListEntries(ctx context.Context, f domain.LedgerFilter) ([]*domain.LedgerEntry, error) {
	return t.s.ledger.List(ctx, t.tx, f)
}

func (t *pgTx) StakeTotals(ctx context.Context, betID uuid.UUID) (map[string]decimal.Decimal, error) {
	return t.s.ledger.StakeTotals(ctx, t.tx, betID)
}

func (t *pgTx) InsertLink(ctx context.Context, l *domain.SettlementLink) error {
	return t.s.links.Insert(ctx, t.tx, l)
}

func (t *pgTx) GetLinkBySurebet(ctx context.Context, surebetID uuid.UUID) (*domain.SettlementLink, error) {
	return t.s.links.GetBySurebet(ctx, t.tx, surebetID)
}

func (t *pgTx) ListLinksForAssociate(ctx context.Context, associateID uuid.UUID) ([]*domain.SettlementLink, error) {
	return t.s.links.ListForAssociate(ctx, t.tx, associateID)
}
