package service

import (
	"context"
	"time"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store opens transactions against the authoritative ledger database. Every
// service operation runs inside exactly one WithTx call; an error returned by
// fn rolls back every write fn made.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of reads and writes available inside a store transaction.
// Implemented by repository.Store (Postgres) and memory.Store.
type Tx interface {
	// Reference data owned by other systems.
	GetAssociate(ctx context.Context, id uuid.UUID) (*domain.Associate, error)
	GetBookmaker(ctx context.Context, id uuid.UUID) (*domain.Bookmaker, error)
	AssociateAliases(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
	ListAssociateIDsWithResults(ctx context.Context) ([]uuid.UUID, error)

	// Bets
	GetBetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Bet, error)
	FindMatchCandidates(ctx context.Context, key domain.MarketKey, side domain.Side, excludeBetID uuid.UUID) ([]*domain.Bet, error)
	UpdateBetStatus(ctx context.Context, id uuid.UUID, from, to domain.BetStatus) error
	ListVerifiedBetIDs(ctx context.Context, limit int) ([]uuid.UUID, error)

	// Surebets
	LockMarketKey(ctx context.Context, key domain.MarketKey) error
	GetSurebet(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.Surebet, error)
	FindOpenSurebetForBets(ctx context.Context, key domain.MarketKey, betIDs []uuid.UUID) (*domain.Surebet, error)
	SurebetIDForBet(ctx context.Context, betID uuid.UUID) (uuid.UUID, error)
	CreateSurebet(ctx context.Context, s *domain.Surebet) error
	LinkBet(ctx context.Context, link domain.SurebetBet) (created bool, err error)
	ListLegs(ctx context.Context, surebetID uuid.UUID) ([]domain.SurebetLeg, error)
	UpdateSurebetRisk(ctx context.Context, id uuid.UUID, m domain.RiskMetrics) error
	MarkSurebetSettled(ctx context.Context, id uuid.UUID, at time.Time) error
	ListSettledSurebetIDsForAssociate(ctx context.Context, associateID uuid.UUID) ([]uuid.UUID, error)

	// Ledger
	AppendEntry(ctx context.Context, e *domain.LedgerEntry) error
	UpdateEntry(ctx context.Context, e *domain.LedgerEntry) error
	DeleteEntry(ctx context.Context, id uuid.UUID) error
	GetEntry(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error)
	ListEntries(ctx context.Context, f domain.LedgerFilter) ([]*domain.LedgerEntry, error)
	StakeTotals(ctx context.Context, betID uuid.UUID) (map[string]decimal.Decimal, error)

	// Provenance
	InsertLink(ctx context.Context, l *domain.SettlementLink) error
	GetLinkBySurebet(ctx context.Context, surebetID uuid.UUID) (*domain.SettlementLink, error)
	ListLinksForAssociate(ctx context.Context, associateID uuid.UUID) ([]*domain.SettlementLink, error)
}

// RateSource returns the latest FX snapshot (EUR per unit) for a currency.
// Implementations return domain.ErrFXRateMissing when none exists.
type RateSource interface {
	LatestRate(ctx context.Context, currency string) (decimal.Decimal, error)
}

// Clock is swapped in tests.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
