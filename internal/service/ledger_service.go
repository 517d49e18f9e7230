package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FundingRequest records money moved in or out of a bookmaker account.
type FundingRequest struct {
	AssociateID uuid.UUID        `json:"associate_id" binding:"required"`
	BookmakerID *uuid.UUID       `json:"bookmaker_id"`
	Type        domain.EntryType `json:"type"         binding:"required"`
	Amount      decimal.Decimal  `json:"amount"`
	Currency    string           `json:"currency"     binding:"required"`
	Note        string           `json:"note"`
	CreatedBy   string           `json:"-"`
}

// LedgerService owns every write to the append-only ledger that is not a
// settlement or a correction, plus the read models built on it.
type LedgerService struct {
	store      Store
	rates      RateSource
	currencies map[string]struct{}
	metrics    *Metrics
	now        Clock
	log        *slog.Logger
}

// NewLedgerService builds a LedgerService. currencies is the set of ISO codes
// accepted for funding and corrections; EUR is always accepted.
func NewLedgerService(store Store, rates RateSource, currencies []string, metrics *Metrics) *LedgerService {
	set := map[string]struct{}{domain.CurrencyEUR: {}}
	for _, c := range currencies {
		if c = domain.NormalizeCurrency(c); c != "" {
			set[c] = struct{}{}
		}
	}
	return &LedgerService{
		store:      store,
		rates:      rates,
		currencies: set,
		metrics:    metrics,
		now:        systemClock,
		log:        slog.Default().With("component", "ledger"),
	}
}

// SetClock replaces the time source. Used by tests.
func (s *LedgerService) SetClock(c Clock) { s.now = c }

// Supports reports whether currency is accepted.
func (s *LedgerService) Supports(currency string) bool {
	_, ok := s.currencies[domain.NormalizeCurrency(currency)]
	return ok
}

// Currencies returns the accepted currencies, sorted.
func (s *LedgerService) Currencies() []string {
	out := make([]string, 0, len(s.currencies))
	for c := range s.currencies {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Rate returns the FX snapshot for currency. EUR is always exactly 1.
func (s *LedgerService) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	currency = domain.NormalizeCurrency(currency)
	if currency == domain.CurrencyEUR {
		return decimal.NewFromInt(1), nil
	}
	if s.rates == nil {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrFXRateMissing, currency)
	}
	rate, err := s.rates.LatestRate(ctx, currency)
	s.metrics.IncFXLookup(err)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger_service.Rate %s: %w", currency, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s has non-positive rate", domain.ErrFXRateMissing, currency)
	}
	return domain.QuantizeRate(rate), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Stake capture
// ──────────────────────────────────────────────────────────────────────────────

// stakeRate resolves the rate used to value a bet's captured stake. When no
// snapshot exists the rate implied by the bet's own EUR stake is used.
func (s *LedgerService) stakeRate(ctx context.Context, bet *domain.Bet, currency string) (decimal.Decimal, error) {
	rate, err := s.Rate(ctx, currency)
	if err == nil {
		return rate, nil
	}
	if bet.StakeOriginal != nil && bet.StakeEUR != nil && !bet.StakeOriginal.IsZero() {
		return domain.QuantizeRate(bet.StakeEUR.Div(*bet.StakeOriginal)), nil
	}
	return decimal.Zero, err
}

// StakeTarget is the per-currency stake a bet should have captured.
func StakeTarget(bet *domain.Bet) (map[string]decimal.Decimal, error) {
	stake, cur, err := bet.ResolvedStake()
	if err != nil {
		return nil, fmt.Errorf("bet %s: %w", bet.ID, err)
	}
	return map[string]decimal.Decimal{cur: stake}, nil
}

// ReconcileStake appends BET_STAKE entries so that, per currency, the sum of
// the bet's stake entries equals target. Passing an empty target releases the
// stake. rates may pre-seed FX values (e.g. the frozen settlement rates).
func (s *LedgerService) ReconcileStake(
	ctx context.Context,
	tx Tx,
	bet *domain.Bet,
	target map[string]decimal.Decimal,
	rates map[string]decimal.Decimal,
	author string,
) ([]*domain.LedgerEntry, error) {
	current, err := tx.StakeTotals(ctx, bet.ID)
	if err != nil {
		return nil, fmt.Errorf("ledger_service.ReconcileStake: totals: %w", err)
	}
	deltas := domain.StakeDeltas(current, target)
	if len(deltas) == 0 {
		return nil, nil
	}

	currencies := make([]string, 0, len(deltas))
	for c := range deltas {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	var written []*domain.LedgerEntry
	for _, cur := range currencies {
		rate, ok := rates[cur]
		if !ok {
			if rate, err = s.stakeRate(ctx, bet, cur); err != nil {
				return nil, fmt.Errorf("ledger_service.ReconcileStake: %w", err)
			}
		}
		delta := deltas[cur]
		betID := bet.ID
		bookmakerID := bet.BookmakerID
		e := &domain.LedgerEntry{
			ID:             uuid.New(),
			Type:           domain.EntryBetStake,
			AssociateID:    bet.AssociateID,
			BookmakerID:    &bookmakerID,
			AmountNative:   domain.Quantize(delta),
			NativeCurrency: cur,
			FXRateSnapshot: rate,
			AmountEUR:      domain.ToEUR(delta, rate),
			BetID:          &betID,
			CreatedAt:      s.now(),
			CreatedBy:      authorOrSystem(author),
		}
		if err := tx.AppendEntry(ctx, e); err != nil {
			return nil, fmt.Errorf("ledger_service.ReconcileStake: append %s: %w", cur, err)
		}
		written = append(written, e)
	}
	s.metrics.IncEntries(domain.EntryBetStake, len(written))
	return written, nil
}

// ReconcileBetStake is the standalone form of ReconcileStake: it recomputes
// the target from the bet's current stake (or zero once settled) in its own
// transaction.
func (s *LedgerService) ReconcileBetStake(ctx context.Context, betID uuid.UUID, author string) ([]*domain.LedgerEntry, error) {
	var written []*domain.LedgerEntry
	err := s.store.WithTx(ctx, func(tx Tx) error {
		bet, err := tx.GetBetForUpdate(ctx, betID)
		if err != nil {
			return err
		}
		target := map[string]decimal.Decimal{}
		if bet.Status == domain.BetStatusMatched {
			if target, err = StakeTarget(bet); err != nil {
				return err
			}
		}
		written, err = s.ReconcileStake(ctx, tx, bet, target, nil, author)
		return err
	})
	if err != nil {
		return nil, domain.AsTransactionError("ledger_service.ReconcileBetStake", err)
	}
	return written, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Funding
// ──────────────────────────────────────────────────────────────────────────────

// RecordFunding appends a DEPOSIT (positive amount) or WITHDRAWAL (negative
// amount) entry. The sign is normalised from the type.
func (s *LedgerService) RecordFunding(ctx context.Context, req FundingRequest) (*domain.LedgerEntry, error) {
	if req.Type != domain.EntryDeposit && req.Type != domain.EntryWithdrawal {
		return nil, fmt.Errorf("%w: funding type must be DEPOSIT or WITHDRAWAL", domain.ErrValidation)
	}
	amount := domain.Quantize(req.Amount.Abs())
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: %s rounds to zero", domain.ErrZeroAmount, req.Amount)
	}
	currency := domain.NormalizeCurrency(req.Currency)
	if !s.Supports(currency) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedCurrency, currency)
	}
	if req.Type == domain.EntryWithdrawal {
		amount = amount.Neg()
	}

	rate, err := s.Rate(ctx, currency)
	if err != nil {
		return nil, err
	}

	var entry *domain.LedgerEntry
	err = s.store.WithTx(ctx, func(tx Tx) error {
		if err := validateAccount(ctx, tx, req.AssociateID, req.BookmakerID); err != nil {
			return err
		}
		entry = &domain.LedgerEntry{
			ID:             uuid.New(),
			Type:           req.Type,
			AssociateID:    req.AssociateID,
			BookmakerID:    req.BookmakerID,
			AmountNative:   amount,
			NativeCurrency: currency,
			FXRateSnapshot: rate,
			AmountEUR:      domain.ToEUR(amount, rate),
			CreatedAt:      s.now(),
			CreatedBy:      authorOrSystem(req.CreatedBy),
			Note:           optionalNote(req.Note),
		}
		return tx.AppendEntry(ctx, entry)
	})
	if err != nil {
		return nil, domain.AsTransactionError("ledger_service.RecordFunding", err)
	}
	s.metrics.IncEntries(req.Type, 1)
	s.log.Info("funding recorded", "associate_id", req.AssociateID, "type", req.Type, "amount", entry.AmountNative, "currency", currency)
	return entry, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads and rejected mutations
// ──────────────────────────────────────────────────────────────────────────────

// Entries lists ledger entries matching f, oldest first.
func (s *LedgerService) Entries(ctx context.Context, f domain.LedgerFilter) ([]*domain.LedgerEntry, error) {
	var out []*domain.LedgerEntry
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListEntries(ctx, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ledger_service.Entries: %w", err)
	}
	return out, nil
}

// Balance derives an associate's position from its ledger entries.
func (s *LedgerService) Balance(ctx context.Context, associateID uuid.UUID) (domain.Balance, error) {
	var b domain.Balance
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetAssociate(ctx, associateID); err != nil {
			return err
		}
		entries, err := tx.ListEntries(ctx, domain.LedgerFilter{AssociateID: &associateID})
		if err != nil {
			return err
		}
		b = domain.BuildBalance(associateID, entries)
		return nil
	})
	if err != nil {
		return domain.Balance{}, fmt.Errorf("ledger_service.Balance: %w", err)
	}
	return b, nil
}

// UpdateEntry always fails: ledger rows are append-only.
func (s *LedgerService) UpdateEntry(ctx context.Context, e *domain.LedgerEntry) error {
	return s.store.WithTx(ctx, func(tx Tx) error { return tx.UpdateEntry(ctx, e) })
}

// DeleteEntry always fails: ledger rows are append-only.
func (s *LedgerService) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	return s.store.WithTx(ctx, func(tx Tx) error { return tx.DeleteEntry(ctx, id) })
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

// validateAccount checks that the associate exists and, when given, that the
// bookmaker exists and belongs to it.
func validateAccount(ctx context.Context, tx Tx, associateID uuid.UUID, bookmakerID *uuid.UUID) error {
	if _, err := tx.GetAssociate(ctx, associateID); err != nil {
		return err
	}
	if bookmakerID == nil {
		return nil
	}
	bm, err := tx.GetBookmaker(ctx, *bookmakerID)
	if err != nil {
		return err
	}
	if bm.AssociateID != associateID {
		return fmt.Errorf("%w: bookmaker %s, associate %s", domain.ErrBookmakerMismatch, bm.ID, associateID)
	}
	return nil
}

func authorOrSystem(author string) string {
	if a := strings.TrimSpace(author); a != "" {
		return a
	}
	return domain.SystemAuthor
}

func optionalNote(note string) *string {
	n := strings.TrimSpace(note)
	if n == "" {
		return nil
	}
	return &n
}
