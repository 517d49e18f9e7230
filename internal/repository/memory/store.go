// Package memory is an in-process implementation of the ledger store. It
// honours the same contract as the Postgres store: transactions are
// serialised and all-or-nothing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/evetabi/surebet/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	_ service.Store      = (*Store)(nil)
	_ service.Tx         = (*tx)(nil)
	_ service.RateSource = (*Store)(nil)
)

type state struct {
	associates map[uuid.UUID]domain.Associate
	bookmakers map[uuid.UUID]domain.Bookmaker
	bets       map[uuid.UUID]domain.Bet
	surebets   map[uuid.UUID]domain.Surebet
	legs       []domain.SurebetBet
	entries    []domain.LedgerEntry
	links      []domain.SettlementLink
}

func newState() *state {
	return &state{
		associates: make(map[uuid.UUID]domain.Associate),
		bookmakers: make(map[uuid.UUID]domain.Bookmaker),
		bets:       make(map[uuid.UUID]domain.Bet),
		surebets:   make(map[uuid.UUID]domain.Surebet),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.associates {
		c.associates[k] = v
	}
	for k, v := range s.bookmakers {
		c.bookmakers[k] = v
	}
	for k, v := range s.bets {
		c.bets[k] = v
	}
	for k, v := range s.surebets {
		c.surebets[k] = v
	}
	c.legs = append([]domain.SurebetBet(nil), s.legs...)
	c.entries = append([]domain.LedgerEntry(nil), s.entries...)
	c.links = append([]domain.SettlementLink(nil), s.links...)
	return c
}

// Store keeps all data in memory. The zero value is not usable; call New.
type Store struct {
	mu    sync.Mutex
	state *state
	rates map[string]decimal.Decimal
	fault func(op string) error
}

// New returns an empty Store.
func New() *Store {
	return &Store{state: newState(), rates: make(map[string]decimal.Decimal)}
}

// WithTx runs fn against a private copy of the data and publishes the copy
// only when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(service.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{st: s.state.clone(), fault: s.fault}
	if err := fn(t); err != nil {
		return err
	}
	s.state = t.st
	return nil
}

// InjectFault makes every transactional operation consult f first; a non-nil
// result fails that operation. Pass nil to clear.
func (s *Store) InjectFault(f func(op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// ──────────────────────────────────────────────────────────────────────────────
// Seeding and inspection
// ──────────────────────────────────────────────────────────────────────────────

// AddAssociate stores reference data.
func (s *Store) AddAssociate(a domain.Associate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.associates[a.ID] = a
}

// AddBookmaker stores reference data.
func (s *Store) AddBookmaker(b domain.Bookmaker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.bookmakers[b.ID] = b
}

// PutBet inserts or replaces a bet, as the ingestion pipeline would.
func (s *Store) PutBet(b domain.Bet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.bets[b.ID] = b
}

// SetRate records an FX snapshot.
func (s *Store) SetRate(currency string, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[domain.NormalizeCurrency(currency)] = rate
}

// LatestRate implements service.RateSource.
func (s *Store) LatestRate(_ context.Context, currency string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rates[domain.NormalizeCurrency(currency)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrFXRateMissing, currency)
	}
	return r, nil
}

// Bet returns a copy of a stored bet.
func (s *Store) Bet(id uuid.UUID) (domain.Bet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.state.bets[id]
	return b, ok
}

// Surebet returns a copy of a stored surebet.
func (s *Store) Surebet(id uuid.UUID) (domain.Surebet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sb, ok := s.state.surebets[id]
	return sb, ok
}

// Surebets returns every stored surebet.
func (s *Store) Surebets() []domain.Surebet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Surebet, 0, len(s.state.surebets))
	for _, sb := range s.state.surebets {
		out = append(out, sb)
	}
	return out
}

// Entries returns every ledger entry in append order.
func (s *Store) Entries() []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.LedgerEntry(nil), s.state.entries...)
}

// Links returns every settlement link in insertion order.
func (s *Store) Links() []domain.SettlementLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SettlementLink(nil), s.state.links...)
}

// DropLink removes the settlement link of a surebet, simulating rows written
// before provenance existed.
func (s *Store) DropLink(surebetID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.state.links[:0]
	for _, l := range s.state.links {
		if l.SurebetID == nil || *l.SurebetID != surebetID {
			kept = append(kept, l)
		}
	}
	s.state.links = kept
}

// ──────────────────────────────────────────────────────────────────────────────
// tx
// ──────────────────────────────────────────────────────────────────────────────

type tx struct {
	st    *state
	fault func(op string) error
}

func (t *tx) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.fault != nil {
		if err := t.fault(op); err != nil {
			return fmt.Errorf("memory.%s: %w", op, err)
		}
	}
	return nil
}

func (t *tx) GetAssociate(ctx context.Context, id uuid.UUID) (*domain.Associate, error) {
	if err := t.check(ctx, "GetAssociate"); err != nil {
		return nil, err
	}
	a, ok := t.st.associates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAssociateNotFound, id)
	}
	return &a, nil
}

func (t *tx) GetBookmaker(ctx context.Context, id uuid.UUID) (*domain.Bookmaker, error) {
	if err := t.check(ctx, "GetBookmaker"); err != nil {
		return nil, err
	}
	b, ok := t.st.bookmakers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBookmakerNotFound, id)
	}
	return &b, nil
}

func (t *tx) AssociateAliases(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	if err := t.check(ctx, "AssociateAliases"); err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]string, len(ids))
	for _, id := range ids {
		if a, ok := t.st.associates[id]; ok {
			out[id] = a.Alias
		}
	}
	return out, nil
}

func (t *tx) ListAssociateIDsWithResults(ctx context.Context) ([]uuid.UUID, error) {
	if err := t.check(ctx, "ListAssociateIDsWithResults"); err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, e := range t.st.entries {
		if e.Type == domain.EntryBetResult && !seen[e.AssociateID] {
			seen[e.AssociateID] = true
			out = append(out, e.AssociateID)
		}
	}
	return out, nil
}

// ── Bets ─────────────────────────────────────────────────────────────────────

func (t *tx) GetBetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Bet, error) {
	if err := t.check(ctx, "GetBetForUpdate"); err != nil {
		return nil, err
	}
	b, ok := t.st.bets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBetNotFound, id)
	}
	return &b, nil
}

func (t *tx) FindMatchCandidates(ctx context.Context, key domain.MarketKey, side domain.Side, excludeBetID uuid.UUID) ([]*domain.Bet, error) {
	if err := t.check(ctx, "FindMatchCandidates"); err != nil {
		return nil, err
	}
	var out []*domain.Bet
	for _, b := range t.st.bets {
		if b.ID == excludeBetID || b.Side == nil || *b.Side != side {
			continue
		}
		if b.Status != domain.BetStatusVerified && b.Status != domain.BetStatusMatched {
			continue
		}
		k, ok := b.MarketKey()
		if !ok || !k.Equal(key) {
			continue
		}
		bet := b
		out = append(out, &bet)
	}
	sortBets(out)
	return out, nil
}

func (t *tx) UpdateBetStatus(ctx context.Context, id uuid.UUID, from, to domain.BetStatus) error {
	if err := t.check(ctx, "UpdateBetStatus"); err != nil {
		return err
	}
	b, ok := t.st.bets[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrBetNotFound, id)
	}
	if b.Status != from || !from.CanTransition(to) {
		return fmt.Errorf("%w: bet %s is %s, want %s → %s", domain.ErrInvalidTransition, id, b.Status, from, to)
	}
	b.Status = to
	b.UpdatedAt = time.Now().UTC()
	t.st.bets[id] = b
	return nil
}

func (t *tx) ListVerifiedBetIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if err := t.check(ctx, "ListVerifiedBetIDs"); err != nil {
		return nil, err
	}
	var bets []*domain.Bet
	for _, b := range t.st.bets {
		if b.Status == domain.BetStatusVerified {
			bet := b
			bets = append(bets, &bet)
		}
	}
	sortBets(bets)
	var ids []uuid.UUID
	for _, b := range bets {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, b.ID)
	}
	return ids, nil
}

func sortBets(bets []*domain.Bet) {
	sort.Slice(bets, func(i, j int) bool {
		if !bets[i].CreatedAt.Equal(bets[j].CreatedAt) {
			return bets[i].CreatedAt.Before(bets[j].CreatedAt)
		}
		return bets[i].ID.String() < bets[j].ID.String()
	})
}

// ── Surebets ─────────────────────────────────────────────────────────────────

// LockMarketKey is a no-op: transactions are already serialised.
func (t *tx) LockMarketKey(ctx context.Context, _ domain.MarketKey) error {
	return t.check(ctx, "LockMarketKey")
}

func (t *tx) GetSurebet(ctx context.Context, id uuid.UUID, _ bool) (*domain.Surebet, error) {
	if err := t.check(ctx, "GetSurebet"); err != nil {
		return nil, err
	}
	sb, ok := t.st.surebets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSurebetNotFound, id)
	}
	return &sb, nil
}

func (t *tx) FindOpenSurebetForBets(ctx context.Context, key domain.MarketKey, betIDs []uuid.UUID) (*domain.Surebet, error) {
	if err := t.check(ctx, "FindOpenSurebetForBets"); err != nil {
		return nil, err
	}
	want := make(map[uuid.UUID]bool, len(betIDs))
	for _, id := range betIDs {
		want[id] = true
	}
	for _, l := range t.st.legs {
		if !want[l.BetID] {
			continue
		}
		sb := t.st.surebets[l.SurebetID]
		if sb.IsOpen() && sb.Key().Equal(key) {
			return &sb, nil
		}
	}
	return nil, domain.ErrSurebetNotFound
}

func (t *tx) SurebetIDForBet(ctx context.Context, betID uuid.UUID) (uuid.UUID, error) {
	if err := t.check(ctx, "SurebetIDForBet"); err != nil {
		return uuid.Nil, err
	}
	for _, l := range t.st.legs {
		if l.BetID == betID {
			return l.SurebetID, nil
		}
	}
	return uuid.Nil, fmt.Errorf("%w: bet %s is not linked", domain.ErrSurebetNotFound, betID)
}

func (t *tx) CreateSurebet(ctx context.Context, sb *domain.Surebet) error {
	if err := t.check(ctx, "CreateSurebet"); err != nil {
		return err
	}
	for _, other := range t.st.surebets {
		if other.IsOpen() && other.Key().Equal(sb.Key()) {
			return fmt.Errorf("memory.CreateSurebet: open surebet %s already covers %s", other.ID, sb.Key())
		}
	}
	t.st.surebets[sb.ID] = *sb
	return nil
}

func (t *tx) LinkBet(ctx context.Context, link domain.SurebetBet) (bool, error) {
	if err := t.check(ctx, "LinkBet"); err != nil {
		return false, err
	}
	for _, l := range t.st.legs {
		if l.BetID != link.BetID {
			continue
		}
		if l.SurebetID != link.SurebetID {
			return false, fmt.Errorf("%w: bet %s in surebet %s", domain.ErrBetAlreadyLinked, l.BetID, l.SurebetID)
		}
		if l.Side != link.Side {
			return false, fmt.Errorf("%w: bet %s is on side %s", domain.ErrSideImmutable, l.BetID, l.Side)
		}
		return false, nil
	}
	t.st.legs = append(t.st.legs, link)
	return true, nil
}

func (t *tx) ListLegs(ctx context.Context, surebetID uuid.UUID) ([]domain.SurebetLeg, error) {
	if err := t.check(ctx, "ListLegs"); err != nil {
		return nil, err
	}
	var legs []domain.SurebetLeg
	for _, l := range t.st.legs {
		if l.SurebetID != surebetID {
			continue
		}
		b := t.st.bets[l.BetID]
		legs = append(legs, domain.SurebetLeg{Side: l.Side, Bet: &b})
	}
	return legs, nil
}

func (t *tx) UpdateSurebetRisk(ctx context.Context, id uuid.UUID, m domain.RiskMetrics) error {
	if err := t.check(ctx, "UpdateSurebetRisk"); err != nil {
		return err
	}
	sb, ok := t.st.surebets[id]
	if !ok {
		return domain.ErrSurebetNotFound
	}
	worst, total, roi := m.WorstCaseProfitEUR, m.TotalStakeEUR, m.ROI
	sb.WorstCaseProfitEUR, sb.TotalStakeEUR, sb.ROI = &worst, &total, &roi
	sb.UpdatedAt = time.Now().UTC()
	t.st.surebets[id] = sb
	return nil
}

func (t *tx) MarkSurebetSettled(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := t.check(ctx, "MarkSurebetSettled"); err != nil {
		return err
	}
	sb, ok := t.st.surebets[id]
	if !ok {
		return domain.ErrSurebetNotFound
	}
	if !sb.IsOpen() {
		return domain.ErrSurebetNotOpen
	}
	sb.Status = domain.SurebetStatusSettled
	sb.SettledAt = &at
	sb.UpdatedAt = at
	t.st.surebets[id] = sb
	return nil
}

func (t *tx) ListSettledSurebetIDsForAssociate(ctx context.Context, associateID uuid.UUID) ([]uuid.UUID, error) {
	if err := t.check(ctx, "ListSettledSurebetIDsForAssociate"); err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, e := range t.st.entries {
		if e.Type != domain.EntryBetResult || e.AssociateID != associateID || e.SurebetID == nil {
			continue
		}
		id := *e.SurebetID
		if seen[id] || t.st.surebets[id].Status != domain.SurebetStatusSettled {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// ── Ledger ───────────────────────────────────────────────────────────────────

func (t *tx) AppendEntry(ctx context.Context, e *domain.LedgerEntry) error {
	if err := t.check(ctx, "AppendEntry"); err != nil {
		return err
	}
	for _, x := range t.st.entries {
		if x.ID == e.ID {
			return fmt.Errorf("%w: entry %s exists", domain.ErrLedgerImmutable, e.ID)
		}
		if e.Type == domain.EntryBetResult && x.Type == domain.EntryBetResult &&
			e.BetID != nil && x.BetID != nil && *e.BetID == *x.BetID {
			return fmt.Errorf("%w: bet %s", domain.ErrDuplicateResult, *e.BetID)
		}
	}
	t.st.entries = append(t.st.entries, *e)
	return nil
}

func (t *tx) UpdateEntry(ctx context.Context, e *domain.LedgerEntry) error {
	if err := t.check(ctx, "UpdateEntry"); err != nil {
		return err
	}
	return fmt.Errorf("%w: update of entry %s", domain.ErrLedgerImmutable, e.ID)
}

func (t *tx) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	if err := t.check(ctx, "DeleteEntry"); err != nil {
		return err
	}
	return fmt.Errorf("%w: delete of entry %s", domain.ErrLedgerImmutable, id)
}

func (t *tx) GetEntry(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	if err := t.check(ctx, "GetEntry"); err != nil {
		return nil, err
	}
	for _, e := range t.st.entries {
		if e.ID == id {
			entry := e
			return &entry, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrEntryNotFound, id)
}

func (t *tx) ListEntries(ctx context.Context, f domain.LedgerFilter) ([]*domain.LedgerEntry, error) {
	if err := t.check(ctx, "ListEntries"); err != nil {
		return nil, err
	}
	var out []*domain.LedgerEntry
	skipped := 0
	for _, e := range t.st.entries {
		entry := e
		if !f.Matches(&entry) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
		out = append(out, &entry)
	}
	return out, nil
}

func (t *tx) StakeTotals(ctx context.Context, betID uuid.UUID) (map[string]decimal.Decimal, error) {
	if err := t.check(ctx, "StakeTotals"); err != nil {
		return nil, err
	}
	totals := make(map[string]decimal.Decimal)
	for _, e := range t.st.entries {
		if e.Type == domain.EntryBetStake && e.BetID != nil && *e.BetID == betID {
			totals[e.NativeCurrency] = totals[e.NativeCurrency].Add(e.AmountNative)
		}
	}
	return totals, nil
}

// ── Provenance ───────────────────────────────────────────────────────────────

func (t *tx) InsertLink(ctx context.Context, l *domain.SettlementLink) error {
	if err := t.check(ctx, "InsertLink"); err != nil {
		return err
	}
	if l.Kind == domain.LinkKindSettlement && l.SurebetID != nil {
		for _, x := range t.st.links {
			if x.Kind == domain.LinkKindSettlement && x.SurebetID != nil && *x.SurebetID == *l.SurebetID {
				return fmt.Errorf("%w: surebet %s", domain.ErrLinkExists, *l.SurebetID)
			}
		}
	}
	t.st.links = append(t.st.links, *l)
	return nil
}

func (t *tx) GetLinkBySurebet(ctx context.Context, surebetID uuid.UUID) (*domain.SettlementLink, error) {
	if err := t.check(ctx, "GetLinkBySurebet"); err != nil {
		return nil, err
	}
	for _, l := range t.st.links {
		if l.Kind == domain.LinkKindSettlement && l.SurebetID != nil && *l.SurebetID == surebetID {
			link := l
			return &link, nil
		}
	}
	return nil, fmt.Errorf("%w: surebet %s", domain.ErrLinkNotFound, surebetID)
}

func (t *tx) ListLinksForAssociate(ctx context.Context, associateID uuid.UUID) ([]*domain.SettlementLink, error) {
	if err := t.check(ctx, "ListLinksForAssociate"); err != nil {
		return nil, err
	}
	var out []*domain.SettlementLink
	for _, l := range t.st.links {
		if l.WinnerAssociateID == associateID || l.LoserAssociateID == associateID {
			link := l
			out = append(out, &link)
		}
	}
	return out, nil
}
