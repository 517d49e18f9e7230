package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/evetabi/surebet/internal/repository/memory"
	"github.com/evetabi/surebet/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var base = time.Date(2026, 5, 2, 18, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// recorder captures published events.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ context.Context, evt domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) count(t domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	t          *testing.T
	ctx        context.Context
	store      *memory.Store
	events     *recorder
	ledger     *service.LedgerService
	matcher    *service.MatchService
	settlement *service.SettlementService
	provenance *service.ProvenanceService
	correction *service.CorrectionService
	eventID    uuid.UUID
	seq        int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	events := &recorder{}
	ledger := service.NewLedgerService(store, store, []string{"EUR", "GBP", "USD", "SEK"}, nil)
	prov := service.NewProvenanceService(store, nil)
	return &fixture{
		t:          t,
		ctx:        context.Background(),
		store:      store,
		events:     events,
		ledger:     ledger,
		matcher:    service.NewMatchService(store, ledger, events, nil),
		settlement: service.NewSettlementService(store, ledger, prov, events, nil),
		provenance: prov,
		correction: service.NewCorrectionService(store, ledger, prov, events, nil),
		eventID:    uuid.New(),
	}
}

type account struct {
	associate uuid.UUID
	bookmaker uuid.UUID
}

func (f *fixture) account(alias string) account {
	a := domain.Associate{ID: uuid.New(), Alias: alias, IsActive: true, CreatedAt: base}
	b := domain.Bookmaker{ID: uuid.New(), AssociateID: a.ID, Name: alias + "-book", IsActive: true, CreatedAt: base}
	f.store.AddAssociate(a)
	f.store.AddBookmaker(b)
	return account{associate: a.ID, bookmaker: b.ID}
}

// betSpec describes a verified bet on the fixture's event.
type betSpec struct {
	acct     account
	side     domain.Side
	stake    string
	odds     string
	currency string
	market   string
	line     *decimal.Decimal
	status   domain.BetStatus
}

func (f *fixture) bet(spec betSpec) domain.Bet {
	f.seq++
	market := spec.market
	if market == "" {
		market = "TOTAL_GOALS"
	}
	currency := spec.currency
	if currency == "" {
		currency = "EUR"
	}
	status := spec.status
	if status == "" {
		status = domain.BetStatusVerified
	}
	period := "FT"
	ev := f.eventID
	side := spec.side
	b := domain.Bet{
		ID:               uuid.New(),
		AssociateID:      spec.acct.associate,
		BookmakerID:      spec.acct.bookmaker,
		CanonicalEventID: &ev,
		MarketCode:       &market,
		PeriodScope:      &period,
		LineValue:        spec.line,
		Side:             &side,
		IsSupported:      true,
		StakeOriginal:    decp(spec.stake),
		OddsNormalized:   decp(spec.odds),
		Currency:         currency,
		Status:           status,
		CreatedAt:        base.Add(time.Duration(f.seq) * time.Minute),
		UpdatedAt:        base,
	}
	f.store.PutBet(b)
	return b
}

func (f *fixture) match(betID uuid.UUID) service.MatchResult {
	f.t.Helper()
	res, err := f.matcher.AttemptMatch(f.ctx, betID)
	if err != nil {
		f.t.Fatalf("AttemptMatch(%s): %v", betID, err)
	}
	return res
}

// pair creates and matches an OVER/UNDER pair, returning the surebet id.
func (f *fixture) pair(over, under betSpec) (uuid.UUID, domain.Bet, domain.Bet) {
	f.t.Helper()
	over.side, under.side = domain.SideOver, domain.SideUnder
	a := f.bet(over)
	b := f.bet(under)
	f.match(a.ID)
	res := f.match(b.ID)
	if !res.Matched {
		f.t.Fatalf("pair did not match")
	}
	return res.SurebetID, a, b
}

func (f *fixture) settle(surebetID uuid.UUID, outcomes map[uuid.UUID]domain.Outcome) *service.SettlementResult {
	f.t.Helper()
	res, err := f.settlement.Settle(f.ctx, surebetID, outcomes, "operator-1")
	if err != nil {
		f.t.Fatalf("Settle: %v", err)
	}
	return res
}

func (f *fixture) entriesOf(typ domain.EntryType) []domain.LedgerEntry {
	var out []domain.LedgerEntry
	for _, e := range f.store.Entries() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func stakeNet(entries []domain.LedgerEntry, betID uuid.UUID) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, e := range entries {
		if e.Type == domain.EntryBetStake && e.BetID != nil && *e.BetID == betID {
			out[e.NativeCurrency] = out[e.NativeCurrency].Add(e.AmountNative)
		}
	}
	return out
}

func assertDec(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("%s = %s, want %s", name, got, want)
	}
}
