package backoffice_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/evetabi/surebet/internal/backoffice"
	"github.com/evetabi/surebet/internal/config"
	"github.com/evetabi/surebet/internal/domain"
	"github.com/evetabi/surebet/internal/repository/memory"
	"github.com/evetabi/surebet/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() { gin.SetMode(gin.TestMode) }

type env struct {
	t          *testing.T
	h          http.Handler
	auth       *service.AuthService
	store      *memory.Store
	matcher    *service.MatchService
	settlement *service.SettlementService
	eventID    uuid.UUID
}

func newEnv(t *testing.T, allowedIPs string) *env {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{Env: "development", BackofficeAllowedIPs: allowedIPs},
		JWT:    config.JWTConfig{AccessSecret: "backoffice-test-secret-0123456789", AccessTTL: time.Minute},
	}
	store := memory.New()
	store.SetRate("GBP", decimal.RequireFromString("1.2"))
	auth := service.NewAuthService(cfg.JWT)
	ledger := service.NewLedgerService(store, store, []string{"EUR", "GBP"}, nil)
	prov := service.NewProvenanceService(store, nil)
	matcher := service.NewMatchService(store, ledger, nil, nil)

	h := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		AuthSvc:       auth,
		LedgerSvc:     ledger,
		CorrectionSvc: service.NewCorrectionService(store, ledger, prov, nil, nil),
		ProvenanceSvc: prov,
		MatchSvc:      matcher,
		Cfg:           cfg,
	})
	return &env{
		t:          t,
		h:          h,
		auth:       auth,
		store:      store,
		matcher:    matcher,
		settlement: service.NewSettlementService(store, ledger, prov, nil, nil),
		eventID:    uuid.New(),
	}
}

func (e *env) do(method, path, body, role string) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		tok, err := e.auth.IssueAccessToken("ops-"+role, role)
		if err != nil {
			e.t.Fatalf("IssueAccessToken: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, into interface{}) envelope {
	t.Helper()
	var e envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil {
		t.Fatalf("bad JSON %q: %v", rr.Body.String(), err)
	}
	if into != nil {
		if err := json.Unmarshal(e.Data, into); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return e
}

func (e *env) account(alias string) (uuid.UUID, uuid.UUID) {
	a := domain.Associate{ID: uuid.New(), Alias: alias, IsActive: true}
	b := domain.Bookmaker{ID: uuid.New(), AssociateID: a.ID, Name: alias + "-book", IsActive: true}
	e.store.AddAssociate(a)
	e.store.AddBookmaker(b)
	return a.ID, b.ID
}

func (e *env) verifiedBet(alias string, side domain.Side, stake, odds string, n int) domain.Bet {
	assoc, book := e.account(alias)
	market, period := "TOTAL_GOALS", "FT"
	ev := e.eventID
	s, o := decimal.RequireFromString(stake), decimal.RequireFromString(odds)
	b := domain.Bet{
		ID:               uuid.New(),
		AssociateID:      assoc,
		BookmakerID:      book,
		CanonicalEventID: &ev,
		MarketCode:       &market,
		PeriodScope:      &period,
		Side:             &side,
		IsSupported:      true,
		StakeOriginal:    &s,
		OddsNormalized:   &o,
		Currency:         "EUR",
		Status:           domain.BetStatusVerified,
		CreatedAt:        time.Date(2026, 5, 2, 18, n, 0, 0, time.UTC),
	}
	e.store.PutBet(b)
	return b
}

// ── Access control ────────────────────────────────────────────────────────────

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	e := newEnv(t, "")
	if rr := e.do(http.MethodGet, "/admin/ledger", "", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", rr.Code)
	}
	if rr := e.do(http.MethodGet, "/admin/ledger", "", service.RoleOperator); rr.Code != http.StatusForbidden {
		t.Errorf("operator = %d, want 403", rr.Code)
	}
	if rr := e.do(http.MethodGet, "/admin/ledger", "", service.RoleAdmin); rr.Code != http.StatusOK {
		t.Errorf("admin = %d, want 200", rr.Code)
	}
}

func TestIPAllowList(t *testing.T) {
	// httptest requests originate from 192.0.2.1.
	if rr := newEnv(t, "10.0.0.1, 192.0.2.1").do(http.MethodGet, "/health", "", ""); rr.Code != http.StatusOK {
		t.Errorf("allowed ip = %d, want 200", rr.Code)
	}
	rr := newEnv(t, "10.0.0.1").do(http.MethodGet, "/health", "", "")
	if rr.Code != http.StatusForbidden {
		t.Errorf("blocked ip = %d, want 403", rr.Code)
	}
	if body := decode(t, rr, nil); body.Code != "ERR_IP_FORBIDDEN" {
		t.Errorf("code = %q", body.Code)
	}
}

// ── Ledger ────────────────────────────────────────────────────────────────────

func TestFundingAndLedgerView(t *testing.T) {
	e := newEnv(t, "")
	assoc, book := e.account("alice")

	body := fmt.Sprintf(`{"associate_id":%q,"bookmaker_id":%q,"type":"WITHDRAWAL","amount":"50","currency":"gbp","note":"cash out"}`, assoc, book)
	rr := e.do(http.MethodPost, "/admin/funding", body, service.RoleAdmin)
	if rr.Code != http.StatusCreated {
		t.Fatalf("funding = %d: %s", rr.Code, rr.Body.String())
	}
	var entry domain.LedgerEntry
	decode(t, rr, &entry)
	if !entry.AmountNative.Equal(decimal.NewFromInt(-50)) || !entry.AmountEUR.Equal(decimal.NewFromInt(-60)) {
		t.Errorf("entry = %s %s / %s EUR, want -50 GBP / -60 EUR", entry.AmountNative, entry.NativeCurrency, entry.AmountEUR)
	}
	if entry.CreatedBy != "ops-admin" {
		t.Errorf("created_by = %q, want token subject", entry.CreatedBy)
	}

	rr = e.do(http.MethodGet, "/admin/ledger?type=WITHDRAWAL&associate_id="+assoc.String(), "", service.RoleAdmin)
	var entries []domain.LedgerEntry
	decode(t, rr, &entries)
	if len(entries) != 1 || entries[0].ID != entry.ID {
		t.Errorf("ledger = %+v", entries)
	}

	if rr := e.do(http.MethodGet, "/admin/ledger?associate_id=nope", "", service.RoleAdmin); rr.Code != http.StatusBadRequest {
		t.Errorf("bad associate_id = %d, want 400", rr.Code)
	}
}

func TestLedgerRowsCannotBeModified(t *testing.T) {
	e := newEnv(t, "")
	assoc, _ := e.account("alice")
	rr := e.do(http.MethodPost, "/admin/funding",
		fmt.Sprintf(`{"associate_id":%q,"type":"DEPOSIT","amount":"100","currency":"EUR"}`, assoc), service.RoleAdmin)
	var entry domain.LedgerEntry
	decode(t, rr, &entry)

	for _, method := range []string{http.MethodPut, http.MethodDelete} {
		rr := e.do(method, "/admin/ledger/"+entry.ID.String(), `{"amount_native":"1"}`, service.RoleAdmin)
		if rr.Code != http.StatusConflict {
			t.Errorf("%s = %d, want 409", method, rr.Code)
		}
		if body := decode(t, rr, nil); body.Code != "ERR_INTEGRITY" {
			t.Errorf("%s code = %q", method, body.Code)
		}
	}
	entries := e.store.Entries()
	if len(entries) != 1 || !entries[0].AmountNative.Equal(decimal.NewFromInt(100)) {
		t.Errorf("ledger changed: %+v", entries)
	}
}

func TestCorrections(t *testing.T) {
	e := newEnv(t, "")
	alice, book := e.account("alice")
	bob, _ := e.account("bob")

	rr := e.do(http.MethodPost, "/admin/corrections",
		fmt.Sprintf(`{"associate_id":%q,"bookmaker_id":%q,"amount":"25","currency":"GBP","note":"late payout","counterparty_id":%q}`, alice, book, bob),
		service.RoleAdmin)
	if rr.Code != http.StatusCreated {
		t.Fatalf("correction = %d: %s", rr.Code, rr.Body.String())
	}
	var res service.CorrectionResult
	decode(t, rr, &res)
	if res.Link == nil || res.Link.WinnerAssociateID != alice || !res.Link.AmountEUR.Equal(decimal.NewFromInt(30)) {
		t.Errorf("link = %+v, want alice winning 30", res.Link)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"zero amount", fmt.Sprintf(`{"associate_id":%q,"bookmaker_id":%q,"amount":"0","currency":"EUR","note":"x"}`, alice, book), http.StatusBadRequest},
		{"empty note", fmt.Sprintf(`{"associate_id":%q,"bookmaker_id":%q,"amount":"1","currency":"EUR"}`, alice, book), http.StatusBadRequest},
		{"unknown associate", fmt.Sprintf(`{"associate_id":%q,"bookmaker_id":%q,"amount":"1","currency":"EUR","note":"x"}`, uuid.New(), book), http.StatusNotFound},
		{"missing bookmaker", fmt.Sprintf(`{"associate_id":%q,"amount":"1","currency":"EUR","note":"x"}`, alice), http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if rr := e.do(http.MethodPost, "/admin/corrections", tc.body, service.RoleAdmin); rr.Code != tc.want {
				t.Errorf("status = %d, want %d: %s", rr.Code, tc.want, rr.Body.String())
			}
		})
	}
}

// ── Jobs ──────────────────────────────────────────────────────────────────────

func TestSweepAndBackfill(t *testing.T) {
	e := newEnv(t, "")
	over := e.verifiedBet("alice", domain.SideOver, "100", "1.90", 1)
	under := e.verifiedBet("bob", domain.SideUnder, "80", "2.10", 2)

	rr := e.do(http.MethodPost, "/admin/bets/sweep?limit=10", "", service.RoleAdmin)
	if rr.Code != http.StatusOK {
		t.Fatalf("sweep = %d: %s", rr.Code, rr.Body.String())
	}
	var sweep struct {
		Matched int `json:"matched"`
	}
	decode(t, rr, &sweep)
	if sweep.Matched != 1 {
		t.Errorf("matched = %d, want 1", sweep.Matched)
	}
	if rr := e.do(http.MethodPost, "/admin/bets/sweep?limit=0", "", service.RoleAdmin); rr.Code != http.StatusBadRequest {
		t.Errorf("limit=0 = %d, want 400", rr.Code)
	}

	res, err := e.matcher.AttemptMatch(context.Background(), over.ID)
	if err != nil || !res.Matched {
		t.Fatalf("over not matched: %+v %v", res, err)
	}
	if _, err := e.settlement.Settle(context.Background(), res.SurebetID, map[uuid.UUID]domain.Outcome{
		over.ID:  domain.OutcomeWon,
		under.ID: domain.OutcomeLost,
	}, "operator-1"); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	e.store.DropLink(res.SurebetID)

	rr = e.do(http.MethodPost, "/admin/provenance/backfill/"+under.AssociateID.String(), "", service.RoleAdmin)
	if rr.Code != http.StatusOK {
		t.Fatalf("backfill = %d: %s", rr.Code, rr.Body.String())
	}
	var rep domain.BackfillReport
	decode(t, rr, &rep)
	if rep.Created != 1 {
		t.Errorf("report = %+v, want 1 created", rep)
	}
	if links := e.store.Links(); len(links) != 1 || !links[0].AmountEUR.Equal(decimal.NewFromInt(85)) {
		t.Errorf("links = %+v", links)
	}

	rr = e.do(http.MethodPost, "/admin/provenance/backfill", "", service.RoleAdmin)
	var reps []domain.BackfillReport
	decode(t, rr, &reps)
	for _, r := range reps {
		if r.Created != 0 {
			t.Errorf("second backfill created %d for %s", r.Created, r.AssociateID)
		}
	}
}
