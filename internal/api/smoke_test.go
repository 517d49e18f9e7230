// Package api_test runs HTTP-level tests against the router backed by the
// in-memory store. No PostgreSQL is required.
package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/evetabi/surebet/internal/api"
	"github.com/evetabi/surebet/internal/config"
	"github.com/evetabi/surebet/internal/domain"
	"github.com/evetabi/surebet/internal/repository/memory"
	"github.com/evetabi/surebet/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

func init() { gin.SetMode(gin.TestMode) }

// ── Test helpers ──────────────────────────────────────────────────────────────

func testCfg() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Env:  "development",
			Port: "8080",
		},
		JWT: config.JWTConfig{
			AccessSecret: "test-access-secret-abcdefghijklmnop",
			AccessTTL:    15 * time.Minute,
		},
	}
}

type env struct {
	t       *testing.T
	h       http.Handler
	auth    *service.AuthService
	store   *memory.Store
	eventID uuid.UUID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := testCfg()
	store := memory.New()
	reg := prometheus.NewRegistry()
	metrics := service.NewMetrics(reg)
	auth := service.NewAuthService(cfg.JWT)
	ledger := service.NewLedgerService(store, store, []string{"EUR", "GBP"}, metrics)
	prov := service.NewProvenanceService(store, metrics)

	r := api.SetupRouter(api.RouterDeps{
		AuthSvc:       auth,
		MatchSvc:      service.NewMatchService(store, ledger, nil, metrics),
		SettlementSvc: service.NewSettlementService(store, ledger, prov, nil, metrics),
		ProvenanceSvc: prov,
		LedgerSvc:     ledger,
		Registry:      reg,
		Cfg:           cfg,
	})
	return &env{t: t, h: r, auth: auth, store: store, eventID: uuid.New()}
}

func (e *env) token(role string) string {
	e.t.Helper()
	tok, err := e.auth.IssueAccessToken(role+"-1", role)
	if err != nil {
		e.t.Fatalf("IssueAccessToken: %v", err)
	}
	return tok
}

func (e *env) do(method, path, body, token string) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var e envelope
	if err := json.NewDecoder(rr.Body).Decode(&e); err != nil {
		t.Fatalf("response is not valid JSON: %v, body: %s", err, rr.Body.String())
	}
	return e
}

// account seeds an associate with one bookmaker and returns both ids.
func (e *env) account(alias string) (uuid.UUID, uuid.UUID) {
	a := domain.Associate{ID: uuid.New(), Alias: alias, IsActive: true, CreatedAt: time.Now()}
	b := domain.Bookmaker{ID: uuid.New(), AssociateID: a.ID, Name: alias + "-book", IsActive: true, CreatedAt: time.Now()}
	e.store.AddAssociate(a)
	e.store.AddBookmaker(b)
	return a.ID, b.ID
}

func (e *env) verifiedBet(alias string, side domain.Side, stake, odds string, offset time.Duration) domain.Bet {
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
		CreatedAt:        time.Date(2026, 5, 2, 18, 0, 0, 0, time.UTC).Add(offset),
	}
	e.store.PutBet(b)
	return b
}

// ── /health and /metrics ──────────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	e := newEnv(t)
	rr := e.do(http.MethodGet, "/health", "", "")
	if rr.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	b := e.verifiedBet("alice", domain.SideOver, "100", "1.90", 0)
	if rr := e.do(http.MethodPost, "/api/bets/"+b.ID.String()+"/match", "", e.token(service.RoleService)); rr.Code != http.StatusOK {
		t.Fatalf("match = %d: %s", rr.Code, rr.Body.String())
	}

	rr := e.do(http.MethodGet, "/metrics", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `surebet_match_attempts_total{result="no_candidate"} 1`) {
		t.Errorf("metrics missing match attempt, got:\n%s", rr.Body.String())
	}
}

// ── Auth ──────────────────────────────────────────────────────────────────────

func TestProtectedRoutesRequireToken(t *testing.T) {
	e := newEnv(t)
	id := uuid.NewString()
	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/bets/" + id + "/match"},
		{http.MethodGet, "/api/surebets/" + id},
		{http.MethodPost, "/api/surebets/" + id + "/settlement/preview"},
		{http.MethodPost, "/api/surebets/" + id + "/settlement/commit"},
		{http.MethodGet, "/api/surebets/" + id + "/provenance"},
		{http.MethodGet, "/api/associates/" + id + "/provenance"},
		{http.MethodGet, "/api/associates/" + id + "/balance"},
		{http.MethodGet, "/api/associates/" + id + "/ledger"},
	}
	for _, r := range routes {
		if rr := e.do(r.method, r.path, "", ""); rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token = %d, want 401", r.method, r.path, rr.Code)
		}
		if rr := e.do(r.method, r.path, "", "not.a.valid.jwt"); rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s with bad token = %d, want 401", r.method, r.path, rr.Code)
		}
	}
}

func TestSettlementRequiresOperatorRole(t *testing.T) {
	e := newEnv(t)
	rr := e.do(http.MethodPost, "/api/surebets/"+uuid.NewString()+"/settlement/preview",
		`{"outcomes":{}}`, e.token(service.RoleService))
	if rr.Code != http.StatusForbidden {
		t.Errorf("preview as service = %d, want 403", rr.Code)
	}
	if body := decodeBody(t, rr); body.Success || body.Code != "ERR_FORBIDDEN" {
		t.Errorf("envelope = %+v", body)
	}
}

// ── Validation and error mapping ──────────────────────────────────────────────

func TestInvalidIDReturns400(t *testing.T) {
	e := newEnv(t)
	rr := e.do(http.MethodGet, "/api/surebets/not-a-uuid", "", e.token(service.RoleOperator))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("GET bad id = %d, want 400", rr.Code)
	}
	body := decodeBody(t, rr)
	if body.Success || body.Code != "ERR_INVALID_ID" {
		t.Errorf("envelope = %+v", body)
	}
}

func TestUnknownSurebetReturns404(t *testing.T) {
	e := newEnv(t)
	rr := e.do(http.MethodGet, "/api/surebets/"+uuid.NewString(), "", e.token(service.RoleOperator))
	if rr.Code != http.StatusNotFound {
		t.Errorf("GET unknown surebet = %d, want 404", rr.Code)
	}
}

func TestLedgerRejectsUnknownType(t *testing.T) {
	e := newEnv(t)
	assoc, _ := e.account("carol")
	rr := e.do(http.MethodGet, "/api/associates/"+assoc.String()+"/ledger?type=REFUND", "", e.token(service.RoleOperator))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("ledger?type=REFUND = %d, want 400", rr.Code)
	}
}

// ── End to end: match, preview, commit, provenance ────────────────────────────

func TestMatchSettleFlow(t *testing.T) {
	e := newEnv(t)
	over := e.verifiedBet("alice", domain.SideOver, "100", "1.90", 0)
	under := e.verifiedBet("bob", domain.SideUnder, "80", "2.10", time.Minute)
	svc := e.token(service.RoleService)
	op := e.token(service.RoleOperator)

	var match service.MatchResult
	for _, b := range []domain.Bet{over, under} {
		rr := e.do(http.MethodPost, "/api/bets/"+b.ID.String()+"/match", "", svc)
		if rr.Code != http.StatusOK {
			t.Fatalf("match %s = %d: %s", b.ID, rr.Code, rr.Body.String())
		}
		if err := json.Unmarshal(decodeBody(t, rr).Data, &match); err != nil {
			t.Fatalf("decode match: %v", err)
		}
	}
	if !match.Matched {
		t.Fatalf("second bet did not match: %+v", match)
	}
	sb := "/api/surebets/" + match.SurebetID.String()

	rr := e.do(http.MethodGet, sb, "", op)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET surebet = %d", rr.Code)
	}
	var view service.SurebetView
	if err := json.Unmarshal(decodeBody(t, rr).Data, &view); err != nil {
		t.Fatalf("decode surebet: %v", err)
	}
	if len(view.Legs) != 2 || view.Legs[0].Side != domain.SideA {
		t.Fatalf("legs = %+v", view.Legs)
	}

	outcomes := fmt.Sprintf(`{"outcomes":{%q:"WON",%q:"LOST"}}`, over.ID, under.ID)
	rr = e.do(http.MethodPost, sb+"/settlement/preview", outcomes, op)
	if rr.Code != http.StatusOK {
		t.Fatalf("preview = %d: %s", rr.Code, rr.Body.String())
	}
	previewJSON := decodeBody(t, rr).Data
	var preview domain.SettlementPreview
	if err := json.Unmarshal(previewJSON, &preview); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if !preview.SurebetProfitEUR.Equal(decimal.NewFromInt(10)) {
		t.Errorf("profit = %s, want 10", preview.SurebetProfitEUR)
	}
	if len(e.store.Entries()) == 0 {
		t.Fatal("matching should have captured stakes")
	}
	before := len(e.store.Entries())

	forged := preview
	forged.Rows = append([]domain.SettlementRow(nil), preview.Rows...)
	forged.Rows[0].TotalEUR = decimal.NewFromInt(1000000)
	forgedJSON, _ := json.Marshal(forged)
	rr = e.do(http.MethodPost, sb+"/settlement/commit", `{"preview":`+string(forgedJSON)+`}`, op)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("forged commit = %d, want 400: %s", rr.Code, rr.Body.String())
	}
	if len(e.store.Entries()) != before {
		t.Fatal("forged commit wrote ledger entries")
	}

	rr = e.do(http.MethodPost, sb+"/settlement/commit", `{"preview":`+string(previewJSON)+`}`, op)
	if rr.Code != http.StatusCreated {
		t.Fatalf("commit = %d: %s", rr.Code, rr.Body.String())
	}
	var res service.SettlementResult
	if err := json.Unmarshal(decodeBody(t, rr).Data, &res); err != nil {
		t.Fatalf("decode commit: %v", err)
	}
	if res.Link == nil || !res.Link.AmountEUR.Equal(decimal.NewFromInt(85)) {
		t.Errorf("link = %+v, want 85.00", res.Link)
	}
	for _, entry := range res.Entries {
		if entry.CreatedBy != "operator-1" {
			t.Errorf("entry author = %q, want token subject", entry.CreatedBy)
		}
	}
	if len(e.store.Entries()) <= before {
		t.Error("commit wrote no entries")
	}

	rr = e.do(http.MethodPost, sb+"/settlement/commit", outcomes, op)
	if rr.Code != http.StatusConflict {
		t.Errorf("second commit = %d, want 409", rr.Code)
	}

	rr = e.do(http.MethodGet, sb+"/provenance", "", op)
	if rr.Code != http.StatusOK {
		t.Fatalf("surebet provenance = %d", rr.Code)
	}

	rr = e.do(http.MethodGet, "/api/associates/"+over.AssociateID.String()+"/provenance", "", op)
	var sum domain.ProvenanceSummary
	if err := json.Unmarshal(decodeBody(t, rr).Data, &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if !sum.TotalEUR.Equal(decimal.NewFromInt(85)) {
		t.Errorf("alice total = %s, want 85", sum.TotalEUR)
	}

	rr = e.do(http.MethodGet, "/api/associates/"+under.AssociateID.String()+"/ledger?type=BET_RESULT", "", op)
	var entries []domain.LedgerEntry
	if err := json.Unmarshal(decodeBody(t, rr).Data, &entries); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	if len(entries) != 1 || !entries[0].AmountEUR.Equal(decimal.NewFromInt(5)) {
		t.Errorf("bob results = %+v, want one entry of 5", entries)
	}

	rr = e.do(http.MethodGet, "/api/associates/"+under.AssociateID.String()+"/balance", "", op)
	var bal domain.Balance
	if err := json.Unmarshal(decodeBody(t, rr).Data, &bal); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if !bal.TotalEUR.Equal(decimal.NewFromInt(5)) || !bal.StakedEUR.IsZero() {
		t.Errorf("bob balance = %+v", bal)
	}
}

func TestCommitRejectsPreviewForOtherSurebet(t *testing.T) {
	e := newEnv(t)
	p := domain.SettlementPreview{SurebetID: uuid.New(), ComputedAt: time.Now()}
	raw, _ := json.Marshal(p)
	rr := e.do(http.MethodPost, "/api/surebets/"+uuid.NewString()+"/settlement/commit",
		`{"preview":`+string(raw)+`}`, e.token(service.RoleAdmin))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("mismatched preview = %d, want 400", rr.Code)
	}
}

// ── Rate limiting ─────────────────────────────────────────────────────────────

func TestRateLimitPerCaller(t *testing.T) {
	cfg := testCfg()
	cfg.Server.RateLimitRPS = 0.001
	cfg.Server.RateLimitBurst = 2
	store := memory.New()
	auth := service.NewAuthService(cfg.JWT)
	ledger := service.NewLedgerService(store, store, []string{"EUR"}, nil)
	h := api.SetupRouter(api.RouterDeps{
		AuthSvc:       auth,
		LedgerSvc:     ledger,
		ProvenanceSvc: service.NewProvenanceService(store, nil),
		Cfg:           cfg,
	})

	call := func(sub string) int {
		tok, _ := auth.IssueAccessToken(sub, service.RoleOperator)
		req := httptest.NewRequest(http.MethodGet, "/api/associates/"+uuid.NewString()+"/balance", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	for i := 0; i < 2; i++ {
		if code := call("a"); code == http.StatusTooManyRequests {
			t.Fatalf("request %d limited too early", i)
		}
	}
	if code := call("a"); code != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", code)
	}
	if code := call("b"); code == http.StatusTooManyRequests {
		t.Error("other caller should have its own bucket")
	}
}

// ── CORS ──────────────────────────────────────────────────────────────────────

func TestCORSOptionsRequest(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/surebets/x/settlement/preview", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("OPTIONS = %d, want 204", rr.Code)
	}
	if allow := rr.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(allow, "POST") {
		t.Errorf("Access-Control-Allow-Methods missing POST, got %q", allow)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("dev CORS origin = %q, want *", origin)
	}
}

func TestCORSProductionAllowList(t *testing.T) {
	cfg := testCfg()
	cfg.Server.Env = "production"
	cfg.Server.AllowedOrigins = []string{"https://ops.example.com"}
	h := api.SetupRouter(api.RouterDeps{AuthSvc: service.NewAuthService(cfg.JWT), Cfg: cfg})
	t.Cleanup(func() { gin.SetMode(gin.TestMode) })

	for origin, want := range map[string]string{
		"https://ops.example.com":  "https://ops.example.com",
		"https://evil.example.com": "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", origin)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Errorf("origin %s: allow = %q, want %q", origin, got, want)
		}
	}
}
