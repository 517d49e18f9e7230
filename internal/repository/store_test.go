package repository_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/evetabi/surebet/internal/domain"
	"github.com/evetabi/surebet/internal/repository"
	"github.com/evetabi/surebet/internal/service"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	db := sqlx.NewDb(raw, "postgres")
	t.Cleanup(func() {
		db.Close()
	})
	return db, mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	db, mock := newMock(t)
	store := repository.NewStore(db)
	key := domain.MarketKey{EventID: uuid.New(), MarketCode: "TOTAL_GOALS", PeriodScope: "FT"}

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs(key.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(tx service.Tx) error {
		return tx.LockMarketKey(context.Background(), key)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	expectationsMet(t, mock)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	store := repository.NewStore(db)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(service.Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	expectationsMet(t, mock)
}

func TestAppendEntryMapsDuplicateResult(t *testing.T) {
	db, mock := newMock(t)
	store := repository.NewStore(db)
	betID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ledger_entries`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_ledger_bet_result"})
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx service.Tx) error {
		return tx.AppendEntry(context.Background(), &domain.LedgerEntry{
			ID:             uuid.New(),
			Type:           domain.EntryBetResult,
			AssociateID:    uuid.New(),
			AmountNative:   decimal.NewFromInt(5),
			NativeCurrency: "EUR",
			FXRateSnapshot: decimal.NewFromInt(1),
			AmountEUR:      decimal.NewFromInt(5),
			BetID:          &betID,
			CreatedAt:      time.Now(),
			CreatedBy:      "op",
		})
	})
	if !errors.Is(err, domain.ErrDuplicateResult) || !domain.IsConflict(err) {
		t.Fatalf("err = %v, want ErrDuplicateResult", err)
	}
	expectationsMet(t, mock)
}

func TestInsertLinkMapsExistingLink(t *testing.T) {
	db, mock := newMock(t)
	store := repository.NewStore(db)
	sbID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO settlement_links`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_links_settlement_surebet"})
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx service.Tx) error {
		return tx.InsertLink(context.Background(), &domain.SettlementLink{
			ID:                uuid.New(),
			Kind:              domain.LinkKindSettlement,
			SurebetID:         &sbID,
			WinnerAssociateID: uuid.New(),
			LoserAssociateID:  uuid.New(),
			AmountEUR:         decimal.NewFromInt(85),
		})
	})
	if !errors.Is(err, domain.ErrLinkExists) {
		t.Fatalf("err = %v, want ErrLinkExists", err)
	}
	expectationsMet(t, mock)
}

func TestGetBetForUpdateNotFound(t *testing.T) {
	db, mock := newMock(t)
	store := repository.NewStore(db)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bets WHERE id = \$1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx service.Tx) error {
		_, err := tx.GetBetForUpdate(context.Background(), id)
		return err
	})
	if !errors.Is(err, domain.ErrBetNotFound) {
		t.Fatalf("err = %v, want ErrBetNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestUpdateBetStatus(t *testing.T) {
	db, mock := newMock(t)
	store := repository.NewStore(db)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bets`).
		WithArgs(id, "verified", "matched").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx service.Tx) error {
		return tx.UpdateBetStatus(context.Background(), id, domain.BetStatusVerified, domain.BetStatusMatched)
	})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("stale status err = %v, want ErrInvalidTransition", err)
	}

	// Backward transitions never reach the database.
	mock.ExpectBegin()
	mock.ExpectRollback()
	err = store.WithTx(context.Background(), func(tx service.Tx) error {
		return tx.UpdateBetStatus(context.Background(), id, domain.BetStatusSettled, domain.BetStatusMatched)
	})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("backward err = %v, want ErrInvalidTransition", err)
	}
	expectationsMet(t, mock)
}

func TestMarkSurebetSettledRequiresOpen(t *testing.T) {
	db, mock := newMock(t)
	store := repository.NewStore(db)
	id := uuid.New()
	at := time.Date(2026, 5, 2, 21, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE surebets`).
		WithArgs(id, at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx service.Tx) error {
		return tx.MarkSurebetSettled(context.Background(), id, at)
	})
	if !errors.Is(err, domain.ErrSurebetNotOpen) {
		t.Fatalf("err = %v, want ErrSurebetNotOpen", err)
	}
	expectationsMet(t, mock)
}

func TestStakeTotals(t *testing.T) {
	db, mock := newMock(t)
	store := repository.NewStore(db)
	betID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SUM\(amount_native\)`).
		WithArgs(betID).
		WillReturnRows(sqlmock.NewRows([]string{"native_currency", "total"}).
			AddRow("EUR", "100.00").
			AddRow("GBP", "-20.50"))
	mock.ExpectCommit()

	var totals map[string]decimal.Decimal
	err := store.WithTx(context.Background(), func(tx service.Tx) error {
		var err error
		totals, err = tx.StakeTotals(context.Background(), betID)
		return err
	})
	if err != nil {
		t.Fatalf("StakeTotals: %v", err)
	}
	if !totals["EUR"].Equal(decimal.NewFromInt(100)) || !totals["GBP"].Equal(decimal.RequireFromString("-20.5")) {
		t.Errorf("totals = %v", totals)
	}
	expectationsMet(t, mock)
}

func TestLedgerMutationsRejectedWithoutSQL(t *testing.T) {
	db, mock := newMock(t)
	store := repository.NewStore(db)

	mock.ExpectBegin()
	mock.ExpectRollback()
	err := store.WithTx(context.Background(), func(tx service.Tx) error {
		return tx.DeleteEntry(context.Background(), uuid.New())
	})
	if !errors.Is(err, domain.ErrLedgerImmutable) {
		t.Fatalf("err = %v, want ErrLedgerImmutable", err)
	}
	expectationsMet(t, mock)
}

func TestAppendEntryMapsImmutableTrigger(t *testing.T) {
	db, mock := newMock(t)
	store := repository.NewStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ledger_entries`).
		WillReturnError(&pq.Error{Code: "P0001", Message: "ledger_entries is append-only"})
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx service.Tx) error {
		return tx.AppendEntry(context.Background(), &domain.LedgerEntry{ID: uuid.New(), Type: domain.EntryDeposit})
	})
	if !errors.Is(err, domain.ErrLedgerImmutable) {
		t.Fatalf("err = %v, want ErrLedgerImmutable", err)
	}
	expectationsMet(t, mock)
}

func TestSideTriggerMapsToSideImmutable(t *testing.T) {
	db, mock := newMock(t)
	store := repository.NewStore(db)

	mock.ExpectBegin()
	mock.ExpectCommit().
		WillReturnError(&pq.Error{Code: "P0001", Message: "surebet_bets.side is immutable"})

	err := store.WithTx(context.Background(), func(tx service.Tx) error { return nil })
	if !errors.Is(err, domain.ErrSideImmutable) {
		t.Fatalf("err = %v, want ErrSideImmutable", err)
	}
	expectationsMet(t, mock)
}

func TestCoreMigrationGuardsImmutableColumns(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("..", "..", "migrations", "001_core.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sql := string(raw)
	for _, want := range []string{
		"BEFORE UPDATE ON ledger_entries",
		"BEFORE DELETE ON ledger_entries",
		"BEFORE UPDATE OF side ON surebet_bets",
		"'surebet_bets.side is immutable'",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("001_core.sql is missing %q", want)
		}
	}
}

func TestLatestRate(t *testing.T) {
	db, mock := newMock(t)
	fx := repository.NewFXRepository(db)

	mock.ExpectQuery(`FROM fx_rates`).
		WithArgs("GBP").
		WillReturnRows(sqlmock.NewRows([]string{"rate_to_eur"}).AddRow("1.171235"))
	mock.ExpectQuery(`FROM fx_rates`).
		WithArgs("USD").
		WillReturnRows(sqlmock.NewRows([]string{"rate_to_eur"}))

	rate, err := fx.LatestRate(context.Background(), " gbp")
	if err != nil {
		t.Fatalf("LatestRate: %v", err)
	}
	if !rate.Equal(decimal.RequireFromString("1.171235")) {
		t.Errorf("rate = %s", rate)
	}
	if _, err := fx.LatestRate(context.Background(), "USD"); !errors.Is(err, domain.ErrFXRateMissing) {
		t.Errorf("missing rate err = %v", err)
	}
	expectationsMet(t, mock)
}

func TestMigrateRunsFilesInOrder(t *testing.T) {
	db, mock := newMock(t)
	dir := t.TempDir()
	files := map[string]string{
		"002_links.sql": "CREATE TABLE IF NOT EXISTS b (id INT);",
		"001_core.sql":  "CREATE TABLE IF NOT EXISTS a (id INT);",
		"README.md":     "not sql",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	mock.ExpectExec(`TABLE IF NOT EXISTS a`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`TABLE IF NOT EXISTS b`).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repository.Migrate(context.Background(), db, dir); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	expectationsMet(t, mock)
}
