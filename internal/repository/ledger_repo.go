package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const entryColumns = `id, type, associate_id, bookmaker_id, amount_native, native_currency,
	fx_rate_snapshot, amount_eur, settlement_state, principal_returned_eur,
	per_surebet_share_eur, net_gain_eur, surebet_id, bet_id, settlement_batch_id,
	opposing_associate_id, created_at, created_by, note`

// LedgerRepository appends to and reads from ledger_entries. Rows are never
// updated or deleted; the table triggers enforce the same rule.
type LedgerRepository struct{}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{}
}

// Append inserts one entry inside the caller's transaction.
func (r *LedgerRepository) Append(ctx context.Context, tx *sqlx.Tx, e *domain.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries
			(` + entryColumns + `)
		VALUES
			(:id, :type, :associate_id, :bookmaker_id, :amount_native, :native_currency,
			 :fx_rate_snapshot, :amount_eur, :settlement_state, :principal_returned_eur,
			 :per_surebet_share_eur, :net_gain_eur, :surebet_id, :bet_id, :settlement_batch_id,
			 :opposing_associate_id, :created_at, :created_by, :note)`
	if _, err := tx.NamedExecContext(ctx, query, e); err != nil {
		return mapError("ledger_repo.Append", err)
	}
	return nil
}

// Update is rejected without touching the database.
func (r *LedgerRepository) Update(_ context.Context, _ *sqlx.Tx, e *domain.LedgerEntry) error {
	return fmt.Errorf("%w: update of entry %s", domain.ErrLedgerImmutable, e.ID)
}

// Delete is rejected without touching the database.
func (r *LedgerRepository) Delete(_ context.Context, _ *sqlx.Tx, id uuid.UUID) error {
	return fmt.Errorf("%w: delete of entry %s", domain.ErrLedgerImmutable, id)
}

// Get fetches one entry.
func (r *LedgerRepository) Get(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := tx.GetContext(ctx, &e, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrEntryNotFound, id)
		}
		return nil, fmt.Errorf("ledger_repo.Get: %w", err)
	}
	return &e, nil
}

// List returns entries matching f, oldest first.
func (r *LedgerRepository) List(ctx context.Context, tx *sqlx.Tx, f domain.LedgerFilter) ([]*domain.LedgerEntry, error) {
	query, args := listQuery(f)
	var entries []*domain.LedgerEntry
	if err := tx.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("ledger_repo.List: %w", err)
	}
	return entries, nil
}

func listQuery(f domain.LedgerFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.AssociateID != nil {
		add("associate_id = $%d", *f.AssociateID)
	}
	if f.SurebetID != nil {
		add("surebet_id = $%d", *f.SurebetID)
	}
	if f.BetID != nil {
		add("bet_id = $%d", *f.BetID)
	}
	if f.SettlementBatchID != nil {
		add("settlement_batch_id = $%d", *f.SettlementBatchID)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		add("type = ANY($%d)", pq.Array(types))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + entryColumns + ` FROM ledger_entries`)
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY created_at ASC, id ASC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

// StakeTotals sums the BET_STAKE entries of a bet per native currency.
func (r *LedgerRepository) StakeTotals(ctx context.Context, tx *sqlx.Tx, betID uuid.UUID) (map[string]decimal.Decimal, error) {
	var rows []struct {
		Currency string          `db:"native_currency"`
		Total    decimal.Decimal `db:"total"`
	}
	err := tx.SelectContext(ctx, &rows, `
		SELECT native_currency, COALESCE(SUM(amount_native), 0) AS total
		FROM ledger_entries
		WHERE type = 'BET_STAKE' AND bet_id = $1
		GROUP BY native_currency`,
		betID)
	if err != nil {
		return nil, fmt.Errorf("ledger_repo.StakeTotals: %w", err)
	}
	totals := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		totals[strings.TrimSpace(row.Currency)] = row.Total
	}
	return totals, nil
}

// AssociatesWithResults lists associates that have at least one BET_RESULT.
func (r *LedgerRepository) AssociatesWithResults(ctx context.Context, tx *sqlx.Tx) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := tx.SelectContext(ctx, &ids,
		`SELECT DISTINCT associate_id FROM ledger_entries WHERE type = 'BET_RESULT' ORDER BY associate_id`)
	if err != nil {
		return nil, fmt.Errorf("ledger_repo.AssociatesWithResults: %w", err)
	}
	return ids, nil
}
