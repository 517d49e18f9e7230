package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const surebetColumns = `id, canonical_event_id, market_code, period_scope, line_value, status,
	worst_case_profit_eur, total_stake_eur, roi, settled_at, created_at, updated_at`

// SurebetRepository handles surebets and their bet links.
type SurebetRepository struct{}

// NewSurebetRepository creates a new SurebetRepository.
func NewSurebetRepository() *SurebetRepository {
	return &SurebetRepository{}
}

// LockKey takes a transaction-scoped advisory lock on the market key so that
// concurrent matchers on one market serialise.
func (r *SurebetRepository) LockKey(ctx context.Context, tx *sqlx.Tx, key domain.MarketKey) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key.String()); err != nil {
		return fmt.Errorf("surebet_repo.LockKey: %w", err)
	}
	return nil
}

// Get fetches a surebet, optionally locking its row.
func (r *SurebetRepository) Get(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, forUpdate bool) (*domain.Surebet, error) {
	query := `SELECT ` + surebetColumns + ` FROM surebets WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var sb domain.Surebet
	if err := tx.GetContext(ctx, &sb, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSurebetNotFound, id)
		}
		return nil, fmt.Errorf("surebet_repo.Get: %w", err)
	}
	return &sb, nil
}

// FindOpenForBets returns the open surebet on key that already holds one of
// betIDs, locked for update.
func (r *SurebetRepository) FindOpenForBets(ctx context.Context, tx *sqlx.Tx, key domain.MarketKey, betIDs []uuid.UUID) (*domain.Surebet, error) {
	if len(betIDs) == 0 {
		return nil, domain.ErrSurebetNotFound
	}
	var sb domain.Surebet
	err := tx.GetContext(ctx, &sb, `
		SELECT s.id, s.canonical_event_id, s.market_code, s.period_scope, s.line_value, s.status,
		       s.worst_case_profit_eur, s.total_stake_eur, s.roi, s.settled_at, s.created_at, s.updated_at
		FROM surebets s
		JOIN surebet_bets sb ON sb.surebet_id = s.id
		WHERE sb.bet_id = ANY($1::uuid[])
		  AND s.status = 'open'
		  AND s.canonical_event_id = $2
		  AND s.market_code  = $3
		  AND s.period_scope = $4
		  AND s.line_value IS NOT DISTINCT FROM $5::numeric
		ORDER BY s.created_at ASC
		LIMIT 1
		FOR UPDATE OF s`,
		pq.Array(uuidStrings(betIDs)), key.EventID, key.MarketCode, key.PeriodScope, key.Line)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSurebetNotFound
		}
		return nil, fmt.Errorf("surebet_repo.FindOpenForBets: %w", err)
	}
	return &sb, nil
}

// IDForBet returns the surebet a bet is linked to.
func (r *SurebetRepository) IDForBet(ctx context.Context, tx *sqlx.Tx, betID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.GetContext(ctx, &id, `SELECT surebet_id FROM surebet_bets WHERE bet_id = $1`, betID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("%w: bet %s is not linked", domain.ErrSurebetNotFound, betID)
		}
		return uuid.Nil, fmt.Errorf("surebet_repo.IDForBet: %w", err)
	}
	return id, nil
}

// Create inserts a new open surebet.
func (r *SurebetRepository) Create(ctx context.Context, tx *sqlx.Tx, sb *domain.Surebet) error {
	query := `
		INSERT INTO surebets
			(id, canonical_event_id, market_code, period_scope, line_value, status, created_at, updated_at)
		VALUES
			(:id, :canonical_event_id, :market_code, :period_scope, :line_value, :status, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, sb); err != nil {
		return mapError("surebet_repo.Create", err)
	}
	return nil
}

// LinkBet attaches a bet to a surebet side. Re-linking the same bet to the
// same side is a no-op; any other re-link is rejected.
func (r *SurebetRepository) LinkBet(ctx context.Context, tx *sqlx.Tx, link domain.SurebetBet) (bool, error) {
	var existing domain.SurebetBet
	err := tx.GetContext(ctx, &existing,
		`SELECT surebet_id, bet_id, side, created_at FROM surebet_bets WHERE bet_id = $1`, link.BetID)
	switch {
	case err == nil:
		if existing.SurebetID != link.SurebetID {
			return false, fmt.Errorf("%w: bet %s in surebet %s", domain.ErrBetAlreadyLinked, link.BetID, existing.SurebetID)
		}
		if existing.Side != link.Side {
			return false, fmt.Errorf("%w: bet %s is on side %s", domain.ErrSideImmutable, link.BetID, existing.Side)
		}
		return false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("surebet_repo.LinkBet: %w", err)
	}

	query := `
		INSERT INTO surebet_bets (surebet_id, bet_id, side, created_at)
		VALUES (:surebet_id, :bet_id, :side, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, link); err != nil {
		return false, mapError("surebet_repo.LinkBet", err)
	}
	return true, nil
}

type legRow struct {
	LegSide domain.SideTag `db:"leg_side"`
	domain.Bet
}

// ListLegs returns every bet linked to the surebet with its side.
func (r *SurebetRepository) ListLegs(ctx context.Context, tx *sqlx.Tx, surebetID uuid.UUID) ([]domain.SurebetLeg, error) {
	var rows []legRow
	err := tx.SelectContext(ctx, &rows, `
		SELECT sb.side AS leg_side,
		       b.id, b.associate_id, b.bookmaker_id, b.canonical_event_id, b.market_code,
		       b.period_scope, b.line_value, b.side, b.is_supported, b.stake_original, b.stake_eur,
		       b.odds_normalized, b.odds_original, b.currency, b.status, b.created_at, b.updated_at
		FROM surebet_bets sb
		JOIN bets b ON b.id = sb.bet_id
		WHERE sb.surebet_id = $1
		ORDER BY sb.side ASC, b.created_at ASC, b.id ASC`,
		surebetID)
	if err != nil {
		return nil, fmt.Errorf("surebet_repo.ListLegs: %w", err)
	}
	legs := make([]domain.SurebetLeg, len(rows))
	for i := range rows {
		bet := rows[i].Bet
		legs[i] = domain.SurebetLeg{Side: rows[i].LegSide, Bet: &bet}
	}
	return legs, nil
}

// UpdateRisk stores the latest risk figures.
func (r *SurebetRepository) UpdateRisk(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, m domain.RiskMetrics) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE surebets
		SET worst_case_profit_eur = $2,
		    total_stake_eur       = $3,
		    roi                   = $4,
		    updated_at            = now()
		WHERE id = $1`,
		id, m.WorstCaseProfitEUR, m.TotalStakeEUR, m.ROI)
	if err != nil {
		return fmt.Errorf("surebet_repo.UpdateRisk: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSurebetNotFound, id)
	}
	return nil
}

// MarkSettled flips an open surebet to settled.
func (r *SurebetRepository) MarkSettled(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE surebets
		SET status     = 'settled',
		    settled_at = $2,
		    updated_at = $2
		WHERE id = $1 AND status = 'open'`,
		id, at)
	if err != nil {
		return fmt.Errorf("surebet_repo.MarkSettled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSurebetNotOpen, id)
	}
	return nil
}

// SettledIDsForAssociate lists settled surebets in which the associate has a
// BET_RESULT entry.
func (r *SurebetRepository) SettledIDsForAssociate(ctx context.Context, tx *sqlx.Tx, associateID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := tx.SelectContext(ctx, &ids, `
		SELECT DISTINCT le.surebet_id
		FROM ledger_entries le
		JOIN surebets s ON s.id = le.surebet_id
		WHERE le.type = 'BET_RESULT'
		  AND le.associate_id = $1
		  AND s.status = 'settled'
		ORDER BY le.surebet_id`,
		associateID)
	if err != nil {
		return nil, fmt.Errorf("surebet_repo.SettledIDsForAssociate: %w", err)
	}
	return ids, nil
}
