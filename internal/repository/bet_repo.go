package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const betColumns = `id, associate_id, bookmaker_id, canonical_event_id, market_code,
	period_scope, line_value, side, is_supported, stake_original, stake_eur,
	odds_normalized, odds_original, currency, status, created_at, updated_at`

// BetRepository reads and advances bets. Bets are written by the ingestion
// pipeline; this package only moves their status forward.
type BetRepository struct{}

// NewBetRepository creates a new BetRepository.
func NewBetRepository() *BetRepository {
	return &BetRepository{}
}

// GetForUpdate fetches a bet and locks its row until the transaction ends.
func (r *BetRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Bet, error) {
	var b domain.Bet
	err := tx.GetContext(ctx, &b, `SELECT `+betColumns+` FROM bets WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrBetNotFound, id)
		}
		return nil, fmt.Errorf("bet_repo.GetForUpdate: %w", err)
	}
	return &b, nil
}

// FindCandidates returns verified or matched bets on side for the market key,
// oldest first. The key is compared again in Go so a NULL line only equals a
// NULL line.
func (r *BetRepository) FindCandidates(ctx context.Context, tx *sqlx.Tx, key domain.MarketKey, side domain.Side, excludeBetID uuid.UUID) ([]*domain.Bet, error) {
	var bets []*domain.Bet
	err := tx.SelectContext(ctx, &bets, `
		SELECT `+betColumns+`
		FROM bets
		WHERE canonical_event_id = $1
		  AND market_code  = $2
		  AND period_scope = $3
		  AND line_value IS NOT DISTINCT FROM $4::numeric
		  AND side   = $5
		  AND id    <> $6
		  AND status IN ('verified', 'matched')
		ORDER BY created_at ASC, id ASC`,
		key.EventID, key.MarketCode, key.PeriodScope, key.Line, string(side), excludeBetID)
	if err != nil {
		return nil, fmt.Errorf("bet_repo.FindCandidates: %w", err)
	}
	out := bets[:0]
	for _, b := range bets {
		if k, ok := b.MarketKey(); ok && k.Equal(key) {
			out = append(out, b)
		}
	}
	return out, nil
}

// UpdateStatus moves a bet from one status to the next. It fails with
// domain.ErrInvalidTransition when the transition is not allowed or the bet is
// no longer in from.
func (r *BetRepository) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from, to domain.BetStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s → %s", domain.ErrInvalidTransition, from, to)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE bets
		SET status     = $3,
		    updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("bet_repo.UpdateStatus: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: bet %s is not %s", domain.ErrInvalidTransition, id, from)
	}
	return nil
}

// ListVerifiedIDs returns up to limit verified bet ids, oldest first. A limit
// of zero or less means no limit.
func (r *BetRepository) ListVerifiedIDs(ctx context.Context, tx *sqlx.Tx, limit int) ([]uuid.UUID, error) {
	query := `SELECT id FROM bets WHERE status = 'verified' ORDER BY created_at ASC, id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	var ids []uuid.UUID
	if err := tx.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("bet_repo.ListVerifiedIDs: %w", err)
	}
	return ids, nil
}
