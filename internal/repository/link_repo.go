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

const linkColumns = `id, kind, surebet_id, winner_associate_id, loser_associate_id,
	amount_eur, winner_entry_id, loser_entry_id, created_at`

// LinkRepository stores settlement and correction provenance links.
type LinkRepository struct{}

// NewLinkRepository creates a new LinkRepository.
func NewLinkRepository() *LinkRepository {
	return &LinkRepository{}
}

// Insert writes a link. A second settlement link for the same surebet fails
// with domain.ErrLinkExists.
func (r *LinkRepository) Insert(ctx context.Context, tx *sqlx.Tx, l *domain.SettlementLink) error {
	query := `
		INSERT INTO settlement_links
			(` + linkColumns + `)
		VALUES
			(:id, :kind, :surebet_id, :winner_associate_id, :loser_associate_id,
			 :amount_eur, :winner_entry_id, :loser_entry_id, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, l); err != nil {
		return mapError("link_repo.Insert", err)
	}
	return nil
}

// GetBySurebet fetches the settlement link of a surebet.
func (r *LinkRepository) GetBySurebet(ctx context.Context, tx *sqlx.Tx, surebetID uuid.UUID) (*domain.SettlementLink, error) {
	var l domain.SettlementLink
	err := tx.GetContext(ctx, &l,
		`SELECT `+linkColumns+` FROM settlement_links WHERE surebet_id = $1 AND kind = 'settlement'`, surebetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: surebet %s", domain.ErrLinkNotFound, surebetID)
		}
		return nil, fmt.Errorf("link_repo.GetBySurebet: %w", err)
	}
	return &l, nil
}

// ListForAssociate returns every link the associate is part of, oldest first.
func (r *LinkRepository) ListForAssociate(ctx context.Context, tx *sqlx.Tx, associateID uuid.UUID) ([]*domain.SettlementLink, error) {
	var links []*domain.SettlementLink
	err := tx.SelectContext(ctx, &links, `
		SELECT `+linkColumns+`
		FROM settlement_links
		WHERE winner_associate_id = $1 OR loser_associate_id = $1
		ORDER BY created_at ASC, id ASC`,
		associateID)
	if err != nil {
		return nil, fmt.Errorf("link_repo.ListForAssociate: %w", err)
	}
	return links, nil
}
