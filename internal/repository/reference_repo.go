package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ReferenceRepository reads associates and bookmakers, which are owned by
// the onboarding system.
type ReferenceRepository struct{}

// NewReferenceRepository creates a new ReferenceRepository.
func NewReferenceRepository() *ReferenceRepository {
	return &ReferenceRepository{}
}

// GetAssociate fetches an associate by id.
func (r *ReferenceRepository) GetAssociate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Associate, error) {
	var a domain.Associate
	err := tx.GetContext(ctx, &a, `SELECT id, alias, is_active, created_at FROM associates WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAssociateNotFound, id)
		}
		return nil, fmt.Errorf("reference_repo.GetAssociate: %w", err)
	}
	return &a, nil
}

// GetBookmaker fetches a bookmaker account by id.
func (r *ReferenceRepository) GetBookmaker(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Bookmaker, error) {
	var b domain.Bookmaker
	err := tx.GetContext(ctx, &b,
		`SELECT id, associate_id, name, is_active, created_at FROM bookmakers WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrBookmakerNotFound, id)
		}
		return nil, fmt.Errorf("reference_repo.GetBookmaker: %w", err)
	}
	return &b, nil
}

// Aliases maps the given associate ids to their aliases. Unknown ids are
// left out.
func (r *ReferenceRepository) Aliases(ctx context.Context, tx *sqlx.Tx, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []domain.Associate
	err := tx.SelectContext(ctx, &rows,
		`SELECT id, alias, is_active, created_at FROM associates WHERE id = ANY($1::uuid[])`,
		pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("reference_repo.Aliases: %w", err)
	}
	for _, a := range rows {
		out[a.ID] = a.Alias
	}
	return out, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
