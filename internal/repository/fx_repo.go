package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// FXRepository reads FX snapshots written by the rate collector.
type FXRepository struct {
	db *sqlx.DB
}

// NewFXRepository creates a new FXRepository.
func NewFXRepository(db *sqlx.DB) *FXRepository {
	return &FXRepository{db: db}
}

// LatestRate returns the most recent EUR-per-unit rate for currency.
func (r *FXRepository) LatestRate(ctx context.Context, currency string) (decimal.Decimal, error) {
	currency = domain.NormalizeCurrency(currency)
	var rate decimal.Decimal
	err := r.db.GetContext(ctx, &rate, `
		SELECT rate_to_eur
		FROM fx_rates
		WHERE currency = $1
		ORDER BY rate_date DESC, fetched_at DESC
		LIMIT 1`,
		currency)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrFXRateMissing, currency)
		}
		return decimal.Zero, fmt.Errorf("fx_repo.LatestRate: %w", err)
	}
	return rate, nil
}
