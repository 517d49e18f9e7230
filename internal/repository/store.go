// Package repository is the Postgres implementation of the ledger store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/evetabi/surebet/internal/service"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	_ service.Store      = (*Store)(nil)
	_ service.Tx         = (*pgTx)(nil)
	_ service.RateSource = (*FXRepository)(nil)
)

// Postgres error codes handled explicitly.
const (
	codeUniqueViolation pq.ErrorCode = "23505"
	codeRaiseException  pq.ErrorCode = "P0001"
)

// Unique indexes that guard domain invariants, see migrations/001_core.sql.
var constraintErrors = map[string]error{
	"uq_ledger_bet_result":        domain.ErrDuplicateResult,
	"uq_links_settlement_surebet": domain.ErrLinkExists,
	"uq_surebet_bets_bet":         domain.ErrBetAlreadyLinked,
	"uq_surebets_open_key":        domain.ErrSurebetNotOpen,
}

// Store runs service transactions against Postgres.
type Store struct {
	db       *sqlx.DB
	refs     *ReferenceRepository
	bets     *BetRepository
	surebets *SurebetRepository
	ledger   *LedgerRepository
	links    *LinkRepository
}

// NewStore creates a Store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:       db,
		refs:     NewReferenceRepository(),
		bets:     NewBetRepository(),
		surebets: NewSurebetRepository(),
		ledger:   NewLedgerRepository(),
		links:    NewLinkRepository(),
	}
}

// WithTx runs fn inside one database transaction. The transaction is rolled
// back when fn fails and committed otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(service.Tx) error) (txErr error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store.WithTx: begin tx: %w", err)
	}
	defer func() {
		if txErr != nil {
			_ = tx.Rollback()
		}
	}()

	if txErr = fn(&pgTx{tx: tx, s: s}); txErr != nil {
		return txErr
	}
	if txErr = tx.Commit(); txErr != nil {
		return mapError("store.WithTx: commit", txErr)
	}
	return nil
}

// mapError wraps err with op, translating constraint and trigger failures
// into domain errors.
func mapError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			if target, ok := constraintErrors[pqErr.Constraint]; ok {
				return fmt.Errorf("%s: %w", op, target)
			}
		case codeRaiseException:
			switch {
			case strings.Contains(pqErr.Message, "append-only"):
				return fmt.Errorf("%s: %w", op, domain.ErrLedgerImmutable)
			case strings.Contains(pqErr.Message, "side is immutable"):
				return fmt.Errorf("%s: %w", op, domain.ErrSideImmutable)
			}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
