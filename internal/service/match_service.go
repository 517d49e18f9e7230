package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/google/uuid"
)

// MatchResult is returned by AttemptMatch.
type MatchResult struct {
	SurebetID uuid.UUID   `json:"surebet_id"`
	Matched   bool        `json:"matched"`
	Created   bool        `json:"created"`
	Linked    []uuid.UUID `json:"linked_bet_ids"`
}

// MatchService pairs verified bets with opposite-side bets on the same market
// into surebets.
type MatchService struct {
	store     Store
	ledger    *LedgerService
	publisher Publisher
	metrics   *Metrics
	now       Clock
	log       *slog.Logger
}

// NewMatchService builds a MatchService.
func NewMatchService(store Store, ledger *LedgerService, publisher Publisher, metrics *Metrics) *MatchService {
	return &MatchService{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		metrics:   metrics,
		now:       systemClock,
		log:       slog.Default().With("component", "matcher"),
	}
}

// SetClock replaces the time source. Used by tests.
func (s *MatchService) SetClock(c Clock) { s.now = c }

// ──────────────────────────────────────────────────────────────────────────────
// AttemptMatch
// ──────────────────────────────────────────────────────────────────────────────

// AttemptMatch tries to place betID into a surebet. It is idempotent: a bet
// that is already matched returns its surebet and nothing is written. A
// verified bet without an opposite-side candidate returns Matched=false.
func (s *MatchService) AttemptMatch(ctx context.Context, betID uuid.UUID) (MatchResult, error) {
	var (
		res  MatchResult
		risk domain.RiskMetrics
	)
	err := s.store.WithTx(ctx, func(tx Tx) error {
		bet, err := tx.GetBetForUpdate(ctx, betID)
		if err != nil {
			return err
		}

		switch bet.Status {
		case domain.BetStatusMatched:
			id, err := tx.SurebetIDForBet(ctx, bet.ID)
			if err != nil {
				return fmt.Errorf("lookup surebet of matched bet: %w", err)
			}
			res = MatchResult{SurebetID: id, Matched: true}
			return nil
		case domain.BetStatusVerified:
		default:
			return fmt.Errorf("%w: bet %s is %s", domain.ErrBetNotEligible, bet.ID, bet.Status)
		}

		if !bet.Matchable() {
			s.log.Info("bet not matchable", "bet_id", bet.ID, "supported", bet.IsSupported)
			return nil
		}
		key, _ := bet.MarketKey()
		opposite, _ := bet.Side.Opposite()

		// Serialises surebet creation for this market.
		if err := tx.LockMarketKey(ctx, key); err != nil {
			return err
		}

		candidates, err := tx.FindMatchCandidates(ctx, key, opposite, bet.ID)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, 0, len(candidates))
		for _, c := range candidates {
			ids = append(ids, c.ID)
		}
		sb, err := tx.FindOpenSurebetForBets(ctx, key, ids)
		switch {
		case errors.Is(err, domain.ErrSurebetNotFound):
			sb = domain.NewSurebet(key, s.now())
			if err := tx.CreateSurebet(ctx, sb); err != nil {
				return err
			}
			res.Created = true
		case err != nil:
			return err
		}
		res.SurebetID = sb.ID
		res.Matched = true

		for _, b := range append([]*domain.Bet{bet}, candidates...) {
			linked, err := s.link(ctx, tx, sb.ID, b)
			if err != nil {
				return err
			}
			if linked {
				res.Linked = append(res.Linked, b.ID)
			}
		}

		legs, err := tx.ListLegs(ctx, sb.ID)
		if err != nil {
			return err
		}
		risk = domain.ComputeRisk(legs)
		return tx.UpdateSurebetRisk(ctx, sb.ID, risk)
	})
	if err != nil {
		s.metrics.IncMatch("error")
		return MatchResult{}, domain.AsTransactionError("match_service.AttemptMatch", err)
	}

	switch {
	case !res.Matched:
		s.metrics.IncMatch("no_candidate")
	case len(res.Linked) == 0:
		s.metrics.IncMatch("already_matched")
	default:
		s.metrics.IncMatch("matched")
		s.log.Info("bets matched", "surebet_id", res.SurebetID, "linked", len(res.Linked), "created", res.Created)
		sbID := res.SurebetID
		publish(ctx, s.publisher, domain.Event{
			Type:       domain.EventSurebetMatched,
			SurebetID:  &sbID,
			BetIDs:     res.Linked,
			Risk:       &risk,
			OccurredAt: s.now(),
		})
	}
	return res, nil
}

// link attaches b to the surebet, moves it to matched and captures its stake.
// A bet already linked with the same side is left untouched.
func (s *MatchService) link(ctx context.Context, tx Tx, surebetID uuid.UUID, b *domain.Bet) (bool, error) {
	tag, ok := b.Side.Tag()
	if !ok {
		return false, fmt.Errorf("%w: bet %s has no side", domain.ErrBetNotEligible, b.ID)
	}
	created, err := tx.LinkBet(ctx, domain.SurebetBet{
		SurebetID: surebetID,
		BetID:     b.ID,
		Side:      tag,
		CreatedAt: s.now(),
	})
	if err != nil {
		return false, err
	}
	if b.Status == domain.BetStatusVerified {
		if err := tx.UpdateBetStatus(ctx, b.ID, domain.BetStatusVerified, domain.BetStatusMatched); err != nil {
			return false, err
		}
		target, err := StakeTarget(b)
		if err != nil {
			return false, err
		}
		if _, err := s.ledger.ReconcileStake(ctx, tx, b, target, nil, domain.SystemAuthor); err != nil {
			return false, err
		}
	}
	return created, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// SweepVerified: called by the scheduler
// ──────────────────────────────────────────────────────────────────────────────

// SweepVerified retries matching for up to limit verified bets and returns
// how many attempts linked new bets. A failing bet does not stop the sweep.
func (s *MatchService) SweepVerified(ctx context.Context, limit int) (int, error) {
	var ids []uuid.UUID
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		ids, err = tx.ListVerifiedBetIDs(ctx, limit)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("match_service.SweepVerified: list: %w", err)
	}

	matched := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return matched, ctx.Err()
		}
		res, err := s.AttemptMatch(ctx, id)
		if err != nil {
			s.log.Error("sweep match failed", "bet_id", id, "error", err)
			continue
		}
		if res.Matched && len(res.Linked) > 0 {
			matched++
		}
	}
	return matched, nil
}

// SurebetView is a surebet with its legs in settlement order.
type SurebetView struct {
	Surebet *domain.Surebet     `json:"surebet"`
	Legs    []domain.SurebetLeg `json:"legs"`
}

// Surebet returns the surebet and its linked bets.
func (s *MatchService) Surebet(ctx context.Context, id uuid.UUID) (*SurebetView, error) {
	var v SurebetView
	err := s.store.WithTx(ctx, func(tx Tx) error {
		sb, err := tx.GetSurebet(ctx, id, false)
		if err != nil {
			return err
		}
		legs, err := tx.ListLegs(ctx, id)
		if err != nil {
			return err
		}
		domain.SortLegs(legs)
		v = SurebetView{Surebet: sb, Legs: legs}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("match_service.Surebet: %w", err)
	}
	return &v, nil
}
