package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SurebetStatus is the lifecycle state of a surebet.
type SurebetStatus string

const (
	SurebetStatusOpen      SurebetStatus = "open"
	SurebetStatusSettled   SurebetStatus = "settled"
	SurebetStatusCancelled SurebetStatus = "cancelled"
)

// Surebet groups opposite-side bets on one market. At most one open surebet
// exists per market key.
type Surebet struct {
	ID                 uuid.UUID        `json:"id"                    db:"id"`
	CanonicalEventID   uuid.UUID        `json:"canonical_event_id"    db:"canonical_event_id"`
	MarketCode         string           `json:"market_code"           db:"market_code"`
	PeriodScope        string           `json:"period_scope"          db:"period_scope"`
	LineValue          *decimal.Decimal `json:"line_value"            db:"line_value"`
	Status             SurebetStatus    `json:"status"                db:"status"`
	WorstCaseProfitEUR *decimal.Decimal `json:"worst_case_profit_eur" db:"worst_case_profit_eur"`
	TotalStakeEUR      *decimal.Decimal `json:"total_stake_eur"       db:"total_stake_eur"`
	ROI                *decimal.Decimal `json:"roi"                   db:"roi"`
	SettledAt          *time.Time       `json:"settled_at"            db:"settled_at"`
	CreatedAt          time.Time        `json:"created_at"            db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"            db:"updated_at"`
}

// NewSurebet opens a surebet for a market key.
func NewSurebet(k MarketKey, now time.Time) *Surebet {
	return &Surebet{
		ID:               uuid.New(),
		CanonicalEventID: k.EventID,
		MarketCode:       k.MarketCode,
		PeriodScope:      k.PeriodScope,
		LineValue:        k.Line,
		Status:           SurebetStatusOpen,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Key returns the market key the surebet covers.
func (s *Surebet) Key() MarketKey {
	return MarketKey{
		EventID:     s.CanonicalEventID,
		MarketCode:  s.MarketCode,
		PeriodScope: s.PeriodScope,
		Line:        s.LineValue,
	}
}

// IsOpen returns true while the surebet can still accept bets and be settled.
func (s *Surebet) IsOpen() bool {
	return s.Status == SurebetStatusOpen
}

// SurebetBet links a bet to a surebet side. Side never changes once written.
type SurebetBet struct {
	SurebetID uuid.UUID `json:"surebet_id" db:"surebet_id"`
	BetID     uuid.UUID `json:"bet_id"     db:"bet_id"`
	Side      SideTag   `json:"side"       db:"side"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SurebetLeg is a linked bet together with its side tag.
type SurebetLeg struct {
	Side SideTag `json:"side"`
	Bet  *Bet    `json:"bet"`
}

// SortLegs orders legs side A first, then by bet creation time, then by id.
// Settlement and provenance use this order to pick "first" participants.
func SortLegs(legs []SurebetLeg) {
	sort.SliceStable(legs, func(i, j int) bool {
		a, b := legs[i], legs[j]
		if a.Side != b.Side {
			return a.Side == SideA
		}
		if !a.Bet.CreatedAt.Equal(b.Bet.CreatedAt) {
			return a.Bet.CreatedAt.Before(b.Bet.CreatedAt)
		}
		return a.Bet.ID.String() < b.Bet.ID.String()
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Risk metrics
// ──────────────────────────────────────────────────────────────────────────────

// RiskMetrics summarizes the exposure of an open surebet in EUR.
type RiskMetrics struct {
	WorstCaseProfitEUR decimal.Decimal `json:"worst_case_profit_eur"`
	TotalStakeEUR      decimal.Decimal `json:"total_stake_eur"`
	ROI                decimal.Decimal `json:"roi"`
}

// ComputeRisk evaluates the profit if side A wins and if side B wins, and
// keeps the worse of the two. Legs without an EUR stake or odds are skipped.
//
//	profit(A wins) = Σ_A stake×(odds−1) − Σ_B stake
//	profit(B wins) = Σ_B stake×(odds−1) − Σ_A stake
//	ROI            = worst / total stake (4 dp)
func ComputeRisk(legs []SurebetLeg) RiskMetrics {
	var winA, winB, total decimal.Decimal
	one := decimal.NewFromInt(1)
	for _, leg := range legs {
		stake, ok := eurStake(leg.Bet)
		if !ok {
			continue
		}
		odds, err := leg.Bet.ResolvedOdds()
		if err != nil {
			continue
		}
		gain := stake.Mul(odds.Sub(one))
		total = total.Add(stake)
		if leg.Side == SideA {
			winA = winA.Add(gain)
			winB = winB.Sub(stake)
		} else {
			winB = winB.Add(gain)
			winA = winA.Sub(stake)
		}
	}
	worst := decimal.Min(winA, winB)
	m := RiskMetrics{
		WorstCaseProfitEUR: Quantize(worst),
		TotalStakeEUR:      Quantize(total),
	}
	if !total.IsZero() {
		m.ROI = worst.Div(total).Round(4)
	}
	return m
}

func eurStake(b *Bet) (decimal.Decimal, bool) {
	if b.StakeEUR != nil {
		return *b.StakeEUR, true
	}
	if b.StakeOriginal != nil && NormalizeCurrency(b.Currency) == CurrencyEUR {
		return *b.StakeOriginal, true
	}
	return decimal.Zero, false
}
