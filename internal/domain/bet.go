package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// BetStatus is the lifecycle state of a bet. Transitions only move forward:
// incoming → verified → matched → settled, or incoming → rejected.
type BetStatus string

const (
	BetStatusIncoming BetStatus = "incoming"
	BetStatusVerified BetStatus = "verified"
	BetStatusMatched  BetStatus = "matched"
	BetStatusSettled  BetStatus = "settled"
	BetStatusRejected BetStatus = "rejected"
)

var betTransitions = map[BetStatus][]BetStatus{
	BetStatusIncoming: {BetStatusVerified, BetStatusRejected},
	BetStatusVerified: {BetStatusMatched},
	BetStatusMatched:  {BetStatusSettled},
}

// CanTransition reports whether a bet may move from s to next.
func (s BetStatus) CanTransition(next BetStatus) bool {
	for _, allowed := range betTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Side is the selection a bet was placed on.
type Side string

const (
	SideOver  Side = "OVER"
	SideUnder Side = "UNDER"
	SideYes   Side = "YES"
	SideNo    Side = "NO"
	SideTeamA Side = "TEAM_A"
	SideTeamB Side = "TEAM_B"
)

var oppositeSides = map[Side]Side{
	SideOver:  SideUnder,
	SideUnder: SideOver,
	SideYes:   SideNo,
	SideNo:    SideYes,
	SideTeamA: SideTeamB,
	SideTeamB: SideTeamA,
}

// Opposite returns the side a bet must be paired against.
func (s Side) Opposite() (Side, bool) {
	o, ok := oppositeSides[s]
	return o, ok
}

// Tag maps a selection onto the surebet's A/B sides.
func (s Side) Tag() (SideTag, bool) {
	switch s {
	case SideOver, SideYes, SideTeamA:
		return SideA, true
	case SideUnder, SideNo, SideTeamB:
		return SideB, true
	}
	return "", false
}

// Valid reports whether s is a known selection.
func (s Side) Valid() bool {
	_, ok := oppositeSides[s]
	return ok
}

// SideTag is the side of a surebet a bet is linked to.
type SideTag string

const (
	SideA SideTag = "A"
	SideB SideTag = "B"
)

// Outcome is the settlement result of a single bet.
type Outcome string

const (
	OutcomeWon  Outcome = "WON"
	OutcomeLost Outcome = "LOST"
	OutcomeVoid Outcome = "VOID"
)

// Valid reports whether o is one of WON, LOST or VOID.
func (o Outcome) Valid() bool {
	return o == OutcomeWon || o == OutcomeLost || o == OutcomeVoid
}

// ──────────────────────────────────────────────────────────────────────────────
// Bet
// ──────────────────────────────────────────────────────────────────────────────

// Bet is a stake placed by an associate at a bookmaker. Bets are never deleted.
type Bet struct {
	ID               uuid.UUID        `json:"id"                 db:"id"`
	AssociateID      uuid.UUID        `json:"associate_id"       db:"associate_id"`
	BookmakerID      uuid.UUID        `json:"bookmaker_id"       db:"bookmaker_id"`
	CanonicalEventID *uuid.UUID       `json:"canonical_event_id" db:"canonical_event_id"`
	MarketCode       *string          `json:"market_code"        db:"market_code"`
	PeriodScope      *string          `json:"period_scope"       db:"period_scope"`
	LineValue        *decimal.Decimal `json:"line_value"         db:"line_value"`
	Side             *Side            `json:"side"               db:"side"`
	IsSupported      bool             `json:"is_supported"       db:"is_supported"`
	StakeOriginal    *decimal.Decimal `json:"stake_original"     db:"stake_original"`
	StakeEUR         *decimal.Decimal `json:"stake_eur"          db:"stake_eur"`
	OddsNormalized   *decimal.Decimal `json:"odds_normalized"    db:"odds_normalized"`
	OddsOriginal     *decimal.Decimal `json:"odds_original"      db:"odds_original"`
	Currency         string           `json:"currency"           db:"currency"`
	Status           BetStatus        `json:"status"             db:"status"`
	CreatedAt        time.Time        `json:"created_at"         db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"         db:"updated_at"`
}

// MarketKey returns the grouping key of the bet, or false when any part needed
// for matching is missing.
func (b *Bet) MarketKey() (MarketKey, bool) {
	if b.CanonicalEventID == nil || b.MarketCode == nil || b.PeriodScope == nil {
		return MarketKey{}, false
	}
	k := MarketKey{
		EventID:     *b.CanonicalEventID,
		MarketCode:  *b.MarketCode,
		PeriodScope: *b.PeriodScope,
	}
	if b.LineValue != nil {
		line := *b.LineValue
		k.Line = &line
	}
	return k, true
}

// Matchable reports whether a verified bet carries everything the matcher
// needs: a supported market, a full market key and a known side.
func (b *Bet) Matchable() bool {
	if !b.IsSupported || b.Side == nil || !b.Side.Valid() {
		return false
	}
	_, ok := b.MarketKey()
	return ok
}

// ResolvedStake returns the stake used for settlement and its currency. The
// native stake wins; the EUR figure is a fallback and is then reported in EUR.
func (b *Bet) ResolvedStake() (decimal.Decimal, string, error) {
	if b.StakeOriginal != nil {
		return *b.StakeOriginal, NormalizeCurrency(b.Currency), nil
	}
	if b.StakeEUR != nil {
		return *b.StakeEUR, CurrencyEUR, nil
	}
	return decimal.Zero, "", ErrUnresolvableStake
}

// ResolvedOdds prefers normalized odds over the odds as printed on the slip.
func (b *Bet) ResolvedOdds() (decimal.Decimal, error) {
	if b.OddsNormalized != nil {
		return *b.OddsNormalized, nil
	}
	if b.OddsOriginal != nil {
		return *b.OddsOriginal, nil
	}
	return decimal.Zero, ErrUnresolvableOdds
}

// MarketKey identifies the market a surebet covers. A nil Line equals a nil
// Line.
type MarketKey struct {
	EventID     uuid.UUID
	MarketCode  string
	PeriodScope string
	Line        *decimal.Decimal
}

// Equal compares two keys, treating absent lines as equal to each other.
func (k MarketKey) Equal(o MarketKey) bool {
	if k.EventID != o.EventID || k.MarketCode != o.MarketCode || k.PeriodScope != o.PeriodScope {
		return false
	}
	if k.Line == nil || o.Line == nil {
		return k.Line == nil && o.Line == nil
	}
	return k.Line.Equal(*o.Line)
}

// String renders the key for locks and logs.
func (k MarketKey) String() string {
	line := "-"
	if k.Line != nil {
		line = k.Line.String()
	}
	return k.EventID.String() + "|" + k.MarketCode + "|" + k.PeriodScope + "|" + line
}

// ──────────────────────────────────────────────────────────────────────────────
// Reference data
// ──────────────────────────────────────────────────────────────────────────────

// Associate is a person or entity holding bookmaker accounts.
type Associate struct {
	ID        uuid.UUID `json:"id"         db:"id"`
	Alias     string    `json:"alias"      db:"alias"`
	IsActive  bool      `json:"is_active"  db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Bookmaker is an account an associate holds at a bookmaker.
type Bookmaker struct {
	ID          uuid.UUID `json:"id"           db:"id"`
	AssociateID uuid.UUID `json:"associate_id" db:"associate_id"`
	Name        string    `json:"name"         db:"name"`
	IsActive    bool      `json:"is_active"    db:"is_active"`
	CreatedAt   time.Time `json:"created_at"   db:"created_at"`
}

// FXRate is a stored snapshot of EUR per one unit of Currency.
type FXRate struct {
	Currency  string          `json:"currency"    db:"currency"`
	RateDate  time.Time       `json:"rate_date"   db:"rate_date"`
	RateToEUR decimal.Decimal `json:"rate_to_eur" db:"rate_to_eur"`
	FetchedAt time.Time       `json:"fetched_at"  db:"fetched_at"`
}
