package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementWarning flags conditions an operator should see before committing.
type SettlementWarning string

const (
	WarningAllVoid       SettlementWarning = "ALL_VOID"
	WarningOverallLoss   SettlementWarning = "OVERALL_LOSS"
	WarningMultiCurrency SettlementWarning = "MULTI_CURRENCY"
)

// SettlementRow is the computed result for one linked bet.
type SettlementRow struct {
	BetID                uuid.UUID       `json:"bet_id"`
	AssociateID          uuid.UUID       `json:"associate_id"`
	BookmakerID          uuid.UUID       `json:"bookmaker_id"`
	Side                 SideTag         `json:"side"`
	Outcome              Outcome         `json:"outcome"`
	Currency             string          `json:"currency"`
	StakeNative          decimal.Decimal `json:"stake_native"`
	Odds                 decimal.Decimal `json:"odds"`
	FXRate               decimal.Decimal `json:"fx_rate"`
	StakeEUR             decimal.Decimal `json:"stake_eur"`
	NetGainNative        decimal.Decimal `json:"net_gain_native"`
	NetGainEUR           decimal.Decimal `json:"net_gain_eur"`
	PrincipalReturnedEUR decimal.Decimal `json:"principal_returned_eur"`
	ShareEUR             decimal.Decimal `json:"share_eur"`
	TotalEUR             decimal.Decimal `json:"total_eur"`
	TotalNative          decimal.Decimal `json:"total_native"`
}

// Staked reports whether the bet took part in the outcome (i.e. not VOID).
func (r SettlementRow) Staked() bool { return r.Outcome != OutcomeVoid }

// Equal reports whether r and o settle the same bet to the same figures.
func (r SettlementRow) Equal(o SettlementRow) bool {
	return r.BetID == o.BetID &&
		r.AssociateID == o.AssociateID &&
		r.BookmakerID == o.BookmakerID &&
		r.Side == o.Side &&
		r.Outcome == o.Outcome &&
		r.Currency == o.Currency &&
		r.StakeNative.Equal(o.StakeNative) &&
		r.Odds.Equal(o.Odds) &&
		r.FXRate.Equal(o.FXRate) &&
		r.StakeEUR.Equal(o.StakeEUR) &&
		r.NetGainNative.Equal(o.NetGainNative) &&
		r.NetGainEUR.Equal(o.NetGainEUR) &&
		r.PrincipalReturnedEUR.Equal(o.PrincipalReturnedEUR) &&
		r.ShareEUR.Equal(o.ShareEUR) &&
		r.TotalEUR.Equal(o.TotalEUR) &&
		r.TotalNative.Equal(o.TotalNative)
}

// SettlementPreview is the full, not yet persisted, settlement of a surebet.
type SettlementPreview struct {
	SurebetID        uuid.UUID                  `json:"surebet_id"`
	Rows             []SettlementRow            `json:"rows"`
	FXRates          map[string]decimal.Decimal `json:"fx_rates"`
	SurebetProfitEUR decimal.Decimal            `json:"surebet_profit_eur"`
	ParticipantCount int                        `json:"participant_count"`
	PerShareEUR      decimal.Decimal            `json:"per_share_eur"`
	Warnings         []SettlementWarning        `json:"warnings"`
	ComputedAt       time.Time                  `json:"computed_at"`
}

// HasWarning reports whether w was raised.
func (p *SettlementPreview) HasWarning(w SettlementWarning) bool {
	for _, x := range p.Warnings {
		if x == w {
			return true
		}
	}
	return false
}

// BetIDs returns the bet ids covered by the preview.
func (p *SettlementPreview) BetIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.Rows))
	for _, r := range p.Rows {
		ids = append(ids, r.BetID)
	}
	return ids
}

// Outcomes returns the outcome of every row keyed by bet id. A bet listed
// twice is a mismatch.
func (p *SettlementPreview) Outcomes() (map[uuid.UUID]Outcome, error) {
	out := make(map[uuid.UUID]Outcome, len(p.Rows))
	for _, r := range p.Rows {
		if _, dup := out[r.BetID]; dup {
			return nil, fmt.Errorf("%w: bet %s listed twice", ErrPreviewMismatch, r.BetID)
		}
		out[r.BetID] = r.Outcome
	}
	return out, nil
}

// Participants returns the rows in pair-selection form.
func (p *SettlementPreview) Participants() []Participant {
	ps := make([]Participant, 0, len(p.Rows))
	for _, r := range p.Rows {
		ps = append(ps, Participant{
			AssociateID: r.AssociateID,
			Outcome:     r.Outcome,
			NetGainEUR:  r.NetGainEUR,
			ShareEUR:    r.ShareEUR,
		})
	}
	return ps
}

// RequiredCurrencies lists, sorted, the currencies whose FX rate must be
// frozen to settle legs.
func RequiredCurrencies(legs []SurebetLeg) ([]string, error) {
	seen := make(map[string]struct{})
	for _, leg := range legs {
		_, cur, err := leg.Bet.ResolvedStake()
		if err != nil {
			return nil, fmt.Errorf("bet %s: %w", leg.Bet.ID, err)
		}
		seen[cur] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// BuildPreview computes the settlement of a surebet.
//
// Every linked bet needs an outcome and outcomes for bets outside the
// surebet are rejected. Per bet:
//
//	net gain = stake×odds − stake (WON), −stake (LOST), 0 (VOID)
//
// converted to EUR with the frozen rate of its currency. The surebet profit
// is the sum of net gains and is shared equally by all linked bets, VOID
// ones included. A VOID seat settles to zero; a WON seat gets its principal
// back plus the share; a LOST seat gets the share.
func BuildPreview(
	surebetID uuid.UUID,
	legs []SurebetLeg,
	outcomes map[uuid.UUID]Outcome,
	rates map[string]decimal.Decimal,
	now time.Time,
) (*SettlementPreview, error) {
	if len(legs) == 0 {
		return nil, fmt.Errorf("%w: surebet %s has no bets", ErrValidation, surebetID)
	}
	linked := make(map[uuid.UUID]struct{}, len(legs))
	for _, leg := range legs {
		linked[leg.Bet.ID] = struct{}{}
	}
	var unknown []string
	for id := range outcomes {
		if _, ok := linked[id]; !ok {
			unknown = append(unknown, id.String())
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: bets %s are not linked to surebet %s",
			ErrValidation, strings.Join(unknown, ", "), surebetID)
	}

	ordered := make([]SurebetLeg, len(legs))
	copy(ordered, legs)
	SortLegs(ordered)

	p := &SettlementPreview{
		SurebetID:        surebetID,
		FXRates:          make(map[string]decimal.Decimal),
		ParticipantCount: len(ordered),
		Warnings:         []SettlementWarning{},
		ComputedAt:       now,
	}

	for _, leg := range ordered {
		bet := leg.Bet
		outcome, ok := outcomes[bet.ID]
		if !ok {
			return nil, fmt.Errorf("%w: bet %s", ErrMissingOutcome, bet.ID)
		}
		if !outcome.Valid() {
			return nil, fmt.Errorf("%w: bet %s: %q", ErrInvalidOutcome, bet.ID, outcome)
		}
		stake, cur, err := bet.ResolvedStake()
		if err != nil {
			return nil, fmt.Errorf("bet %s: %w", bet.ID, err)
		}
		odds, err := bet.ResolvedOdds()
		if err != nil {
			return nil, fmt.Errorf("bet %s: %w", bet.ID, err)
		}
		rate, ok := rates[cur]
		if cur == CurrencyEUR {
			rate, ok = decimal.NewFromInt(1), true
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFXRateMissing, cur)
		}
		rate = QuantizeRate(rate)
		p.FXRates[cur] = rate

		var netNative decimal.Decimal
		switch outcome {
		case OutcomeWon:
			netNative = Quantize(stake.Mul(odds).Sub(stake))
		case OutcomeLost:
			netNative = Quantize(stake.Neg())
		default:
			netNative = decimal.Zero
		}

		p.Rows = append(p.Rows, SettlementRow{
			BetID:         bet.ID,
			AssociateID:   bet.AssociateID,
			BookmakerID:   bet.BookmakerID,
			Side:          leg.Side,
			Outcome:       outcome,
			Currency:      cur,
			StakeNative:   stake,
			Odds:          odds,
			FXRate:        rate,
			StakeEUR:      ToEUR(stake, rate),
			NetGainNative: netNative,
			NetGainEUR:    ToEUR(netNative, rate),
		})
	}

	profit := decimal.Zero
	for _, r := range p.Rows {
		profit = profit.Add(r.NetGainEUR)
	}
	p.SurebetProfitEUR = Quantize(profit)
	p.PerShareEUR = Quantize(profit.Div(decimal.NewFromInt(int64(p.ParticipantCount))))

	allVoid := true
	for i := range p.Rows {
		r := &p.Rows[i]
		switch r.Outcome {
		case OutcomeVoid:
			r.PrincipalReturnedEUR = decimal.Zero
			r.ShareEUR = decimal.Zero
		case OutcomeWon:
			allVoid = false
			r.PrincipalReturnedEUR = r.StakeEUR
			r.ShareEUR = p.PerShareEUR
		case OutcomeLost:
			allVoid = false
			r.PrincipalReturnedEUR = decimal.Zero
			r.ShareEUR = p.PerShareEUR
		}
		r.TotalEUR = Quantize(r.PrincipalReturnedEUR.Add(r.ShareEUR))
		r.TotalNative = FromEUR(r.TotalEUR, r.FXRate)
	}

	if allVoid {
		p.Warnings = append(p.Warnings, WarningAllVoid)
	}
	if p.SurebetProfitEUR.IsNegative() {
		p.Warnings = append(p.Warnings, WarningOverallLoss)
	}
	if len(p.FXRates) > 1 {
		p.Warnings = append(p.Warnings, WarningMultiCurrency)
	}
	return p, nil
}
