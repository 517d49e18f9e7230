package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryBetResult           EntryType = "BET_RESULT"
	EntryDeposit             EntryType = "DEPOSIT"
	EntryWithdrawal          EntryType = "WITHDRAWAL"
	EntryBookmakerCorrection EntryType = "BOOKMAKER_CORRECTION"
	EntryBetStake            EntryType = "BET_STAKE"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryBetResult, EntryDeposit, EntryWithdrawal, EntryBookmakerCorrection, EntryBetStake:
		return true
	}
	return false
}

// ParseEntryTypes parses a comma-separated list such as "DEPOSIT,WITHDRAWAL".
// An empty string yields nil (any type).
func ParseEntryTypes(s string) ([]EntryType, error) {
	var out []EntryType
	for _, part := range strings.Split(s, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		t := EntryType(part)
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown entry type %q", ErrValidation, part)
		}
		out = append(out, t)
	}
	return out, nil
}

// SystemAuthor is recorded as CreatedBy when no operator identity is known.
const SystemAuthor = "system"

// LedgerEntry is one immutable money movement. Amounts are stored natively,
// converted to EUR, and alongside the FX snapshot used for the conversion.
type LedgerEntry struct {
	ID                   uuid.UUID        `json:"id"                      db:"id"`
	Type                 EntryType        `json:"type"                    db:"type"`
	AssociateID          uuid.UUID        `json:"associate_id"            db:"associate_id"`
	BookmakerID          *uuid.UUID       `json:"bookmaker_id"            db:"bookmaker_id"`
	AmountNative         decimal.Decimal  `json:"amount_native"           db:"amount_native"`
	NativeCurrency       string           `json:"native_currency"         db:"native_currency"`
	FXRateSnapshot       decimal.Decimal  `json:"fx_rate_snapshot"        db:"fx_rate_snapshot"`
	AmountEUR            decimal.Decimal  `json:"amount_eur"              db:"amount_eur"`
	SettlementState      *Outcome         `json:"settlement_state"        db:"settlement_state"`
	PrincipalReturnedEUR *decimal.Decimal `json:"principal_returned_eur"  db:"principal_returned_eur"`
	PerSurebetShareEUR   *decimal.Decimal `json:"per_surebet_share_eur"   db:"per_surebet_share_eur"`
	NetGainEUR           *decimal.Decimal `json:"net_gain_eur"            db:"net_gain_eur"`
	SurebetID            *uuid.UUID       `json:"surebet_id"              db:"surebet_id"`
	BetID                *uuid.UUID       `json:"bet_id"                  db:"bet_id"`
	SettlementBatchID    *string          `json:"settlement_batch_id"     db:"settlement_batch_id"`
	OpposingAssociateID  *uuid.UUID       `json:"opposing_associate_id"   db:"opposing_associate_id"`
	CreatedAt            time.Time        `json:"created_at"              db:"created_at"`
	CreatedBy            string           `json:"created_by"              db:"created_by"`
	Note                 *string          `json:"note"                    db:"note"`
}

// LedgerFilter narrows ledger queries. Zero values mean "any".
type LedgerFilter struct {
	AssociateID       *uuid.UUID
	SurebetID         *uuid.UUID
	BetID             *uuid.UUID
	SettlementBatchID *string
	Types             []EntryType
	Limit             int
	Offset            int
}

// Matches reports whether e satisfies the filter (limit/offset aside).
func (f LedgerFilter) Matches(e *LedgerEntry) bool {
	if f.AssociateID != nil && e.AssociateID != *f.AssociateID {
		return false
	}
	if f.SurebetID != nil && (e.SurebetID == nil || *e.SurebetID != *f.SurebetID) {
		return false
	}
	if f.BetID != nil && (e.BetID == nil || *e.BetID != *f.BetID) {
		return false
	}
	if f.SettlementBatchID != nil && (e.SettlementBatchID == nil || *e.SettlementBatchID != *f.SettlementBatchID) {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Balance is an associate's position derived from the ledger. BET_STAKE
// entries are reported separately as capital tied up in open bets.
type Balance struct {
	AssociateID   uuid.UUID                  `json:"associate_id"`
	TotalEUR      decimal.Decimal            `json:"total_eur"`
	ByCurrency    map[string]decimal.Decimal `json:"by_currency"`
	StakedEUR     decimal.Decimal            `json:"staked_eur"`
	StakedNative  map[string]decimal.Decimal `json:"staked_native"`
	EntryCount    int                        `json:"entry_count"`
	LastEntryTime *time.Time                 `json:"last_entry_time,omitempty"`
}

// BuildBalance folds entries into a Balance.
func BuildBalance(associateID uuid.UUID, entries []*LedgerEntry) Balance {
	b := Balance{
		AssociateID:  associateID,
		ByCurrency:   make(map[string]decimal.Decimal),
		StakedNative: make(map[string]decimal.Decimal),
	}
	for _, e := range entries {
		if e.AssociateID != associateID {
			continue
		}
		b.EntryCount++
		if b.LastEntryTime == nil || e.CreatedAt.After(*b.LastEntryTime) {
			t := e.CreatedAt
			b.LastEntryTime = &t
		}
		if e.Type == EntryBetStake {
			b.StakedEUR = b.StakedEUR.Add(e.AmountEUR)
			b.StakedNative[e.NativeCurrency] = b.StakedNative[e.NativeCurrency].Add(e.AmountNative)
			continue
		}
		b.TotalEUR = b.TotalEUR.Add(e.AmountEUR)
		b.ByCurrency[e.NativeCurrency] = b.ByCurrency[e.NativeCurrency].Add(e.AmountNative)
	}
	return b
}

// StakeDeltas returns, per currency, the amount that must be appended so the
// captured stake equals target. Zero deltas are omitted.
func StakeDeltas(current, target map[string]decimal.Decimal) map[string]decimal.Decimal {
	deltas := make(map[string]decimal.Decimal)
	for cur, want := range target {
		if d := want.Sub(current[cur]); !d.IsZero() {
			deltas[cur] = d
		}
	}
	for cur, have := range current {
		if _, ok := target[cur]; ok {
			continue
		}
		if !have.IsZero() {
			deltas[cur] = have.Neg()
		}
	}
	return deltas
}
