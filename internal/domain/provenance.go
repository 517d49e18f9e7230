package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LinkKind tells where a settlement link came from.
type LinkKind string

const (
	LinkKindSettlement LinkKind = "settlement"
	LinkKindCorrection LinkKind = "correction"
)

// SettlementLink records which associate funded whose surplus or deficit.
// The winner holds AmountEUR that belongs to the loser.
type SettlementLink struct {
	ID                uuid.UUID       `json:"id"                  db:"id"`
	Kind              LinkKind        `json:"kind"                db:"kind"`
	SurebetID         *uuid.UUID      `json:"surebet_id"          db:"surebet_id"`
	WinnerAssociateID uuid.UUID       `json:"winner_associate_id" db:"winner_associate_id"`
	LoserAssociateID  uuid.UUID       `json:"loser_associate_id"  db:"loser_associate_id"`
	AmountEUR         decimal.Decimal `json:"amount_eur"          db:"amount_eur"`
	WinnerEntryID     *uuid.UUID      `json:"winner_entry_id"     db:"winner_entry_id"`
	LoserEntryID      *uuid.UUID      `json:"loser_entry_id"      db:"loser_entry_id"`
	CreatedAt         time.Time       `json:"created_at"          db:"created_at"`
}

// Validate checks the structural invariants of a link.
func (l *SettlementLink) Validate() error {
	if l.AmountEUR.IsNegative() {
		return ErrValidation
	}
	if l.WinnerAssociateID == uuid.Nil || l.LoserAssociateID == uuid.Nil {
		return ErrValidation
	}
	if l.Kind == LinkKindSettlement && l.SurebetID == nil {
		return ErrValidation
	}
	return nil
}

// SignedFor returns the link amount from the point of view of associateID
// (positive as winner, negative as loser) together with the counterparty.
// ok is false when the associate is not part of the link.
func (l *SettlementLink) SignedFor(associateID uuid.UUID) (amount decimal.Decimal, counterparty uuid.UUID, ok bool) {
	switch associateID {
	case l.WinnerAssociateID:
		return l.AmountEUR, l.LoserAssociateID, true
	case l.LoserAssociateID:
		return l.AmountEUR.Neg(), l.WinnerAssociateID, true
	}
	return decimal.Zero, uuid.Nil, false
}

// ──────────────────────────────────────────────────────────────────────────────
// Pair selection
// ──────────────────────────────────────────────────────────────────────────────

// Participant is the minimum needed to choose the winner/loser pair of a
// settled surebet, whether taken from a preview or from ledger rows.
type Participant struct {
	AssociateID uuid.UUID
	Outcome     Outcome
	NetGainEUR  decimal.Decimal
	ShareEUR    decimal.Decimal
	EntryID     *uuid.UUID
}

// PickPair selects the first WON participant as winner and the first LOST as
// loser, in the given order. Without a WON the winner is the first participant
// not chosen as loser; without a LOST the loser is the first participant
// other than the winner. All-VOID surebets pair the first two participants.
func PickPair(ps []Participant) (winner, loser int, ok bool) {
	if len(ps) < 2 {
		return -1, -1, false
	}
	winner, loser = -1, -1
	for i, p := range ps {
		if winner < 0 && p.Outcome == OutcomeWon {
			winner = i
		}
		if loser < 0 && p.Outcome == OutcomeLost {
			loser = i
		}
	}
	if winner < 0 {
		for i := range ps {
			if i != loser {
				winner = i
				break
			}
		}
	}
	if loser < 0 {
		for i := range ps {
			if i != winner {
				loser = i
				break
			}
		}
	}
	return winner, loser, true
}

// TransferAmount is what the loser is owed by the winner: the loser's equal
// share minus what its own bet produced. Never negative.
func TransferAmount(loser Participant) decimal.Decimal {
	amt := Quantize(loser.ShareEUR.Sub(loser.NetGainEUR))
	if amt.IsNegative() {
		return decimal.Zero
	}
	return amt
}

// ──────────────────────────────────────────────────────────────────────────────
// Summaries
// ──────────────────────────────────────────────────────────────────────────────

// SignedLink is a link as seen by one associate.
type SignedLink struct {
	LinkID         uuid.UUID       `json:"link_id"`
	Kind           LinkKind        `json:"kind"`
	SurebetID      *uuid.UUID      `json:"surebet_id,omitempty"`
	CounterpartyID uuid.UUID       `json:"counterparty_id"`
	AmountEUR      decimal.Decimal `json:"amount_eur"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CounterpartySummary is the net signed amount against one counterparty.
type CounterpartySummary struct {
	CounterpartyID uuid.UUID       `json:"counterparty_id"`
	Alias          string          `json:"alias"`
	NetAmountEUR   decimal.Decimal `json:"net_amount_eur"`
	LinkCount      int             `json:"link_count"`
}

// ProvenanceSummary groups an associate's links by counterparty.
type ProvenanceSummary struct {
	AssociateID    uuid.UUID             `json:"associate_id"`
	Counterparties []CounterpartySummary `json:"counterparties"`
	Entries        []SignedLink          `json:"entries"`
	TotalEUR       decimal.Decimal       `json:"total_eur"`
}

// Summarize builds the provenance summary for associateID. aliases maps
// counterparty ids to display aliases; missing aliases fall back to the id.
func Summarize(associateID uuid.UUID, links []*SettlementLink, aliases map[uuid.UUID]string) ProvenanceSummary {
	s := ProvenanceSummary{AssociateID: associateID, Entries: []SignedLink{}}
	byCP := make(map[uuid.UUID]*CounterpartySummary)
	var order []uuid.UUID
	for _, l := range links {
		amt, cp, ok := l.SignedFor(associateID)
		if !ok {
			continue
		}
		s.Entries = append(s.Entries, SignedLink{
			LinkID:         l.ID,
			Kind:           l.Kind,
			SurebetID:      l.SurebetID,
			CounterpartyID: cp,
			AmountEUR:      amt,
			CreatedAt:      l.CreatedAt,
		})
		s.TotalEUR = s.TotalEUR.Add(amt)
		row, seen := byCP[cp]
		if !seen {
			alias := aliases[cp]
			if alias == "" {
				alias = cp.String()
			}
			row = &CounterpartySummary{CounterpartyID: cp, Alias: alias}
			byCP[cp] = row
			order = append(order, cp)
		}
		row.NetAmountEUR = row.NetAmountEUR.Add(amt)
		row.LinkCount++
	}
	for _, id := range order {
		s.Counterparties = append(s.Counterparties, *byCP[id])
	}
	sort.SliceStable(s.Counterparties, func(i, j int) bool {
		return s.Counterparties[i].Alias < s.Counterparties[j].Alias
	})
	return s
}

// BackfillReport counts what a provenance backfill did.
type BackfillReport struct {
	AssociateID uuid.UUID   `json:"associate_id"`
	Created     int         `json:"created"`
	Existing    int         `json:"existing"`
	Skipped     int         `json:"skipped"`
	SurebetIDs  []uuid.UUID `json:"surebet_ids"`
}
