package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType names a fact published after a successful commit.
type EventType string

const (
	EventSurebetMatched  EventType = "surebet.matched"
	EventSurebetSettled  EventType = "surebet.settled"
	EventLedgerCorrected EventType = "ledger.corrected"
	EventLedgerFunded    EventType = "ledger.funded"
)

// Event is the payload sent to the risk collaborator and dashboards.
type Event struct {
	Type        EventType        `json:"type"`
	SurebetID   *uuid.UUID       `json:"surebet_id,omitempty"`
	AssociateID *uuid.UUID       `json:"associate_id,omitempty"`
	EntryID     *uuid.UUID       `json:"entry_id,omitempty"`
	BetIDs      []uuid.UUID      `json:"bet_ids,omitempty"`
	BatchID     string           `json:"batch_id,omitempty"`
	AmountEUR   *decimal.Decimal `json:"amount_eur,omitempty"`
	Risk        *RiskMetrics     `json:"risk,omitempty"`
	Warnings    []string         `json:"warnings,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

// Key is the partition key used by ordered transports.
func (e Event) Key() string {
	switch {
	case e.SurebetID != nil:
		return e.SurebetID.String()
	case e.AssociateID != nil:
		return e.AssociateID.String()
	}
	return string(e.Type)
}
