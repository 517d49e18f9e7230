// Package ws pushes domain events to connected operator dashboards.
// messages.go defines the frames written to clients.
package ws

import (
	"time"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/google/uuid"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeConnected MsgType = "connected"
	MsgTypeEvent     MsgType = "event"
)

// ConnectedMessage is the first frame a client receives and echoes the
// subscription it was registered with.
type ConnectedMessage struct {
	Type        MsgType    `json:"type"`
	Subject     string     `json:"subject"`
	SurebetID   *uuid.UUID `json:"surebet_id,omitempty"`
	AssociateID *uuid.UUID `json:"associate_id,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// EventMessage wraps one domain event.
type EventMessage struct {
	Type  MsgType      `json:"type"`
	Event domain.Event `json:"event"`
}
