package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names the ledger change carried by a message.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// LedgerEventMessage is a lightweight notification that a transaction
// changed. Consumers reload the row by ID; only deletes rely on the message alone.
type LedgerEventMessage struct {
	Event         EventType `json:"event"`
	TransactionID int64     `json:"transaction_id"`
	UserID        int64     `json:"user_id"`
	Version       int64     `json:"version"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewLedgerEvent(event EventType, transactionID, userID, version int64) *LedgerEventMessage {
	return &LedgerEventMessage{
		Event:         event,
		TransactionID: transactionID,
		UserID:        userID,
		Version:       version,
		Timestamp:     time.Now().UTC(),
	}
}

func (m *LedgerEventMessage) Validate() error {
	switch m.Event {
	case EventCreated, EventUpdated, EventDeleted:
	default:
		return fmt.Errorf("unknown event type %q", m.Event)
	}
	if m.TransactionID <= 0 {
		return fmt.Errorf("invalid transaction id %d", m.TransactionID)
	}
	return nil
}

func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventFromJSON decodes and validates a message body.
func LedgerEventFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
