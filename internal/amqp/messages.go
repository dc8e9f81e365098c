package amqp

import (
	"encoding/json"
	"time"
)

const (
	ActionUpsert = "upsert"
	ActionDelete = "delete"
)

// TransactionEventMessage is the lightweight message published for
// every accepted ledger mutation. It carries only identifiers; the
// export worker fetches the full record from storage.
type TransactionEventMessage struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Action    string    `json:"action"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func NewUpsertMessage(id, owner string, version int64) *TransactionEventMessage {
	return &TransactionEventMessage{
		ID:        id,
		Owner:     owner,
		Action:    ActionUpsert,
		Version:   version,
		Timestamp: time.Now(),
	}
}

func NewDeleteMessage(id, owner string) *TransactionEventMessage {
	return &TransactionEventMessage{
		ID:        id,
		Owner:     owner,
		Action:    ActionDelete,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *TransactionEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MessageFromJSON parses a message from JSON bytes.
func MessageFromJSON(data []byte) (*TransactionEventMessage, error) {
	var msg TransactionEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
