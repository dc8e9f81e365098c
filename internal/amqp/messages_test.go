package amqp

import (
	"testing"
	"time"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := NewUpsertMessage("tx-123", "user-1", 3)
	body, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := MessageFromJSON(body)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "tx-123" || got.Owner != "user-1" || got.Action != ActionUpsert || got.Version != 3 {
		t.Fatalf("unexpected message: %+v", got)
	}
	if time.Since(got.Timestamp) > time.Minute {
		t.Fatalf("timestamp not set: %v", got.Timestamp)
	}
}

func TestDeleteMessage(t *testing.T) {
	msg := NewDeleteMessage("tx-9", "user-2")
	if msg.Action != ActionDelete || msg.Version != 0 {
		t.Fatalf("unexpected delete message: %+v", msg)
	}
}

func TestMessageFromJSONInvalid(t *testing.T) {
	if _, err := MessageFromJSON([]byte("{not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
