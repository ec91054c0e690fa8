package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	msg, err := NewCheckInMessage(CheckInEvent{SessionID: "sess-1", StudentID: "student-1", At: time.Now()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := q.Publish(ctx, msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	select {
	case got := <-messages:
		if got.Type != "checkin" {
			t.Errorf("type = %s, want checkin", got.Type)
		}
		var evt CheckInEvent
		if err := json.Unmarshal(got.Body, &evt); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if evt.SessionID != "sess-1" || evt.StudentID != "student-1" {
			t.Errorf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no message consumed")
	}
}

func TestInMemoryPublishHonorsCancel(t *testing.T) {
	q := NewInMemory(1)
	ctx := context.Background()
	if err := q.Publish(ctx, Message{Type: "checkin"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Publish(cancelled, Message{Type: "checkin"}); err == nil {
		t.Fatal("publish to full queue with cancelled context should fail")
	}
}
