package queue

import (
	"context"
	"testing"
	"time"
)

func TestIncomingSendReceive(t *testing.T) {
	q := NewIncoming(1)
	ctx := context.Background()

	if err := q.Send(ctx, Incoming{MessageID: "m1", Kind: IncomingCancel}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case item := <-q.Receive():
		if item.MessageID != "m1" {
			t.Errorf("MessageID = %q, want m1", item.MessageID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for item")
	}
}

func TestIncomingSendBlocksUntilContextDone(t *testing.T) {
	q := NewIncoming(1)
	ctx := context.Background()
	if err := q.Send(ctx, Incoming{MessageID: "fill"}); err != nil {
		t.Fatalf("first Send: %v", err)
	}

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := q.Send(cctx, Incoming{MessageID: "blocked"}); err == nil {
		t.Error("expected Send on full queue to fail once context deadline passes")
	}
}

func TestOutgoingSendReceive(t *testing.T) {
	q := NewOutgoing(1)
	ctx := context.Background()

	if err := q.Send(ctx, OutgoingIntent{MessageID: "o1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case item := <-q.Receive():
		if item.MessageID != "o1" {
			t.Errorf("MessageID = %q, want o1", item.MessageID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for item")
	}
}
