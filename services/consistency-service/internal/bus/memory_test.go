package bus

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBus_DeliversInOrder(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	sub := b.Subscribe(10)
	ctx := context.Background()

	for _, v := range []string{"one", "two", "three"} {
		if err := b.Publish(ctx, Message{Topic: "t", Value: []byte(v)}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case msg := <-sub:
			if string(msg.Value) != want {
				t.Fatalf("expected %q, got %q", want, msg.Value)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestMemoryBus_ClosedRejectsPublish(t *testing.T) {
	b := NewMemoryBus()
	sub := b.Subscribe(1)
	_ = b.Close()

	if err := b.Publish(context.Background(), Message{Topic: "t"}); err != ErrBusClosed {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
	if _, ok := <-sub; ok {
		t.Fatal("expected subscriber channel to be closed")
	}
}

func TestMemoryBus_CloseUnblocksStalledPublisher(t *testing.T) {
	b := NewMemoryBus()
	b.Subscribe(1)
	ctx := context.Background()

	if err := b.Publish(ctx, Message{Topic: "t", Value: []byte("one")}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// The subscriber's buffer is full and nobody reads; the second publish
	// stalls until the bus closes.
	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Publish(ctx, Message{Topic: "t", Value: []byte("two")})
	}()

	time.Sleep(10 * time.Millisecond)
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-errCh:
		if err != ErrBusClosed {
			t.Fatalf("expected ErrBusClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publisher stayed blocked after close")
	}
}

func TestHeaderValue(t *testing.T) {
	headers := []Header{{Key: "event_id", Value: []byte("e1")}}
	if got := HeaderValue(headers, "event_id"); got != "e1" {
		t.Fatalf("expected e1, got %s", got)
	}
	if got := HeaderValue(headers, "missing"); got != "" {
		t.Fatalf("expected empty, got %s", got)
	}
}
