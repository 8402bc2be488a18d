package stream_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gigline/internal/domain"
	"gigline/internal/stream"
)

func msg(convID, sender, body string) domain.Message {
	return domain.Message{
		ID:             body,
		ConversationID: convID,
		SenderID:       sender,
		Content:        body,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
	}
}

func TestHubDeliversInOrder(t *testing.T) {
	hub := stream.NewHub(8)
	sub := hub.Subscribe("conv-1")
	defer sub.Close()

	for i := 0; i < 5; i++ {
		hub.MessagePosted(msg("conv-1", "a", fmt.Sprintf("m%d", i)))
	}
	for i := 0; i < 5; i++ {
		got := <-sub.C
		if got.Content != fmt.Sprintf("m%d", i) {
			t.Fatalf("out of order at %d: %s", i, got.Content)
		}
	}
}

func TestHubScopesByConversation(t *testing.T) {
	hub := stream.NewHub(8)
	sub1 := hub.Subscribe("conv-1")
	sub2 := hub.Subscribe("conv-2")
	defer sub1.Close()
	defer sub2.Close()

	hub.MessagePosted(msg("conv-1", "a", "only for one"))
	if got := <-sub1.C; got.Content != "only for one" {
		t.Fatalf("unexpected message: %s", got.Content)
	}
	select {
	case got := <-sub2.C:
		t.Fatalf("leaked across conversations: %s", got.Content)
	default:
	}
}

func TestHubDropsWhenSlowAndWatchdogSignalsResync(t *testing.T) {
	hub := stream.NewHub(2)
	sub := hub.Subscribe("conv-1")
	defer sub.Close()

	for i := 0; i < 5; i++ {
		hub.MessagePosted(msg("conv-1", "a", fmt.Sprintf("m%d", i)))
	}
	if !sub.Lagged() {
		t.Fatalf("expected lag flag after overflow")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Watchdog(ctx, 10*time.Millisecond)

	select {
	case <-sub.Resync:
	case <-time.After(time.Second):
		t.Fatalf("watchdog never signalled resync")
	}
	if sub.Lagged() {
		t.Fatalf("expected lag flag cleared after resync signal")
	}
	// the buffered messages are still there, in order
	if got := <-sub.C; got.Content != "m0" {
		t.Fatalf("expected oldest buffered message, got %s", got.Content)
	}
}

func TestSubscriptionCloseDetaches(t *testing.T) {
	hub := stream.NewHub(2)
	sub := hub.Subscribe("conv-1")
	sub.Close()
	// publishing after close must not panic or deliver
	hub.MessagePosted(msg("conv-1", "a", "late"))
	if _, ok := <-sub.C; ok {
		t.Fatalf("expected closed channel")
	}
}
