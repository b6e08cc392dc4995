package pscl

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestHybrid(t *testing.T) *Hybrid {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pscl-hybrid.db")
	dist, err := OpenDistributed(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open distributed: %v", err)
	}
	h := NewHybrid(NewLocal(zerolog.Nop()), dist, zerolog.Nop())
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHybridPublishReachesBothBackends(t *testing.T) {
	h := newTestHybrid(t)

	localReceived := make(chan PubSubMessage, 1)
	distReceived := make(chan PubSubMessage, 1)
	if _, err := h.local.Subscribe("topic-a", func(m PubSubMessage) error {
		localReceived <- m
		return nil
	}); err != nil {
		t.Fatalf("subscribe local: %v", err)
	}
	if _, err := h.dist.Subscribe("topic-a", func(m PubSubMessage) error {
		distReceived <- m
		return nil
	}); err != nil {
		t.Fatalf("subscribe dist: %v", err)
	}

	if err := h.Publish("topic-a", "payload"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var localMsg, distMsg PubSubMessage
	select {
	case localMsg = <-localReceived:
	case <-time.After(2 * time.Second):
		t.Fatal("local backend did not deliver")
	}
	select {
	case distMsg = <-distReceived:
	case <-time.After(2 * time.Second):
		t.Fatal("distributed backend did not deliver")
	}

	if localMsg.MessageID != distMsg.MessageID {
		t.Errorf("local and distributed deliveries should share one message_id, got %v vs %v", localMsg.MessageID, distMsg.MessageID)
	}
}

func TestHybridSubscribeReceivesViaEitherBackend(t *testing.T) {
	h := newTestHybrid(t)

	received := make(chan PubSubMessage, 4)
	handle, err := h.Subscribe("topic-a", func(m PubSubMessage) error {
		received <- m
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer handle.Unsubscribe()

	if err := h.Publish("topic-a", "payload"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Hybrid does not deduplicate, so the same message_id can arrive twice —
	// once from each backend. At least one delivery must arrive either way.
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("expected at least one delivery through the hybrid subscription")
	}
}

func TestHybridBackendIdentity(t *testing.T) {
	h := newTestHybrid(t)
	if !h.IsDistributed() {
		t.Error("Hybrid should report itself as distributed")
	}
	if h.BackendType() != BackendHybrid {
		t.Errorf("BackendType() = %v, want %v", h.BackendType(), BackendHybrid)
	}
}
