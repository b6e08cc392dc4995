package pscl

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLocalPublishSubscribeDelivers(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	defer l.Close()

	received := make(chan PubSubMessage, 1)
	if _, err := l.Subscribe("topic-a", func(m PubSubMessage) error {
		received <- m
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := l.Publish("topic-a", map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Topic != "topic-a" {
			t.Errorf("Topic = %q, want topic-a", msg.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestLocalDoesNotDeliverToOtherTopics(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	defer l.Close()

	received := make(chan PubSubMessage, 1)
	if _, err := l.Subscribe("topic-a", func(m PubSubMessage) error {
		received <- m
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := l.Publish("topic-b", "irrelevant"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-received:
		t.Fatal("should not have received a message published to a different topic")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLocalHandlerPanicDoesNotAffectOtherSubscribers(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	defer l.Close()

	if _, err := l.Subscribe("topic-a", func(m PubSubMessage) error {
		panic("boom")
	}); err != nil {
		t.Fatalf("subscribe panicking handler: %v", err)
	}

	received := make(chan PubSubMessage, 1)
	if _, err := l.Subscribe("topic-a", func(m PubSubMessage) error {
		received <- m
		return nil
	}); err != nil {
		t.Fatalf("subscribe second handler: %v", err)
	}

	if err := l.Publish("topic-a", "payload"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("second subscriber should still receive despite the first handler panicking")
	}
}

func TestLocalUnsubscribeStopsDelivery(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	defer l.Close()

	var mu sync.Mutex
	count := 0
	handle, err := l.Subscribe("topic-a", func(m PubSubMessage) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := l.Publish("topic-a", "one"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	handle.Unsubscribe()
	handle.Unsubscribe() // must be safe to call twice

	if err := l.Publish("topic-a", "two"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	got := count
	mu.Unlock()
	if got != 1 {
		t.Errorf("handler invoked %d times, want exactly 1 (before unsubscribe)", got)
	}
}

// TestLocalUnsubscribeDeliversMessagesAlreadyBuffered pins down local.go's
// drain-on-unsubscribe behavior: a message handed to publishMessage before
// Unsubscribe was called, but not yet passed to the handler, still gets
// delivered. Unsubscribe only cuts off messages published after it returns.
func TestLocalUnsubscribeDeliversMessagesAlreadyBuffered(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	defer l.Close()

	release := make(chan struct{})
	var mu sync.Mutex
	var seen []string
	delivered := make(chan struct{}, 3)

	handle, err := l.Subscribe("topic-a", func(m PubSubMessage) error {
		<-release
		mu.Lock()
		seen = append(seen, string(m.Content))
		mu.Unlock()
		delivered <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// The first message is picked up by the subscriber's run loop and held
	// in its handler, so the next two accumulate in the channel buffer
	// rather than being handed to the handler yet.
	for _, payload := range []string{"one", "two", "three"} {
		if err := l.Publish("topic-a", payload); err != nil {
			t.Fatalf("publish %q: %v", payload, err)
		}
	}
	time.Sleep(50 * time.Millisecond)

	handle.Unsubscribe()
	close(release)

	for i := 0; i < 3; i++ {
		select {
		case <-delivered:
		case <-time.After(time.Second):
			t.Fatalf("only %d of 3 already-buffered messages were delivered after Unsubscribe", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Errorf("delivered %d messages, want all 3 buffered before Unsubscribe", len(seen))
	}
}

func TestLocalPublishAfterCloseFails(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := l.Publish("topic-a", "x"); err == nil {
		t.Error("publish after close should fail")
	}
	if _, err := l.Subscribe("topic-a", func(PubSubMessage) error { return nil }); err == nil {
		t.Error("subscribe after close should fail")
	}
}

func TestLocalBackendIdentity(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	defer l.Close()
	if l.IsDistributed() {
		t.Error("Local should not report itself as distributed")
	}
	if l.BackendType() != BackendLocal {
		t.Errorf("BackendType() = %v, want %v", l.BackendType(), BackendLocal)
	}
}

func TestLocalConcurrentPublishersDeliverInOrderPerPublisher(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	defer l.Close()

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})
	count := 0
	if _, err := l.Subscribe("ordering", func(m PubSubMessage) error {
		mu.Lock()
		seen = append(seen, string(m.Content))
		count++
		if count == 5 {
			close(done)
		}
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := l.Publish("ordering", fmt.Sprintf("%d", i)); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("did not receive all 5 messages in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 5 {
		t.Fatalf("received %d messages, want 5", len(seen))
	}
	for i, s := range seen {
		want := fmt.Sprintf("%q", fmt.Sprintf("%d", i))
		if s != want {
			t.Errorf("message %d = %s, want %s (single publisher order preserved)", i, s, want)
		}
	}
}
