package pscl

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/blakebarnett/thymos/errs"
)

const subscriberQueueDepth = 256

// Local is the in-process PubSub backend (spec §4.4.2). Each subscriber
// owns a buffered channel drained by its own goroutine, so Publish enqueues
// deliveries in call order and returns without waiting for any handler to
// run, unless a subscriber's buffer (subscriberQueueDepth messages) is full,
// in which case Publish blocks until that subscriber drains one; a
// panicking handler is recovered and logged, never taking down the
// delivery goroutine or any other subscriber.
type Local struct {
	log zerolog.Logger

	mu     sync.RWMutex
	subs   map[string][]*localSub // topic -> subscribers, in subscribe order
	closed bool
}

type localSub struct {
	id    string
	topic string
	ch    chan PubSubMessage
	done  chan struct{}
	once  sync.Once
	local *Local
}

func NewLocal(log zerolog.Logger) *Local {
	return &Local{log: log.With().Str("component", "pscl.local").Logger(), subs: map[string][]*localSub{}}
}

func (l *Local) Publish(topic string, content interface{}) error {
	return l.PublishAs(topic, "", content)
}

func (l *Local) PublishAs(topic, from string, content interface{}) error {
	msg, err := NewMessage(topic, from, content)
	if err != nil {
		return errs.Wrap(errs.Validation, "pscl.Local.Publish", err)
	}
	return l.publishMessage(msg)
}

// publishMessage delivers a pre-built message, used directly by PublishAs
// and by Hybrid so both backends fan out the identical message_id.
func (l *Local) publishMessage(msg PubSubMessage) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return errs.New(errs.Cancelled, "pscl.Local.Publish", fmt.Errorf("backend closed"))
	}
	for _, s := range l.subs[msg.Topic] {
		s.ch <- msg
	}
	return nil
}

func (l *Local) Subscribe(topic string, handler Handler) (SubscriptionHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errs.New(errs.Cancelled, "pscl.Local.Subscribe", fmt.Errorf("backend closed"))
	}

	s := &localSub{
		id: uuid.NewString(), topic: topic,
		ch: make(chan PubSubMessage, subscriberQueueDepth), done: make(chan struct{}), local: l,
	}
	l.subs[topic] = append(l.subs[topic], s)

	go s.run(handler)
	return s, nil
}

func (s *localSub) run(handler Handler) {
	for {
		select {
		case msg, ok := <-s.ch:
			if !ok {
				return
			}
			s.invoke(handler, msg)
		case <-s.done:
			// Drain whatever was already enqueued before stopping, so an
			// in-flight publish isn't silently lost, then exit.
			for {
				select {
				case msg := <-s.ch:
					s.invoke(handler, msg)
				default:
					return
				}
			}
		}
	}
}

func (s *localSub) invoke(handler Handler, msg PubSubMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.local.log.Error().Str("topic", s.topic).Str("subscription", s.id).
				Interface("panic", r).Msg("pscl subscriber handler panicked")
		}
	}()
	if err := handler(msg); err != nil {
		s.local.log.Warn().Err(err).Str("topic", s.topic).Str("subscription", s.id).
			Msg("pscl subscriber handler returned error")
	}
}

func (s *localSub) Unsubscribe() {
	s.local.mu.Lock()
	subs := s.local.subs[s.topic]
	for i, sub := range subs {
		if sub == s {
			s.local.subs[s.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.local.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

func (s *localSub) Topic() string { return s.topic }

func (l *Local) IsDistributed() bool    { return false }
func (l *Local) BackendType() BackendType { return BackendLocal }

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for _, subs := range l.subs {
		for _, s := range subs {
			s.once.Do(func() { close(s.done) })
		}
	}
	l.subs = map[string][]*localSub{}
	return nil
}
