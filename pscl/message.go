// Package pscl implements the PubSub Coordination Layer: a uniform
// publish/subscribe interface over Local (in-process), Distributed
// (sqlite-backed durable log + websocket live push), and Hybrid backends
// (spec §4.4). Grounded in thymos-core/src/pubsub/{message,traits}.rs for
// the wire shape and backend taxonomy, implemented the teacher's way —
// constructor-injected collaborators, categorized errors, and a sqlite
// message log where persistence is involved.
package pscl

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PubSubMessage is the wire format every backend produces and consumes
// (spec §3.1, §6.5).
type PubSubMessage struct {
	Topic         string          `json:"topic"`
	Content       json.RawMessage `json:"content"`
	From          string          `json:"from"`
	Timestamp     time.Time       `json:"timestamp"`
	MessageID     uuid.UUID       `json:"message_id"`
	CorrelationID *uuid.UUID      `json:"correlation_id,omitempty"`
}

// NewMessage builds a message with a fresh message_id and the current
// time, mirroring thymos-core's PubSubMessage::new.
func NewMessage(topic, from string, content interface{}) (PubSubMessage, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return PubSubMessage{}, err
	}
	return PubSubMessage{
		Topic: topic, From: from, Content: raw,
		Timestamp: time.Now().UTC(), MessageID: uuid.New(),
	}, nil
}

// WithCorrelationID attaches a correlation id for request/response
// tracking, mirroring thymos-core's PubSubMessage::with_correlation_id.
func (m PubSubMessage) WithCorrelationID(id uuid.UUID) PubSubMessage {
	m.CorrelationID = &id
	return m
}

// Handler processes a delivered message. A handler that panics is isolated
// by the backend (spec §4.4.2 "a handler panic must not terminate other
// subscribers").
type Handler func(PubSubMessage) error

// BackendType identifies which delivery strategy a PubSub implementation
// uses (spec §4.4.1 backend_type()).
type BackendType string

const (
	BackendLocal       BackendType = "local"
	BackendDistributed BackendType = "distributed"
	BackendHybrid      BackendType = "hybrid"
)

// SubscriptionHandle cancels future deliveries to one subscriber. In-flight
// handler invocations are allowed to complete (spec §4.4.1).
type SubscriptionHandle interface {
	Unsubscribe()
	Topic() string
}

// PubSub is the uniform interface every backend implements (spec §4.4.1).
type PubSub interface {
	Publish(topic string, content interface{}) error
	PublishAs(topic, from string, content interface{}) error
	Subscribe(topic string, handler Handler) (SubscriptionHandle, error)
	IsDistributed() bool
	BackendType() BackendType
	Close() error
}
