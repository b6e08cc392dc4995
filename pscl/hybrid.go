package pscl

import (
	"github.com/rs/zerolog"
)

// Hybrid publishes to both a Local and a Distributed backend, using one
// shared message (same message_id) for both so a caller correlating
// deliveries sees consistent ids (spec §4.4.2). Publish succeeds iff the
// distributed publish succeeds; a local publish failure is logged but
// non-fatal. Subscribers receive the union of both backends' deliveries —
// Hybrid does not deduplicate; per spec, callers dedupe by message_id
// themselves if they need exactly-once semantics.
type Hybrid struct {
	log    zerolog.Logger
	local  *Local
	dist   *Distributed
}

func NewHybrid(local *Local, dist *Distributed, log zerolog.Logger) *Hybrid {
	return &Hybrid{local: local, dist: dist, log: log.With().Str("component", "pscl.hybrid").Logger()}
}

func (h *Hybrid) Publish(topic string, content interface{}) error {
	return h.PublishAs(topic, "", content)
}

func (h *Hybrid) PublishAs(topic, from string, content interface{}) error {
	msg, err := NewMessage(topic, from, content)
	if err != nil {
		return err
	}
	if err := h.dist.publishMessage(msg); err != nil {
		return err
	}
	if err := h.local.publishMessage(msg); err != nil {
		h.log.Warn().Err(err).Str("topic", topic).Msg("pscl hybrid local publish failed, distributed publish already durable")
	}
	return nil
}

// hybridHandle unsubscribes from both backends together.
type hybridHandle struct {
	topic string
	local SubscriptionHandle
	dist  SubscriptionHandle
}

func (h *hybridHandle) Unsubscribe() {
	h.local.Unsubscribe()
	h.dist.Unsubscribe()
}

func (h *hybridHandle) Topic() string { return h.topic }

func (h *Hybrid) Subscribe(topic string, handler Handler) (SubscriptionHandle, error) {
	localHandle, err := h.local.Subscribe(topic, handler)
	if err != nil {
		return nil, err
	}
	distHandle, err := h.dist.Subscribe(topic, handler)
	if err != nil {
		localHandle.Unsubscribe()
		return nil, err
	}
	return &hybridHandle{topic: topic, local: localHandle, dist: distHandle}, nil
}

func (h *Hybrid) IsDistributed() bool      { return true }
func (h *Hybrid) BackendType() BackendType { return BackendHybrid }

func (h *Hybrid) Close() error {
	if err := h.local.Close(); err != nil {
		return err
	}
	return h.dist.Close()
}
