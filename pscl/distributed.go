package pscl

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	_ "github.com/mattn/go-sqlite3"

	"github.com/blakebarnett/thymos/errs"
)

const pollInterval = 50 * time.Millisecond

// Distributed is the durable PubSub backend (spec §4.4.2): every publish is
// appended to a sqlite-backed log before being acknowledged, so "a message
// is considered published only after it is durable." In-process
// subscribers are served by a poller keyed on topic and rowid, the
// "live query" the spec describes; package pscl additionally exposes the
// same stream to out-of-process subscribers over a gorilla/websocket hub,
// since a single sqlite file has no native live-query push of its own.
type Distributed struct {
	log zerolog.Logger
	db  *sql.DB
	hub *wsHub

	mu     sync.Mutex
	subs   map[string]*distributedSub
	closed bool
}

type distributedSub struct {
	id      string
	topic   string
	handler Handler
	cancel  chan struct{}
	done    chan struct{}
}

// OpenDistributed opens (creating if absent) a sqlite-backed durable
// message log at path.
func OpenDistributed(path string, log zerolog.Logger) (*Distributed, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "pscl.OpenDistributed", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pscl_messages (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL UNIQUE,
			topic TEXT NOT NULL,
			content BLOB NOT NULL,
			from_agent TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			correlation_id TEXT
		)
	`); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.Resource, "pscl.OpenDistributed", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_pscl_topic ON pscl_messages(topic, rowid)`); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.Resource, "pscl.OpenDistributed", err)
	}
	return &Distributed{
		log:  log.With().Str("component", "pscl.distributed").Logger(),
		db:   db,
		hub:  newWSHub(),
		subs: map[string]*distributedSub{},
	}, nil
}

func (d *Distributed) Publish(topic string, content interface{}) error {
	return d.PublishAs(topic, "", content)
}

func (d *Distributed) PublishAs(topic, from string, content interface{}) error {
	msg, err := NewMessage(topic, from, content)
	if err != nil {
		return errs.Wrap(errs.Validation, "pscl.Distributed.Publish", err)
	}
	return d.publishMessage(msg)
}

// publishMessage writes a pre-built message to the durable log, used
// directly by PublishAs and by Hybrid so both backends fan out the
// identical message_id.
func (d *Distributed) publishMessage(msg PubSubMessage) error {
	var correlationID interface{}
	if msg.CorrelationID != nil {
		correlationID = msg.CorrelationID.String()
	}
	if _, err := d.db.Exec(
		`INSERT INTO pscl_messages (message_id, topic, content, from_agent, timestamp, correlation_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.MessageID.String(), msg.Topic, []byte(msg.Content), msg.From, msg.Timestamp.Format(time.RFC3339Nano), correlationID,
	); err != nil {
		return errs.Wrap(errs.Transport, "pscl.Distributed.Publish", err)
	}

	d.hub.broadcast(msg)
	return nil
}

func (d *Distributed) Subscribe(topic string, handler Handler) (SubscriptionHandle, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errs.New(errs.Cancelled, "pscl.Distributed.Subscribe", fmt.Errorf("backend closed"))
	}
	s := &distributedSub{
		id: uuid.NewString(), topic: topic, handler: handler,
		cancel: make(chan struct{}), done: make(chan struct{}),
	}
	d.subs[s.id] = s
	d.mu.Unlock()

	go d.poll(s)
	return &distributedSubHandle{d: d, s: s}, nil
}

// poll implements the live-query delivery loop: repeatedly fetch rows newer
// than the last seen rowid for this topic, deliver each at least once. A
// process restart simply starts lastSeen at 0 and redelivers the topic's
// full history, which is within the spec's at-least-once contract.
func (d *Distributed) poll(s *distributedSub) {
	defer close(s.done)
	var lastSeen int64
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.cancel:
			return
		case <-ticker.C:
			rows, err := d.db.Query(
				`SELECT rowid, message_id, topic, content, from_agent, timestamp, correlation_id
				 FROM pscl_messages WHERE topic = ? AND rowid > ? ORDER BY rowid ASC`,
				s.topic, lastSeen)
			if err != nil {
				d.log.Error().Err(err).Str("topic", s.topic).Msg("pscl distributed poll query failed")
				continue
			}
			for rows.Next() {
				var rowid int64
				var messageID, topic, fromAgent, ts string
				var content []byte
				var correlationID sql.NullString
				if err := rows.Scan(&rowid, &messageID, &topic, &content, &fromAgent, &ts, &correlationID); err != nil {
					d.log.Error().Err(err).Msg("pscl distributed poll scan failed")
					continue
				}
				lastSeen = rowid
				msg := PubSubMessage{
					Topic: topic, Content: json.RawMessage(content), From: fromAgent,
				}
				if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
					msg.Timestamp = t
				}
				if mid, err := uuid.Parse(messageID); err == nil {
					msg.MessageID = mid
				}
				if correlationID.Valid {
					if cid, err := uuid.Parse(correlationID.String); err == nil {
						msg.CorrelationID = &cid
					}
				}
				d.invoke(s, msg)
			}
			rows.Close()
		}
	}
}

func (d *Distributed) invoke(s *distributedSub, msg PubSubMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("topic", s.topic).Interface("panic", r).Msg("pscl distributed handler panicked")
		}
	}()
	if err := s.handler(msg); err != nil {
		d.log.Warn().Err(err).Str("topic", s.topic).Msg("pscl distributed handler returned error")
	}
}

type distributedSubHandle struct {
	d *Distributed
	s *distributedSub
}

func (h *distributedSubHandle) Unsubscribe() {
	h.d.mu.Lock()
	delete(h.d.subs, h.s.id)
	h.d.mu.Unlock()
	close(h.s.cancel)
	<-h.s.done
}

func (h *distributedSubHandle) Topic() string { return h.s.topic }

func (d *Distributed) IsDistributed() bool      { return true }
func (d *Distributed) BackendType() BackendType { return BackendDistributed }

func (d *Distributed) Close() error {
	d.mu.Lock()
	d.closed = true
	subs := make([]*distributedSub, 0, len(d.subs))
	for _, s := range d.subs {
		subs = append(subs, s)
	}
	d.subs = map[string]*distributedSub{}
	d.mu.Unlock()

	for _, s := range subs {
		close(s.cancel)
		<-s.done
	}
	d.hub.close()
	return d.db.Close()
}

// ServeWS upgrades an HTTP request to a websocket connection that streams
// every published message live (spec §4.4.2 "live queries"), for
// subscribers outside this process. The sqlite log remains the source of
// truth; this is a push convenience on top of it.
func (d *Distributed) ServeWS(w http.ResponseWriter, r *http.Request) error {
	return d.hub.serve(w, r)
}

// wsHub fans out published messages to connected websocket clients.
type wsHub struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	closed   bool
}

func newWSHub() *wsHub {
	return &wsHub{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    map[*websocket.Conn]struct{}{},
	}
}

func (h *wsHub) serve(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return conn.Close()
	}
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.conns, conn)
			h.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return nil
}

func (h *wsHub) broadcast(msg PubSubMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
}

func (h *wsHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn := range h.conns {
		conn.Close()
	}
	h.conns = map[*websocket.Conn]struct{}{}
}
