package mlse

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/blakebarnett/thymos/objectstore"
	"github.com/blakebarnett/thymos/provider"
	"github.com/blakebarnett/thymos/vmr"
)

// EventPublisher is the minimal surface Engine needs from a pubsub layer.
// Satisfied structurally by pscl.PubSub's Publish method without mlse
// importing package pscl — a narrow, locally-declared interface rather
// than a dependency on a concrete collaborator's package.
type EventPublisher interface {
	Publish(topic string, content interface{}) error
}

// AccessStat is runtime-only bookkeeping: how recently and how often a
// specific blob has been touched by a search result or a direct Get. It is
// deliberately not part of MemoryBlob.Metadata, because mutating metadata
// would change the blob's hash and violate content addressability; tracking
// it out of band is how last-access updates coexist with immutable
// storage.
type AccessStat struct {
	LastAccessed time.Time
	AccessCount  int
}

// Engine is the lifecycle-and-scope façade over a Repository: the
// "remember"/"recall" entry point combining VMR, the scope registry, decay
// scoring, and three-tier search.
type Engine struct {
	repo      *vmr.Repository
	search    provider.SearchBackend
	embedder  provider.Embedder // optional, nil unless hybrid search is enabled
	publisher EventPublisher    // optional
	lifecycle LifecycleConfig

	mu     sync.RWMutex
	scopes map[string]*MemoryScopeConfig

	accessMu sync.Mutex
	access   map[objectstore.Hash]*AccessStat

	log zerolog.Logger
}

// Option configures an Engine at construction.
type Option func(*Engine)

func WithEmbedder(e provider.Embedder) Option      { return func(en *Engine) { en.embedder = e } }
func WithPublisher(p EventPublisher) Option        { return func(en *Engine) { en.publisher = p } }
func WithLifecycleConfig(c LifecycleConfig) Option { return func(en *Engine) { en.lifecycle = c } }
func WithLogger(log zerolog.Logger) Option         { return func(en *Engine) { en.log = log } }

// NewEngine wraps repo with lifecycle/scope semantics, searching via search.
func NewEngine(repo *vmr.Repository, search provider.SearchBackend, opts ...Option) (*Engine, error) {
	e := &Engine{
		repo:      repo,
		search:    search,
		lifecycle: DefaultLifecycleConfig(),
		scopes:    map[string]*MemoryScopeConfig{},
		access:    map[objectstore.Hash]*AccessStat{},
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.reloadScopes(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) peekAccess(hash objectstore.Hash) *AccessStat {
	e.accessMu.Lock()
	defer e.accessMu.Unlock()
	if s, ok := e.access[hash]; ok {
		cp := *s
		return &cp
	}
	return nil
}

// Touch records a search hit or direct read against hash, so last-access is
// updated whenever a memory is returned from a search or retrieved by id,
// without rewriting the blob itself.
func (e *Engine) Touch(hash objectstore.Hash, at time.Time) {
	e.accessMu.Lock()
	defer e.accessMu.Unlock()
	s, ok := e.access[hash]
	if !ok {
		s = &AccessStat{}
		e.access[hash] = s
	}
	if at.After(s.LastAccessed) {
		s.LastAccessed = at
	}
	s.AccessCount++
}

// Recall fetches a memory by key in the current workspace and records the
// access, the simplest façade operation exposed alongside the three-tier
// search API.
func (e *Engine) Recall(key string) (*vmr.MemoryBlob, error) {
	b, err := e.repo.GetMemory(key)
	if err != nil {
		return nil, err
	}
	e.Touch(b.Hash, time.Now().UTC())
	return b, nil
}

// Remember stages and commits a single Add, publishing "memory.added" on
// success.
func (e *Engine) Remember(key string, content []byte, metadata map[string]interface{}, author, message string) (*vmr.Commit, error) {
	if err := e.repo.StageAdd(key, content, metadata); err != nil {
		return nil, err
	}
	commit, err := e.repo.Commit(message, author)
	if err != nil {
		return nil, err
	}
	scope := (&vmr.MemoryBlob{Metadata: metadata}).ScopeOf()
	e.reindex(key, scope, string(content))
	e.publish("memory.added", map[string]interface{}{"key": key, "commit": string(commit.Hash)})
	if err := e.prune(); err != nil {
		return commit, err
	}
	return commit, nil
}

// Update stages and commits a single Modify, publishing "memory.modified".
func (e *Engine) Update(key string, oldHash objectstore.Hash, content []byte, metadata map[string]interface{}, author, message string) (*vmr.Commit, error) {
	if err := e.repo.StageModify(key, oldHash, content, metadata); err != nil {
		return nil, err
	}
	commit, err := e.repo.Commit(message, author)
	if err != nil {
		return nil, err
	}
	scope := (&vmr.MemoryBlob{Metadata: metadata}).ScopeOf()
	e.reindex(key, scope, string(content))
	e.publish("memory.modified", map[string]interface{}{"key": key, "commit": string(commit.Hash)})
	return commit, nil
}

// Forget stages and commits a single Delete, publishing "memory.deleted".
func (e *Engine) Forget(key, author, message string) (*vmr.Commit, error) {
	if err := e.repo.StageDelete(key); err != nil {
		return nil, err
	}
	commit, err := e.repo.Commit(message, author)
	if err != nil {
		return nil, err
	}
	e.deindex(key)
	e.publish("memory.deleted", map[string]interface{}{"key": key, "commit": string(commit.Hash)})
	return commit, nil
}

func (e *Engine) logSweepError(err error) {
	e.log.Error().Err(err).Msg("mlse scheduled retention sweep failed")
}

func (e *Engine) publish(topic string, content interface{}) {
	if e.publisher == nil {
		return
	}
	_ = e.publisher.Publish(topic, content)
}
