// Package mlse implements the Memory Lifecycle & Scope Engine: the scope
// registry, decay/strength model, three-tier search, and commit-time
// retention pruning layered above package vmr. It is a thin orchestration
// layer with constructor-injected collaborators, the way a use-case layer
// sits over a repository.
package mlse

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/blakebarnett/thymos/errs"
	"github.com/blakebarnett/thymos/vmr"
)

const scopeKeyPrefix = "_scopes/"

// MemoryScopeConfig is a named lifecycle policy. "default" is always
// present in a fresh registry.
type MemoryScopeConfig struct {
	Name                string  `json:"name"`
	DecayHours          float64 `json:"decay_hours"`
	ImportanceMultiplier float64 `json:"importance_multiplier"`
	SearchWeight        float64 `json:"search_weight"` // ∈ [0,1]
	MaxMemories         *int    `json:"max_memories,omitempty"`
}

// DefaultScopeConfig is the "default" scope every fresh registry starts
// with.
func DefaultScopeConfig() MemoryScopeConfig {
	return MemoryScopeConfig{
		Name: "default", DecayHours: 168.0, ImportanceMultiplier: 1.0, SearchWeight: 1.0,
	}
}

func scopeKey(name string) string { return scopeKeyPrefix + name }

func isScopeKey(key string) bool { return strings.HasPrefix(key, scopeKeyPrefix) }

func scopeNameFromKey(key string) string { return strings.TrimPrefix(key, scopeKeyPrefix) }

// DefineScope inserts or updates a scope. This is itself a versioned
// memory change: it stages a write to the reserved tree subkey
// `_scopes/<name>` and commits it immediately, so the registry's state at
// any past commit is recoverable by reading that commit's tree (see the
// design notes for this choice).
func (e *Engine) DefineScope(cfg MemoryScopeConfig) error {
	if cfg.Name == "" {
		return errs.New(errs.Validation, "mlse.DefineScope", fmt.Errorf("scope name must not be empty"))
	}
	if cfg.SearchWeight < 0 || cfg.SearchWeight > 1 {
		return errs.New(errs.Validation, "mlse.DefineScope", fmt.Errorf("search_weight must be in [0,1], got %v", cfg.SearchWeight))
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return errs.Wrap(errs.Validation, "mlse.DefineScope", err)
	}

	key := scopeKey(cfg.Name)
	_, existed := e.lookupScope(cfg.Name)
	op := vmr.StagedOp{Kind: vmr.OpAdd, NewContent: data}
	if existed {
		op.Kind = vmr.OpModify
	}
	if err := e.repo.Stage(key, op); err != nil {
		return err
	}
	if _, err := e.repo.Commit(fmt.Sprintf("define_scope(%s)", cfg.Name), "mlse"); err != nil {
		return err
	}
	return e.reloadScopes()
}

// GetScope returns the named scope's config, if present.
func (e *Engine) GetScope(name string) (MemoryScopeConfig, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lookupScope(name)
}

func (e *Engine) lookupScope(name string) (MemoryScopeConfig, bool) {
	cfg, ok := e.scopes[name]
	if !ok {
		return MemoryScopeConfig{}, false
	}
	return *cfg, true
}

// ListScopes returns every registered scope, sorted by name.
func (e *Engine) ListScopes() []MemoryScopeConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]MemoryScopeConfig, 0, len(e.scopes))
	for _, cfg := range e.scopes {
		out = append(out, *cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// resolveScope returns the effective scope for name, falling back to
// "default" semantics for a missing or unreferenced scope.
func (e *Engine) resolveScope(name string) MemoryScopeConfig {
	if cfg, ok := e.GetScope(name); ok {
		return cfg
	}
	if cfg, ok := e.GetScope("default"); ok {
		return cfg
	}
	return DefaultScopeConfig()
}

// DeleteScope removes a scope, refusing if any live memory in the current
// tree still references it.
func (e *Engine) DeleteScope(name string) error {
	if name == "default" {
		return errs.New(errs.Validation, "mlse.DeleteScope", fmt.Errorf("the default scope cannot be removed"))
	}
	tree, err := e.repo.CurrentTree()
	if err != nil {
		return err
	}
	for key, hash := range tree.Entries {
		if isScopeKey(key) {
			continue
		}
		blob, err := e.repo.GetMemory(key)
		if err != nil {
			continue
		}
		_ = hash
		if blob.ScopeOf() == name {
			return errs.New(errs.Conflict, "mlse.DeleteScope",
				fmt.Errorf("scope %q is still referenced by memory %q", name, key))
		}
	}
	if err := e.repo.Stage(scopeKey(name), vmr.StagedOp{Kind: vmr.OpDelete}); err != nil {
		return err
	}
	if _, err := e.repo.Commit(fmt.Sprintf("delete_scope(%s)", name), "mlse"); err != nil {
		return err
	}
	return e.reloadScopes()
}

// reloadScopes re-reads the scope registry from the current tree. Called
// after every registry-mutating commit, and once at Engine construction.
func (e *Engine) reloadScopes() error {
	tree, err := e.repo.CurrentTree()
	if err != nil {
		return err
	}
	scopes := make(map[string]*MemoryScopeConfig)
	for key := range tree.Entries {
		if !isScopeKey(key) {
			continue
		}
		blob, err := e.repo.GetMemory(key)
		if err != nil {
			return err
		}
		var cfg MemoryScopeConfig
		if err := json.Unmarshal(blob.Content, &cfg); err != nil {
			return errs.Wrap(errs.Corruption, "mlse.reloadScopes", err)
		}
		c := cfg
		scopes[scopeNameFromKey(key)] = &c
	}
	if _, ok := scopes["default"]; !ok {
		d := DefaultScopeConfig()
		scopes["default"] = &d
	}

	e.mu.Lock()
	e.scopes = scopes
	e.mu.Unlock()
	return nil
}
