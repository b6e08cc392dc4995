package mlse

import (
	"context"
	"sort"
	"time"

	"github.com/blakebarnett/thymos/provider"
	"github.com/blakebarnett/thymos/vmr"
)

// ScoredMemory is one ranked search result with its score breakdown, so
// callers and tests can assert each contribution independently rather than
// only the final composite score.
type ScoredMemory struct {
	Key          string
	Memory       *vmr.MemoryBlob
	BackendScore float64
	RecencyBoost float64 // the memory's decay strength at search time
	ImportanceBoost float64
	ScopeWeight  float64
	Score        float64
	LastAccessed time.Time
}

func (e *Engine) scoreHit(hit provider.Hit, now time.Time, scopeWeight float64) (ScoredMemory, error) {
	blob, err := e.repo.GetMemory(hit.MemoryID)
	if err != nil {
		return ScoredMemory{}, err
	}
	strength := e.StrengthInScope(blob, now)
	importance := 1.0
	if v, ok := blob.Metadata["importance_score"]; ok {
		if f, ok := toFloat(v); ok {
			importance = f
		}
	}
	stat := e.peekAccess(blob.Hash)
	lastAccessed := blob.CreatedAt
	if stat != nil {
		lastAccessed = stat.LastAccessed
	}

	score := hit.Score * strength.Value * importance * scopeWeight
	return ScoredMemory{
		Key: hit.MemoryID, Memory: blob, BackendScore: hit.Score,
		RecencyBoost: strength.Value, ImportanceBoost: importance, ScopeWeight: scopeWeight,
		Score: score, LastAccessed: lastAccessed,
	}, nil
}

// SearchInScope delegates to the external search backend restricted to a
// single scope, applying the scope-aware strength multiplier to each hit.
func (e *Engine) SearchInScope(ctx context.Context, scope, query string, limit int) ([]ScoredMemory, error) {
	hits, err := e.search.Search(ctx, query, provider.Filters{Scope: scope}, limit)
	if err != nil {
		return nil, err
	}
	scopeWeight := e.resolveScope(scope).SearchWeight
	now := time.Now().UTC()

	out := make([]ScoredMemory, 0, len(hits))
	for _, h := range hits {
		sm, err := e.scoreHit(h, now, scopeWeight)
		if err != nil {
			continue
		}
		out = append(out, sm)
	}
	sortScored(out)
	e.touchResults(out, now)
	return out, nil
}

// SearchScopes searches each of scopes independently with oversampling
// (requesting limit results per scope, since any of them might dominate
// the merged top-limit), multiplies by each scope's search_weight, merges
// by descending score, and truncates to limit. Ties break by most-recent
// last_accessed.
func (e *Engine) SearchScopes(ctx context.Context, scopes []string, query string, limit int) ([]ScoredMemory, error) {
	now := time.Now().UTC()
	var all []ScoredMemory
	for _, scope := range scopes {
		hits, err := e.search.Search(ctx, query, provider.Filters{Scope: scope}, limit)
		if err != nil {
			return nil, err
		}
		scopeWeight := e.resolveScope(scope).SearchWeight
		for _, h := range hits {
			sm, err := e.scoreHit(h, now, scopeWeight)
			if err != nil {
				continue
			}
			all = append(all, sm)
		}
	}
	sortScored(all)
	if len(all) > limit {
		all = all[:limit]
	}
	e.touchResults(all, now)
	return all, nil
}

// SearchAllScopes is search_scopes(list_scopes(), query, limit).
func (e *Engine) SearchAllScopes(ctx context.Context, query string, limit int) ([]ScoredMemory, error) {
	names := make([]string, 0, len(e.scopes))
	for _, cfg := range e.ListScopes() {
		names = append(names, cfg.Name)
	}
	return e.SearchScopes(ctx, names, query, limit)
}

func sortScored(results []ScoredMemory) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].LastAccessed.After(results[j].LastAccessed)
	})
}

func (e *Engine) touchResults(results []ScoredMemory, at time.Time) {
	for _, r := range results {
		e.Touch(r.Memory.Hash, at)
	}
}
