package mlse

import (
	"math"
	"time"

	"github.com/blakebarnett/thymos/vmr"
)

// LifecycleConfig holds the tunable constants of the decay formula. Only
// the numbers are tunable, never the shape of the formula.
type LifecycleConfig struct {
	AccessCountWeight        float64
	EmotionalWeightMultiplier float64
	BaseStability            float64
}

// DefaultLifecycleConfig returns the baseline tuning used when no override
// is configured.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		AccessCountWeight:         0.1,
		EmotionalWeightMultiplier: 1.5,
		BaseStability:             1.0,
	}
}

// accessMetadata is read from a MemoryBlob's metadata map; every field is
// optional and has a sensible default when absent or malformed.
type accessMetadata struct {
	lastAccessed    time.Time
	accessCount     float64
	emotionalWeight float64
	importanceScore float64
	malformed       bool
}

func readAccessMetadata(b *vmr.MemoryBlob) accessMetadata {
	m := accessMetadata{emotionalWeight: 1.0, importanceScore: 1.0, lastAccessed: b.CreatedAt}
	if b.Metadata == nil {
		return m
	}
	if v, ok := b.Metadata["last_accessed"]; ok {
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				m.lastAccessed = t
			} else {
				m.malformed = true
			}
		} else {
			m.malformed = true
		}
	}
	if v, ok := b.Metadata["access_count"]; ok {
		if f, ok := toFloat(v); ok {
			m.accessCount = f
		}
	}
	if v, ok := b.Metadata["emotional_weight"]; ok {
		if f, ok := toFloat(v); ok {
			m.emotionalWeight = f
		}
	}
	if v, ok := b.Metadata["importance_score"]; ok {
		if f, ok := toFloat(v); ok {
			m.importanceScore = f
		}
	}
	return m
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// StrengthResult carries the computed strength plus the decay-edge-case
// flag.
type StrengthResult struct {
	Value     float64
	Malformed bool
}

// Strength computes the decay-adjusted strength of a memory at now, given
// its effective scope:
//
//	hours     = max(0, (now - last_accessed) / 1h)
//	stability = base_stability + access_count*access_count_weight
//	            * emotional_weight * emotional_weight_multiplier
//	            * importance_score * scope.importance_multiplier
//	strength  = clamp(exp(-hours / max(stability, scope.decay_hours)), 0, 1)
//
// A malformed last_accessed timestamp degrades to strength = 1.0 rather
// than failing; Malformed on the returned StrengthResult reports this so callers
// can log a warning without the computation erroring. This is the bare
// formula operating only on what's in the blob's own metadata;
// Engine.StrengthInScope additionally overlays runtime access tracking.
func Strength(b *vmr.MemoryBlob, cfg LifecycleConfig, scope MemoryScopeConfig, now time.Time) StrengthResult {
	return strengthCompute(readAccessMetadata(b), cfg, scope, now)
}

func strengthCompute(m accessMetadata, cfg LifecycleConfig, scope MemoryScopeConfig, now time.Time) StrengthResult {
	if m.malformed {
		return StrengthResult{Value: 1.0, Malformed: true}
	}

	hours := now.Sub(m.lastAccessed).Hours()
	if hours < 0 {
		hours = 0
	}

	stability := cfg.BaseStability +
		m.accessCount*cfg.AccessCountWeight*
			m.emotionalWeight*cfg.EmotionalWeightMultiplier*
			m.importanceScore*scope.ImportanceMultiplier

	denom := stability
	if scope.DecayHours > denom {
		denom = scope.DecayHours
	}
	if denom <= 0 {
		denom = 1.0
	}

	strength := math.Exp(-hours / denom)
	if strength < 0 {
		strength = 0
	}
	if strength > 1 {
		strength = 1
	}
	return StrengthResult{Value: strength}
}

// StrengthInScope computes a memory's strength after resolving its scope
// tag through the registry (a missing or unreferenced scope falls back to
// "default" semantics) and overlaying any runtime access tracking recorded
// by Touch (last_access updates from search/get must not mutate the
// content-addressed blob itself, see Engine.Touch).
func (e *Engine) StrengthInScope(b *vmr.MemoryBlob, now time.Time) StrengthResult {
	scope := e.resolveScope(b.ScopeOf())
	meta := readAccessMetadata(b)
	if stat := e.peekAccess(b.Hash); stat != nil {
		meta.lastAccessed = stat.LastAccessed
		meta.accessCount = float64(stat.AccessCount)
		meta.malformed = false
	}
	return strengthCompute(meta, e.lifecycle, scope, now)
}
