// Package provider adapts the external interfaces MLSE consumes (spec §6:
// search backend, embedding provider, LLM provider) to concrete
// implementations, the way the teacher's internal package wires AnnoyIndex
// and an LLM Provider behind its own Embedder/VectorIndex interfaces
// (internal/vector.go, internal/llm.go). Consumers of mlse depend only on
// the interfaces here; the sqlite/onnxruntime/anthropic-backed
// implementations are swappable.
package provider

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/blakebarnett/thymos/errs"
)

// Filters narrows a search backend call. Scope is mandatory per spec §6.1
// ("Filters must include at minimum a scope-name filter"); Extra carries
// backend-specific additional constraints.
type Filters struct {
	Scope string
	Extra map[string]string
}

// Hit is one backend-ranked result, keyed by the logical memory id (the
// same key used in a MemoryTree).
type Hit struct {
	MemoryID string
	Score    float64
}

// SearchBackend is the external text/vector ranking primitive MLSE
// delegates to (spec §6.1). SearchByVector and HybridSearch are optional:
// implementations that don't support them return ErrUnsupported
// (FTS5Backend wraps it in an errs.Validation error). mlse.Engine calls
// only Search.
type SearchBackend interface {
	Search(ctx context.Context, query string, filters Filters, limit int) ([]Hit, error)
	SearchByVector(ctx context.Context, vector []float32, filters Filters, limit int) ([]Hit, error)
	HybridSearch(ctx context.Context, query string, filters Filters, limit int, semanticWeight float64) ([]Hit, error)
}

// ErrUnsupported is returned by a SearchBackend method the implementation
// does not provide.
var ErrUnsupported = fmt.Errorf("operation not supported by this search backend")

// FTS5Backend is a keyword SearchBackend built on SQLite's FTS5 virtual
// tables, grounded in the BM25 keyword-search path of a sibling memory
// service (its Manager.keywordSearch runs `SELECT chunk_id, bm25(chunks_fts)
// ... WHERE chunks_fts MATCH ? ORDER BY score`, negating the score because
// SQLite's bm25() returns a more-negative-is-better ranking). Content gets
// into the index through Index/Remove, which mlse calls after its commits.
type FTS5Backend struct {
	db *sql.DB
}

// OpenFTS5Backend opens (creating if absent) a SQLite database at path with
// an FTS5 virtual table for keyword search over memory content.
func OpenFTS5Backend(path string) (*FTS5Backend, error) {
	db, err := sql.Open("sqlite3", path+"?_fts5=1")
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "provider.OpenFTS5Backend", err)
	}
	if _, err := db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
			memory_id UNINDEXED,
			scope UNINDEXED,
			content
		)
	`); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.Resource, "provider.OpenFTS5Backend", err)
	}
	return &FTS5Backend{db: db}, nil
}

func (b *FTS5Backend) Close() error { return b.db.Close() }

// Index upserts a memory's searchable content. mlse calls this after every
// commit for the keys that changed, keeping the index consistent with the
// committed tree without requiring a full rebuild.
func (b *FTS5Backend) Index(ctx context.Context, memoryID, scope, content string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM memory_fts WHERE memory_id = ?`, memoryID); err != nil {
		return errs.Wrap(errs.Resource, "provider.FTS5Backend.Index", err)
	}
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO memory_fts (memory_id, scope, content) VALUES (?, ?, ?)`,
		memoryID, scope, content); err != nil {
		return errs.Wrap(errs.Resource, "provider.FTS5Backend.Index", err)
	}
	return nil
}

// Remove deletes a memory from the index, called when mlse observes a
// Delete operation land in a commit.
func (b *FTS5Backend) Remove(ctx context.Context, memoryID string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM memory_fts WHERE memory_id = ?`, memoryID); err != nil {
		return errs.Wrap(errs.Resource, "provider.FTS5Backend.Remove", err)
	}
	return nil
}

func (b *FTS5Backend) Search(ctx context.Context, query string, filters Filters, limit int) ([]Hit, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT memory_id, bm25(memory_fts) AS score
		FROM memory_fts
		WHERE memory_fts MATCH ? AND scope = ?
		ORDER BY score
		LIMIT ?
	`, query, filters.Scope, limit)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, "provider.FTS5Backend.Search", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, errs.Wrap(errs.Corruption, "provider.FTS5Backend.Search", err)
		}
		// bm25() ranks lower-is-better; invert to higher-is-better so
		// callers can treat every backend's score uniformly.
		hits = append(hits, Hit{MemoryID: id, Score: -score})
	}
	return hits, rows.Err()
}

func (b *FTS5Backend) SearchByVector(ctx context.Context, vector []float32, filters Filters, limit int) ([]Hit, error) {
	return nil, errs.New(errs.Validation, "provider.FTS5Backend.SearchByVector", ErrUnsupported)
}

func (b *FTS5Backend) HybridSearch(ctx context.Context, query string, filters Filters, limit int, semanticWeight float64) ([]Hit, error) {
	return nil, errs.New(errs.Validation, "provider.FTS5Backend.HybridSearch", ErrUnsupported)
}
