package provider

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestFTS5(t *testing.T) *FTS5Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fts.db")
	b, err := OpenFTS5Backend(path)
	if err != nil {
		t.Fatalf("open fts5 backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestFTS5IndexAndSearchRoundTrip(t *testing.T) {
	b := newTestFTS5(t)
	ctx := context.Background()

	if err := b.Index(ctx, "m1", "default", "the quick brown fox"); err != nil {
		t.Fatalf("index: %v", err)
	}
	if err := b.Index(ctx, "m2", "default", "a slow green turtle"); err != nil {
		t.Fatalf("index: %v", err)
	}

	hits, err := b.Search(ctx, "quick", Filters{Scope: "default"}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].MemoryID != "m1" {
		t.Errorf("hits = %+v, want exactly m1", hits)
	}
}

func TestFTS5SearchIsScopedToFilter(t *testing.T) {
	b := newTestFTS5(t)
	ctx := context.Background()

	if err := b.Index(ctx, "m1", "scope-a", "shared keyword"); err != nil {
		t.Fatalf("index: %v", err)
	}
	if err := b.Index(ctx, "m2", "scope-b", "shared keyword"); err != nil {
		t.Fatalf("index: %v", err)
	}

	hits, err := b.Search(ctx, "shared", Filters{Scope: "scope-a"}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].MemoryID != "m1" {
		t.Errorf("hits = %+v, want exactly m1 from scope-a", hits)
	}
}

func TestFTS5IndexIsUpsert(t *testing.T) {
	b := newTestFTS5(t)
	ctx := context.Background()

	if err := b.Index(ctx, "m1", "default", "original content"); err != nil {
		t.Fatalf("index: %v", err)
	}
	if err := b.Index(ctx, "m1", "default", "revised content"); err != nil {
		t.Fatalf("re-index: %v", err)
	}

	hits, err := b.Search(ctx, "original", Filters{Scope: "default"}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("stale content should no longer match after re-indexing, got %+v", hits)
	}

	hits, err = b.Search(ctx, "revised", Filters{Scope: "default"}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("revised content should match, got %+v", hits)
	}
}

func TestFTS5RemoveDeletesFromIndex(t *testing.T) {
	b := newTestFTS5(t)
	ctx := context.Background()

	if err := b.Index(ctx, "m1", "default", "ephemeral content"); err != nil {
		t.Fatalf("index: %v", err)
	}
	if err := b.Remove(ctx, "m1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	hits, err := b.Search(ctx, "ephemeral", Filters{Scope: "default"}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("removed memory should not appear in search results, got %+v", hits)
	}
}

func TestFTS5SearchByVectorAndHybridAreUnsupported(t *testing.T) {
	b := newTestFTS5(t)
	ctx := context.Background()

	if _, err := b.SearchByVector(ctx, []float32{0.1, 0.2}, Filters{Scope: "default"}, 10); err == nil {
		t.Error("SearchByVector should report unsupported on a keyword-only backend")
	}
	if _, err := b.HybridSearch(ctx, "query", Filters{Scope: "default"}, 10, 0.5); err == nil {
		t.Error("HybridSearch should report unsupported on a keyword-only backend")
	}
}
