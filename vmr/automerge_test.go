package vmr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blakebarnett/thymos/provider"
)

type stubLLM struct {
	response string
	err      error
}

func (s stubLLM) Generate(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResponse, error) {
	if s.err != nil {
		return provider.GenerateResponse{}, s.err
	}
	return provider.GenerateResponse{Content: s.response}, nil
}

func TestLLMConflictResolverMergesContent(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.StageAdd("k", []byte("base"), nil))
	base, err := repo.Commit("base", "tester")
	require.NoError(t, err)
	_, err = repo.CreateBranch("feature", "", "")
	require.NoError(t, err)

	sourceHash, err := repo.putBlob([]byte("feature version"), nil, base.Timestamp)
	require.NoError(t, err)
	targetHash, err := repo.putBlob([]byte("main version"), nil, base.Timestamp)
	require.NoError(t, err)

	resolver := repo.NewLLMConflictResolver(context.Background(), stubLLM{response: "merged content"})
	resolution, err := resolver.Resolve(Conflict{
		Key: "k", Kind: ContentConflict, Source: sourceHash, Target: targetHash,
	})
	require.NoError(t, err)
	blob, err := repo.getBlob(resolution.BlobHash)
	require.NoError(t, err)
	require.Equal(t, "merged content", string(blob.Content))
}

func TestLLMConflictResolverDeleteModifyPrefersModification(t *testing.T) {
	repo := newTestRepo(t)
	resolver := repo.NewLLMConflictResolver(context.Background(), stubLLM{})

	modifiedHash := ContentHash("some-hash")
	resolution, err := resolver.Resolve(Conflict{
		Key: "k", Kind: DeleteModifyConflict, Source: "", Target: modifiedHash,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolution.BlobHash != modifiedHash {
		t.Errorf("delete/modify resolution = %q, want the modified side %q", resolution.BlobHash, modifiedHash)
	}
}

func TestLLMConflictResolverSurfacesEmptyResponseAsConflict(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.StageAdd("k", []byte("base"), nil); err != nil {
		t.Fatalf("stage: %v", err)
	}
	base, err := repo.Commit("base", "tester")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	sourceHash, err := repo.putBlob([]byte("a"), nil, base.Timestamp)
	if err != nil {
		t.Fatalf("put blob: %v", err)
	}
	targetHash, err := repo.putBlob([]byte("b"), nil, base.Timestamp)
	if err != nil {
		t.Fatalf("put blob: %v", err)
	}

	resolver := repo.NewLLMConflictResolver(context.Background(), stubLLM{response: ""})
	if _, err := resolver.Resolve(Conflict{Key: "k", Kind: ContentConflict, Source: sourceHash, Target: targetHash}); err == nil {
		t.Error("an empty model response should surface as an error, not a silent empty merge")
	}
}
