package vmr

import (
	"context"
	"fmt"

	"github.com/blakebarnett/thymos/errs"
	"github.com/blakebarnett/thymos/provider"
)

// llmConflictResolver implements ConflictResolver by asking an LLMProvider
// to pick a winner (or a synthesized merge) for each conflicting key, the
// AutoMerge strategy's external-resolver path (spec §4.2.4 step 4, §6.3).
// A malformed or empty model response degrades the conflict back to Manual
// by returning an error, which Merge treats as resolver failure.
type llmConflictResolver struct {
	ctx context.Context
	llm provider.LLMProvider
	r   *Repository
}

// NewLLMConflictResolver builds a ConflictResolver for r's AutoMerge
// strategy backed by llm. ctx bounds every resolution call made during a
// single Merge invocation.
func (r *Repository) NewLLMConflictResolver(ctx context.Context, llm provider.LLMProvider) ConflictResolver {
	return &llmConflictResolver{ctx: ctx, llm: llm, r: r}
}

func (res *llmConflictResolver) Resolve(c Conflict) (ConflictResolution, error) {
	if c.Kind == DeleteModifyConflict {
		// No generative decision needed: keep the modification, which is
		// the side that carries actual content.
		if c.Source == "" {
			return ConflictResolution{BlobHash: c.Target}, nil
		}
		return ConflictResolution{BlobHash: c.Source}, nil
	}

	sourceBlob, err := res.r.getBlob(c.Source)
	if err != nil {
		return ConflictResolution{}, err
	}
	targetBlob, err := res.r.getBlob(c.Target)
	if err != nil {
		return ConflictResolution{}, err
	}

	prompt := fmt.Sprintf(
		"Two versions of memory %q diverged from a common ancestor. Produce a single merged "+
			"version that preserves all distinct information from both. Respond with only the merged content.\n\n"+
			"Version A:\n%s\n\nVersion B:\n%s\n", c.Key, targetBlob.Content, sourceBlob.Content)

	resp, err := res.llm.Generate(res.ctx, provider.GenerateRequest{
		Messages: []provider.ChatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return ConflictResolution{}, errs.Wrap(errs.Transport, "vmr.llmConflictResolver.Resolve", err)
	}
	if resp.Content == "" {
		return ConflictResolution{}, errs.New(errs.Conflict, "vmr.llmConflictResolver.Resolve",
			fmt.Errorf("model returned an empty merge for key %q", c.Key))
	}

	merged, err := res.r.putBlob([]byte(resp.Content), targetBlob.Metadata, targetBlob.CreatedAt)
	if err != nil {
		return ConflictResolution{}, err
	}
	return ConflictResolution{BlobHash: merged}, nil
}
