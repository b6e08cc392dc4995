package vmr

import (
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/blakebarnett/thymos/objectstore"
)

// MemoryDiff is a human-readable diff between an old and new blob's
// content, recorded in Commit.ChangeSummary alongside a Modify operation;
// it does not influence the new blob's hash. An alias for objectstore.Diff
// so callers outside this package never need to import objectstore just to
// read one.
type MemoryDiff = objectstore.Diff

var dmp = diffmatchpatch.New()

// ComputeDiff produces a human-readable diff between old and new blob
// content for a single logical key, computed with sergi/go-diff the same
// way the teacher's cmd/mem diff command renders worktree changes
// (internal/gogit.go diff helpers).
func ComputeDiff(key string, oldContent, newContent []byte) MemoryDiff {
	diffs := dmp.DiffMain(string(oldContent), string(newContent), false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	return MemoryDiff{Key: key, Patch: dmp.DiffPrettyText(diffs)}
}
