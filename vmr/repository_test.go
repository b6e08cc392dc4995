package vmr

import (
	"testing"

	"github.com/rs/zerolog"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	dir := t.TempDir()
	repo, err := Init(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	return repo
}

func TestInitUnbornBranch(t *testing.T) {
	repo := newTestRepo(t)

	if got := repo.CurrentBranch(); got != DefaultBranchName {
		t.Errorf("CurrentBranch() = %q, want %q", got, DefaultBranchName)
	}

	if _, err := repo.GetLastCommit(); err == nil {
		t.Error("GetLastCommit() on unborn branch should fail")
	}
}

func TestStageCommitAndReopen(t *testing.T) {
	dir := t.TempDir()
	repo, err := Init(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	if err := repo.StageAdd("fact/1", []byte("the sky is blue"), nil); err != nil {
		t.Fatalf("stage add: %v", err)
	}
	commit, err := repo.Commit("first memory", "tester")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(commit.ChangeSummary.Added) != 1 || commit.ChangeSummary.Added[0] != "fact/1" {
		t.Errorf("ChangeSummary.Added = %v, want [fact/1]", commit.ChangeSummary.Added)
	}
	repo.Close()

	reopened, err := Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	blob, err := reopened.GetMemory("fact/1")
	if err != nil {
		t.Fatalf("get memory after reopen: %v", err)
	}
	if string(blob.Content) != "the sky is blue" {
		t.Errorf("content = %q", string(blob.Content))
	}
}

func TestCommitWithEmptyIndexFails(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.Commit("nothing to see", "tester"); err == nil {
		t.Error("Commit with empty index should fail")
	}
}

func TestCommitRejectsDuplicateAdd(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.StageAdd("k", []byte("v1"), nil); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := repo.Commit("add k", "tester"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := repo.StageAdd("k", []byte("v2"), nil); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := repo.Commit("re-add k", "tester"); err == nil {
		t.Error("Commit should reject Add of an already-existing key")
	}
}

func TestCommitRejectsModifyOfMissingKey(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.StageModify("missing", "", []byte("v"), nil); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := repo.Commit("modify missing", "tester"); err == nil {
		t.Error("Commit should reject Modify of a key that doesn't exist")
	}
}

func TestCommitRecordsDiffForModify(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.StageAdd("k", []byte("the cat sat"), nil); err != nil {
		t.Fatalf("stage add: %v", err)
	}
	commit, err := repo.Commit("add", "tester")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := repo.StageModify("k", commit.Tree, []byte("the cat ran"), nil); err != nil {
		t.Fatalf("stage modify: %v", err)
	}
	modified, err := repo.Commit("modify", "tester")
	if err != nil {
		t.Fatalf("commit modify: %v", err)
	}

	if len(modified.ChangeSummary.Diffs) != 1 {
		t.Fatalf("ChangeSummary.Diffs = %v, want exactly one diff for the modified key", modified.ChangeSummary.Diffs)
	}
	d := modified.ChangeSummary.Diffs[0]
	if d.Key != "k" {
		t.Errorf("diff key = %q, want k", d.Key)
	}
	if d.Patch == "" {
		t.Error("diff patch should be non-empty for differing content")
	}
}

func TestStageModifyThenDelete(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.StageAdd("k", []byte("v1"), nil); err != nil {
		t.Fatalf("stage add: %v", err)
	}
	commit, err := repo.Commit("add", "tester")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := repo.StageModify("k", commit.Tree, []byte("v2"), nil); err != nil {
		t.Fatalf("stage modify: %v", err)
	}
	if _, err := repo.Commit("modify", "tester"); err != nil {
		t.Fatalf("commit modify: %v", err)
	}
	blob, err := repo.GetMemory("k")
	if err != nil {
		t.Fatalf("get memory: %v", err)
	}
	if string(blob.Content) != "v2" {
		t.Errorf("content = %q, want v2", string(blob.Content))
	}

	if err := repo.StageDelete("k"); err != nil {
		t.Fatalf("stage delete: %v", err)
	}
	if _, err := repo.Commit("delete", "tester"); err != nil {
		t.Fatalf("commit delete: %v", err)
	}
	if _, err := repo.GetMemory("k"); err == nil {
		t.Error("GetMemory should fail after delete")
	}
}

func TestCreateAndDeleteBranch(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.StageAdd("k", []byte("v"), nil); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := repo.Commit("seed", "tester"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := repo.CreateBranch("feature", "a feature branch", ""); err != nil {
		t.Fatalf("create branch: %v", err)
	}

	if err := repo.DeleteBranch(DefaultBranchName, false); err == nil {
		t.Error("deleting the active branch without force should fail")
	}

	if err := repo.Checkout("feature"); err != nil {
		t.Fatalf("checkout feature: %v", err)
	}
	if got := repo.CurrentBranch(); got != "feature" {
		t.Errorf("CurrentBranch() = %q, want feature", got)
	}

	if err := repo.DeleteBranch(DefaultBranchName, false); err != nil {
		t.Errorf("deleting non-active branch should succeed: %v", err)
	}
}

func TestCheckoutCommitDetachesHEAD(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.StageAdd("k", []byte("v"), nil); err != nil {
		t.Fatalf("stage: %v", err)
	}
	commit, err := repo.Commit("seed", "tester")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := repo.CheckoutCommit(commit.Hash, ""); err != nil {
		t.Fatalf("checkout commit: %v", err)
	}
	if got := repo.CurrentBranch(); got != "" {
		t.Errorf("CurrentBranch() = %q, want empty (detached)", got)
	}

	if _, err := repo.Commit("should fail while detached", "tester"); err == nil {
		t.Error("Commit while detached without a branch should fail")
	}
}

func TestListCommitsBetween(t *testing.T) {
	repo := newTestRepo(t)
	var hashes []ContentHash
	for i := 0; i < 3; i++ {
		if err := repo.StageAdd(string(rune('a'+i)), []byte("v"), nil); err != nil {
			t.Fatalf("stage: %v", err)
		}
		c, err := repo.Commit("step", "tester")
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
		hashes = append(hashes, c.Hash)
	}

	commits, err := repo.ListCommitsBetween(hashes[0], hashes[2])
	if err != nil {
		t.Fatalf("list commits between: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("got %d commits, want 2 (excludes the 'good' endpoint)", len(commits))
	}
}
