package vmr

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/blakebarnett/thymos/errs"
)

func TestCreateWorktreeMaterializesFiles(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.StageAdd("k", []byte("hello"), nil); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := repo.Commit("seed", "tester"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	w, err := repo.CreateWorktree(DefaultBranchName, "agent-1")
	if err != nil {
		t.Fatalf("create worktree: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(w.StoragePath, "memory", "k"))
	if err != nil {
		t.Fatalf("read materialized file: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("materialized content = %q, want %q", string(data), "hello")
	}
}

func TestCreateWorktreeAllowsTwoWorktreesOnSameBranch(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.StageAdd("k", []byte("v"), nil); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := repo.Commit("seed", "tester"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := repo.CreateWorktree(DefaultBranchName, "agent-1"); err != nil {
		t.Fatalf("first worktree: %v", err)
	}
	if _, err := repo.CreateWorktree(DefaultBranchName, "agent-2"); err != nil {
		t.Errorf("a second worktree checked out on the same branch should be allowed: %v", err)
	}
}

func TestCommitInWorktreeFailsNonFastForwardWhenBranchAdvancedElsewhere(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.StageAdd("k", []byte("v"), nil); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := repo.Commit("seed", "tester"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	w1, err := repo.CreateWorktree(DefaultBranchName, "agent-1")
	if err != nil {
		t.Fatalf("create worktree 1: %v", err)
	}
	w2, err := repo.CreateWorktree(DefaultBranchName, "agent-2")
	if err != nil {
		t.Fatalf("create worktree 2: %v", err)
	}

	if err := repo.StageInWorktree(w1.ID, "k1", StagedOp{Kind: OpAdd, NewContent: []byte("from w1")}); err != nil {
		t.Fatalf("stage in w1: %v", err)
	}
	if _, err := repo.CommitInWorktree(w1.ID, "w1 commits first", "agent-1"); err != nil {
		t.Fatalf("w1 commit should land on the branch tip it started from: %v", err)
	}

	if err := repo.StageInWorktree(w2.ID, "k2", StagedOp{Kind: OpAdd, NewContent: []byte("from w2")}); err != nil {
		t.Fatalf("stage in w2: %v", err)
	}
	_, err = repo.CommitInWorktree(w2.ID, "w2 commits against a stale tip", "agent-2")
	if err == nil {
		t.Fatal("w2's commit should fail: the branch moved out from under it when w1 committed")
	}
	if !errors.Is(err, errs.ErrNonFastForward) {
		t.Errorf("got error %v, want ErrNonFastForward", err)
	}
}

func TestCommitInWorktreeRejectsAddOverExistingKey(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.StageAdd("k", []byte("v"), nil); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := repo.Commit("seed", "tester"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	w, err := repo.CreateWorktree(DefaultBranchName, "agent-1")
	if err != nil {
		t.Fatalf("create worktree: %v", err)
	}

	if err := repo.StageInWorktree(w.ID, "k", StagedOp{Kind: OpAdd, NewContent: []byte("collides")}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := repo.CommitInWorktree(w.ID, "add over existing key", "agent-1"); err == nil {
		t.Error("Add over an existing key should fail the same way it does from the main workspace")
	}
}

func TestCommitInWorktreeRejectsModifyOfMissingKey(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.StageAdd("k", []byte("v"), nil); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := repo.Commit("seed", "tester"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	w, err := repo.CreateWorktree(DefaultBranchName, "agent-1")
	if err != nil {
		t.Fatalf("create worktree: %v", err)
	}

	if err := repo.StageInWorktree(w.ID, "missing", StagedOp{Kind: OpModify, NewContent: []byte("v2")}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := repo.CommitInWorktree(w.ID, "modify of missing key", "agent-1"); err == nil {
		t.Error("Modify of a nonexistent key should fail the same way it does from the main workspace")
	}
}

func TestStageAndCommitInWorktreeIsIsolated(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.StageAdd("k", []byte("v"), nil); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := repo.Commit("seed", "tester"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	w, err := repo.CreateWorktree(DefaultBranchName, "agent-1")
	if err != nil {
		t.Fatalf("create worktree: %v", err)
	}

	if err := repo.StageInWorktree(w.ID, "k2", StagedOp{Kind: OpAdd, NewContent: []byte("v2")}); err != nil {
		t.Fatalf("stage in worktree: %v", err)
	}

	// The main workspace's index must stay untouched by the worktree stage.
	if _, err := repo.GetMemory("k2"); err == nil {
		t.Error("k2 should not be visible on the main workspace before commit")
	}

	if _, err := repo.CommitInWorktree(w.ID, "worktree commit", "agent-1"); err != nil {
		t.Fatalf("commit in worktree: %v", err)
	}

	blob, err := repo.GetMemory("k2")
	if err != nil {
		t.Fatalf("k2 should be visible on main after the worktree committed onto the shared branch: %v", err)
	}
	if string(blob.Content) != "v2" {
		t.Errorf("content = %q, want v2", string(blob.Content))
	}
}

func TestRemoveWorktreeRefusesWhenDirty(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.StageAdd("k", []byte("v"), nil); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := repo.Commit("seed", "tester"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	w, err := repo.CreateWorktree(DefaultBranchName, "agent-1")
	if err != nil {
		t.Fatalf("create worktree: %v", err)
	}
	if err := repo.StageInWorktree(w.ID, "k2", StagedOp{Kind: OpAdd, NewContent: []byte("v2")}); err != nil {
		t.Fatalf("stage: %v", err)
	}

	if err := repo.RemoveWorktree(w.ID, false); err == nil {
		t.Error("removing a dirty worktree without force should fail")
	}
	if err := repo.RemoveWorktree(w.ID, true); err != nil {
		t.Errorf("removing a dirty worktree with force should succeed: %v", err)
	}
}

func TestGetWorktreeByAgentReturnsMostRecent(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.StageAdd("k", []byte("v"), nil); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := repo.Commit("seed", "tester"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := repo.CreateBranch("b2", "", ""); err != nil {
		t.Fatalf("create branch: %v", err)
	}

	w1, err := repo.CreateWorktree(DefaultBranchName, "agent-1")
	if err != nil {
		t.Fatalf("create worktree 1: %v", err)
	}
	w2, err := repo.CreateWorktree("b2", "agent-1")
	if err != nil {
		t.Fatalf("create worktree 2: %v", err)
	}

	got, err := repo.GetWorktreeByAgent("agent-1")
	if err != nil {
		t.Fatalf("get worktree by agent: %v", err)
	}
	if got.ID != w2.ID {
		t.Errorf("GetWorktreeByAgent returned %q, want the most recent %q (w1=%q)", got.ID, w2.ID, w1.ID)
	}
}
