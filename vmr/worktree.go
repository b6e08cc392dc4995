package vmr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/blakebarnett/thymos/errs"
)

const worktreeMetaFile = "meta.json"

// worktreeMeta is the on-disk projection of a Worktree, persisted alongside
// its materialized memory/ directory so Open can reconstruct it without
// replaying history.
type worktreeMeta struct {
	Branch     string      `json:"branch"`
	CommitHash ContentHash `json:"commit_hash"`
	AgentID    string      `json:"agent_id"`
	CreatedAt  time.Time   `json:"created_at"`
	Detached   bool        `json:"detached"`
	Index      *Index      `json:"index"`
}

func (r *Repository) worktreeDir(id string) string {
	return filepath.Join(r.root, "worktrees", id)
}

// loadWorktrees reconstructs every worktree from its persisted meta.json,
// called once by Open. Init starts with none.
func (r *Repository) loadWorktrees() error {
	base := filepath.Join(r.root, "worktrees")
	entries, err := os.ReadDir(base)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.Resource, "vmr.loadWorktrees", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		metaPath := filepath.Join(base, e.Name(), worktreeMetaFile)
		data, err := os.ReadFile(metaPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return errs.Wrap(errs.Resource, "vmr.loadWorktrees", err)
		}
		var m worktreeMeta
		if err := json.Unmarshal(data, &m); err != nil {
			return errs.Wrap(errs.Corruption, "vmr.loadWorktrees", err)
		}
		if m.Index == nil {
			m.Index = newIndex()
		}
		r.worktrees[e.Name()] = &Worktree{
			ID: e.Name(), Branch: m.Branch, CommitHash: m.CommitHash,
			StoragePath: r.worktreeDir(e.Name()), AgentID: m.AgentID,
			CreatedAt: m.CreatedAt, Detached: m.Detached, index: m.Index,
		}
	}
	return nil
}

func (r *Repository) saveWorktreeMeta(w *Worktree) error {
	m := worktreeMeta{
		Branch: w.Branch, CommitHash: w.CommitHash, AgentID: w.AgentID,
		CreatedAt: w.CreatedAt, Detached: w.Detached, Index: w.index,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Resource, "vmr.saveWorktreeMeta", err)
	}
	return atomicWriteFile(filepath.Join(w.StoragePath, worktreeMetaFile), data)
}

// CreateWorktree checks out branchOrCommit into a freshly materialized
// working directory isolated from the main workspace and every other
// worktree. agentID is informational, used by GetWorktreeByAgent. Two
// active (non-detached) worktrees may share a branch; the race between
// their commits is resolved at commit time, not here — see
// CommitInWorktree's staleness check.
func (r *Repository) CreateWorktree(branchOrCommit, agentID string) (*Worktree, error) {
	hash, isBranch, err := r.resolveRef(branchOrCommit)
	if err != nil {
		return nil, err
	}

	id, err := gonanoid.New(12)
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "vmr.CreateWorktree", err)
	}

	w := &Worktree{
		ID: id, CommitHash: hash, AgentID: agentID,
		StoragePath: r.worktreeDir(id), CreatedAt: time.Now().UTC(),
		Detached: !isBranch, index: newIndex(),
	}
	if isBranch {
		w.Branch = branchOrCommit
	}

	if err := os.MkdirAll(filepath.Join(w.StoragePath, "memory"), 0o755); err != nil {
		return nil, errs.Wrap(errs.Resource, "vmr.CreateWorktree", err)
	}
	if err := r.materialize(w, hash); err != nil {
		return nil, err
	}
	if err := r.saveWorktreeMeta(w); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.worktrees[id] = w
	r.mu.Unlock()
	return w, nil
}

// materialize writes every blob in commit's tree out to
// <worktree>/memory/<key> so the worktree is usable by tools that expect a
// plain filesystem view, alongside the index/HEAD bookkeeping used by VMR
// itself.
func (r *Repository) materialize(w *Worktree, commit ContentHash) error {
	if commit == "" {
		return nil
	}
	c, err := r.getCommit(commit)
	if err != nil {
		return err
	}
	tree, err := r.getTree(c.Tree)
	if err != nil {
		return err
	}
	for key, h := range tree.Entries {
		blob, err := r.getBlob(h)
		if err != nil {
			return err
		}
		dest := filepath.Join(w.StoragePath, "memory", key)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return errs.Wrap(errs.Resource, "vmr.materialize", err)
		}
		if err := atomicWriteFile(dest, blob.Content); err != nil {
			return errs.Wrap(errs.Resource, "vmr.materialize", err)
		}
	}
	return nil
}

// GetWorktree looks up a worktree by id.
func (r *Repository) GetWorktree(id string) (*Worktree, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.worktrees[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "vmr.GetWorktree", fmt.Errorf("worktree %q not found", id))
	}
	return w, nil
}

// GetWorktreeByAgent returns the most recently created worktree owned by
// agentID, supplementing the spec's per-id lookup with the agent-scoped
// access pattern the original describes (an agent resuming work looks up
// its workspace by identity, not by a remembered worktree id).
func (r *Repository) GetWorktreeByAgent(agentID string) (*Worktree, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *Worktree
	for _, w := range r.worktrees {
		if w.AgentID != agentID {
			continue
		}
		if best == nil || w.CreatedAt.After(best.CreatedAt) {
			best = w
		}
	}
	if best == nil {
		return nil, errs.New(errs.NotFound, "vmr.GetWorktreeByAgent", fmt.Errorf("no worktree for agent %q", agentID))
	}
	return best, nil
}

// RemoveWorktree deletes a worktree's materialized directory and
// bookkeeping. A worktree with staged-but-uncommitted changes is refused
// unless force is set (spec §4.2.3 "dirty worktree guard").
func (r *Repository) RemoveWorktree(id string, force bool) error {
	r.mu.Lock()
	w, ok := r.worktrees[id]
	if !ok {
		r.mu.Unlock()
		return errs.New(errs.NotFound, "vmr.RemoveWorktree", fmt.Errorf("worktree %q not found", id))
	}
	if !w.index.Empty() && !force {
		r.mu.Unlock()
		return errs.New(errs.Conflict, "vmr.RemoveWorktree", errs.ErrWorktreeDirty)
	}
	delete(r.worktrees, id)
	r.mu.Unlock()

	if err := os.RemoveAll(w.StoragePath); err != nil {
		return errs.Wrap(errs.Resource, "vmr.RemoveWorktree", err)
	}
	return nil
}

// StageInWorktree records op against memoryID in worktree id's own index,
// isolated from the main workspace's.
func (r *Repository) StageInWorktree(id, memoryID string, op StagedOp) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.worktrees[id]
	if !ok {
		return errs.New(errs.NotFound, "vmr.StageInWorktree", fmt.Errorf("worktree %q not found", id))
	}
	op.MemoryID = memoryID
	w.index.Ops[memoryID] = op
	return r.saveWorktreeMeta(w)
}

// CommitInWorktree commits worktree id's staged index onto its checked-out
// branch, the same tree-construction and parent linkage Commit uses for the
// main workspace, kept isolated per worktree. Two worktrees may share a
// branch; whichever commits second must still be sitting on the branch's
// current tip, or the commit fails ErrNonFastForward rather than silently
// rebasing onto advances it never saw.
func (r *Repository) CommitInWorktree(id, message, author string) (*Commit, error) {
	r.mu.Lock()
	w, ok := r.worktrees[id]
	if !ok {
		r.mu.Unlock()
		return nil, errs.New(errs.NotFound, "vmr.CommitInWorktree", fmt.Errorf("worktree %q not found", id))
	}
	if w.Detached {
		r.mu.Unlock()
		return nil, errs.New(errs.Validation, "vmr.CommitInWorktree", fmt.Errorf("worktree %q is detached", id))
	}
	branch := w.Branch
	lastKnown := w.CommitHash
	ops := make([]StagedOp, 0, len(w.index.Ops))
	for _, op := range w.index.Ops {
		ops = append(ops, op)
	}
	r.mu.Unlock()

	if len(ops) == 0 {
		return nil, errs.New(errs.Conflict, "vmr.CommitInWorktree", errs.ErrNothingToCommit)
	}
	opSortKey(ops)

	lock := r.branchLock(branch)
	lock.Lock()
	defer lock.Unlock()

	parentHash, _, err := r.branchHead(branch)
	if err != nil {
		return nil, err
	}
	if parentHash != lastKnown {
		return nil, errs.New(errs.Conflict, "vmr.CommitInWorktree", errs.ErrNonFastForward)
	}
	var baseTreeHash ContentHash
	if parentHash != "" {
		pc, err := r.getCommit(parentHash)
		if err != nil {
			return nil, err
		}
		baseTreeHash = pc.Tree
	}
	tree, err := r.getTree(baseTreeHash)
	if err != nil {
		return nil, err
	}

	newEntries := make(map[string]ContentHash, len(tree.Entries))
	for k, v := range tree.Entries {
		newEntries[k] = v
	}

	cs, err := applyStagedOps(r, "vmr.CommitInWorktree", newEntries, ops)
	if err != nil {
		return nil, err
	}

	newTreeHash, err := r.putTree(newEntries)
	if err != nil {
		return nil, err
	}
	var parents []ContentHash
	if parentHash != "" {
		parents = []ContentHash{parentHash}
	}
	commit, err := r.putCommit(parents, author, message, newTreeHash, cs)
	if err != nil {
		return nil, err
	}
	if err := r.setBranchHead(branch, commit.Hash); err != nil {
		return nil, err
	}

	r.mu.Lock()
	w.CommitHash = commit.Hash
	w.index = newIndex()
	saveErr := r.saveWorktreeMeta(w)
	if meta, ok := r.branchMetas[branch]; ok && meta.State == BranchUnborn {
		meta.State = BranchActive
		saveErr2 := r.saveBranchMetasLocked()
		if saveErr == nil {
			saveErr = saveErr2
		}
	}
	r.mu.Unlock()
	if saveErr != nil {
		return nil, saveErr
	}

	if err := r.materialize(w, commit.Hash); err != nil {
		return nil, err
	}
	return commit, nil
}

