package vmr

import (
	"fmt"
	"sort"
	"time"

	"github.com/blakebarnett/thymos/errs"
	"github.com/blakebarnett/thymos/objectstore"
)

// Stage records op against memoryID in the current workspace's index (spec
// §4.2.1 "stage"). It does not touch durable storage.
func (r *Repository) Stage(memoryID string, op StagedOp) error {
	if memoryID == "" {
		return errs.New(errs.Validation, "vmr.Stage", fmt.Errorf("memory id must not be empty"))
	}
	op.MemoryID = memoryID
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index.Ops[memoryID] = op
	return nil
}

// StageAdd stages an Add operation.
func (r *Repository) StageAdd(memoryID string, content []byte, metadata map[string]interface{}) error {
	return r.Stage(memoryID, StagedOp{Kind: OpAdd, NewContent: content, NewMetadata: metadata})
}

// StageModify stages a Modify operation.
func (r *Repository) StageModify(memoryID string, oldHash ContentHash, content []byte, metadata map[string]interface{}) error {
	return r.Stage(memoryID, StagedOp{Kind: OpModify, OldHash: oldHash, NewContent: content, NewMetadata: metadata})
}

// StageDelete stages a Delete operation.
func (r *Repository) StageDelete(memoryID string) error {
	return r.Stage(memoryID, StagedOp{Kind: OpDelete})
}

// opSortKey orders staged operations deterministically: by MemoryID, then
// Delete < Modify < Add (spec §4.2.2), so identical staged states always
// yield identical trees.
func opSortKey(ops []StagedOp) {
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].MemoryID != ops[j].MemoryID {
			return ops[i].MemoryID < ops[j].MemoryID
		}
		return ops[i].Kind < ops[j].Kind
	})
}

// Commit materializes a new tree from parent_tree ⊕ index, creates a commit
// object with a single parent (current HEAD), and advances the current
// branch (spec §4.2.2). Fails NothingToCommit if the index is empty. A
// failed commit leaves the index intact (spec §4.2.7).
func (r *Repository) Commit(message, author string) (*Commit, error) {
	r.mu.Lock()
	branch := r.activeBranch
	if branch == "" {
		r.mu.Unlock()
		return nil, errs.New(errs.Validation, "vmr.Commit", fmt.Errorf("cannot commit in detached state without a branch"))
	}
	ops := make([]StagedOp, 0, len(r.index.Ops))
	for _, op := range r.index.Ops {
		ops = append(ops, op)
	}
	r.mu.Unlock()

	if len(ops) == 0 {
		return nil, errs.New(errs.Conflict, "vmr.Commit", errs.ErrNothingToCommit)
	}
	opSortKey(ops)

	lock := r.branchLock(branch)
	lock.Lock()
	defer lock.Unlock()

	parentHash, _, err := r.branchHead(branch)
	if err != nil {
		return nil, err
	}

	tree, err := r.getTree(func() ContentHash {
		if parentHash == "" {
			return ""
		}
		c, err := r.getCommit(parentHash)
		if err != nil {
			return ""
		}
		return c.Tree
	}())
	if err != nil {
		return nil, err
	}

	newEntries := make(map[string]ContentHash, len(tree.Entries))
	for k, v := range tree.Entries {
		newEntries[k] = v
	}

	cs, err := applyStagedOps(r, "vmr.Commit", newEntries, ops)
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
	if meta, ok := r.branchMetas[branch]; ok && meta.State == BranchUnborn {
		meta.State = BranchActive
	}
	saveErr := r.saveBranchMetasLocked()
	r.index = newIndex()
	r.mu.Unlock()
	if saveErr != nil {
		return nil, saveErr
	}

	return commit, nil
}

// applyStagedOps materializes ops onto entries, the tree-construction step
// shared by Commit and CommitInWorktree. Add is rejected if the key already
// exists (must go through Modify instead) and Modify is rejected if it
// doesn't (must go through Add instead); errs carry callerOp so the failure
// is attributed to whichever commit path invoked it.
func applyStagedOps(r *Repository, callerOp string, entries map[string]ContentHash, ops []StagedOp) (objectstore.ChangeSummary, error) {
	cs := objectstore.ChangeSummary{}
	now := time.Now().UTC()
	for _, op := range ops {
		switch op.Kind {
		case OpAdd:
			if _, exists := entries[op.MemoryID]; exists {
				return cs, errs.New(errs.Validation, callerOp,
					fmt.Errorf("key %q already exists, use Modify", op.MemoryID))
			}
			h, err := r.putBlob(op.NewContent, op.NewMetadata, now)
			if err != nil {
				return cs, err
			}
			entries[op.MemoryID] = h
			cs.Added = append(cs.Added, op.MemoryID)
		case OpModify:
			oldHash, exists := entries[op.MemoryID]
			if !exists {
				return cs, errs.New(errs.Validation, callerOp,
					fmt.Errorf("key %q does not exist, use Add", op.MemoryID))
			}
			oldBlob, err := r.getBlob(oldHash)
			if err != nil {
				return cs, err
			}
			h, err := r.putBlob(op.NewContent, op.NewMetadata, now)
			if err != nil {
				return cs, err
			}
			entries[op.MemoryID] = h
			cs.Modified = append(cs.Modified, op.MemoryID)
			cs.Diffs = append(cs.Diffs, ComputeDiff(op.MemoryID, oldBlob.Content, op.NewContent))
		case OpDelete:
			delete(entries, op.MemoryID)
			cs.Deleted = append(cs.Deleted, op.MemoryID)
		}
	}
	return cs, nil
}

// saveBranchMetasLocked assumes r.mu is already held.
func (r *Repository) saveBranchMetasLocked() error {
	return r.saveBranchMetas()
}

// CreateBranch creates a branch pointing at fromCommit, or the current HEAD
// if fromCommit is empty. Fails on name collision (spec §4.2.1).
func (r *Repository) CreateBranch(name, description string, fromCommit ContentHash) (*Branch, error) {
	if name == "" || !isValidBranchName(name) {
		return nil, errs.New(errs.Validation, "vmr.CreateBranch", fmt.Errorf("invalid branch name %q", name))
	}

	r.mu.Lock()
	if _, exists := r.branchMetas[name]; exists {
		r.mu.Unlock()
		return nil, errs.New(errs.Validation, "vmr.CreateBranch", fmt.Errorf("branch %q already exists", name))
	}
	r.mu.Unlock()

	target := fromCommit
	if target == "" {
		h, err := r.headCommit()
		if err != nil {
			return nil, err
		}
		target = h
	}

	state := BranchUnborn
	if target != "" {
		if err := r.setBranchHead(name, target); err != nil {
			return nil, err
		}
		state = BranchActive
	}

	now := time.Now().UTC()
	r.mu.Lock()
	r.branchMetas[name] = &branchMeta{Description: description, CreatedAt: now, State: state}
	err := r.saveBranchMetasLocked()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return &Branch{Name: name, CommitHash: target, Description: description, CreatedAt: now, State: state}, nil
}

// DeleteBranch removes a branch. Deleting the active branch is disallowed
// unless force is set (spec §3.3, §8.3).
func (r *Repository) DeleteBranch(name string, force bool) error {
	r.mu.Lock()
	if _, exists := r.branchMetas[name]; !exists {
		r.mu.Unlock()
		return errs.New(errs.NotFound, "vmr.DeleteBranch", fmt.Errorf("branch %q not found", name))
	}
	if name == r.activeBranch && !force {
		r.mu.Unlock()
		return errs.New(errs.Conflict, "vmr.DeleteBranch", errs.ErrActiveBranchGuard)
	}
	delete(r.branchMetas, name)
	err := r.saveBranchMetasLocked()
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if err := r.store.RefStorer().RemoveReference(refName(name)); err != nil {
		return errs.Wrap(errs.Resource, "vmr.DeleteBranch", err)
	}
	return nil
}

func isValidBranchName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '/', c == '.':
		default:
			return false
		}
	}
	return name[0] != '.' && name[0] != '/'
}
