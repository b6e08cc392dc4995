package vmr

import (
	"fmt"

	"github.com/blakebarnett/thymos/errs"
	"github.com/blakebarnett/thymos/objectstore"
)

// resolveRef resolves a branch name or a literal commit hash to a commit
// hash. Returns isBranch=true when nameOrCommit names a known branch.
func (r *Repository) resolveRef(nameOrCommit string) (ContentHash, bool, error) {
	r.mu.RLock()
	_, isBranch := r.branchMetas[nameOrCommit]
	r.mu.RUnlock()

	if isBranch {
		h, ok, err := r.branchHead(nameOrCommit)
		if err != nil {
			return "", true, err
		}
		if !ok {
			return "", true, errs.New(errs.NotFound, "vmr.resolveRef", fmt.Errorf("branch %q is unborn", nameOrCommit))
		}
		return h, true, nil
	}

	exists, err := r.store.Exists(objectstore.KindCommit, ContentHash(nameOrCommit))
	if err != nil {
		return "", false, err
	}
	if !exists {
		return "", false, errs.New(errs.NotFound, "vmr.resolveRef", fmt.Errorf("no branch or commit %q", nameOrCommit))
	}
	return ContentHash(nameOrCommit), false, nil
}

// Checkout restores the main workspace's memory state to the tree of the
// given branch or commit (spec §4.2.1, §4.2.3). Checking out a branch name
// attaches HEAD to it; checking out a commit detaches HEAD.
func (r *Repository) Checkout(nameOrCommit string) error {
	r.mu.Lock()
	prevBranch, prevCommit := r.activeBranch, r.activeCommit
	r.mu.Unlock()

	hash, isBranch, err := r.resolveRef(nameOrCommit)
	if err != nil {
		return err
	}

	if isBranch {
		if err := r.writeHEADSymbolic(nameOrCommit); err != nil {
			r.rollbackHEAD(prevBranch, prevCommit)
			return errs.Wrap(errs.Resource, "vmr.Checkout", err)
		}
		r.mu.Lock()
		r.activeBranch, r.activeCommit = nameOrCommit, ""
		r.mu.Unlock()
		return nil
	}

	if err := r.writeHEADDetached(hash); err != nil {
		r.rollbackHEAD(prevBranch, prevCommit)
		return errs.Wrap(errs.Resource, "vmr.Checkout", err)
	}
	r.mu.Lock()
	r.activeBranch, r.activeCommit = "", hash
	r.mu.Unlock()
	return nil
}

// rollbackHEAD restores in-memory HEAD bookkeeping after a failed HEAD
// write, preserving "an aborted checkout restores the workspace to its
// previous HEAD" (spec §5).
func (r *Repository) rollbackHEAD(branch string, commit ContentHash) {
	r.mu.Lock()
	r.activeBranch, r.activeCommit = branch, commit
	r.mu.Unlock()
}

// CheckoutCommit checks out a specific commit into the main workspace. If
// newBranch is non-empty, a branch by that name is created pointing at the
// commit and the workspace attaches to it instead of detaching.
func (r *Repository) CheckoutCommit(commit ContentHash, newBranch string) error {
	exists, err := r.store.Exists(objectstore.KindCommit, commit)
	if err != nil {
		return err
	}
	if !exists {
		return errs.New(errs.NotFound, "vmr.CheckoutCommit", fmt.Errorf("commit %q not found", commit))
	}

	if newBranch != "" {
		if _, err := r.CreateBranch(newBranch, "", commit); err != nil {
			return err
		}
		return r.Checkout(newBranch)
	}
	return r.Checkout(string(commit))
}

// CurrentTree returns the MemoryTree visible in the main workspace.
func (r *Repository) CurrentTree() (*MemoryTree, error) {
	hash, err := r.headCommit()
	if err != nil {
		return nil, err
	}
	if hash == "" {
		return &MemoryTree{Entries: map[string]ContentHash{}}, nil
	}
	c, err := r.getCommit(hash)
	if err != nil {
		return nil, err
	}
	return r.getTree(c.Tree)
}

// GetMemory reads a single memory blob as visible in the main workspace.
func (r *Repository) GetMemory(key string) (*MemoryBlob, error) {
	tree, err := r.CurrentTree()
	if err != nil {
		return nil, err
	}
	hash, ok := tree.Entries[key]
	if !ok {
		return nil, errs.New(errs.NotFound, "vmr.GetMemory", fmt.Errorf("key %q not found", key))
	}
	return r.getBlob(hash)
}
