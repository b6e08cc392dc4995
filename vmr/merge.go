package vmr

import (
	"fmt"

	"github.com/blakebarnett/thymos/errs"
	"github.com/blakebarnett/thymos/objectstore"
)

// ancestors returns the set of every commit hash reachable from start by
// walking all parent edges (not just first-parent), keyed by hash with the
// BFS distance as the value. Used to find the most recent common ancestor
// of two branch tips, the git "merge-base" equivalent the original
// implementation sketches in thymos-core/src/memory/versioning/merge.rs
// with a two-pointer ancestor-set walk; this is the same idea generalized
// to a true DAG rather than a single-parent chain.
func (r *Repository) ancestors(start ContentHash) (map[ContentHash]int, error) {
	dist := map[ContentHash]int{start: 0}
	queue := []ContentHash{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		c, err := r.getCommit(cur)
		if err != nil {
			return nil, err
		}
		for _, p := range c.Parents {
			if _, seen := dist[p]; !seen {
				dist[p] = dist[cur] + 1
				queue = append(queue, p)
			}
		}
	}
	return dist, nil
}

// mergeBase finds the most recent common ancestor of a and b: the common
// hash with the smallest summed BFS distance from both tips.
func (r *Repository) mergeBase(a, b ContentHash) (ContentHash, error) {
	if a == b {
		return a, nil
	}
	distA, err := r.ancestors(a)
	if err != nil {
		return "", err
	}
	distB, err := r.ancestors(b)
	if err != nil {
		return "", err
	}
	var best ContentHash
	bestSum := -1
	for h, da := range distA {
		if db, ok := distB[h]; ok {
			sum := da + db
			if bestSum == -1 || sum < bestSum {
				bestSum, best = sum, h
			}
		}
	}
	if bestSum == -1 {
		return "", errs.New(errs.Conflict, "vmr.mergeBase", fmt.Errorf("no common ancestor"))
	}
	return best, nil
}

// keyChange is one side's change to a logical key relative to the merge
// base: present (new hash) or deleted.
type keyChange struct {
	deleted bool
	hash    ContentHash
}

func changesFrom(base, target *MemoryTree) map[string]keyChange {
	out := map[string]keyChange{}
	for k, h := range target.Entries {
		if bh, ok := base.Entries[k]; !ok || bh != h {
			out[k] = keyChange{hash: h}
		}
	}
	for k := range base.Entries {
		if _, ok := target.Entries[k]; !ok {
			out[k] = keyChange{deleted: true}
		}
	}
	return out
}

// Merge merges source into target per the chosen strategy (spec §4.2.4).
// Branch locks are acquired on both branches in a consistent order (by
// name) to prevent deadlock (spec §5).
func (r *Repository) Merge(sourceBranch, targetBranch string, strategy MergeStrategy, resolver ConflictResolver) (*MergeResult, error) {
	if sourceBranch == targetBranch {
		return &MergeResult{Committed: true}, nil
	}

	first, second := sourceBranch, targetBranch
	if second < first {
		first, second = second, first
	}
	lock1, lock2 := r.branchLock(first), r.branchLock(second)
	lock1.Lock()
	defer lock1.Unlock()
	lock2.Lock()
	defer lock2.Unlock()

	sourceHash, ok, err := r.branchHead(sourceBranch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.NotFound, "vmr.Merge", fmt.Errorf("branch %q not found or unborn", sourceBranch))
	}
	targetHash, ok, err := r.branchHead(targetBranch)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Target is unborn: fast-forward it to source directly.
		if err := r.setBranchHead(targetBranch, sourceHash); err != nil {
			return nil, err
		}
		return &MergeResult{Committed: true, CommitHash: sourceHash}, nil
	}

	base, err := r.mergeBase(sourceHash, targetHash)
	if err != nil {
		return nil, err
	}

	if base == targetHash {
		// Fast-forward: advance target to source. Not a merge commit, so
		// the source branch does not transition to Merged — only a true
		// three-way merge below does that.
		if err := r.setBranchHead(targetBranch, sourceHash); err != nil {
			return nil, err
		}
		return &MergeResult{Committed: true, CommitHash: sourceHash}, nil
	}
	if base == sourceHash {
		// Nothing to merge.
		return &MergeResult{Committed: true}, nil
	}

	baseCommit, err := r.getCommit(base)
	if err != nil {
		return nil, err
	}
	sourceCommit, err := r.getCommit(sourceHash)
	if err != nil {
		return nil, err
	}
	targetCommit, err := r.getCommit(targetHash)
	if err != nil {
		return nil, err
	}
	baseTree, err := r.getTree(baseCommit.Tree)
	if err != nil {
		return nil, err
	}
	sourceTree, err := r.getTree(sourceCommit.Tree)
	if err != nil {
		return nil, err
	}
	targetTree, err := r.getTree(targetCommit.Tree)
	if err != nil {
		return nil, err
	}

	deltaSource := changesFrom(baseTree, sourceTree)
	deltaTarget := changesFrom(baseTree, targetTree)

	var conflicts []Conflict
	resultEntries := make(map[string]ContentHash, len(targetTree.Entries))
	for k, v := range targetTree.Entries {
		resultEntries[k] = v
	}

	resolved := map[string]ConflictResolution{}

	for key, sc := range deltaSource {
		tc, inTarget := deltaTarget[key]
		if !inTarget {
			applyChange(resultEntries, key, sc)
			continue
		}
		if sc.deleted && tc.deleted {
			continue // both deleted: no conflict
		}
		if sc.deleted != tc.deleted {
			conflicts = append(conflicts, Conflict{
				Key: key, Kind: DeleteModifyConflict,
				Source: sc.hash, Target: tc.hash,
			})
			continue
		}
		if sc.hash == tc.hash {
			continue // identical change on both sides
		}
		conflicts = append(conflicts, Conflict{
			Key: key, Kind: ContentConflict, Source: sc.hash, Target: tc.hash,
		})
	}

	if len(conflicts) > 0 {
		switch strategy {
		case StrategyOurs:
			// Target wins every conflict: resultEntries already holds
			// target's state for every conflicting key, nothing to do.
		case StrategyTheirs:
			for _, c := range conflicts {
				applyChange(resultEntries, c.Key, deltaSource[c.Key])
			}
		case StrategyAutoMerge:
			var failed []Conflict
			for _, c := range conflicts {
				if resolver == nil {
					failed = append(failed, c)
					continue
				}
				res, err := resolver.Resolve(c)
				if err != nil {
					failed = append(failed, c)
					continue
				}
				resolved[c.Key] = res
			}
			if len(failed) > 0 {
				// Report every conflict from this merge, not just the
				// unresolved subset, so a partially-successful AutoMerge
				// surfaces the same conflict set Manual would have.
				return &MergeResult{Conflicts: conflicts}, nil
			}
			for key, res := range resolved {
				if res.Delete {
					delete(resultEntries, key)
				} else {
					resultEntries[key] = res.BlobHash
				}
			}
		default: // StrategyManual
			return &MergeResult{Conflicts: conflicts}, nil
		}
	}

	newTreeHash, err := r.putTree(resultEntries)
	if err != nil {
		return nil, err
	}

	cs := buildMergeChangeSummary(targetTree, resultEntries)
	commit, err := r.putCommit(
		[]ContentHash{targetHash, sourceHash},
		"system",
		fmt.Sprintf("Merge branch '%s' into '%s'", sourceBranch, targetBranch),
		newTreeHash, cs,
	)
	if err != nil {
		return nil, err
	}

	if err := r.setBranchHead(targetBranch, commit.Hash); err != nil {
		return nil, err
	}
	r.markMerged(sourceBranch)

	return &MergeResult{Committed: true, CommitHash: commit.Hash}, nil
}

func applyChange(entries map[string]ContentHash, key string, c keyChange) {
	if c.deleted {
		delete(entries, key)
	} else {
		entries[key] = c.hash
	}
}

func buildMergeChangeSummary(before *MemoryTree, after map[string]ContentHash) objectstore.ChangeSummary {
	cs := objectstore.ChangeSummary{}
	for k, h := range after {
		if bh, existed := before.Entries[k]; !existed {
			cs.Added = append(cs.Added, k)
		} else if bh != h {
			cs.Modified = append(cs.Modified, k)
		}
	}
	for k := range before.Entries {
		if _, still := after[k]; !still {
			cs.Deleted = append(cs.Deleted, k)
		}
	}
	return cs
}

// markMerged transitions a branch's state machine into "merged" (spec
// §4.2.6): a soft state, the branch may still receive further commits.
func (r *Repository) markMerged(branch string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if meta, ok := r.branchMetas[branch]; ok && meta.State == BranchActive {
		meta.State = BranchMerged
		_ = r.saveBranchMetasLocked()
	}
}
