package vmr

import (
	"fmt"

	"github.com/blakebarnett/thymos/errs"
)

// BisectPredicate classifies a commit during a bisection search: true means
// "good" (the property being searched for already holds), false means "bad".
type BisectPredicate func(commit *Commit) (bool, error)

// Bisect performs a binary search over the first-parent ancestor line
// between good and bad (good must be an ancestor of bad) to find the first
// commit where predicate flips from good to bad (spec §4.2.1, §9 decision:
// bisect is restricted to the first-parent line, mirroring how
// ListCommitsBetween already walks history, rather than the full DAG —
// bisecting a DAG requires the caller to pick a line anyway, so we pick the
// same one uniformly).
func (r *Repository) Bisect(good, bad ContentHash, predicate BisectPredicate) (*Commit, error) {
	line, err := r.ListCommitsBetween(good, bad)
	if err != nil {
		return nil, err
	}
	// ListCommitsBetween walks bad -> good, newest first; reverse so index 0
	// is the oldest commit after good.
	for i, j := 0, len(line)-1; i < j; i, j = i+1, j-1 {
		line[i], line[j] = line[j], line[i]
	}

	goodCommit, err := r.getCommit(good)
	if err != nil {
		return nil, err
	}
	ok, err := predicate(goodCommit)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.Validation, "vmr.Bisect", fmt.Errorf("good commit %q does not satisfy predicate", good))
	}

	lo, hi := 0, len(line)-1
	firstBad := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		isGood, err := predicate(line[mid])
		if err != nil {
			return nil, err
		}
		if isGood {
			lo = mid + 1
		} else {
			firstBad = mid
			hi = mid - 1
		}
	}
	if firstBad == -1 {
		// Every commit on the line satisfies the predicate; bad itself is
		// the first to not, or no transition exists on this line.
		badCommit, err := r.getCommit(bad)
		if err != nil {
			return nil, err
		}
		ok, err := predicate(badCommit)
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, errs.New(errs.NotFound, "vmr.Bisect", fmt.Errorf("no transition found between %q and %q", good, bad))
		}
		return badCommit, nil
	}
	return line[firstBad], nil
}
