package mlse

import (
	"sort"
	"time"

	"github.com/blakebarnett/thymos/vmr"
)

// prune enforces every scope's max_memories after a commit that may have
// added memories. Choosing which memories to drop requires
// their committed strength, which in turn requires their blob hashes —
// available only once a commit has actually landed. So pruning lands as an
// immediate follow-up commit rather than being folded into the triggering
// commit itself (which would require hashing not-yet-committed adds before
// they exist); it remains fully auditable as an adjacent commit rather than
// one that's invisible or silently skipped. See the design notes for this
// tradeoff.
func (e *Engine) prune() error {
	tree, err := e.repo.CurrentTree()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	type scored struct {
		key       string
		strength  float64
		createdAt time.Time
	}
	byScope := map[string][]scored{}

	for key := range tree.Entries {
		if isScopeKey(key) {
			continue
		}
		blob, err := e.repo.GetMemory(key)
		if err != nil {
			continue
		}
		s := e.StrengthInScope(blob, now)
		scopeName := blob.ScopeOf()
		byScope[scopeName] = append(byScope[scopeName], scored{key: key, strength: s.Value, createdAt: blob.CreatedAt})
	}

	var toDelete []string
	for scopeName, members := range byScope {
		cfg := e.resolveScope(scopeName)
		if cfg.MaxMemories == nil || len(members) <= *cfg.MaxMemories {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			if members[i].strength != members[j].strength {
				return members[i].strength < members[j].strength
			}
			return members[i].createdAt.Before(members[j].createdAt)
		})
		excess := len(members) - *cfg.MaxMemories
		for i := 0; i < excess; i++ {
			toDelete = append(toDelete, members[i].key)
		}
	}

	if len(toDelete) == 0 {
		return nil
	}
	for _, key := range toDelete {
		if err := e.repo.Stage(key, vmr.StagedOp{Kind: vmr.OpDelete}); err != nil {
			return err
		}
	}
	commit, err := e.repo.Commit("retention prune", "mlse")
	if err != nil {
		return err
	}
	for _, key := range toDelete {
		e.deindex(key)
	}
	e.publish("memory.deleted", map[string]interface{}{"keys": toDelete, "commit": string(commit.Hash), "reason": "retention"})
	return nil
}
