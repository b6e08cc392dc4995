// Package vmr implements the Versioned Memory Repository: the branch,
// commit, worktree, and staging model described in spec §4.2, built on top
// of package objectstore. It is the git-like layer that package mlse
// delegates durable storage to.
package vmr

import (
	"time"

	"github.com/blakebarnett/thymos/objectstore"
)

// ContentHash identifies a MemoryBlob, MemoryTree, or Commit.
type ContentHash = objectstore.Hash

// MemoryBlob is an immutable unit of memory content plus metadata (spec
// §3.1). Its Hash is assigned by the store once persisted.
type MemoryBlob struct {
	Hash      ContentHash
	Content   []byte
	Metadata  map[string]interface{}
	CreatedAt time.Time
}

// ScopeOf returns the blob's scope tag, defaulting to "default" when absent
// or malformed, per spec §3.2 "Scope tag".
func (b *MemoryBlob) ScopeOf() string {
	if b == nil || b.Metadata == nil {
		return "default"
	}
	if v, ok := b.Metadata["scope"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "default"
}

// MemoryTree is the content-addressed, ordered mapping from logical key to
// blob hash that represents the full memory set visible at a revision.
type MemoryTree struct {
	Hash    ContentHash
	Entries map[string]ContentHash
}

// OpKind distinguishes a staged operation.
type OpKind int

const (
	OpDelete OpKind = iota
	OpModify
	OpAdd
)

func (k OpKind) String() string {
	switch k {
	case OpDelete:
		return "delete"
	case OpModify:
		return "modify"
	case OpAdd:
		return "add"
	default:
		return "unknown"
	}
}

// StagedOp is one entry in a workspace's index (spec §3.1 "Index").
type StagedOp struct {
	MemoryID string
	Kind     OpKind
	// For Add: the new blob to insert.
	NewContent  []byte
	NewMetadata map[string]interface{}
	// For Modify: OldHash is informational only; Commit builds the diff
	// recorded in Commit.ChangeSummary from the blob the parent tree holds
	// for the key. The staged write carries the new content/metadata to be
	// hashed at commit time.
	OldHash ContentHash
}

// Index is the per-workspace, non-versioned staging area.
type Index struct {
	Ops map[string]StagedOp // keyed by MemoryID, last write wins
}

func newIndex() *Index { return &Index{Ops: make(map[string]StagedOp)} }

func (ix *Index) Empty() bool { return len(ix.Ops) == 0 }

// Commit is a snapshot of a tree plus parent linkage and authorship (spec
// §3.1). Hash covers every other field.
type Commit struct {
	Hash          ContentHash
	Parents       []ContentHash
	Author        string
	Timestamp     time.Time
	Message       string
	Tree          ContentHash
	ChangeSummary objectstore.ChangeSummary
}

// BranchState is the state-machine position of a branch (spec §4.2.6).
type BranchState string

const (
	BranchUnborn  BranchState = "unborn"
	BranchActive  BranchState = "active"
	BranchMerged  BranchState = "merged"
	BranchDeleted BranchState = "deleted"
)

// Branch is a named, mutable pointer to a commit.
type Branch struct {
	Name        string
	CommitHash  ContentHash
	Description string
	IsActive    bool
	CreatedAt   time.Time
	State       BranchState
}

// Worktree is an isolated working copy of a branch state (spec §3.1).
type Worktree struct {
	ID          string
	Branch      string // "" when detached
	CommitHash  ContentHash
	StoragePath string
	AgentID     string
	CreatedAt   time.Time
	Detached    bool

	// index is this worktree's own staging area, isolated from the main
	// workspace's index and from every other worktree's.
	index *Index
}

// MergeStrategy selects how merge conflicts are resolved (spec §4.2.4).
type MergeStrategy int

const (
	StrategyManual MergeStrategy = iota
	StrategyOurs
	StrategyTheirs
	StrategyAutoMerge
)

// ConflictKind classifies a merge conflict at key granularity.
type ConflictKind string

const (
	ContentConflict      ConflictKind = "content_conflict"
	DeleteModifyConflict ConflictKind = "delete_modify_conflict"
)

// Conflict describes one unresolved key during a merge.
type Conflict struct {
	Key    string
	Kind   ConflictKind
	Source ContentHash // "" if source deleted the key
	Target ContentHash // "" if target deleted the key
}

// ConflictResolution is what an AutoMerge resolver returns for one conflict.
type ConflictResolution struct {
	// Delete, if true, resolves the conflict by removing the key.
	Delete bool
	// BlobHash, when Delete is false, is the pre-stored resolved blob.
	BlobHash ContentHash
}

// ConflictResolver resolves merge conflicts for MergeStrategy AutoMerge
// (spec §4.2.4 step 4). A resolver failure on any conflict degrades the
// whole conflict set back to Manual: Merge returns every conflict and
// creates no commit.
type ConflictResolver interface {
	Resolve(conflict Conflict) (ConflictResolution, error)
}

// MergeResult is the first-class result of Merge (not an error — spec
// §4.2.7 "Merge conflicts are not errors").
type MergeResult struct {
	// Committed is true on success; CommitHash is the commit target now
	// points at after a merge commit or a fast-forward (for a fast-forward
	// it is the source tip, no new commit is created). No-op merges leave
	// it empty.
	Committed  bool
	CommitHash ContentHash
	Conflicts  []Conflict
}
