package objectstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// CanonicalBlob is the canonical, bit-reproducible form of a MemoryBlob
// (spec §3.1): content bytes plus arbitrary structured metadata. Go's
// encoding/json marshals map keys in sorted order and struct fields in
// declaration order, which combined with a fixed RFC3339Nano timestamp
// format gives every logically-equal blob a bit-identical encoding.
type CanonicalBlob struct {
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt string                 `json:"created_at"`
}

// EncodeBlob produces the canonical bytes hashed to identify a blob.
func EncodeBlob(content []byte, metadata map[string]interface{}, createdAt time.Time) ([]byte, error) {
	cb := CanonicalBlob{
		Content:   string(content),
		Metadata:  metadata,
		CreatedAt: createdAt.UTC().Format(time.RFC3339Nano),
	}
	return json.Marshal(cb)
}

// DecodeBlob reverses EncodeBlob.
func DecodeBlob(data []byte) (content []byte, metadata map[string]interface{}, createdAt time.Time, err error) {
	var cb CanonicalBlob
	if err = json.Unmarshal(data, &cb); err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("decode blob: %w", err)
	}
	createdAt, err = time.Parse(time.RFC3339Nano, cb.CreatedAt)
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("decode blob timestamp: %w", err)
	}
	return []byte(cb.Content), cb.Metadata, createdAt, nil
}

// TreeEntry is one logical-key -> blob-hash mapping within a MemoryTree.
type TreeEntry struct {
	Key  string `json:"key"`
	Hash string `json:"hash"`
}

// EncodeTree produces the canonical bytes of a MemoryTree. Entries are
// sorted by key so that identical logical contents always serialize
// identically regardless of insertion order.
func EncodeTree(entries map[string]Hash) ([]byte, error) {
	sorted := make([]TreeEntry, 0, len(entries))
	for k, h := range entries {
		sorted = append(sorted, TreeEntry{Key: k, Hash: string(h)})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	return json.Marshal(sorted)
}

// DecodeTree reverses EncodeTree.
func DecodeTree(data []byte) (map[string]Hash, error) {
	var entries []TreeEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}
	out := make(map[string]Hash, len(entries))
	for _, e := range entries {
		out[e.Key] = Hash(e.Hash)
	}
	return out, nil
}

// Diff is a human-readable diff between a key's old and new content,
// recorded alongside a Modify operation. Lives here rather than in package
// vmr (which computes it) so it can sit directly on ChangeSummary without
// an import cycle.
type Diff struct {
	Key   string `json:"key"`
	Patch string `json:"patch"`
}

// ChangeSummary mirrors Commit.change_summary (spec §3.1): the logical keys
// touched by a commit, recorded for observability and for retention's
// "pruning is visible in commit history" requirement (§4.3.4).
type ChangeSummary struct {
	Added           []string `json:"added,omitempty"`
	Modified        []string `json:"modified,omitempty"`
	Deleted         []string `json:"deleted,omitempty"`
	ConceptsChanged []string `json:"concepts_changed,omitempty"`
	Diffs           []Diff   `json:"diffs,omitempty"`
}

// CanonicalCommit is the canonical form hashed to produce a commit's hash.
// The hash covers every field here except itself, satisfying spec §3.2's
// "Hash covers all fields except itself".
type CanonicalCommit struct {
	Parents       []string      `json:"parents"`
	Author        string        `json:"author"`
	Timestamp     string        `json:"timestamp"`
	Message       string        `json:"message"`
	Tree          string        `json:"tree"`
	ChangeSummary ChangeSummary `json:"change_summary"`
}

// EncodeCommit produces the canonical bytes of a commit.
func EncodeCommit(parents []string, author, message string, tree Hash, timestamp time.Time, cs ChangeSummary) ([]byte, error) {
	// Parent order is significant (first parent is the mainline / target
	// branch in a merge commit), so unlike tree entries it is NOT sorted.
	parentsCopy := append([]string(nil), parents...)
	cc := CanonicalCommit{
		Parents:       parentsCopy,
		Author:        author,
		Timestamp:     timestamp.UTC().Format(time.RFC3339Nano),
		Message:       message,
		Tree:          string(tree),
		ChangeSummary: cs,
	}
	return json.Marshal(cc)
}

// DecodeCommit reverses EncodeCommit.
func DecodeCommit(data []byte) (*CanonicalCommit, time.Time, error) {
	var cc CanonicalCommit
	if err := json.Unmarshal(data, &cc); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode commit: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, cc.Timestamp)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("decode commit timestamp: %w", err)
	}
	return &cc, ts, nil
}
