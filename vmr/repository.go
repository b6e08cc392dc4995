package vmr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/rs/zerolog"

	"github.com/blakebarnett/thymos/errs"
	"github.com/blakebarnett/thymos/objectstore"
)

const (
	// DefaultBranchName is the branch created by Init, mirroring the
	// teacher's DefaultBranch constant (internal/gogit.go).
	DefaultBranchName = "main"
	branchMetaFile    = "branches.json"
)

// branchMeta is the part of a Branch not representable as a plain git ref
// (go-git refs only carry a name and a target hash).
type branchMeta struct {
	Description string      `json:"description,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	State       BranchState `json:"state"`
}

// Repository is the versioned memory repository rooted at a directory on
// disk, per the on-disk layout of spec §6.4.
type Repository struct {
	root  string
	store *objectstore.Store
	log   zerolog.Logger

	mu           sync.RWMutex // guards branchMetas + activeBranch/activeCommit/index bookkeeping
	branchLocks  map[string]*sync.RWMutex
	branchMetas  map[string]*branchMeta
	activeBranch string // "" => detached
	activeCommit ContentHash
	index        *Index

	worktrees map[string]*Worktree
}

// Init creates a brand new repository at root with a single unborn branch
// named DefaultBranchName and an empty index, mirroring
// internal/gogit.go's InitRepository.
func Init(root string, log zerolog.Logger) (*Repository, error) {
	if err := os.MkdirAll(filepath.Join(root, "objects"), 0o755); err != nil {
		return nil, errs.Wrap(errs.Resource, "vmr.Init", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "worktrees"), 0o755); err != nil {
		return nil, errs.Wrap(errs.Resource, "vmr.Init", err)
	}

	store, err := objectstore.Open(root, log)
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "vmr.Init", err)
	}

	r := &Repository{
		root:         root,
		store:        store,
		log:          log.With().Str("component", "vmr").Logger(),
		branchLocks:  make(map[string]*sync.RWMutex),
		branchMetas:  map[string]*branchMeta{DefaultBranchName: {CreatedAt: time.Now().UTC(), State: BranchUnborn}},
		activeBranch: DefaultBranchName,
		index:        newIndex(),
		worktrees:    make(map[string]*Worktree),
	}
	if err := r.saveBranchMetas(); err != nil {
		return nil, err
	}
	if err := r.writeHEADSymbolic(DefaultBranchName); err != nil {
		return nil, err
	}
	return r, nil
}

// Open loads an existing repository rooted at root.
func Open(root string, log zerolog.Logger) (*Repository, error) {
	store, err := objectstore.Open(root, log)
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "vmr.Open", err)
	}

	r := &Repository{
		root:        root,
		store:       store,
		log:         log.With().Str("component", "vmr").Logger(),
		branchLocks: make(map[string]*sync.RWMutex),
		index:       newIndex(),
		worktrees:   make(map[string]*Worktree),
	}
	if err := r.loadBranchMetas(); err != nil {
		return nil, err
	}
	branch, commit, detached, err := r.readHEAD()
	if err != nil {
		return nil, err
	}
	if detached {
		r.activeBranch = ""
		r.activeCommit = commit
	} else {
		r.activeBranch = branch
	}
	if err := r.loadWorktrees(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) branchLock(name string) *sync.RWMutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.branchLocks[name]; ok {
		return l
	}
	l := &sync.RWMutex{}
	r.branchLocks[name] = l
	return l
}

// --- branch metadata persistence -------------------------------------------------

func (r *Repository) saveBranchMetas() error {
	path := filepath.Join(r.root, branchMetaFile)
	data, err := json.MarshalIndent(r.branchMetas, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Resource, "vmr.saveBranchMetas", err)
	}
	if err := atomicWriteFile(path, data); err != nil {
		return errs.Wrap(errs.Resource, "vmr.saveBranchMetas", err)
	}
	return nil
}

func (r *Repository) loadBranchMetas() error {
	path := filepath.Join(r.root, branchMetaFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		r.branchMetas = map[string]*branchMeta{}
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.Resource, "vmr.loadBranchMetas", err)
	}
	var metas map[string]*branchMeta
	if err := json.Unmarshal(data, &metas); err != nil {
		return errs.Wrap(errs.Corruption, "vmr.loadBranchMetas", err)
	}
	r.branchMetas = metas
	return nil
}

// atomicWriteFile writes data via write-temp, then rename, matching the
// Object Store's own atomicity guarantee (spec §4.1 "Failure semantics").
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// --- HEAD / refs -------------------------------------------------------------------

func refName(branch string) plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(branch)
}

func (r *Repository) writeHEADSymbolic(branch string) error {
	ref := plumbing.NewSymbolicReference(plumbing.HEAD, refName(branch))
	return r.store.RefStorer().SetReference(ref)
}

func (r *Repository) writeHEADDetached(commit ContentHash) error {
	ref := plumbing.NewHashReference(plumbing.HEAD, plumbing.NewHash(string(commit)))
	return r.store.RefStorer().SetReference(ref)
}

// readHEAD returns (branchName, commitHash, detached, error).
func (r *Repository) readHEAD() (string, ContentHash, bool, error) {
	ref, err := r.store.RefStorer().Reference(plumbing.HEAD)
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return DefaultBranchName, "", false, nil
		}
		return "", "", false, errs.Wrap(errs.Resource, "vmr.readHEAD", err)
	}
	if ref.Type() == plumbing.SymbolicReference {
		return ref.Target().Short(), "", false, nil
	}
	return "", objectstore.Hash(ref.Hash().String()), true, nil
}

func (r *Repository) setBranchHead(name string, commit ContentHash) error {
	ref := plumbing.NewHashReference(refName(name), plumbing.NewHash(string(commit)))
	return r.store.RefStorer().SetReference(ref)
}

func (r *Repository) branchHead(name string) (ContentHash, bool, error) {
	ref, err := r.store.RefStorer().Reference(refName(name))
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return "", false, nil
		}
		return "", false, errs.Wrap(errs.Resource, "vmr.branchHead", err)
	}
	return objectstore.Hash(ref.Hash().String()), true, nil
}

// --- object helpers -----------------------------------------------------------------

func (r *Repository) putBlob(content []byte, metadata map[string]interface{}, createdAt time.Time) (ContentHash, error) {
	bytes, err := objectstore.EncodeBlob(content, metadata, createdAt)
	if err != nil {
		return "", errs.Wrap(errs.Validation, "vmr.putBlob", err)
	}
	return r.store.Put(objectstore.KindBlob, bytes)
}

func (r *Repository) getBlob(hash ContentHash) (*MemoryBlob, error) {
	data, err := r.store.Get(objectstore.KindBlob, hash)
	if err != nil {
		return nil, err
	}
	content, metadata, createdAt, err := objectstore.DecodeBlob(data)
	if err != nil {
		return nil, errs.Wrap(errs.Corruption, "vmr.getBlob", err)
	}
	return &MemoryBlob{Hash: hash, Content: content, Metadata: metadata, CreatedAt: createdAt}, nil
}

func (r *Repository) putTree(entries map[string]ContentHash) (ContentHash, error) {
	bytes, err := objectstore.EncodeTree(entries)
	if err != nil {
		return "", errs.Wrap(errs.Validation, "vmr.putTree", err)
	}
	return r.store.Put(objectstore.KindTree, bytes)
}

func (r *Repository) getTree(hash ContentHash) (*MemoryTree, error) {
	if hash == "" {
		return &MemoryTree{Entries: map[string]ContentHash{}}, nil
	}
	data, err := r.store.Get(objectstore.KindTree, hash)
	if err != nil {
		return nil, err
	}
	entries, err := objectstore.DecodeTree(data)
	if err != nil {
		return nil, errs.Wrap(errs.Corruption, "vmr.getTree", err)
	}
	return &MemoryTree{Hash: hash, Entries: entries}, nil
}

func (r *Repository) putCommit(parents []ContentHash, author, message string, tree ContentHash, cs objectstore.ChangeSummary) (*Commit, error) {
	now := time.Now().UTC()
	parentStrs := make([]string, len(parents))
	for i, p := range parents {
		parentStrs[i] = string(p)
	}
	bytes, err := objectstore.EncodeCommit(parentStrs, author, message, tree, now, cs)
	if err != nil {
		return nil, errs.Wrap(errs.Validation, "vmr.putCommit", err)
	}
	hash, err := r.store.Put(objectstore.KindCommit, bytes)
	if err != nil {
		return nil, err
	}
	return &Commit{
		Hash: hash, Parents: parents, Author: author, Timestamp: now,
		Message: message, Tree: tree, ChangeSummary: cs,
	}, nil
}

func (r *Repository) getCommit(hash ContentHash) (*Commit, error) {
	data, err := r.store.Get(objectstore.KindCommit, hash)
	if err != nil {
		return nil, err
	}
	cc, ts, err := objectstore.DecodeCommit(data)
	if err != nil {
		return nil, errs.Wrap(errs.Corruption, "vmr.getCommit", err)
	}
	parents := make([]ContentHash, len(cc.Parents))
	for i, p := range cc.Parents {
		parents[i] = objectstore.Hash(p)
	}
	return &Commit{
		Hash: hash, Parents: parents, Author: cc.Author, Timestamp: ts,
		Message: cc.Message, Tree: objectstore.Hash(cc.Tree), ChangeSummary: cc.ChangeSummary,
	}, nil
}

// --- public read API ------------------------------------------------------------------

// CurrentBranch returns the active branch name, or "" when detached.
func (r *Repository) CurrentBranch() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeBranch
}

// Close releases resources held by the underlying object store, including
// its decoded-object cache.
func (r *Repository) Close() {
	r.store.Close()
}

// GetLastCommit returns the commit at HEAD of the current workspace.
func (r *Repository) GetLastCommit() (*Commit, error) {
	hash, err := r.headCommit()
	if err != nil {
		return nil, err
	}
	if hash == "" {
		return nil, errs.New(errs.NotFound, "vmr.GetLastCommit", fmt.Errorf("branch is unborn"))
	}
	return r.getCommit(hash)
}

func (r *Repository) headCommit() (ContentHash, error) {
	r.mu.RLock()
	branch, commit := r.activeBranch, r.activeCommit
	r.mu.RUnlock()
	if branch == "" {
		return commit, nil
	}
	h, ok, err := r.branchHead(branch)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return h, nil
}

// ListBranches returns all known branches, sorted by name.
func (r *Repository) ListBranches() ([]*Branch, error) {
	r.mu.RLock()
	names := make([]string, 0, len(r.branchMetas))
	for n := range r.branchMetas {
		names = append(names, n)
	}
	active := r.activeBranch
	r.mu.RUnlock()
	sort.Strings(names)

	out := make([]*Branch, 0, len(names))
	for _, n := range names {
		r.mu.RLock()
		meta := *r.branchMetas[n]
		r.mu.RUnlock()
		head, _, err := r.branchHead(n)
		if err != nil {
			return nil, err
		}
		out = append(out, &Branch{
			Name: n, CommitHash: head, Description: meta.Description,
			IsActive: n == active, CreatedAt: meta.CreatedAt, State: meta.State,
		})
	}
	return out, nil
}

// ListCommitsBetween returns the linear history walking from b back to a
// (exclusive of a, inclusive of b), following first-parent when a commit
// has multiple parents — the same convention Bisect uses (spec §9 decision).
func (r *Repository) ListCommitsBetween(a, b ContentHash) ([]*Commit, error) {
	var out []*Commit
	cur := b
	for cur != "" && cur != a {
		c, err := r.getCommit(cur)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
		if len(c.Parents) == 0 {
			break
		}
		cur = c.Parents[0]
	}
	return out, nil
}
