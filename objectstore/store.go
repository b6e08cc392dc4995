// Package objectstore implements the content-addressed, immutable object
// store that backs the versioned memory repository (spec §4.1). It stores
// three kinds of object — blob, tree, commit — each identified by a
// cryptographic hash of its canonical byte form.
//
// The storage engine underneath is go-git's filesystem-backed loose object
// storer: the same machinery the teacher repository uses to hold an entire
// memory tree as a real git repository. Here it is used at a lower level,
// as a generic SHA1 content-addressable blob store with atomic loose-object
// writes, rather than through go-git's porcelain. Higher layers (package
// vmr) decide what the canonical bytes of a blob/tree/commit mean; this
// package only guarantees that identical bytes hash identically and that a
// tampered object is reported, never silently healed.
package objectstore

import (
	"fmt"
	"io"

	"github.com/dgraph-io/ristretto"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/rs/zerolog"

	"github.com/blakebarnett/thymos/errs"
)

// Kind identifies what an object represents. Kinds map 1:1 onto git object
// types so the on-disk layout matches spec §6.4 exactly.
type Kind string

const (
	KindBlob   Kind = "blob"
	KindTree   Kind = "tree"
	KindCommit Kind = "commit"
)

func (k Kind) gitType() plumbing.ObjectType {
	switch k {
	case KindBlob:
		return plumbing.BlobObject
	case KindTree:
		return plumbing.TreeObject
	case KindCommit:
		return plumbing.CommitObject
	default:
		return plumbing.InvalidObject
	}
}

// Hash is a lowercase-hex object id, per spec §6.4.
type Hash string

func (h Hash) String() string { return string(h) }

func fromPlumbing(h plumbing.Hash) Hash { return Hash(h.String()) }

// Store is the content-addressed object store rooted at a repository's
// object directory (R/objects in spec §6.4).
type Store struct {
	storer storer.EncodedObjectStorer
	refs   storer.ReferenceStorer
	log    zerolog.Logger

	// decoded caches the verified plaintext of recently-read objects, keyed
	// by "<kind>:<hash>". Safe without invalidation because every object is
	// immutable and content-addressed: a hash never changes meaning once
	// written, so a cached entry is never stale.
	decoded *ristretto.Cache
}

// Open opens (or creates, if absent) the loose-object store rooted at dir.
// dir is the repository root (vmr.Init and vmr.Open pass it); objects land under
// dir/objects/<2-hex>/<rest>, exactly as spec §6.4 describes.
func Open(dir string, log zerolog.Logger) (*Store, error) {
	fs := osfs.New(dir)
	st := filesystem.NewStorage(fs, cache.NewObjectLRUDefault())

	decoded, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     64 << 20, // 64MiB of decoded object bytes
		BufferItems: 64,
	})
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "objectstore.Open", err)
	}

	return &Store{
		storer:  st,
		refs:    st,
		log:     log.With().Str("component", "objectstore").Logger(),
		decoded: decoded,
	}, nil
}

// Close releases the decoded-object cache. The underlying filesystem
// storer has no open handles to release.
func (s *Store) Close() {
	s.decoded.Close()
}

// RefStorer exposes the underlying reference storer so package vmr can keep
// branch pointers (refs/heads/<name>) and HEAD alongside the objects, using
// the exact same on-disk root.
func (s *Store) RefStorer() storer.ReferenceStorer { return s.refs }

// Put computes the hash of canonicalBytes under kind and writes it if not
// already present. Put is idempotent: writing the same bytes twice returns
// the same hash without error.
func (s *Store) Put(kind Kind, canonicalBytes []byte) (Hash, error) {
	obj := &plumbing.MemoryObject{}
	obj.SetType(kind.gitType())
	obj.SetSize(int64(len(canonicalBytes)))
	if _, err := obj.Write(canonicalBytes); err != nil {
		return "", errs.Wrap(errs.Resource, "objectstore.Put", err)
	}

	hash, err := s.storer.SetEncodedObject(obj)
	if err != nil {
		return "", errs.Wrap(errs.Resource, "objectstore.Put", err)
	}
	s.decoded.Set(cacheKey(kind, fromPlumbing(hash)), canonicalBytes, int64(len(canonicalBytes)))
	return fromPlumbing(hash), nil
}

func cacheKey(kind Kind, hash Hash) string { return string(kind) + ":" + string(hash) }

// Get retrieves the canonical bytes stored under hash. It fails NotFound if
// absent, Corruption if the stored bytes no longer hash to hash.
func (s *Store) Get(kind Kind, hash Hash) ([]byte, error) {
	key := cacheKey(kind, hash)
	if cached, ok := s.decoded.Get(key); ok {
		return cached.([]byte), nil
	}

	ph := plumbing.NewHash(string(hash))

	obj, err := s.storer.EncodedObject(kind.gitType(), ph)
	if err != nil {
		if err == plumbing.ErrObjectNotFound {
			return nil, errs.New(errs.NotFound, "objectstore.Get", err)
		}
		return nil, errs.Wrap(errs.Resource, "objectstore.Get", err)
	}

	r, err := obj.Reader()
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "objectstore.Get", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "objectstore.Get", err)
	}

	if err := verify(kind, ph, data); err != nil {
		s.log.Error().Str("hash", string(hash)).Str("kind", string(kind)).Msg("object failed hash verification")
		return nil, err
	}

	s.decoded.Set(key, data, int64(len(data)))
	return data, nil
}

// verify recomputes the hash of data under kind and compares it to want,
// surfacing Corruption on mismatch rather than trusting the storage layer.
func verify(kind Kind, want plumbing.Hash, data []byte) error {
	check := &plumbing.MemoryObject{}
	check.SetType(kind.gitType())
	check.SetSize(int64(len(data)))
	if _, err := check.Write(data); err != nil {
		return errs.Wrap(errs.Corruption, "objectstore.verify", err)
	}
	if check.Hash() != want {
		return errs.New(errs.Corruption, "objectstore.verify",
			fmt.Errorf("object %s hashes to %s on read", want, check.Hash()))
	}
	return nil
}

// Exists reports whether hash is present in the store.
func (s *Store) Exists(kind Kind, hash Hash) (bool, error) {
	ph := plumbing.NewHash(string(hash))
	_, err := s.storer.EncodedObject(kind.gitType(), ph)
	if err == nil {
		return true, nil
	}
	if err == plumbing.ErrObjectNotFound {
		return false, nil
	}
	return false, errs.Wrap(errs.Resource, "objectstore.Exists", err)
}

// Iter returns a lazy, finite, non-restartable sequence of hashes of the
// given kind currently reachable in the store.
func (s *Store) Iter(kind Kind) (*Iterator, error) {
	it, err := s.storer.IterEncodedObjects(kind.gitType())
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "objectstore.Iter", err)
	}
	return &Iterator{inner: it}, nil
}

// Iterator walks hashes of one kind. It is not safe for concurrent use and
// does not survive a crash mid-iteration — callers must re-Iter if they
// need to resume.
type Iterator struct {
	inner storer.EncodedObjectIter
}

// Next returns the next hash, or ("", io.EOF) when exhausted.
func (it *Iterator) Next() (Hash, error) {
	obj, err := it.inner.Next()
	if err != nil {
		return "", err
	}
	return fromPlumbing(obj.Hash()), nil
}

// Close releases resources held by the iterator.
func (it *Iterator) Close() { it.inner.Close() }
