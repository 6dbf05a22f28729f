// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package hamt implements the hash-array-mapped trie used to back large
// directories: an immutable, content-addressed 32-way trie keyed by file
// and subdirectory names, stored one serialized node per blob.
//
// Every mutation is copy-on-write: Insert and Delete load the path from
// root to the affected leaf, rebuild it bottom-up, persist each new node,
// and return the new root hash. Callers are responsible for publishing
// that new root (the directory layer does this as part of its own
// transaction).
package hamt

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/s5fs/s5fs/cidutil"
	"github.com/s5fs/s5fs/codec"
)

// DefaultLeafMaxEntries is the number of entries a leaf ChildRef holds
// before it splits into an internal node, for every depth short of
// MaxDepth.
const DefaultLeafMaxEntries = 32

// Handle operates on HAMTs backed by a single Store. It holds a bounded
// node cache and is safe for concurrent use by multiple goroutines, since
// every tree it touches is immutable once written.
type Handle struct {
	store          Store
	cache          *nodeCache
	hashFunction   uint8
	leafMaxEntries int
}

// Option configures a Handle.
type Option func(*Handle)

// WithHashFunction selects the bit-chunk source (HashFunctionMurmur3 by
// default).
func WithHashFunction(fn uint8) Option {
	return func(h *Handle) { h.hashFunction = fn }
}

// WithLeafMaxEntries overrides DefaultLeafMaxEntries.
func WithLeafMaxEntries(n int) Option {
	return func(h *Handle) {
		if n > 0 {
			h.leafMaxEntries = n
		}
	}
}

// WithCacheSize overrides DefaultCacheSize for the node cache.
func WithCacheSize(n int) Option {
	return func(h *Handle) { h.cache = newNodeCache(n) }
}

// New builds a Handle over store.
func New(store Store, opts ...Option) *Handle {
	h := &Handle{
		store:          store,
		cache:          newNodeCache(DefaultCacheSize),
		hashFunction:   HashFunctionMurmur3,
		leafMaxEntries: DefaultLeafMaxEntries,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HashFunction reports the hash function this Handle uses to chunk keys,
// for persisting into a directory's sharding descriptor.
func (h *Handle) HashFunction() uint8 { return h.hashFunction }

// NewEmptyRoot persists and returns the hash of an empty trie root.
func (h *Handle) NewEmptyRoot(ctx context.Context) (cidutil.Hash, error) {
	return h.save(ctx, &codec.HAMTNode{Depth: 0})
}

// Get looks up key, returning (entry, true, nil) if present, (nil, false,
// nil) if absent, and a non-nil error only on a storage or decode failure.
func (h *Handle) Get(ctx context.Context, root cidutil.Hash, key string) (*codec.LeafEntry, bool, error) {
	node, err := h.load(ctx, root)
	if err != nil {
		return nil, false, err
	}
	digest := digestFor(h.hashFunction, key)
	return h.getFrom(ctx, node, digest, key, 0)
}

func (h *Handle) getFrom(ctx context.Context, node *codec.HAMTNode, digest []byte, key string, depth int) (*codec.LeafEntry, bool, error) {
	chunk, ok := chunkAt(digest, depth)
	if !ok {
		chunk = 0
	}
	if !hasBit(node.Bitmap, chunk) {
		return nil, false, nil
	}
	idx := childIndex(node.Bitmap, chunk)
	child := node.Children[idx]
	switch child.Type {
	case codec.ChildLeaf:
		for _, e := range child.Entries {
			if e.Key == key {
				found := e
				return &found, true, nil
			}
		}
		return nil, false, nil
	case codec.ChildNode:
		childHash, err := childCIDHash(&child)
		if err != nil {
			return nil, false, fmt.Errorf("hamt: get %q: %w", key, err)
		}
		childNode, err := h.load(ctx, childHash)
		if err != nil {
			return nil, false, err
		}
		return h.getFrom(ctx, childNode, digest, key, depth+1)
	default:
		return nil, false, fmt.Errorf("hamt: get %q: %w: child type %q", key, ErrCorruptNode, child.Type)
	}
}

// Insert returns the hash of a new root with entry stored under key,
// overwriting any existing entry for that key.
func (h *Handle) Insert(ctx context.Context, root cidutil.Hash, key string, entry codec.LeafEntry) (cidutil.Hash, error) {
	entry.Key = key
	node, err := h.load(ctx, root)
	if err != nil {
		return cidutil.Hash{}, err
	}
	digest := digestFor(h.hashFunction, key)
	newNode, err := h.insertInto(ctx, node, digest, entry, 0)
	if err != nil {
		return cidutil.Hash{}, err
	}
	return h.save(ctx, newNode)
}

func (h *Handle) insertInto(ctx context.Context, node *codec.HAMTNode, digest []byte, entry codec.LeafEntry, depth int) (*codec.HAMTNode, error) {
	chunk, ok := chunkAt(digest, depth)
	if !ok {
		chunk = 0
	}
	out := cloneNode(node)
	present := hasBit(out.Bitmap, chunk)
	idx := childIndex(out.Bitmap, chunk)

	if !present {
		out.Bitmap = setBit(out.Bitmap, chunk)
		child := codec.ChildRef{Type: codec.ChildLeaf, Entries: []codec.LeafEntry{entry}}
		out.Children = insertChild(out.Children, idx, child)
		out.Count++
		return out, nil
	}

	child := out.Children[idx]
	switch child.Type {
	case codec.ChildLeaf:
		entries, replaced := upsertLeafEntry(child.Entries, entry)
		if !replaced {
			out.Count++
		}
		if depth < MaxDepth && len(entries) > h.leafMaxEntries {
			childNode, err := h.buildNodeFromEntries(ctx, entries, depth+1)
			if err != nil {
				return nil, err
			}
			childHash, err := h.save(ctx, childNode)
			if err != nil {
				return nil, err
			}
			ref, err := nodeChildRef(childHash)
			if err != nil {
				return nil, err
			}
			out.Children[idx] = ref
		} else {
			sortLeafEntries(entries)
			out.Children[idx] = codec.ChildRef{Type: codec.ChildLeaf, Entries: entries}
		}
		return out, nil
	case codec.ChildNode:
		childHash, err := childCIDHash(&child)
		if err != nil {
			return nil, err
		}
		childNode, err := h.load(ctx, childHash)
		if err != nil {
			return nil, err
		}
		before := childNode.Count
		newChild, err := h.insertInto(ctx, childNode, digest, entry, depth+1)
		if err != nil {
			return nil, err
		}
		if newChild.Count != before {
			out.Count++
		}
		newHash, err := h.save(ctx, newChild)
		if err != nil {
			return nil, err
		}
		ref, err := nodeChildRef(newHash)
		if err != nil {
			return nil, err
		}
		out.Children[idx] = ref
		return out, nil
	default:
		return nil, fmt.Errorf("hamt: insert: %w: child type %q", ErrCorruptNode, child.Type)
	}
}

// buildNodeFromEntries constructs a fresh internal node at depth from a
// leaf's overflowing entries, regrouping them by their chunk at depth.
func (h *Handle) buildNodeFromEntries(ctx context.Context, entries []codec.LeafEntry, depth int) (*codec.HAMTNode, error) {
	node := &codec.HAMTNode{Depth: uint8(depth)}
	digests := make(map[string][]byte, len(entries))
	for _, e := range entries {
		digests[e.Key] = digestFor(h.hashFunction, e.Key)
	}
	for _, e := range entries {
		var err error
		node, err = h.insertInto(ctx, node, digests[e.Key], e, depth)
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

// Delete returns the hash of a new root with key removed, and whether key
// was present.
func (h *Handle) Delete(ctx context.Context, root cidutil.Hash, key string) (cidutil.Hash, bool, error) {
	node, err := h.load(ctx, root)
	if err != nil {
		return cidutil.Hash{}, false, err
	}
	digest := digestFor(h.hashFunction, key)
	newNode, removed, err := h.deleteFrom(ctx, node, digest, key, 0)
	if err != nil {
		return cidutil.Hash{}, false, err
	}
	if !removed {
		return root, false, nil
	}
	newHash, err := h.save(ctx, newNode)
	return newHash, true, err
}

func (h *Handle) deleteFrom(ctx context.Context, node *codec.HAMTNode, digest []byte, key string, depth int) (*codec.HAMTNode, bool, error) {
	chunk, ok := chunkAt(digest, depth)
	if !ok {
		chunk = 0
	}
	if !hasBit(node.Bitmap, chunk) {
		return node, false, nil
	}
	out := cloneNode(node)
	idx := childIndex(out.Bitmap, chunk)
	child := out.Children[idx]

	switch child.Type {
	case codec.ChildLeaf:
		entries, removed := removeLeafEntry(child.Entries, key)
		if !removed {
			return node, false, nil
		}
		out.Count--
		if len(entries) == 0 {
			out.Bitmap = clearBit(out.Bitmap, chunk)
			out.Children = removeChild(out.Children, idx)
		} else {
			out.Children[idx] = codec.ChildRef{Type: codec.ChildLeaf, Entries: entries}
		}
		return out, true, nil
	case codec.ChildNode:
		childHash, err := childCIDHash(&child)
		if err != nil {
			return nil, false, err
		}
		childNode, err := h.load(ctx, childHash)
		if err != nil {
			return nil, false, err
		}
		newChild, removed, err := h.deleteFrom(ctx, childNode, digest, key, depth+1)
		if err != nil || !removed {
			return node, removed, err
		}
		out.Count--
		if newChild.Bitmap == 0 {
			out.Bitmap = clearBit(out.Bitmap, chunk)
			out.Children = removeChild(out.Children, idx)
			return out, true, nil
		}
		newHash, err := h.save(ctx, newChild)
		if err != nil {
			return nil, false, err
		}
		ref, err := nodeChildRef(newHash)
		if err != nil {
			return nil, false, err
		}
		out.Children[idx] = ref
		return out, true, nil
	default:
		return nil, false, fmt.Errorf("hamt: delete %q: %w: child type %q", key, ErrCorruptNode, child.Type)
	}
}

// Entries walks every entry in the trie rooted at root, depth-first in
// ascending bit-position order, calling fn once per entry. Sibling
// internal nodes are prefetched concurrently to hide blob-store latency;
// fn is still called in deterministic order.
func (h *Handle) Entries(ctx context.Context, root cidutil.Hash, fn func(codec.LeafEntry) error) error {
	node, err := h.load(ctx, root)
	if err != nil {
		return err
	}
	return h.walkAll(ctx, node, fn)
}

func (h *Handle) walkAll(ctx context.Context, node *codec.HAMTNode, fn func(codec.LeafEntry) error) error {
	children := make([]*codec.HAMTNode, len(node.Children))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range node.Children {
		if c.Type != codec.ChildNode {
			continue
		}
		i, c := i, c
		g.Go(func() error {
			hash, err := childCIDHash(&c)
			if err != nil {
				return err
			}
			n, err := h.load(gctx, hash)
			if err != nil {
				return err
			}
			children[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, c := range node.Children {
		switch c.Type {
		case codec.ChildLeaf:
			for _, e := range c.Entries {
				if err := fn(e); err != nil {
					return err
				}
			}
		case codec.ChildNode:
			if err := h.walkAll(ctx, children[i], fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func cloneNode(n *codec.HAMTNode) *codec.HAMTNode {
	out := &codec.HAMTNode{Bitmap: n.Bitmap, Count: n.Count, Depth: n.Depth}
	out.Children = make([]codec.ChildRef, len(n.Children))
	copy(out.Children, n.Children)
	return out
}

func insertChild(children []codec.ChildRef, idx int, c codec.ChildRef) []codec.ChildRef {
	out := make([]codec.ChildRef, len(children)+1)
	copy(out, children[:idx])
	out[idx] = c
	copy(out[idx+1:], children[idx:])
	return out
}

func removeChild(children []codec.ChildRef, idx int) []codec.ChildRef {
	out := make([]codec.ChildRef, len(children)-1)
	copy(out, children[:idx])
	copy(out[idx:], children[idx+1:])
	return out
}

func upsertLeafEntry(entries []codec.LeafEntry, entry codec.LeafEntry) ([]codec.LeafEntry, bool) {
	for i, e := range entries {
		if e.Key == entry.Key {
			out := make([]codec.LeafEntry, len(entries))
			copy(out, entries)
			out[i] = entry
			return out, true
		}
	}
	out := make([]codec.LeafEntry, len(entries)+1)
	copy(out, entries)
	out[len(entries)] = entry
	sortLeafEntries(out)
	return out, false
}

func removeLeafEntry(entries []codec.LeafEntry, key string) ([]codec.LeafEntry, bool) {
	for i, e := range entries {
		if e.Key == key {
			out := make([]codec.LeafEntry, len(entries)-1)
			copy(out, entries[:i])
			copy(out[i:], entries[i+1:])
			return out, true
		}
	}
	return entries, false
}

func sortLeafEntries(entries []codec.LeafEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}
