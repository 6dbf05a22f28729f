// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package hamt

import (
	"context"

	"github.com/s5fs/s5fs/cidutil"
	"github.com/s5fs/s5fs/codec"
)

// Cursor resumes a paginated Entries walk. Path is the child-array index
// chosen at each internal level from the root down to (and including) the
// leaf holding the last entry emitted; LeafConsumed is how many of that
// leaf's sorted entries were already emitted. A Cursor is only meaningful
// against the root hash it was produced from - resuming against a
// different root after a concurrent mutation is best-effort.
type Cursor struct {
	Path         []int
	LeafConsumed int
}

// PathForKey returns the Cursor positioned at key, suitable as a resume
// point for EntriesFrom (which emits starting after this position). It
// returns (nil, false, nil) if key is absent.
func (h *Handle) PathForKey(ctx context.Context, root cidutil.Hash, key string) (*Cursor, bool, error) {
	node, err := h.load(ctx, root)
	if err != nil {
		return nil, false, err
	}
	digest := digestFor(h.hashFunction, key)
	return h.pathFrom(ctx, node, digest, key, 0, nil)
}

func (h *Handle) pathFrom(ctx context.Context, node *codec.HAMTNode, digest []byte, key string, depth int, path []int) (*Cursor, bool, error) {
	chunk, ok := chunkAt(digest, depth)
	if !ok {
		chunk = 0
	}
	if !hasBit(node.Bitmap, chunk) {
		return nil, false, nil
	}
	idx := childIndex(node.Bitmap, chunk)
	curPath := append(append([]int{}, path...), idx)
	child := node.Children[idx]
	switch child.Type {
	case codec.ChildLeaf:
		for i, e := range child.Entries {
			if e.Key == key {
				// LeafConsumed is the index of the next entry EntriesFrom
				// should emit, matching walker.nextCursor's own convention -
				// i+1 so the matched entry itself is not re-emitted.
				return &Cursor{Path: curPath, LeafConsumed: i + 1}, true, nil
			}
		}
		return nil, false, nil
	case codec.ChildNode:
		hash, err := childCIDHash(&child)
		if err != nil {
			return nil, false, err
		}
		childNode, err := h.load(ctx, hash)
		if err != nil {
			return nil, false, err
		}
		return h.pathFrom(ctx, childNode, digest, key, depth+1, curPath)
	default:
		return nil, false, ErrCorruptNode
	}
}

// EntriesFrom resumes a depth-first walk after cursor (nil starts from the
// beginning), calling fn for up to limit entries. fn receives each entry
// together with the Cursor that resumes immediately after it, so a caller
// that hands out a resume token per emitted item (not just for the page as
// a whole) doesn't need a separate PathForKey lookup per item. EntriesFrom
// returns the cursor to resume after the whole page, or done=true once the
// trie is exhausted. limit <= 0 is treated as unbounded.
func (h *Handle) EntriesFrom(ctx context.Context, root cidutil.Hash, cursor *Cursor, limit int, fn func(codec.LeafEntry, Cursor) error) (*Cursor, bool, error) {
	node, err := h.load(ctx, root)
	if err != nil {
		return nil, false, err
	}
	w := &walker{h: h, ctx: ctx, limit: limit, fn: fn}
	if cursor != nil {
		w.resumePath = append([]int{}, cursor.Path...)
		w.resumeLeafSkip = cursor.LeafConsumed
	}
	stopped, err := w.walk(node, nil)
	if err != nil {
		return nil, false, err
	}
	if stopped {
		return w.nextCursor, false, nil
	}
	return nil, true, nil
}

type walker struct {
	h              *Handle
	ctx            context.Context
	limit          int
	emitted        int
	fn             func(codec.LeafEntry, Cursor) error
	resumePath     []int
	resumeLeafSkip int
	nextCursor     *Cursor
}

func (w *walker) budgetExceeded() bool {
	return w.limit > 0 && w.emitted >= w.limit
}

// walk visits node's subtree in order, honoring any pending resume path.
// It returns true if the walk stopped early because the emit budget was
// exhausted (w.nextCursor is then set).
func (w *walker) walk(node *codec.HAMTNode, path []int) (bool, error) {
	for i, child := range node.Children {
		if len(w.resumePath) > 0 {
			want := w.resumePath[0]
			if i < want {
				continue
			}
			if i > want {
				w.resumePath = nil
			}
		}
		curPath := append(append([]int{}, path...), i)

		switch child.Type {
		case codec.ChildLeaf:
			startIdx := 0
			matchedHere := len(w.resumePath) == 1
			if matchedHere {
				startIdx = w.resumeLeafSkip
			}
			if len(w.resumePath) > 0 {
				w.resumePath = nil
			}
			for j := startIdx; j < len(child.Entries); j++ {
				if w.budgetExceeded() {
					w.nextCursor = &Cursor{Path: curPath, LeafConsumed: j}
					return true, nil
				}
				after := Cursor{Path: curPath, LeafConsumed: j + 1}
				if err := w.fn(child.Entries[j], after); err != nil {
					return true, err
				}
				w.emitted++
			}
		case codec.ChildNode:
			var childResume []int
			if len(w.resumePath) > 1 {
				childResume = w.resumePath[1:]
			}
			w.resumePath = childResume
			hash, err := childCIDHash(&child)
			if err != nil {
				return true, err
			}
			childNode, err := w.h.load(w.ctx, hash)
			if err != nil {
				return true, err
			}
			stop, err := w.walk(childNode, curPath)
			if err != nil || stop {
				return stop, err
			}
			w.resumePath = nil
		default:
			return true, ErrCorruptNode
		}
	}
	return false, nil
}
