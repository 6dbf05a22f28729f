// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package localsnap

import (
	"context"
	"sync"
)

// Tracker maintains the most recent Capture of a directory so repeated
// polling of a slowly-changing tree can cheaply tell whether anything
// changed, and what, without the caller threading that state through
// itself.
type Tracker struct {
	root string
	opts []Option

	mu   sync.RWMutex
	last *Snapshot
}

// NewTracker creates a tracker for root, re-captured with opts every time
// Snapshot is called.
func NewTracker(root string, opts ...Option) *Tracker {
	return &Tracker{root: root, opts: opts}
}

// Snapshot captures root and reports whether the result differs from the
// previously tracked snapshot (always true on the first call).
func (t *Tracker) Snapshot() (*Snapshot, bool, error) {
	snap, err := Capture(t.root, t.opts...)
	if err != nil {
		return nil, false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	changed := t.last == nil || t.last.RootHash != snap.RootHash
	t.last = snap
	return snap, changed, nil
}

// LastSnapshot returns the most recently tracked snapshot, or nil if
// Snapshot has never been called.
func (t *Tracker) LastSnapshot() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// SnapshotIfChanged captures root but returns (nil, false, nil) if the
// result's root hash matches the previously tracked snapshot.
func (t *Tracker) SnapshotIfChanged() (*Snapshot, bool, error) {
	snap, changed, err := t.Snapshot()
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return nil, false, nil
	}
	return snap, true, nil
}

// DiffFromLast diffs current against whatever Tracker last captured
// before current was taken (current is not itself recorded as "last" -
// call Snapshot for that).
func (t *Tracker) DiffFromLast(ctx context.Context, current *Snapshot) (*Diff, error) {
	t.mu.RLock()
	last := t.last
	t.mu.RUnlock()
	return current.Diff(ctx, last)
}
