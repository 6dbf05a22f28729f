// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package localsnap

import (
	"context"
	"fmt"

	"github.com/s5fs/s5fs/cidutil"
	"github.com/s5fs/s5fs/codec"
	"github.com/s5fs/s5fs/dirv1"
	"github.com/s5fs/s5fs/hamt"
)

// Entry is one (path, kind, hash) tuple yielded by Walk.
type Entry struct {
	Path string
	Kind string // codec.EntryKindFile or codec.EntryKindDir
	File *codec.FileRef
}

// Walk traverses the snapshot depth-first, calling fn for every file and
// directory with its path relative to the snapshot root.
func (s *Snapshot) Walk(ctx context.Context, fn func(Entry) error) error {
	return s.walkDir(ctx, s.root, "", fn)
}

func (s *Snapshot) handle() *hamt.Handle {
	return hamt.New(s.blobs, hamt.WithHashFunction(hamt.HashFunctionMurmur3))
}

func (s *Snapshot) walkDir(ctx context.Context, dir *dirv1.Dir, prefix string, fn func(Entry) error) error {
	h := s.handle()
	return dir.Iter(ctx, h, func(name, kind string, file *codec.FileRef, ref *codec.DirRef) error {
		path := name
		if prefix != "" {
			path = prefix + "/" + name
		}
		if err := fn(Entry{Path: path, Kind: kind, File: file}); err != nil {
			return err
		}
		if kind != codec.EntryKindDir {
			return nil
		}
		child, err := s.loadChild(*ref)
		if err != nil {
			return err
		}
		return s.walkDir(ctx, child, path, fn)
	})
}

// loadChild decodes the dirv1.Dir a DirRef points at. Every child produced
// by Capture is a fixed-hash link into this snapshot's own in-memory
// blobs, so this never needs a real BlobStore.
func (s *Snapshot) loadChild(ref codec.DirRef) (*dirv1.Dir, error) {
	if ref.Link.Type != codec.LinkFixedHashBlake3 {
		return nil, fmt.Errorf("localsnap: unexpected dir link type %q in a capture", ref.Link.Type)
	}
	hash, err := cidutil.Untag(ref.Link.Hash)
	if err != nil {
		return nil, err
	}
	data, ok := s.blobs.data[hash]
	if !ok {
		return nil, fmt.Errorf("localsnap: missing captured dir blob %s", cidutil.Text(hash))
	}
	return dirv1.Decode(data)
}

// ListFiles returns every file path in the snapshot.
func (s *Snapshot) ListFiles(ctx context.Context) ([]string, error) {
	var paths []string
	err := s.Walk(ctx, func(e Entry) error {
		if e.Kind == codec.EntryKindFile {
			paths = append(paths, e.Path)
		}
		return nil
	})
	return paths, err
}

// Diff compares s against old (which may be nil, meaning every file in s
// counts as added) and reports added/removed/modified file paths by
// content hash, mirroring the teacher's Snapshot.Diff.
type Diff struct {
	Added    []string
	Removed  []string
	Modified []string
	OldRoot  cidutil.Hash
	NewRoot  cidutil.Hash
}

// IsEmpty reports whether the diff contains no changes.
func (d *Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// TotalChanges returns the total number of changed paths.
func (d *Diff) TotalChanges() int {
	return len(d.Added) + len(d.Removed) + len(d.Modified)
}

// Diff computes the file-level differences between s and old.
func (s *Snapshot) Diff(ctx context.Context, old *Snapshot) (*Diff, error) {
	diff := &Diff{NewRoot: s.RootHash}
	if old != nil {
		diff.OldRoot = old.RootHash
	}
	if old != nil && s.RootHash == old.RootHash {
		return diff, nil
	}

	newPaths := map[string]cidutil.Hash{}
	if err := s.Walk(ctx, func(e Entry) error {
		if e.Kind == codec.EntryKindFile {
			hash, err := cidutil.Untag(e.File.Hash)
			if err != nil {
				return err
			}
			newPaths[e.Path] = hash
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("localsnap: walk new snapshot: %w", err)
	}

	if old == nil {
		for path := range newPaths {
			diff.Added = append(diff.Added, path)
		}
		return diff, nil
	}

	oldPaths := map[string]cidutil.Hash{}
	if err := old.Walk(ctx, func(e Entry) error {
		if e.Kind == codec.EntryKindFile {
			hash, err := cidutil.Untag(e.File.Hash)
			if err != nil {
				return err
			}
			oldPaths[e.Path] = hash
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("localsnap: walk old snapshot: %w", err)
	}

	for path, newHash := range newPaths {
		oldHash, exists := oldPaths[path]
		if !exists {
			diff.Added = append(diff.Added, path)
		} else if newHash != oldHash {
			diff.Modified = append(diff.Modified, path)
		}
	}
	for path := range oldPaths {
		if _, exists := newPaths[path]; !exists {
			diff.Removed = append(diff.Removed, path)
		}
	}
	return diff, nil
}
