// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package s5fs

import (
	"context"
	"fmt"

	"github.com/s5fs/s5fs/codec"
	"github.com/s5fs/s5fs/dirv1"
)

// maxWalkDepth bounds how many directory levels (through links of either
// type) WalkDir will descend before giving up and reporting
// ErrCycleDetected, matching the
// teacher's own symlink cycle guard.
const maxWalkDepth = 32

// cycleKey identifies one registry-addressed directory revision visited
// during a walk. Fixed-hash links need no such guard - a content-addressed
// DAG cannot cycle back to an ancestor by construction - but a
// mutable_registry_ed25519 link can point anywhere, including at a
// directory that (directly or transitively) links back to itself.
type cycleKey struct {
	PublicKey [32]byte
	Revision  uint64
}

// WalkEntry describes one file or directory visited by WalkDir. Path is
// the entry's full slash-separated path, beginning with the walk's
// starting path (e.g. "/home/docs/a.txt" for a walk of "home").
type WalkEntry struct {
	Path      string
	Kind      EntryKind
	Size      uint64
	MediaType string
}

// WalkDir recursively visits every file and directory reachable from path,
// calling fn for each in depth-first order. It follows DirRef links of
// either type, including directories shared in by another identity's
// mutable_registry_ed25519 link, guarding against a cycle in that graph
// with a bounded-depth visited set keyed by (publicKey, revision).
func (fs *Filesystem) WalkDir(ctx context.Context, path string, fn func(WalkEntry) error) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	dir, _, err := fs.resolveDirPath(ctx, parts)
	if err != nil {
		return err
	}
	return fs.walkDir(ctx, dir, joinPath(parts), map[cycleKey]bool{}, 0, fn)
}

func (fs *Filesystem) walkDir(ctx context.Context, dir *dirv1.Dir, prefix string, visited map[cycleKey]bool, depth int, fn func(WalkEntry) error) error {
	if depth > maxWalkDepth {
		return ErrCycleDetected
	}
	h := fs.handleFor(dir)
	return dir.Iter(ctx, h, func(name, kind string, file *codec.FileRef, ref *codec.DirRef) error {
		p := prefix + "/" + name
		switch kind {
		case codec.EntryKindFile:
			return fn(WalkEntry{Path: p, Kind: KindFile, Size: file.Size, MediaType: file.MediaType})
		case codec.EntryKindDir:
			if err := fn(WalkEntry{Path: p, Kind: KindDirectory}); err != nil {
				return err
			}
			child, key, err := fs.walkDirLink(ctx, ref.Link, visited)
			if err != nil {
				return err
			}
			if key != nil {
				defer delete(visited, *key)
			}
			return fs.walkDir(ctx, child, p, visited, depth+1, fn)
		default:
			return fmt.Errorf("s5fs: walk: unrecognized entry kind %q at %s", kind, p)
		}
	})
}

// walkDirLink resolves link the same way followDirLink does, but also
// enforces the cycle guard for mutable_registry_ed25519 links: a
// (publicKey, revision) pair already in visited means some ancestor on this
// walk's path already resolved to the exact same published directory, so
// descending further would recurse forever. It returns the key it added
// (nil for a fixed-hash link) so the caller can remove it once that
// subtree has been walked.
func (fs *Filesystem) walkDirLink(ctx context.Context, link codec.DirLink, visited map[cycleKey]bool) (*dirv1.Dir, *cycleKey, error) {
	if link.Type != codec.LinkMutableRegistryEd25519 {
		dir, _, err := fs.followDirLink(ctx, link)
		return dir, nil, err
	}
	var pk [32]byte
	copy(pk[:], link.PK)
	dir, revision, err := fs.loadDirectoryByPublicKeyWithRevision(ctx, pk)
	if err != nil {
		return nil, nil, err
	}
	key := cycleKey{PublicKey: pk, Revision: revision}
	if visited[key] {
		return nil, nil, ErrCycleDetected
	}
	visited[key] = true
	return dir, &key, nil
}
