// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package dirv1 implements the directory type: an inline name-to-entry map
// that transparently transitions to a HAMT-backed representation once it
// grows past a configurable threshold. Callers never see the transition -
// Lookup, UpsertFile, UpsertDir, Remove, and Iter work the same way on
// either representation.
package dirv1

import (
	"context"
	"fmt"
	"sort"

	"github.com/s5fs/s5fs/cidutil"
	"github.com/s5fs/s5fs/codec"
	"github.com/s5fs/s5fs/hamt"
)

// DefaultShardThreshold is the entry count above which a directory
// transitions from inline to HAMT-backed. The transition is one-way:
// deleting entries back below the threshold does not un-shard.
const DefaultShardThreshold = 1000

// Key prefixes disambiguate files from directories within the single flat
// HAMT keyspace, since a file and a directory may share the same name.
const (
	filePrefix = "f:"
	dirPrefix  = "d:"
)

// Dir is an in-memory directory, either inline or HAMT-backed.
type Dir struct {
	header    map[string][]byte
	files     map[string]codec.FileRef
	dirs      map[string]codec.DirRef
	sharding  *codec.ShardingDescriptor
	threshold int
}

// Option configures a new Dir.
type Option func(*Dir)

// WithShardThreshold overrides DefaultShardThreshold.
func WithShardThreshold(n int) Option {
	return func(d *Dir) {
		if n > 0 {
			d.threshold = n
		}
	}
}

// New returns an empty inline directory.
func New(opts ...Option) *Dir {
	d := &Dir{
		header:    map[string][]byte{},
		files:     map[string]codec.FileRef{},
		dirs:      map[string]codec.DirRef{},
		threshold: DefaultShardThreshold,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode parses a serialized DirV1 blob.
func Decode(data []byte, opts ...Option) (*Dir, error) {
	wire, err := codec.DecodeDirV1(data)
	if err != nil {
		return nil, err
	}
	d := &Dir{
		header:    wire.Header,
		files:     wire.Files,
		dirs:      wire.Dirs,
		threshold: DefaultShardThreshold,
	}
	if d.files == nil {
		d.files = map[string]codec.FileRef{}
	}
	if d.dirs == nil {
		d.dirs = map[string]codec.DirRef{}
	}
	if raw, ok := wire.Header[codec.HeaderShardingKey]; ok {
		sd, err := codec.DecodeShardingDescriptor(raw)
		if err != nil {
			return nil, err
		}
		d.sharding = sd
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Encode serializes the directory.
func (d *Dir) Encode() ([]byte, error) {
	wire := &codec.DirV1{
		Magic:  codec.MagicS5Pro,
		Header: d.header,
		Files:  d.files,
		Dirs:   d.dirs,
	}
	if d.sharding != nil {
		raw, err := codec.EncodeShardingDescriptor(d.sharding)
		if err != nil {
			return nil, err
		}
		wire.Header[codec.HeaderShardingKey] = raw
	}
	return codec.EncodeDirV1(wire)
}

// IsSharded reports whether the directory is HAMT-backed.
func (d *Dir) IsSharded() bool { return d.sharding != nil }

// ShardConfig returns the persisted HAMT configuration for an already
// sharded directory, so a caller can rebuild a matching hamt.Handle
// instead of assuming its own defaults still match.
func (d *Dir) ShardConfig() (codec.ShardConfig, bool) {
	if d.sharding == nil {
		return codec.ShardConfig{}, false
	}
	return d.sharding.Config, true
}

// ShardRootHash returns the current HAMT root hash for an already sharded
// directory, for callers that paginate its entries directly through the
// hamt package.
func (d *Dir) ShardRootHash() (cidutil.Hash, bool) {
	if d.sharding == nil {
		return cidutil.Hash{}, false
	}
	h, err := d.rootHash()
	if err != nil {
		return cidutil.Hash{}, false
	}
	return h, true
}

// InlineEntry is one (prefixed key, kind, file, dir) tuple from an inline
// directory's combined keyspace.
type InlineEntry struct {
	Name string
	Kind string
	File *codec.FileRef
	Dir  *codec.DirRef
}

// InlineEntries returns every entry of an inline (not yet sharded)
// directory, sorted by its combined "f:"/"d:" key, for deterministic,
// resumable pagination. It returns nil once the directory has sharded -
// callers should paginate through the HAMT instead.
func (d *Dir) InlineEntries() []InlineEntry {
	if d.sharding != nil {
		return nil
	}
	out := make([]InlineEntry, 0, len(d.files)+len(d.dirs))
	for name, f := range d.files {
		f := f
		out = append(out, InlineEntry{Name: name, Kind: codec.EntryKindFile, File: &f})
	}
	for name, r := range d.dirs {
		r := r
		out = append(out, InlineEntry{Name: name, Kind: codec.EntryKindDir, Dir: &r})
	}
	sort.Slice(out, func(i, j int) bool {
		ki, _ := prefixedKey(out[i].Kind, out[i].Name)
		kj, _ := prefixedKey(out[j].Kind, out[j].Name)
		return ki < kj
	})
	return out
}

// EntryCount returns the total number of files plus directories.
func (d *Dir) EntryCount() int {
	if d.sharding != nil {
		return int(d.sharding.Root.TotalEntries)
	}
	return len(d.files) + len(d.dirs)
}

// Lookup returns the file or directory stored under name, or (nil, nil,
// nil) if neither exists. At most one of file/dir is non-nil unless the
// directory holds both a file and a subdirectory of the same name.
func (d *Dir) Lookup(ctx context.Context, h *hamt.Handle, name string) (file *codec.FileRef, dir *codec.DirRef, err error) {
	if d.sharding == nil {
		if f, ok := d.files[name]; ok {
			file = &f
		}
		if r, ok := d.dirs[name]; ok {
			dir = &r
		}
		return file, dir, nil
	}
	root, err := d.rootHash()
	if err != nil {
		return nil, nil, err
	}
	if e, ok, err := h.Get(ctx, root, filePrefix+name); err != nil {
		return nil, nil, err
	} else if ok {
		file = e.File
	}
	if e, ok, err := h.Get(ctx, root, dirPrefix+name); err != nil {
		return nil, nil, err
	} else if ok {
		dir = e.Dir
	}
	return file, dir, nil
}

// UpsertFile stores f under name, replacing any existing file of the same
// name, and triggers the inline-to-HAMT transition if this insert pushes
// the directory past its shard threshold.
func (d *Dir) UpsertFile(ctx context.Context, h *hamt.Handle, name string, f codec.FileRef) error {
	if d.sharding == nil {
		_, existed := d.files[name]
		d.files[name] = f
		if !existed {
			return d.maybeShard(ctx, h)
		}
		return nil
	}
	return d.shardedUpsert(ctx, h, filePrefix+name, codec.LeafEntry{Kind: codec.EntryKindFile, File: &f})
}

// UpsertDir stores r under name, replacing any existing subdirectory of
// the same name.
func (d *Dir) UpsertDir(ctx context.Context, h *hamt.Handle, name string, r codec.DirRef) error {
	if d.sharding == nil {
		_, existed := d.dirs[name]
		d.dirs[name] = r
		if !existed {
			return d.maybeShard(ctx, h)
		}
		return nil
	}
	return d.shardedUpsert(ctx, h, dirPrefix+name, codec.LeafEntry{Kind: codec.EntryKindDir, Dir: &r})
}

func (d *Dir) shardedUpsert(ctx context.Context, h *hamt.Handle, key string, entry codec.LeafEntry) error {
	root, err := d.rootHash()
	if err != nil {
		return err
	}
	_, existed, err := h.Get(ctx, root, key)
	if err != nil {
		return err
	}
	entry.Key = key
	newRoot, err := h.Insert(ctx, root, key, entry)
	if err != nil {
		return err
	}
	if !existed {
		d.sharding.Root.TotalEntries++
	}
	return d.setRootHash(newRoot)
}

// Remove deletes the file or directory of the given kind stored under
// name, reporting whether anything was removed. A directory never
// un-shards once it has transitioned.
func (d *Dir) Remove(ctx context.Context, h *hamt.Handle, name string, kind string) (bool, error) {
	if d.sharding == nil {
		switch kind {
		case codec.EntryKindFile:
			if _, ok := d.files[name]; !ok {
				return false, nil
			}
			delete(d.files, name)
			return true, nil
		case codec.EntryKindDir:
			if _, ok := d.dirs[name]; !ok {
				return false, nil
			}
			delete(d.dirs, name)
			return true, nil
		default:
			return false, fmt.Errorf("dirv1: remove: unknown kind %q", kind)
		}
	}
	key, err := prefixedKey(kind, name)
	if err != nil {
		return false, err
	}
	root, err := d.rootHash()
	if err != nil {
		return false, err
	}
	newRoot, removed, err := h.Delete(ctx, root, key)
	if err != nil || !removed {
		return removed, err
	}
	d.sharding.Root.TotalEntries--
	return true, d.setRootHash(newRoot)
}

// Iter calls fn once per entry, files and directories both, in
// deterministic order. It stops and returns fn's error if fn returns one.
func (d *Dir) Iter(ctx context.Context, h *hamt.Handle, fn func(name, kind string, file *codec.FileRef, dir *codec.DirRef) error) error {
	if d.sharding == nil {
		for _, e := range d.InlineEntries() {
			if err := fn(e.Name, e.Kind, e.File, e.Dir); err != nil {
				return err
			}
		}
		return nil
	}
	root, err := d.rootHash()
	if err != nil {
		return err
	}
	return h.Entries(ctx, root, func(e codec.LeafEntry) error {
		name, kind, err := splitPrefixedKey(e.Key)
		if err != nil {
			return err
		}
		return fn(name, kind, e.File, e.Dir)
	})
}

// maybeShard converts an inline directory to HAMT-backed once it exceeds
// its configured threshold.
func (d *Dir) maybeShard(ctx context.Context, h *hamt.Handle) error {
	if len(d.files)+len(d.dirs) <= d.threshold {
		return nil
	}
	root, err := h.NewEmptyRoot(ctx)
	if err != nil {
		return fmt.Errorf("dirv1: shard: %w", err)
	}
	for name, f := range d.files {
		f := f
		root, err = h.Insert(ctx, root, filePrefix+name, codec.LeafEntry{Kind: codec.EntryKindFile, File: &f})
		if err != nil {
			return fmt.Errorf("dirv1: shard: %w", err)
		}
	}
	for name, r := range d.dirs {
		r := r
		root, err = h.Insert(ctx, root, dirPrefix+name, codec.LeafEntry{Kind: codec.EntryKindDir, Dir: &r})
		if err != nil {
			return fmt.Errorf("dirv1: shard: %w", err)
		}
	}
	tagged, err := cidutil.Tag(root)
	if err != nil {
		return err
	}
	d.sharding = &codec.ShardingDescriptor{
		Type: codec.ShardingHAMT,
		Config: codec.ShardConfig{
			BitsPerLevel:     hamt.BitsPerLevel,
			MaxInlineEntries: uint32(d.threshold),
			HashFunction:     h.HashFunction(),
		},
		Root: codec.ShardRoot{
			CID:          tagged,
			TotalEntries: uint64(len(d.files) + len(d.dirs)),
		},
	}
	d.files = map[string]codec.FileRef{}
	d.dirs = map[string]codec.DirRef{}
	return nil
}

func (d *Dir) rootHash() (cidutil.Hash, error) {
	return cidutil.Untag(d.sharding.Root.CID)
}

func (d *Dir) setRootHash(h cidutil.Hash) error {
	tagged, err := cidutil.Tag(h)
	if err != nil {
		return err
	}
	d.sharding.Root.CID = tagged
	return nil
}

func prefixedKey(kind, name string) (string, error) {
	switch kind {
	case codec.EntryKindFile:
		return filePrefix + name, nil
	case codec.EntryKindDir:
		return dirPrefix + name, nil
	default:
		return "", fmt.Errorf("dirv1: unknown entry kind %q", kind)
	}
}

// SplitKey splits a HAMT key from a sharded directory's keyspace back into
// its name and entry kind, for callers paginating the HAMT directly
// (the facade's List).
func SplitKey(key string) (name, kind string, err error) {
	return splitPrefixedKey(key)
}

func splitPrefixedKey(key string) (name, kind string, err error) {
	switch {
	case len(key) > len(filePrefix) && key[:len(filePrefix)] == filePrefix:
		return key[len(filePrefix):], codec.EntryKindFile, nil
	case len(key) > len(dirPrefix) && key[:len(dirPrefix)] == dirPrefix:
		return key[len(dirPrefix):], codec.EntryKindDir, nil
	default:
		return "", "", fmt.Errorf("dirv1: malformed HAMT key %q", key)
	}
}
