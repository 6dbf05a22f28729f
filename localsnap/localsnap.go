// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package localsnap captures a real OS directory tree into content-
// addressed dirv1.Dir/codec.FileRef values and uploads the result to a
// BlobStore, mirroring the teacher's fstree.Capture/Snapshot.Upload pair
// but producing the same DirV1 shape the rest of this module persists,
// instead of a separate flat tree format.
//
// A captured directory is linked into its parent by a fixed content hash
// (codec.LinkFixedHashBlake3), not a mutable registry entry - a local
// capture is a one-shot immutable snapshot, with no writer key of its
// own. The facade already understands this link type (it's the other half
// of DirRef's two-variant sum type), so a capture's root hash can be
// grafted into a user's home/archive tree with an ordinary UpsertDir.
package localsnap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/s5fs/s5fs/cidutil"
	"github.com/s5fs/s5fs/codec"
	"github.com/s5fs/s5fs/dirv1"
	"github.com/s5fs/s5fs/hamt"
)

// Common errors.
var (
	ErrTooManyFiles = errors.New("localsnap: too many files")
	ErrFileTooLarge = errors.New("localsnap: file too large")
	ErrCyclicLink   = errors.New("localsnap: cyclic symbolic link detected")
)

// mediaTypeSymlink marks a captured symlink's FileRef: its content is the
// link target path, not file data. There is no third entry kind in this
// module's directory format, so a symlink is stored as a file tagged this
// way rather than as its own codec.EntryKind variant.
const mediaTypeSymlink = "inode/symlink"

// Stats summarizes one Capture call.
type Stats struct {
	FileCount    int
	DirCount     int
	SymlinkCount int
	TotalBytes   uint64
	Duration     time.Duration
}

// Snapshot is a captured local directory tree: content-addressed,
// immutable, and not yet uploaded anywhere.
type Snapshot struct {
	RootHash cidutil.Hash
	root     *dirv1.Dir
	blobs    *memBlobs
	Stats    Stats
}

// memBlobs accumulates every directory and file blob produced during
// Capture, in memory, until Upload pushes them to a real BlobStore. It
// also serves as the hamt.Store backing any directory that shards during
// capture.
type memBlobs struct {
	data map[cidutil.Hash][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{data: map[cidutil.Hash][]byte{}} }

func (m *memBlobs) GetNode(ctx context.Context, h cidutil.Hash) ([]byte, error) {
	data, ok := m.data[h]
	if !ok {
		return nil, fmt.Errorf("localsnap: node not found: %s", cidutil.Text(h))
	}
	return data, nil
}

func (m *memBlobs) PutNode(ctx context.Context, data []byte) (cidutil.Hash, error) {
	h := cidutil.Sum(data)
	m.data[h] = data
	return h, nil
}

// Option configures a Capture call.
type Option func(*options)

type options struct {
	excludePatterns []string
	excludeFn       func(path string, isDir bool) bool
	followSymlinks  bool
	maxFileSize     int64
	maxFiles        int
	shardThreshold  int
}

func defaultOptions() *options {
	return &options{
		followSymlinks: false,
		maxFileSize:    100 * 1024 * 1024,
		maxFiles:       100000,
		shardThreshold: dirv1.DefaultShardThreshold,
	}
}

// WithExclude adds glob patterns for paths to exclude, matched against
// both the full relative path and the base name.
func WithExclude(patterns ...string) Option {
	return func(o *options) { o.excludePatterns = append(o.excludePatterns, patterns...) }
}

// WithExcludeFunc sets a custom exclusion predicate, called for every
// file and directory. Returning true excludes the path.
func WithExcludeFunc(fn func(path string, isDir bool) bool) Option {
	return func(o *options) { o.excludeFn = fn }
}

// WithFollowSymlinks dereferences symlinks instead of capturing their
// target path as a pseudo-file. Circular symlinks are detected and
// reported as ErrCyclicLink.
func WithFollowSymlinks() Option {
	return func(o *options) { o.followSymlinks = true }
}

// WithMaxFileSize skips files larger than bytes. Default 100MB.
func WithMaxFileSize(bytes int64) Option {
	return func(o *options) { o.maxFileSize = bytes }
}

// WithMaxFiles bounds the number of files a single Capture will include.
// Default 100,000.
func WithMaxFiles(n int) Option {
	return func(o *options) { o.maxFiles = n }
}

// WithShardThreshold overrides dirv1.DefaultShardThreshold for every
// directory captured, mirroring s5fs.WithShardThreshold.
func WithShardThreshold(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shardThreshold = n
		}
	}
}

func (o *options) shouldExclude(relPath string, isDir bool) bool {
	if o.excludeFn != nil && o.excludeFn(relPath, isDir) {
		return true
	}
	for _, pattern := range o.excludePatterns {
		if matched, _ := filepath.Match(pattern, relPath); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, filepath.Base(relPath)); matched {
			return true
		}
		if isDir && len(pattern) > 3 && pattern[len(pattern)-3:] == "/**" {
			prefix := pattern[:len(pattern)-3]
			if matched, _ := filepath.Match(prefix, relPath); matched {
				return true
			}
		}
	}
	return false
}

// capturer accumulates state across one Capture call.
type capturer struct {
	opts    *options
	blobs   *memBlobs
	visited map[string]bool // EvalSymlinks-resolved paths, for cycle detection

	fileCount    int
	dirCount     int
	symlinkCount int
	totalBytes   uint64
}

// Capture walks the local directory tree at root and returns its
// content-addressed Snapshot. Unchanged subtrees across repeated captures
// of a slowly-changing tree hash identically, the same deduplication
// fstree.Capture gives CXDB turns.
func Capture(root string, opts ...Option) (*Snapshot, error) {
	start := time.Now()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("localsnap: resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("localsnap: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("localsnap: root is not a directory: %s", absRoot)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	c := &capturer{
		opts:    o,
		blobs:   newMemBlobs(),
		visited: map[string]bool{},
	}

	ctx := context.Background()
	dir, hash, err := c.buildDir(ctx, absRoot, "")
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		RootHash: hash,
		root:     dir,
		blobs:    c.blobs,
		Stats: Stats{
			FileCount:    c.fileCount,
			DirCount:     c.dirCount,
			SymlinkCount: c.symlinkCount,
			TotalBytes:   c.totalBytes,
			Duration:     time.Since(start),
		},
	}, nil
}

func (c *capturer) handle() *hamt.Handle {
	return hamt.New(c.blobs, hamt.WithHashFunction(hamt.HashFunctionMurmur3))
}

// buildDir recursively builds and encodes the dirv1.Dir for absPath,
// returning it and the content hash of its encoded form.
func (c *capturer) buildDir(ctx context.Context, absPath, relPath string) (*dirv1.Dir, cidutil.Hash, error) {
	realPath, err := filepath.EvalSymlinks(absPath)
	if err == nil {
		if c.visited[realPath] {
			return nil, cidutil.Hash{}, ErrCyclicLink
		}
		c.visited[realPath] = true
		defer delete(c.visited, realPath)
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		return nil, cidutil.Hash{}, fmt.Errorf("localsnap: read dir %s: %w", relPath, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	dir := dirv1.New(dirv1.WithShardThreshold(c.opts.shardThreshold))
	h := c.handle()

	for _, de := range entries {
		name := de.Name()
		childRel := filepath.Join(relPath, name)
		childAbs := filepath.Join(absPath, name)

		if c.opts.shouldExclude(childRel, de.IsDir()) {
			continue
		}

		var info os.FileInfo
		if c.opts.followSymlinks {
			info, err = os.Stat(childAbs)
		} else {
			info, err = os.Lstat(childAbs)
		}
		if err != nil {
			continue
		}

		if err := c.addEntry(ctx, dir, h, childAbs, childRel, name, info); err != nil {
			if errors.Is(err, ErrTooManyFiles) || errors.Is(err, ErrCyclicLink) {
				return nil, cidutil.Hash{}, err
			}
			continue
		}
	}

	data, err := dir.Encode()
	if err != nil {
		return nil, cidutil.Hash{}, fmt.Errorf("localsnap: encode dir %s: %w", relPath, err)
	}
	hash := cidutil.Sum(data)
	c.blobs.data[hash] = data
	c.dirCount++

	return dir, hash, nil
}

func (c *capturer) addEntry(ctx context.Context, dir *dirv1.Dir, h *hamt.Handle, absPath, relPath, name string, info os.FileInfo) error {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(absPath)
		if err != nil {
			return fmt.Errorf("localsnap: readlink %s: %w", relPath, err)
		}
		hash := cidutil.Sum([]byte(target))
		tagged, err := cidutil.Tag(hash)
		if err != nil {
			return err
		}
		c.blobs.data[hash] = []byte(target)
		c.symlinkCount++
		return dir.UpsertFile(ctx, h, name, codec.FileRef{
			Hash:      tagged,
			Size:      uint64(len(target)),
			MediaType: mediaTypeSymlink,
		})

	case info.IsDir():
		_, childHash, err := c.buildDir(ctx, absPath, relPath)
		if err != nil {
			return err
		}
		tagged, err := cidutil.Tag(childHash)
		if err != nil {
			return err
		}
		return dir.UpsertDir(ctx, h, name, codec.DirRef{
			Link: codec.DirLink{Type: codec.LinkFixedHashBlake3, Hash: tagged},
		})

	default:
		if c.fileCount >= c.opts.maxFiles {
			return ErrTooManyFiles
		}
		size := info.Size()
		if size > c.opts.maxFileSize {
			return fmt.Errorf("%w: %s (%d bytes)", ErrFileTooLarge, relPath, size)
		}
		content, err := os.ReadFile(absPath)
		if err != nil {
			return fmt.Errorf("localsnap: read file %s: %w", relPath, err)
		}
		hash := cidutil.Sum(content)
		tagged, err := cidutil.Tag(hash)
		if err != nil {
			return err
		}
		c.blobs.data[hash] = content
		c.fileCount++
		c.totalBytes += uint64(size)
		return dir.UpsertFile(ctx, h, name, codec.FileRef{Hash: tagged, Size: uint64(size)})
	}
}

