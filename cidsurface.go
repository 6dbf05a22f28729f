// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package s5fs

import (
	"context"
	"fmt"

	"github.com/s5fs/s5fs/cidutil"
)

// rootCID is the third reserved top-level segment: an internal namespace
// PutByCID uses to make a path-less blob addressable through the ordinary
// directory machinery, without polluting a user's home or archive tree.
const rootCID = ".cid"

func (fs *Filesystem) recordVisiblePath(hash cidutil.Hash, path string) {
	fs.reverseMu.Lock()
	defer fs.reverseMu.Unlock()
	fs.visiblePaths[cidutil.Text(hash)] = path
}

func (fs *Filesystem) recordVirtualPath(hash cidutil.Hash, path string) {
	fs.reverseMu.Lock()
	defer fs.reverseMu.Unlock()
	fs.virtualPaths[cidutil.Text(hash)] = path
}

// PathToCID returns the content hash addressing path: a file's stored
// bytes (the encryption envelope, if encrypted), or a directory's current
// serialized form.
func (fs *Filesystem) PathToCID(ctx context.Context, path string) (cidutil.Hash, error) {
	parts, err := splitPath(path)
	if err != nil {
		return cidutil.Hash{}, err
	}
	if len(parts) == 0 {
		return cidutil.Hash{}, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if len(parts) == 1 {
		dir, _, err := fs.resolveDirPath(ctx, parts)
		if err != nil {
			return cidutil.Hash{}, err
		}
		return fs.pinDirectory(ctx, dir)
	}

	dirParts, name := parts[:len(parts)-1], parts[len(parts)-1]
	dir, _, err := fs.resolveDirPath(ctx, dirParts)
	if err != nil {
		return cidutil.Hash{}, err
	}
	h := fs.handleFor(dir)
	file, subdir, err := dir.Lookup(ctx, h, name)
	if err != nil {
		return cidutil.Hash{}, err
	}
	switch {
	case file != nil:
		return cidutil.Untag(file.Hash)
	case subdir != nil:
		childDir, _, err := fs.followDirLink(ctx, subdir.Link)
		if err != nil {
			return cidutil.Hash{}, err
		}
		return fs.pinDirectory(ctx, childDir)
	default:
		return cidutil.Hash{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
}

// CIDToPath returns a path known to address hash, preferring a
// user-visible path (recorded by Put/PutWithCID) over the internal .cid/
// virtual path PutByCID uses. It reports (false) if this process has never
// observed hash.
func (fs *Filesystem) CIDToPath(hash cidutil.Hash) (string, bool) {
	fs.reverseMu.Lock()
	defer fs.reverseMu.Unlock()
	key := cidutil.Text(hash)
	if path, ok := fs.visiblePaths[key]; ok {
		return path, true
	}
	path, ok := fs.virtualPaths[key]
	return path, ok
}

// PutByCID stores data without binding it to a user path, returning its
// content hash as the handle. The blob is additionally linked under the
// reserved .cid/ virtual prefix so it is reachable through List and
// GetMetadata like any other file.
func (fs *Filesystem) PutByCID(ctx context.Context, data []byte) (cidutil.Hash, error) {
	hash := cidutil.Sum(data)
	virtualPath := joinPath([]string{rootCID, cidutil.Text(hash)})
	if _, err := fs.putFile(ctx, virtualPath, data, WithoutEncryption()); err != nil {
		return cidutil.Hash{}, err
	}
	fs.recordVirtualPath(hash, virtualPath)
	return hash, nil
}

// GetByCID returns the raw bytes stored under hash (the encryption
// envelope, if the content was encrypted when stored), failing with
// ErrNotFound if the blob store has never seen hash.
func (fs *Filesystem) GetByCID(ctx context.Context, hash cidutil.Hash) ([]byte, error) {
	data, err := fs.blobs.DownloadBlob(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return data, nil
}

// PutWithCID is Put plus the resulting content hash, avoiding a second
// PathToCID round trip for callers that need both.
func (fs *Filesystem) PutWithCID(ctx context.Context, path string, content []byte, opts ...PutOption) (cidutil.Hash, error) {
	ref, err := fs.putFile(ctx, path, content, opts...)
	if err != nil {
		return cidutil.Hash{}, err
	}
	return cidutil.Untag(ref.Hash)
}

// GetMetadataWithCID is GetMetadata plus PathToCID, in one call.
func (fs *Filesystem) GetMetadataWithCID(ctx context.Context, path string) (Metadata, cidutil.Hash, error) {
	meta, err := fs.GetMetadata(ctx, path)
	if err != nil {
		return Metadata{}, cidutil.Hash{}, err
	}
	hash, err := fs.PathToCID(ctx, path)
	if err != nil {
		return Metadata{}, cidutil.Hash{}, err
	}
	return meta, hash, nil
}
