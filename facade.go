// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package s5fs

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	"github.com/s5fs/s5fs/cidutil"
	"github.com/s5fs/s5fs/codec"
	"github.com/s5fs/s5fs/crypt"
	"github.com/s5fs/s5fs/dirv1"
	"github.com/s5fs/s5fs/hamt"
)

// Reserved top-level path segments: every path must start with one of
// these. Each is its own independently keyed tree hanging off the root
// identity, not a subdirectory of a single shared root.
const (
	RootHome    = "home"
	RootArchive = "archive"
)

// EntryKind distinguishes a file from a directory in a Metadata or List
// result.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDirectory
)

// Metadata describes the entry addressed by a path, without fetching file
// content.
type Metadata struct {
	Kind       EntryKind
	Size       uint64
	MediaType  string
	Timestamp  uint64
	Meta       []byte
	Encrypted  bool
	EntryCount int // directories only; 0 for files
}

func noopMutate(*dirv1.Dir, *hamt.Handle) error { return nil }

// rootKeyForSegment maps a reserved top-level path segment to the
// WriterKey owning that tree. rootCID (".cid") is reserved internally by
// PutByCID and is not a user-facing root name, but resolves the same way.
func (fs *Filesystem) rootKeyForSegment(name string) (WriterKey, error) {
	switch name {
	case RootHome, RootArchive, rootCID:
		return fs.rootKey.DeriveChild(name), nil
	default:
		return WriterKey{}, fmt.Errorf("%w: path must start with %q or %q, got %q", ErrInvalidPath, RootHome, RootArchive, name)
	}
}

// resolveDirPath walks parts (which must begin with a reserved root
// segment) down to the directory it names, deriving each level's WriterKey
// directly from the one above it. A missing intermediate directory is
// reported as ErrNotFound.
func (fs *Filesystem) resolveDirPath(ctx context.Context, parts []string) (*dirv1.Dir, WriterKey, error) {
	if len(parts) == 0 {
		return nil, WriterKey{}, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	key, err := fs.rootKeyForSegment(parts[0])
	if err != nil {
		return nil, WriterKey{}, err
	}
	dir, _, exists, err := fs.registryLookupDir(ctx, key)
	if err != nil {
		return nil, WriterKey{}, err
	}
	if !exists {
		if len(parts) == 1 {
			return dirv1.New(dirv1.WithShardThreshold(fs.shardThreshold)), key, nil
		}
		return nil, WriterKey{}, fmt.Errorf("%w: %s", ErrNotFound, joinPath(parts[:1]))
	}
	for i := 1; i < len(parts); i++ {
		key = key.DeriveChild(parts[i])
		var childExists bool
		dir, _, childExists, err = fs.registryLookupDir(ctx, key)
		if err != nil {
			return nil, WriterKey{}, err
		}
		if !childExists {
			return nil, WriterKey{}, fmt.Errorf("%w: %s", ErrNotFound, joinPath(parts[:i+1]))
		}
	}
	return dir, key, nil
}

// ensureDirPath walks parts (which must begin with a reserved root
// segment) down to the directory it names, creating and linking in any
// ancestor that does not yet exist. It returns the WriterKey owning the
// final directory in the path.
func (fs *Filesystem) ensureDirPath(ctx context.Context, parts []string) (WriterKey, error) {
	if len(parts) == 0 {
		return WriterKey{}, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	key, err := fs.rootKeyForSegment(parts[0])
	if err != nil {
		return WriterKey{}, err
	}
	if _, _, exists, err := fs.registryLookupDir(ctx, key); err != nil {
		return WriterKey{}, err
	} else if !exists {
		if err := fs.withDirectory(ctx, key, noopMutate); err != nil {
			return WriterKey{}, err
		}
	}

	for i := 1; i < len(parts); i++ {
		parentKey, name := key, parts[i]
		key = key.DeriveChild(name)

		_, _, exists, err := fs.registryLookupDir(ctx, key)
		if err != nil {
			return WriterKey{}, err
		}
		if exists {
			continue
		}
		if err := fs.withDirectory(ctx, key, noopMutate); err != nil {
			return WriterKey{}, err
		}

		childKey := key
		err = fs.withDirectory(ctx, parentKey, func(d *dirv1.Dir, h *hamt.Handle) error {
			pk := childKey.PublicKey()
			return d.UpsertDir(ctx, h, name, codec.DirRef{
				Link: codec.DirLink{Type: codec.LinkMutableRegistryEd25519, PK: pk[:]},
			})
		})
		if err != nil {
			return WriterKey{}, err
		}
	}
	return key, nil
}

// storeFileContent uploads content (encrypting it first if requested) and
// returns the FileRef describing it.
func (fs *Filesystem) storeFileContent(ctx context.Context, content []byte, cfg putConfig) (codec.FileRef, error) {
	ref := codec.FileRef{
		Size:      uint64(len(content)),
		MediaType: cfg.mediaType,
		Meta:      cfg.meta,
	}

	if !cfg.encrypt {
		hash, err := fs.blobs.UploadBlob(ctx, content)
		if err != nil {
			return codec.FileRef{}, fmt.Errorf("s5fs: put: %w", err)
		}
		tagged, err := cidutil.Tag(hash)
		if err != nil {
			return codec.FileRef{}, err
		}
		ref.Hash = tagged
		return ref, nil
	}

	key, err := crypt.NewKey()
	if err != nil {
		return codec.FileRef{}, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	salt, err := crypt.NewSalt()
	if err != nil {
		return codec.FileRef{}, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	var ciphertext bytes.Buffer
	plainSize, err := crypt.Encrypt(&ciphertext, bytes.NewReader(content), key, salt, fs.chunkSize)
	if err != nil {
		return codec.FileRef{}, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	hash, err := fs.blobs.UploadBlob(ctx, ciphertext.Bytes())
	if err != nil {
		return codec.FileRef{}, fmt.Errorf("s5fs: put: %w", err)
	}
	tagged, err := cidutil.Tag(hash)
	if err != nil {
		return codec.FileRef{}, err
	}
	ref.Hash = tagged
	ref.Size = uint64(ciphertext.Len())
	ref.Enc = &codec.EncryptionDescriptor{
		Algorithm: codec.AlgorithmXChaCha20Poly1305,
		ChunkSize: fs.chunkSize,
		Key:       key,
		Salt:      salt,
		PlainSize: plainSize,
	}
	return ref, nil
}

// Put stores content at path, creating any missing ancestor directory.
// path must start with a reserved root segment (RootHome or RootArchive).
func (fs *Filesystem) Put(ctx context.Context, path string, content []byte, opts ...PutOption) error {
	_, err := fs.putFile(ctx, path, content, opts...)
	return err
}

// putFile is Put's implementation, returning the stored FileRef so
// PutWithCID can report the resulting content hash without a second pass.
func (fs *Filesystem) putFile(ctx context.Context, path string, content []byte, opts ...PutOption) (codec.FileRef, error) {
	parts, err := splitPath(path)
	if err != nil {
		return codec.FileRef{}, err
	}
	if len(parts) < 2 {
		return codec.FileRef{}, fmt.Errorf("%w: cannot put a file at a reserved root", ErrInvalidPath)
	}
	cfg := fs.newPutConfig(opts)

	dirParts, name := parts[:len(parts)-1], parts[len(parts)-1]
	parentKey, err := fs.ensureDirPath(ctx, dirParts)
	if err != nil {
		return codec.FileRef{}, err
	}

	ref, err := fs.storeFileContent(ctx, content, cfg)
	if err != nil {
		return codec.FileRef{}, err
	}

	if err := fs.withDirectory(ctx, parentKey, func(d *dirv1.Dir, h *hamt.Handle) error {
		return d.UpsertFile(ctx, h, name, ref)
	}); err != nil {
		return codec.FileRef{}, err
	}

	if len(parts) > 0 && parts[0] != rootCID {
		if hash, err := cidutil.Untag(ref.Hash); err == nil {
			fs.recordVisiblePath(hash, path)
		}
	}
	return ref, nil
}

// PutValue canonically encodes value via the codec package and stores it,
// tagging the file's mediaType as codec.MediaTypeCBOR unless the caller
// already supplied one via WithMediaType.
func (fs *Filesystem) PutValue(ctx context.Context, path string, value any, opts ...PutOption) error {
	data, err := codec.EncodeValue(value)
	if err != nil {
		return err
	}
	cfg := fs.newPutConfig(opts)
	if cfg.mediaType == "" {
		opts = append(opts, WithMediaType(codec.MediaTypeCBOR))
	}
	return fs.Put(ctx, path, data, opts...)
}

// Get returns the decrypted content at path. It returns (nil, nil) for a
// path whose parent directory exists but holds no file of that name, and
// ErrNotFound if an ancestor directory does not exist.
func (fs *Filesystem) Get(ctx context.Context, path string) ([]byte, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: cannot get a reserved root as a file", ErrInvalidPath)
	}
	dirParts, name := parts[:len(parts)-1], parts[len(parts)-1]

	dir, _, err := fs.resolveDirPath(ctx, dirParts)
	if err != nil {
		return nil, err
	}
	h := fs.handleFor(dir)
	file, _, err := dir.Lookup(ctx, h, name)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, nil
	}
	return fs.readFile(ctx, file)
}

// GetValue fetches the value at path and decodes it into out with
// codec.DecodeValue. It does not check the stored file's media type.
func (fs *Filesystem) GetValue(ctx context.Context, path string, out any) error {
	data, err := fs.Get(ctx, path)
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return codec.DecodeValue(data, out)
}

// readFile downloads and, if needed, decrypts a FileRef's content.
func (fs *Filesystem) readFile(ctx context.Context, file *codec.FileRef) ([]byte, error) {
	hash, err := cidutil.Untag(file.Hash)
	if err != nil {
		return nil, err
	}
	raw, err := fs.blobs.DownloadBlob(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("s5fs: get: %w: %v", ErrBlobUnavailable, err)
	}
	if file.Enc == nil {
		return raw, nil
	}
	var plain bytes.Buffer
	if err := crypt.Decrypt(&plain, bytes.NewReader(raw), file.Enc.Key, file.Enc.Salt, file.Enc.ChunkSize); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plain.Bytes(), nil
}

// ListEntry is one item yielded by List.
type ListEntry struct {
	Name   string
	Kind   EntryKind
	Size   uint64
	Cursor string // resume token for the position after this item
}

// ListOptions bounds and resumes a List call.
type ListOptions struct {
	Limit  int    // 0 means unbounded
	Cursor string // "" starts from the beginning
}

// listCursor is the opaque token's decoded shape: a pinned hash of the
// directory's own serialized form (so pagination is stable even if the
// live directory mutates between calls) plus a resume position in either
// representation.
type listCursor struct {
	PinnedHash   []byte `msgpack:"pin"`
	Sharded      bool   `msgpack:"sharded"`
	HAMTPath     []int  `msgpack:"path,omitempty"`
	LeafConsumed int    `msgpack:"leaf,omitempty"`
	InlineIndex  int    `msgpack:"inline,omitempty"`
}

func encodeListCursor(c listCursor) (string, error) {
	data, err := encodeMsgpack(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeListCursor(s string) (*listCursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	var c listCursor
	if err := decodeMsgpackInto(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns up to opts.Limit direct children of the directory at path,
// starting after opts.Cursor (from the beginning if empty). The directory
// is pinned to its content hash as of the first call in a paginated
// sequence, so resuming never re-observes a concurrent mutation as a torn
// page.
func (fs *Filesystem) List(ctx context.Context, path string, opts ListOptions) ([]ListEntry, error) {
	var dir *dirv1.Dir
	var cur *listCursor

	if opts.Cursor != "" {
		decoded, err := decodeListCursor(opts.Cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed cursor", ErrInvalidPath)
		}
		cur = decoded
		hash, err := cidutil.Untag(cur.PinnedHash)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed cursor", ErrInvalidPath)
		}
		data, err := fs.blobs.DownloadBlob(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("s5fs: list: %w: %v", ErrBlobUnavailable, err)
		}
		dir, err = dirv1.Decode(data, dirv1.WithShardThreshold(fs.shardThreshold))
		if err != nil {
			return nil, err
		}
	} else {
		parts, err := splitPath(path)
		if err != nil {
			return nil, err
		}
		dir, _, err = fs.resolveDirPath(ctx, parts)
		if err != nil {
			return nil, err
		}
	}

	pinned, err := fs.pinDirectory(ctx, dir)
	if err != nil {
		return nil, err
	}
	taggedPin, err := cidutil.Tag(pinned)
	if err != nil {
		return nil, err
	}

	if !dir.IsSharded() {
		return fs.listInline(dir, taggedPin, cur, opts.Limit)
	}
	return fs.listSharded(ctx, dir, taggedPin, cur, opts.Limit)
}

// pinDirectory uploads dir's current encoded form (a no-op if already
// stored, since the store is content-addressed) and returns its hash, so a
// List cursor can resolve back to this exact snapshot later.
func (fs *Filesystem) pinDirectory(ctx context.Context, dir *dirv1.Dir) (cidutil.Hash, error) {
	data, err := dir.Encode()
	if err != nil {
		return cidutil.Hash{}, err
	}
	return fs.blobs.UploadBlob(ctx, data)
}

func (fs *Filesystem) listInline(dir *dirv1.Dir, pin []byte, cur *listCursor, limit int) ([]ListEntry, error) {
	all := dir.InlineEntries()
	start := 0
	if cur != nil {
		start = cur.InlineIndex
	}
	var out []ListEntry
	for i := start; i < len(all); i++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		e := all[i]
		cursorStr, err := encodeListCursor(listCursor{PinnedHash: pin, InlineIndex: i + 1})
		if err != nil {
			return nil, err
		}
		size := uint64(0)
		kind := KindDirectory
		if e.Kind == codec.EntryKindFile {
			kind = KindFile
			size = e.File.Size
		}
		out = append(out, ListEntry{Name: e.Name, Kind: kind, Size: size, Cursor: cursorStr})
	}
	return out, nil
}

func (fs *Filesystem) listSharded(ctx context.Context, dir *dirv1.Dir, pin []byte, cur *listCursor, limit int) ([]ListEntry, error) {
	root, ok := dir.ShardRootHash()
	if !ok {
		return nil, nil
	}
	h := fs.handleFor(dir)

	var resume *hamt.Cursor
	if cur != nil && cur.Sharded {
		resume = &hamt.Cursor{Path: cur.HAMTPath, LeafConsumed: cur.LeafConsumed}
	}

	var out []ListEntry
	_, _, err := h.EntriesFrom(ctx, root, resume, limit, func(e codec.LeafEntry, after hamt.Cursor) error {
		name, kind, err := dirv1.SplitKey(e.Key)
		if err != nil {
			return err
		}
		cursorStr, err := encodeListCursor(listCursor{
			PinnedHash:   pin,
			Sharded:      true,
			HAMTPath:     after.Path,
			LeafConsumed: after.LeafConsumed,
		})
		if err != nil {
			return err
		}
		size := uint64(0)
		k := KindDirectory
		if kind == codec.EntryKindFile {
			k = KindFile
			size = e.File.Size
		}
		out = append(out, ListEntry{Name: name, Kind: k, Size: size, Cursor: cursorStr})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the file or directory entry at path from its parent,
// reporting whether anything was removed. Deleting a directory entry does
// not recursively delete its contents' blobs or registry entries - content
// addressing means nothing is destroyed, only unlinked.
func (fs *Filesystem) Delete(ctx context.Context, path string) (bool, error) {
	parts, err := splitPath(path)
	if err != nil {
		return false, err
	}
	if len(parts) < 2 {
		return false, fmt.Errorf("%w: cannot delete a reserved root", ErrInvalidPath)
	}
	dirParts, name := parts[:len(parts)-1], parts[len(parts)-1]

	_, parentKey, err := fs.resolveDirPath(ctx, dirParts)
	if err != nil {
		return false, err
	}

	var removed bool
	err = fs.withDirectory(ctx, parentKey, func(d *dirv1.Dir, h *hamt.Handle) error {
		fileRemoved, err := d.Remove(ctx, h, name, codec.EntryKindFile)
		if err != nil {
			return err
		}
		dirRemoved, err := d.Remove(ctx, h, name, codec.EntryKindDir)
		if err != nil {
			return err
		}
		removed = fileRemoved || dirRemoved
		return nil
	})
	return removed, err
}

// GetMetadata returns the Metadata for the entry at path without fetching
// file content.
func (fs *Filesystem) GetMetadata(ctx context.Context, path string) (Metadata, error) {
	parts, err := splitPath(path)
	if err != nil {
		return Metadata{}, err
	}
	if len(parts) == 1 {
		dir, _, err := fs.resolveDirPath(ctx, parts)
		if err != nil {
			return Metadata{}, err
		}
		return Metadata{Kind: KindDirectory, EntryCount: dir.EntryCount()}, nil
	}
	if len(parts) == 0 {
		return Metadata{}, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	dirParts, name := parts[:len(parts)-1], parts[len(parts)-1]
	dir, _, err := fs.resolveDirPath(ctx, dirParts)
	if err != nil {
		return Metadata{}, err
	}
	h := fs.handleFor(dir)
	file, subdir, err := dir.Lookup(ctx, h, name)
	if err != nil {
		return Metadata{}, err
	}
	switch {
	case file != nil:
		return Metadata{
			Kind:      KindFile,
			Size:      file.Size,
			MediaType: file.MediaType,
			Timestamp: file.TS,
			Meta:      file.Meta,
			Encrypted: file.Enc != nil,
		}, nil
	case subdir != nil:
		childDir, _, err := fs.followDirLink(ctx, subdir.Link)
		if err != nil {
			return Metadata{}, err
		}
		return Metadata{Kind: KindDirectory, Timestamp: subdir.TS, EntryCount: childDir.EntryCount()}, nil
	default:
		return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
}

// CreateDirectory ensures a directory named name exists under parentPath,
// creating any missing ancestor along the way. It is not an error for the
// directory to already exist.
func (fs *Filesystem) CreateDirectory(ctx context.Context, parentPath, name string) error {
	parts, err := splitPath(parentPath)
	if err != nil {
		return err
	}
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: invalid directory name %q", ErrInvalidPath, name)
	}
	_, err = fs.ensureDirPath(ctx, append(append([]string{}, parts...), name))
	return err
}

// followDirLink resolves a DirLink to the directory it addresses, either
// by fetching a fixed blob hash directly or by reading a registry entry's
// current published revision.
func (fs *Filesystem) followDirLink(ctx context.Context, link codec.DirLink) (*dirv1.Dir, WriterKey, error) {
	switch link.Type {
	case codec.LinkFixedHashBlake3:
		hash, err := cidutil.Untag(link.Hash)
		if err != nil {
			return nil, WriterKey{}, err
		}
		data, err := fs.blobs.DownloadBlob(ctx, hash)
		if err != nil {
			return nil, WriterKey{}, fmt.Errorf("s5fs: follow dir link: %w: %v", ErrBlobUnavailable, err)
		}
		dir, err := dirv1.Decode(data, dirv1.WithShardThreshold(fs.shardThreshold))
		if err != nil {
			return nil, WriterKey{}, err
		}
		return dir, WriterKey{}, nil
	case codec.LinkMutableRegistryEd25519:
		var pk [32]byte
		copy(pk[:], link.PK)
		dir, err := fs.loadDirectoryByPublicKey(ctx, pk)
		if err != nil {
			return nil, WriterKey{}, err
		}
		return dir, WriterKey{}, nil
	default:
		return nil, WriterKey{}, fmt.Errorf("%w: dir link type %q", ErrUnsupportedVersion, link.Type)
	}
}

// loadDirectoryByPublicKey reads the directory currently published at
// publicKey without needing the WriterKey that owns it - used to follow a
// DirLink naming a directory this Filesystem does not itself derive the
// key for (e.g. one shared by another identity).
func (fs *Filesystem) loadDirectoryByPublicKey(ctx context.Context, publicKey [32]byte) (*dirv1.Dir, error) {
	dir, _, err := fs.loadDirectoryByPublicKeyWithRevision(ctx, publicKey)
	return dir, err
}

// loadDirectoryByPublicKeyWithRevision is loadDirectoryByPublicKey plus the
// registry entry's revision, which a recursive directory-graph walk needs
// to key its cycle guard (see walkDirLink in walk.go).
func (fs *Filesystem) loadDirectoryByPublicKeyWithRevision(ctx context.Context, publicKey [32]byte) (*dirv1.Dir, uint64, error) {
	entry, ok, err := fs.registry.RegistryGet(ctx, publicKey)
	if err != nil {
		return nil, 0, fmt.Errorf("s5fs: load directory: %w", err)
	}
	if !ok {
		return nil, 0, fmt.Errorf("%w: registry entry for linked directory", ErrNotFound)
	}
	if !VerifyRegistryEntry(entry) {
		return nil, 0, fmt.Errorf("s5fs: load directory: %w", ErrInvalidSignature)
	}
	var ptr dirPointer
	if err := decodeMsgpackInto(entry.Data, &ptr); err != nil {
		return nil, 0, &DecodeError{TypeName: "dirPointer", Err: err}
	}
	hash, err := cidutil.Untag(ptr.Hash)
	if err != nil {
		return nil, 0, err
	}
	data, err := fs.blobs.DownloadBlob(ctx, hash)
	if err != nil {
		return nil, 0, fmt.Errorf("s5fs: load directory: %w: %v", ErrBlobUnavailable, err)
	}
	dir, err := dirv1.Decode(data, dirv1.WithShardThreshold(fs.shardThreshold))
	if err != nil {
		return nil, 0, err
	}
	return dir, entry.Revision, nil
}
