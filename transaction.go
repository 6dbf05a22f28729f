// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package s5fs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/s5fs/s5fs/cidutil"
	"github.com/s5fs/s5fs/codec"
	"github.com/s5fs/s5fs/dirv1"
	"github.com/s5fs/s5fs/hamt"
)

// dirPointer is the small, append-mostly payload signed into a registry
// entry: the tagged blob hash of the directory's current serialized form.
type dirPointer struct {
	Hash []byte `msgpack:"hash"`
}

// blobHAMTStore adapts a BlobStore to the hamt.Store interface, so HAMT
// nodes live in the same content-addressed store as everything else.
type blobHAMTStore struct {
	blobs BlobStore
}

func (s blobHAMTStore) GetNode(ctx context.Context, h cidutil.Hash) ([]byte, error) {
	return s.blobs.DownloadBlob(ctx, h)
}

func (s blobHAMTStore) PutNode(ctx context.Context, data []byte) (cidutil.Hash, error) {
	return s.blobs.UploadBlob(ctx, data)
}

// registryLookupDir resolves key's current registry entry into a Dir,
// reporting whether an entry exists at all under key.
func (fs *Filesystem) registryLookupDir(ctx context.Context, key WriterKey) (dir *dirv1.Dir, revision uint64, exists bool, err error) {
	entry, ok, err := fs.registry.RegistryGet(ctx, key.PublicKey())
	if err != nil {
		return nil, 0, false, fmt.Errorf("s5fs: load directory: %w", err)
	}
	if !ok {
		return nil, 0, false, nil
	}
	if !VerifyRegistryEntry(entry) {
		return nil, 0, false, fmt.Errorf("s5fs: load directory: %w", ErrInvalidSignature)
	}
	var ptr dirPointer
	if err := decodeMsgpackInto(entry.Data, &ptr); err != nil {
		return nil, 0, false, &DecodeError{TypeName: "dirPointer", Err: err}
	}
	hash, err := cidutil.Untag(ptr.Hash)
	if err != nil {
		return nil, 0, false, fmt.Errorf("s5fs: load directory: %w", err)
	}
	data, err := fs.blobs.DownloadBlob(ctx, hash)
	if err != nil {
		return nil, 0, false, fmt.Errorf("s5fs: load directory: %w: %v", ErrBlobUnavailable, err)
	}
	dir, err = dirv1.Decode(data, dirv1.WithShardThreshold(fs.shardThreshold))
	if err != nil {
		return nil, 0, false, err
	}
	return dir, entry.Revision, true, nil
}

// loadDirectory resolves key's current registry entry into a Dir, or an
// empty Dir if no entry has ever been published under key. It returns the
// entry's current revision (0 if absent) for the caller's publish step.
func (fs *Filesystem) loadDirectory(ctx context.Context, key WriterKey) (*dirv1.Dir, uint64, error) {
	dir, revision, exists, err := fs.registryLookupDir(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	if !exists {
		return dirv1.New(dirv1.WithShardThreshold(fs.shardThreshold)), 0, nil
	}
	return dir, revision, nil
}

// handleFor builds the hamt.Handle matching dir's persisted sharding
// configuration (with this Filesystem's leaf size), falling back to this
// Filesystem's defaults for an inline (not yet sharded) directory.
func (fs *Filesystem) handleFor(dir *dirv1.Dir) *hamt.Handle {
	store := blobHAMTStore{fs.blobs}
	if cfg, ok := dir.ShardConfig(); ok {
		return hamt.New(store, append(shardConfigOptions(cfg), hamt.WithLeafMaxEntries(fs.leafMaxEntries))...)
	}
	return hamt.New(store, hamt.WithHashFunction(fs.hashFunction), hamt.WithLeafMaxEntries(fs.leafMaxEntries))
}

// withDirectory runs a load-mutate-publish transaction against key's
// registry entry, retrying on optimistic-concurrency conflicts with
// exponential backoff. mutate is called with a freshly loaded directory on
// every attempt, since a conflicting writer may have changed it.
func (fs *Filesystem) withDirectory(ctx context.Context, key WriterKey, mutate func(d *dirv1.Dir, h *hamt.Handle) error) error {
	txID := uuid.NewString()

	delay := fs.retryDelay
	var lastErr error
	for attempt := 1; attempt <= fs.maxRetries; attempt++ {
		if attempt > 1 {
			slog.Info("[s5fs] directory transaction retry",
				"tx", txID, "attempt", attempt, "max_attempts", fs.maxRetries, "delay", delay)
			select {
			case <-ctx.Done():
				return fmt.Errorf("s5fs: directory transaction cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
			delay = min(delay*2, fs.maxRetryDelay)
		}

		dir, revision, err := fs.loadDirectory(ctx, key)
		if err != nil {
			return err
		}
		h := fs.handleFor(dir)
		if err := mutate(dir, h); err != nil {
			return err
		}
		data, err := dir.Encode()
		if err != nil {
			return err
		}
		newHash, err := fs.blobs.UploadBlob(ctx, data)
		if err != nil {
			return fmt.Errorf("s5fs: publish directory: %w", err)
		}
		tagged, err := cidutil.Tag(newHash)
		if err != nil {
			return err
		}
		payload, err := encodeMsgpack(dirPointer{Hash: tagged})
		if err != nil {
			return err
		}
		entry := SignRegistryEntry(key, revision+1, payload)

		err = fs.registry.RegistrySet(ctx, entry)
		if err == nil {
			slog.Info("[s5fs] directory transaction committed",
				"tx", txID, "attempt", attempt, "revision", entry.Revision)
			return nil
		}
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			return fmt.Errorf("s5fs: publish directory: %w", err)
		}
		lastErr = err
		slog.Warn("[s5fs] directory transaction conflict",
			"tx", txID, "attempt", attempt, "current_revision", conflict.CurrentRevision)
	}
	return fmt.Errorf("%w: %v", ErrConflictRetryExhausted, lastErr)
}

// shardConfigOptions builds the hamt.Handle options matching a previously
// sharded directory's persisted configuration, so HAMT operations chunk
// keys exactly the way they did when the directory was sharded.
func shardConfigOptions(cfg codec.ShardConfig) []hamt.Option {
	return []hamt.Option{
		hamt.WithHashFunction(cfg.HashFunction),
	}
}
