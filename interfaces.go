// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package s5fs

import (
	"context"

	"github.com/s5fs/s5fs/cidutil"
)

// BlobStore is the immutable content-addressed backing store: upload
// bytes, get back their BLAKE3 hash; download by hash. Uploading the same
// bytes twice is a no-op at the storage layer (idempotent by construction,
// since the hash is a pure function of the content).
type BlobStore interface {
	UploadBlob(ctx context.Context, data []byte) (cidutil.Hash, error)
	DownloadBlob(ctx context.Context, hash cidutil.Hash) ([]byte, error)
}

// RegistryEntry is one signed, revisioned record in the registry: the
// current value published under a public key, with the revision and
// signature that authenticate it.
type RegistryEntry struct {
	PublicKey [32]byte
	Revision  uint64
	Data      []byte
	Signature [64]byte
}

// Registry is the mutable, signed, revisioned key-value store that lets a
// directory be reachable by a stable public key instead of a hash that
// changes on every write.
//
// RegistrySet must reject a write whose revision is not strictly greater
// than the currently stored one, returning a *ConflictError carrying the
// current revision so the caller can reload, reapply its change, and
// retry.
type Registry interface {
	RegistryGet(ctx context.Context, publicKey [32]byte) (RegistryEntry, bool, error)
	RegistrySet(ctx context.Context, entry RegistryEntry) error
}

// Identity owns the root writer key and derives child keys for nested
// directories. Directory ownership is tree-shaped: a child directory's
// writer key is a deterministic, collision-resistant function of its
// parent's key and its own name, not a separately generated keypair.
type Identity interface {
	RootKey() [32]byte
	DeriveChildKey(parentKey [32]byte, name string) [32]byte
}
