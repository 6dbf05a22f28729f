// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package memstore provides in-memory BlobStore and Registry
// implementations for tests: a content-addressed map for blobs, and a
// signature-verifying, revision-checked map for registry entries.
package memstore

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/s5fs/s5fs"
	"github.com/s5fs/s5fs/cidutil"
)

// BlobStore is an in-memory, content-addressed blob store. Uploading the
// same bytes twice is a no-op beyond the redundant hash computation.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[cidutil.Hash][]byte
}

// NewBlobStore returns an empty in-memory BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[cidutil.Hash][]byte)}
}

func (s *BlobStore) UploadBlob(ctx context.Context, data []byte) (cidutil.Hash, error) {
	hash := cidutil.Sum(data)
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[hash] = cp
	return hash, nil
}

func (s *BlobStore) DownloadBlob(ctx context.Context, hash cidutil.Hash) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[hash]
	if !ok {
		return nil, fmt.Errorf("memstore: blob not found: %s", cidutil.Text(hash))
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Len reports how many distinct blobs have been uploaded.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Registry is an in-memory Registry enforcing the same rules a real
// registry server would: a write's signature must verify against its own
// claimed public key, and its revision must strictly exceed the currently
// stored one.
type Registry struct {
	mu      sync.RWMutex
	entries map[[32]byte]s5fs.RegistryEntry
}

// NewRegistry returns an empty in-memory Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[[32]byte]s5fs.RegistryEntry)}
}

func (r *Registry) RegistryGet(ctx context.Context, publicKey [32]byte) (s5fs.RegistryEntry, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[publicKey]
	return entry, ok, nil
}

func (r *Registry) RegistrySet(ctx context.Context, entry s5fs.RegistryEntry) error {
	if !s5fs.VerifyRegistryEntry(entry) {
		return fmt.Errorf("memstore: %w", s5fs.ErrInvalidSignature)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.entries[entry.PublicKey]
	if ok && entry.Revision <= current.Revision {
		return &s5fs.ConflictError{CurrentRevision: current.Revision}
	}
	r.entries[entry.PublicKey] = entry
	return nil
}

// Len reports how many distinct public keys have a published entry.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// NewRootSeed returns a fresh random ed25519 seed suitable for
// s5fs.NewWriterKey, for tests that don't care about a deterministic root.
func NewRootSeed() [32]byte {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic(fmt.Sprintf("memstore: rand.Read: %v", err))
	}
	return seed
}
