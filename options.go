// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package s5fs

import (
	"sync"
	"time"

	"github.com/s5fs/s5fs/crypt"
	"github.com/s5fs/s5fs/dirv1"
	"github.com/s5fs/s5fs/hamt"
)

// Default reconnection-style retry settings for directory transactions,
// matching the backoff shape used elsewhere in this codebase's
// network-facing client.
const (
	DefaultMaxRetries    = 5
	DefaultRetryDelay    = 100 * time.Millisecond
	DefaultMaxRetryDelay = 30 * time.Second
)

// Filesystem is the top-level facade: put/get/list/delete/getMetadata and
// directory creation over a BlobStore, Registry, and a root WriterKey.
type Filesystem struct {
	blobs    BlobStore
	registry Registry
	rootKey  WriterKey

	shardThreshold int
	leafMaxEntries int
	hashFunction   uint8

	maxRetries    int
	retryDelay    time.Duration
	maxRetryDelay time.Duration

	encryptByDefault bool
	chunkSize        uint32

	// reverseMu guards the process-local, opportunistically maintained
	// hash -> path index backing CIDToPath. It is last-writer-wins per
	// visibility tier, and is not persisted.
	reverseMu      sync.Mutex
	visiblePaths   map[string]string
	virtualPaths   map[string]string
}

// Option configures a Filesystem.
type Option func(*Filesystem)

// WithShardThreshold overrides dirv1.DefaultShardThreshold for every
// directory this Filesystem creates.
func WithShardThreshold(n int) Option {
	return func(fs *Filesystem) { fs.shardThreshold = n }
}

// WithLeafMaxEntries overrides hamt.DefaultLeafMaxEntries.
func WithLeafMaxEntries(n int) Option {
	return func(fs *Filesystem) { fs.leafMaxEntries = n }
}

// WithHashFunction selects the HAMT key-chunking hash function
// (hamt.HashFunctionMurmur3 by default) for directories sharded from now on.
func WithHashFunction(fn uint8) Option {
	return func(fs *Filesystem) { fs.hashFunction = fn }
}

// WithMaxRetries overrides DefaultMaxRetries for directory transactions.
func WithMaxRetries(n int) Option {
	return func(fs *Filesystem) { fs.maxRetries = n }
}

// WithRetryDelay overrides DefaultRetryDelay.
func WithRetryDelay(d time.Duration) Option {
	return func(fs *Filesystem) { fs.retryDelay = d }
}

// WithMaxRetryDelay overrides DefaultMaxRetryDelay.
func WithMaxRetryDelay(d time.Duration) Option {
	return func(fs *Filesystem) { fs.maxRetryDelay = d }
}

// WithEncryptionByDefault makes Put encrypt file contents unless
// WithoutEncryption is passed to that specific call.
func WithEncryptionByDefault() Option {
	return func(fs *Filesystem) { fs.encryptByDefault = true }
}

// WithChunkSize overrides crypt.DefaultChunkSize for newly encrypted files.
func WithChunkSize(n uint32) Option {
	return func(fs *Filesystem) { fs.chunkSize = n }
}

// New builds a Filesystem rooted at rootKey.
func New(blobs BlobStore, registry Registry, rootKey WriterKey, opts ...Option) *Filesystem {
	fs := &Filesystem{
		blobs:          blobs,
		registry:       registry,
		rootKey:        rootKey,
		shardThreshold: dirv1.DefaultShardThreshold,
		leafMaxEntries: hamt.DefaultLeafMaxEntries,
		hashFunction:   hamt.HashFunctionMurmur3,
		maxRetries:     DefaultMaxRetries,
		retryDelay:     DefaultRetryDelay,
		maxRetryDelay:  DefaultMaxRetryDelay,
		chunkSize:      crypt.DefaultChunkSize,
		visiblePaths:   map[string]string{},
		virtualPaths:   map[string]string{},
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// putConfig holds the per-call settings a PutOption can override.
type putConfig struct {
	mediaType string
	encrypt   bool
	meta      []byte
}

// PutOption configures one Put call.
type PutOption func(*putConfig)

// WithMediaType records a MIME type alongside the stored file.
func WithMediaType(mediaType string) PutOption {
	return func(c *putConfig) { c.mediaType = mediaType }
}

// WithEncryption forces this Put to encrypt its content regardless of the
// Filesystem's default.
func WithEncryption() PutOption {
	return func(c *putConfig) { c.encrypt = true }
}

// WithoutEncryption forces this Put to store content in the clear
// regardless of the Filesystem's default.
func WithoutEncryption() PutOption {
	return func(c *putConfig) { c.encrypt = false }
}

// WithFileMeta attaches opaque caller-defined metadata bytes to the file.
func WithFileMeta(meta []byte) PutOption {
	return func(c *putConfig) { c.meta = meta }
}

func (fs *Filesystem) newPutConfig(opts []PutOption) putConfig {
	c := putConfig{encrypt: fs.encryptByDefault}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
