// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package s5fs

import (
	"errors"
	"fmt"
)

// Sentinel errors for the facade's error taxonomy. Collaborator errors
// (blob store, registry) are wrapped, not swallowed, so the cause chain
// survives errors.Is/errors.As.
var (
	// ErrInvalidPath is returned for syntactically invalid paths, before any I/O.
	ErrInvalidPath = errors.New("s5fs: invalid path")

	// ErrNotFound is returned by Get, GetMetadata, GetByCID for paths or
	// hashes that don't resolve. It is not returned by Get for a missing
	// file - Get returns (nil, nil) there - and CIDToPath reports an unknown
	// hash with ok=false instead of an error.
	ErrNotFound = errors.New("s5fs: not found")

	// ErrConflictRetryExhausted is returned when a directory transaction's
	// retry budget is consumed by repeated registry conflicts.
	ErrConflictRetryExhausted = errors.New("s5fs: conflict retry exhausted")

	// ErrDecryptionFailed is returned when an encrypted file's authentication
	// tag fails to verify.
	ErrDecryptionFailed = errors.New("s5fs: decryption failed")

	// ErrBlobUnavailable is returned when the blob store reports not_found
	// for a hash the core expected to exist.
	ErrBlobUnavailable = errors.New("s5fs: blob unavailable")

	// ErrUnsupportedVersion is returned when a DirRef's link type is not one
	// this package understands. A DirV1 whose magic does not match is
	// rejected with codec.ErrBadMagic, which is not translated to this error.
	ErrUnsupportedVersion = errors.New("s5fs: unsupported version")

	// ErrCycleDetected is returned when a directory-graph walk exceeds the
	// bounded depth guard against mutable_registry_ed25519 cycles.
	ErrCycleDetected = errors.New("s5fs: cycle detected")

	// ErrEncryptionFailed is returned when encrypting a file's bytes fails
	// (e.g. RNG failure generating a per-file key or salt).
	ErrEncryptionFailed = errors.New("s5fs: encryption failed")

	// ErrInvalidSignature is returned when a registry entry's signature
	// does not verify against its own claimed public key.
	ErrInvalidSignature = errors.New("s5fs: invalid registry signature")
)

// ConflictError wraps the registry's reported current revision when a
// registrySet call is rejected because a newer revision already exists.
// The directory transaction loop inspects this via errors.As to decide
// whether to retry.
type ConflictError struct {
	CurrentRevision uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("s5fs: registry conflict, current revision is %d", e.CurrentRevision)
}

// DecodeError wraps a codec failure with the type name being decoded, so
// callers can tell a malformed DirV1 from a malformed HAMTNode without
// parsing the message.
type DecodeError struct {
	TypeName string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("s5fs: decode %s: %v", e.TypeName, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
