// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package cidutil provides the content-identifier primitives shared by the
// codec, hamt, and facade packages: BLAKE3 digesting, the 1-byte on-disk
// multihash tag for blob references, and the base64url text form used as
// HAMT node cache keys and advanced-surface CIDs.
package cidutil

import (
	"fmt"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
	"github.com/zeebo/blake3"
)

// BlobCode is the multicodec code for a BLAKE3-256 digest. On-disk blob
// references carry this 1-byte tag; all in-memory APIs operate on the bare
// 32-byte hash instead.
const BlobCode = 0x1e

// Hash is a bare 32-byte BLAKE3-256 digest, the in-memory form used
// throughout this module.
type Hash [32]byte

// IsZero reports whether h is the zero hash (used as a sentinel for "no
// prior revision" in the directory transaction and "no parent" in diffing).
func (h Hash) IsZero() bool { return h == Hash{} }

// Sum returns the BLAKE3-256 digest of data.
func Sum(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// NewDigester returns a streaming BLAKE3 hasher for large inputs, used by
// the encryption envelope and local snapshot capture to avoid buffering
// whole files before hashing.
func NewDigester() *blake3.Hasher {
	return blake3.New()
}

// Tag wraps a bare hash with its multihash algorithm tag for on-disk
// storage (blob references, registry entry payloads).
func Tag(h Hash) ([]byte, error) {
	mh, err := multihash.Encode(h[:], BlobCode)
	if err != nil {
		return nil, fmt.Errorf("cidutil: tag hash: %w", err)
	}
	return mh, nil
}

// Untag extracts the bare 32-byte hash from a tagged on-disk blob
// reference, rejecting anything not tagged as BLAKE3-256.
func Untag(tagged []byte) (Hash, error) {
	dec, err := multihash.Decode(tagged)
	if err != nil {
		return Hash{}, fmt.Errorf("cidutil: untag hash: %w", err)
	}
	if dec.Code != BlobCode {
		return Hash{}, fmt.Errorf("cidutil: unexpected multihash code %#x", dec.Code)
	}
	if len(dec.Digest) != 32 {
		return Hash{}, fmt.Errorf("cidutil: unexpected digest length %d", len(dec.Digest))
	}
	var h Hash
	copy(h[:], dec.Digest)
	return h, nil
}

// Text returns the base64url (multibase 'u') text form of a hash, used as
// the HAMT node cache key and as the advanced CID-surface string form.
func Text(h Hash) string {
	s, err := multibase.Encode(multibase.Base64url, h[:])
	if err != nil {
		panic(fmt.Sprintf("cidutil: encode multibase of fixed-size hash: %v", err))
	}
	return s
}

// ParseText parses the base64url text form produced by Text back into a hash.
func ParseText(s string) (Hash, error) {
	_, data, err := multibase.Decode(s)
	if err != nil {
		return Hash{}, fmt.Errorf("cidutil: decode multibase: %w", err)
	}
	if len(data) != 32 {
		return Hash{}, fmt.Errorf("cidutil: unexpected digest length %d", len(data))
	}
	var h Hash
	copy(h[:], data)
	return h, nil
}
