// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package hamt

import (
	"encoding/binary"
	"math/bits"

	"github.com/s5fs/s5fs/cidutil"
	"github.com/spaolacci/murmur3"
	"github.com/zeebo/blake3"
)

// BitsPerLevel is the number of bits of the key digest consumed per trie
// level, giving each node a 32-way (2^5) fanout.
const BitsPerLevel = 5

// Fanout is the number of distinct bit positions a node's bitmap can hold.
const Fanout = 1 << BitsPerLevel

// MaxDepth bounds recursion against a pathological run of colliding key
// digests: once a subtree reaches this depth, all remaining entries are
// kept in one oversized leaf instead of splitting further.
const MaxDepth = 12

// Hash function identifiers, persisted in a directory's sharding
// descriptor so a reader knows how to re-derive bit chunks from a key.
const (
	// HashFunctionMurmur3 is the default: a fast, non-cryptographic 64-bit
	// hash, adequate since keys are adversary-controlled only within a
	// single owner's own directory.
	HashFunctionMurmur3 uint8 = 0

	// HashFunctionBlake3Prefix derives bit chunks from the same BLAKE3
	// digest already used for content addressing, trading some CPU for a
	// single hash primitive across the whole system.
	HashFunctionBlake3Prefix uint8 = 1
)

// digestFor returns the key's bit-chunk source material for the given hash
// function: an 8-byte little-endian encoding of a 64-bit hash value
// (enough for depths up to 12). The value is the murmur3 hash, or for
// BLAKE3 the big-endian 64-bit prefix of the 32-byte digest.
func digestFor(fn uint8, key string) []byte {
	switch fn {
	case HashFunctionBlake3Prefix:
		h := blake3.Sum256([]byte(key))
		v := binary.BigEndian.Uint64(h[:8])
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, v)
		return buf
	default:
		v := murmur3.Sum64([]byte(key))
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, v)
		return buf
	}
}

// chunkAt extracts the 5-bit chunk of digest at trie level depth. ok is
// false once digest's bits are exhausted, which only happens past MaxDepth
// and signals the pathological-collision leaf
// cap rather than a bug.
func chunkAt(digest []byte, depth int) (chunk uint32, ok bool) {
	bitOffset := depth * BitsPerLevel
	byteOffset := bitOffset / 8
	bitWithinByte := uint(bitOffset % 8)
	if byteOffset >= len(digest) {
		return 0, false
	}
	var bits16 uint16
	if byteOffset+1 < len(digest) {
		bits16 = uint16(digest[byteOffset]) | uint16(digest[byteOffset+1])<<8
	} else {
		bits16 = uint16(digest[byteOffset])
	}
	return uint32((bits16 >> bitWithinByte) & 0x1F), true
}

// hasBit reports whether bitmap has chunk set.
func hasBit(bitmap uint32, chunk uint32) bool {
	return bitmap&(1<<chunk) != 0
}

// setBit returns bitmap with chunk set.
func setBit(bitmap uint32, chunk uint32) uint32 {
	return bitmap | (1 << chunk)
}

// clearBit returns bitmap with chunk cleared.
func clearBit(bitmap uint32, chunk uint32) uint32 {
	return bitmap &^ (1 << chunk)
}

// childIndex returns the position of chunk's child within a Children
// slice ordered by ascending bit position, i.e. the popcount of every bit
// below chunk.
func childIndex(bitmap uint32, chunk uint32) int {
	return bits.OnesCount32(bitmap & ((1 << chunk) - 1))
}

// cidText is the LRU cache key for a loaded node: the base64url text form
// of its content hash.
func cidText(h cidutil.Hash) string {
	return cidutil.Text(h)
}
