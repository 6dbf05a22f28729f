// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package codec implements the deterministic binary encoding of every
// persisted shape in the filesystem: DirV1, HAMTNode, FileRef, and DirRef.
//
// The wire family is a CBOR subset (github.com/fxamacker/cbor/v2) in
// canonical mode: map keys are ordered by encoded length then bytewise
// lexicographic comparison, integers are minimally encoded, and byte/text
// strings carry explicit length prefixes. Encoding the same logical value
// twice always produces byte-identical output, which is what lets two
// directories with the same entries, or two HAMT nodes with the same
// subtree, share a content identifier.
package codec

// MagicS5Pro is the required first field of every DirV1. Decoders reject
// any other value with ErrBadMagic.
var MagicS5Pro = []byte("S5.pro")

// Link type tags for DirRef.Link.Type - a closed two-variant sum type.
const (
	LinkFixedHashBlake3       = "fixed_hash_blake3"
	LinkMutableRegistryEd25519 = "mutable_registry_ed25519"
)

// ChildRef type tags - a closed two-variant sum type.
const (
	ChildLeaf = "leaf"
	ChildNode = "node"
)

// EntryKind discriminates a HAMT leaf entry's value type, since a single
// leaf may hold both file and directory entries (disambiguated further by
// the "f:"/"d:" key prefix at the dirv1/hamt layer).
const (
	EntryKindFile = "file"
	EntryKindDir  = "dir"
)

// Sharding descriptor type tag - only "hamt" is defined today.
const ShardingHAMT = "hamt"

// EncryptionDescriptor is the closed, one-variant-today sum type attached
// to a FileRef when the file's bytes are stored as a chunked cipher
// envelope.
type EncryptionDescriptor struct {
	Algorithm string `cbor:"algo"`
	ChunkSize uint32 `cbor:"chunk_size"`
	Key       []byte `cbor:"key"`
	Salt      []byte `cbor:"salt"`
	PlainSize uint64 `cbor:"plain_size"`
}

// AlgorithmXChaCha20Poly1305 is the only encryption algorithm this codec
// understands; decoding any other value is a decode error.
const AlgorithmXChaCha20Poly1305 = "xchacha20-poly1305"

// FileRef is the on-disk shape of a file entry.
type FileRef struct {
	Hash      []byte                `cbor:"hash"`
	Size      uint64                `cbor:"size"`
	MediaType string                `cbor:"media_type,omitempty"`
	TS        uint64                `cbor:"ts,omitempty"`
	Enc       *EncryptionDescriptor `cbor:"enc,omitempty"`
	Meta      []byte                `cbor:"meta,omitempty"`
}

// DirLink is the tagged-variant link carried by a DirRef: either a fixed
// hash of a serialized DirV1 blob, or a registry public key whose current
// entry points at one.
type DirLink struct {
	Type string `cbor:"type"`
	Hash []byte `cbor:"hash,omitempty"`
	PK   []byte `cbor:"pk,omitempty"`
}

// DirRef is the on-disk shape of a directory entry.
type DirRef struct {
	Link DirLink `cbor:"link"`
	TS   uint64  `cbor:"ts,omitempty"`
}

// LeafEntry is one (key, value) pair stored in a HAMT leaf. Value is a
// closed two-variant sum (File or Dir), discriminated by Kind, encoded as
// a tagged variant rather than an open union.
type LeafEntry struct {
	Key  string   `cbor:"key"`
	Kind string   `cbor:"kind"`
	File *FileRef `cbor:"file,omitempty"`
	Dir  *DirRef  `cbor:"dir,omitempty"`
}

// ChildRef is one entry in a HAMTNode.Children array: either an inline leaf,
// or a reference to another serialized node by its blob hash.
type ChildRef struct {
	Type    string      `cbor:"type"`
	Entries []LeafEntry `cbor:"entries,omitempty"`
	CID     []byte      `cbor:"cid,omitempty"`
}

// HAMTNode is the on-disk shape of one node in the hash-array-mapped trie.
// The node format is closed: decoding rejects unknown top-level keys.
type HAMTNode struct {
	Bitmap   uint32     `cbor:"bitmap"`
	Children []ChildRef `cbor:"children"`
	Count    uint64     `cbor:"count"`
	Depth    uint8      `cbor:"depth"`
}

// ShardConfig is the HAMT configuration persisted in a DirV1's sharding
// descriptor.
type ShardConfig struct {
	BitsPerLevel     uint8  `cbor:"bitsPerLevel"`
	MaxInlineEntries uint32 `cbor:"maxInlineEntries"`
	HashFunction     uint8  `cbor:"hashFunction"`
}

// ShardRoot points at the current HAMT root node and carries enough
// summary state (total entries, depth) to answer getMetadata without
// walking the trie.
type ShardRoot struct {
	CID          []byte `cbor:"cid"`
	TotalEntries uint64 `cbor:"totalEntries"`
	Depth        uint8  `cbor:"depth"`
}

// ShardingDescriptor is stored under DirV1.Header["sharding"] once a
// directory has transitioned from inline to HAMT-backed.
type ShardingDescriptor struct {
	Type   string      `cbor:"type"`
	Config ShardConfig `cbor:"config"`
	Root   ShardRoot   `cbor:"root"`
}

// HeaderShardingKey is the DirV1.Header map key under which the sharding
// descriptor lives.
const HeaderShardingKey = "sharding"

// DirV1 is the on-disk shape of a directory. Header keys other than
// "sharding" are opaque to this package and preserved byte-for-byte across
// decode/encode for forward compatibility.
type DirV1 struct {
	Magic  []byte
	Header map[string][]byte // raw CBOR value bytes per header key, preserved verbatim
	Dirs   map[string]DirRef
	Files  map[string]FileRef
}
