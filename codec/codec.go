// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var encMode = mustEncMode()
var decModeStrict = mustDecMode(true)
var decModeLenient = mustDecMode(false)

func mustEncMode() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: build canonical encode mode: %v", err))
	}
	return em
}

func mustDecMode(strict bool) cbor.DecMode {
	opts := cbor.DecOptions{}
	if strict {
		opts.ExtraReturnErrors = cbor.ExtraDecErrorUnknownField
	}
	dm, err := opts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: build decode mode: %v", err))
	}
	return dm
}

// MediaTypeCBOR is the mediaType a FileRef carries when its bytes are a
// canonically encoded structured value rather than an opaque blob.
const MediaTypeCBOR = "application/cbor"

// EncodeValue canonically encodes an arbitrary structured value, for a put
// call storing a value instead of raw bytes.
func EncodeValue(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: encode value: %w", err)
	}
	return data, nil
}

// DecodeValue decodes data (as produced by EncodeValue) into out.
func DecodeValue(data []byte, out any) error {
	if err := decModeLenient.Unmarshal(data, out); err != nil {
		return fmt.Errorf("codec: decode value: %w", err)
	}
	return nil
}

// wireDirV1 is DirV1's CBOR shape. Header is kept as raw, already-encoded
// CBOR values so unrecognized keys pass through decode/encode unchanged.
type wireDirV1 struct {
	Magic  []byte                     `cbor:"magic"`
	Header map[string]cbor.RawMessage `cbor:"header"`
	Dirs   map[string]DirRef          `cbor:"dirs"`
	Files  map[string]FileRef         `cbor:"files"`
}

// EncodeDirV1 canonically encodes a directory.
func EncodeDirV1(d *DirV1) ([]byte, error) {
	w := wireDirV1{
		Magic:  d.Magic,
		Header: make(map[string]cbor.RawMessage, len(d.Header)),
		Dirs:   d.Dirs,
		Files:  d.Files,
	}
	if w.Dirs == nil {
		w.Dirs = map[string]DirRef{}
	}
	if w.Files == nil {
		w.Files = map[string]FileRef{}
	}
	for k, v := range d.Header {
		w.Header[k] = cbor.RawMessage(v)
	}
	data, err := encMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("codec: encode DirV1: %w", err)
	}
	return data, nil
}

// DecodeDirV1 decodes a directory, rejecting anything whose magic does not
// match MagicS5Pro.
func DecodeDirV1(data []byte) (*DirV1, error) {
	var w wireDirV1
	if err := decModeLenient.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("codec: decode DirV1: %w", err)
	}
	if string(w.Magic) != string(MagicS5Pro) {
		return nil, fmt.Errorf("codec: decode DirV1: %w", ErrBadMagic)
	}
	d := &DirV1{
		Magic:  w.Magic,
		Header: make(map[string][]byte, len(w.Header)),
		Dirs:   w.Dirs,
		Files:  w.Files,
	}
	for k, v := range w.Header {
		d.Header[k] = []byte(v)
	}
	return d, nil
}

// EncodeShardingDescriptor canonically encodes a sharding descriptor for
// embedding under DirV1.Header[HeaderShardingKey].
func EncodeShardingDescriptor(s *ShardingDescriptor) ([]byte, error) {
	data, err := encMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("codec: encode ShardingDescriptor: %w", err)
	}
	return data, nil
}

// DecodeShardingDescriptor decodes a sharding descriptor from a DirV1
// header value, rejecting any type other than "hamt".
func DecodeShardingDescriptor(data []byte) (*ShardingDescriptor, error) {
	var s ShardingDescriptor
	if err := decModeStrict.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("codec: decode ShardingDescriptor: %w", err)
	}
	if s.Type != ShardingHAMT {
		return nil, fmt.Errorf("codec: decode ShardingDescriptor: %w: %q", ErrUnknownVariant, s.Type)
	}
	return &s, nil
}

// EncodeHAMTNode canonically encodes one HAMT node.
func EncodeHAMTNode(n *HAMTNode) ([]byte, error) {
	data, err := encMode.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("codec: encode HAMTNode: %w", err)
	}
	return data, nil
}

// DecodeHAMTNode decodes one HAMT node, rejecting unknown top-level keys
// and any ChildRef/LeafEntry variant this package does not understand.
func DecodeHAMTNode(data []byte) (*HAMTNode, error) {
	var n HAMTNode
	if err := decModeStrict.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("codec: decode HAMTNode: %w", err)
	}
	for _, c := range n.Children {
		if err := validateChildRef(&c); err != nil {
			return nil, fmt.Errorf("codec: decode HAMTNode: %w", err)
		}
	}
	return &n, nil
}

func validateChildRef(c *ChildRef) error {
	switch c.Type {
	case ChildLeaf:
		for _, e := range c.Entries {
			if err := validateLeafEntry(&e); err != nil {
				return err
			}
		}
		return nil
	case ChildNode:
		if len(c.CID) == 0 {
			return fmt.Errorf("%w: node child missing cid", ErrMalformed)
		}
		return nil
	default:
		return fmt.Errorf("%w: child type %q", ErrUnknownVariant, c.Type)
	}
}

func validateLeafEntry(e *LeafEntry) error {
	switch e.Kind {
	case EntryKindFile:
		if e.File == nil {
			return fmt.Errorf("%w: leaf entry %q declares kind file but has no file ref", ErrMalformed, e.Key)
		}
		return nil
	case EntryKindDir:
		if e.Dir == nil {
			return fmt.Errorf("%w: leaf entry %q declares kind dir but has no dir ref", ErrMalformed, e.Key)
		}
		return nil
	default:
		return fmt.Errorf("%w: leaf entry kind %q", ErrUnknownVariant, e.Kind)
	}
}

// EncodeFileRef canonically encodes a single file reference.
func EncodeFileRef(f *FileRef) ([]byte, error) {
	if f.Enc != nil && f.Enc.Algorithm != AlgorithmXChaCha20Poly1305 {
		return nil, fmt.Errorf("codec: encode FileRef: %w: %q", ErrUnknownVariant, f.Enc.Algorithm)
	}
	data, err := encMode.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("codec: encode FileRef: %w", err)
	}
	return data, nil
}

// DecodeFileRef decodes a single file reference.
func DecodeFileRef(data []byte) (*FileRef, error) {
	var f FileRef
	if err := decModeStrict.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("codec: decode FileRef: %w", err)
	}
	if f.Enc != nil && f.Enc.Algorithm != AlgorithmXChaCha20Poly1305 {
		return nil, fmt.Errorf("codec: decode FileRef: %w: %q", ErrUnknownVariant, f.Enc.Algorithm)
	}
	return &f, nil
}

// EncodeDirRef canonically encodes a single directory reference.
func EncodeDirRef(d *DirRef) ([]byte, error) {
	if err := validateDirLink(&d.Link); err != nil {
		return nil, fmt.Errorf("codec: encode DirRef: %w", err)
	}
	data, err := encMode.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("codec: encode DirRef: %w", err)
	}
	return data, nil
}

// DecodeDirRef decodes a single directory reference.
func DecodeDirRef(data []byte) (*DirRef, error) {
	var d DirRef
	if err := decModeStrict.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("codec: decode DirRef: %w", err)
	}
	if err := validateDirLink(&d.Link); err != nil {
		return nil, fmt.Errorf("codec: decode DirRef: %w", err)
	}
	return &d, nil
}

func validateDirLink(l *DirLink) error {
	switch l.Type {
	case LinkFixedHashBlake3:
		if len(l.Hash) == 0 {
			return fmt.Errorf("%w: fixed_hash_blake3 link missing hash", ErrMalformed)
		}
		return nil
	case LinkMutableRegistryEd25519:
		if len(l.PK) == 0 {
			return fmt.Errorf("%w: mutable_registry_ed25519 link missing pk", ErrMalformed)
		}
		return nil
	default:
		return fmt.Errorf("%w: dir link type %q", ErrUnknownVariant, l.Type)
	}
}
