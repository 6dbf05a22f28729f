// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"errors"
	"testing"
)

func TestDirV1RoundTripAndDeterminism(t *testing.T) {
	d := &DirV1{
		Magic: MagicS5Pro,
		Header: map[string][]byte{
			"future_flag": mustMarshal(t, "keep-me"),
		},
		Dirs: map[string]DirRef{
			"sub": {Link: DirLink{Type: LinkFixedHashBlake3, Hash: bytes.Repeat([]byte{0x01}, 32)}},
		},
		Files: map[string]FileRef{
			"a.txt": {Hash: bytes.Repeat([]byte{0x02}, 32), Size: 5},
		},
	}

	a, err := EncodeDirV1(d)
	if err != nil {
		t.Fatalf("EncodeDirV1: %v", err)
	}
	b, err := EncodeDirV1(d)
	if err != nil {
		t.Fatalf("EncodeDirV1 (second): %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("encoding is not deterministic")
	}

	got, err := DecodeDirV1(a)
	if err != nil {
		t.Fatalf("DecodeDirV1: %v", err)
	}
	if !bytes.Equal(got.Header["future_flag"], d.Header["future_flag"]) {
		t.Fatalf("unknown header key not preserved verbatim")
	}
	if got.Files["a.txt"].Size != 5 {
		t.Fatalf("file entry lost in round trip")
	}
	if got.Dirs["sub"].Link.Type != LinkFixedHashBlake3 {
		t.Fatalf("dir entry lost in round trip")
	}
}

func TestDirV1RejectsBadMagic(t *testing.T) {
	d := &DirV1{Magic: []byte("wrong!"), Header: map[string][]byte{}}
	data, err := EncodeDirV1(d)
	if err != nil {
		t.Fatalf("EncodeDirV1: %v", err)
	}
	if _, err := DecodeDirV1(data); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("DecodeDirV1 error = %v, want ErrBadMagic", err)
	}
}

func TestFileRefRoundTripWithEncryption(t *testing.T) {
	f := &FileRef{
		Hash:      bytes.Repeat([]byte{0xAA}, 32),
		Size:      1024,
		MediaType: "text/plain",
		Enc: &EncryptionDescriptor{
			Algorithm: AlgorithmXChaCha20Poly1305,
			ChunkSize: 262144,
			Key:       bytes.Repeat([]byte{0xBB}, 32),
			Salt:      bytes.Repeat([]byte{0xCC}, 8),
			PlainSize: 900,
		},
	}
	data, err := EncodeFileRef(f)
	if err != nil {
		t.Fatalf("EncodeFileRef: %v", err)
	}
	got, err := DecodeFileRef(data)
	if err != nil {
		t.Fatalf("DecodeFileRef: %v", err)
	}
	if got.Enc == nil || got.Enc.PlainSize != 900 {
		t.Fatalf("encryption descriptor lost in round trip: %+v", got.Enc)
	}
}

func TestFileRefRejectsUnknownEncryptionAlgorithm(t *testing.T) {
	f := &FileRef{
		Hash: bytes.Repeat([]byte{0x01}, 32),
		Size: 1,
		Enc:  &EncryptionDescriptor{Algorithm: "rot13", ChunkSize: 1},
	}
	if _, err := EncodeFileRef(f); !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("EncodeFileRef error = %v, want ErrUnknownVariant", err)
	}
}

func TestDirRefBothLinkVariants(t *testing.T) {
	cases := []DirRef{
		{Link: DirLink{Type: LinkFixedHashBlake3, Hash: bytes.Repeat([]byte{0x01}, 32)}},
		{Link: DirLink{Type: LinkMutableRegistryEd25519, PK: bytes.Repeat([]byte{0x02}, 32)}},
	}
	for _, d := range cases {
		data, err := EncodeDirRef(&d)
		if err != nil {
			t.Fatalf("EncodeDirRef(%s): %v", d.Link.Type, err)
		}
		got, err := DecodeDirRef(data)
		if err != nil {
			t.Fatalf("DecodeDirRef(%s): %v", d.Link.Type, err)
		}
		if got.Link.Type != d.Link.Type {
			t.Fatalf("link type mismatch: got %s want %s", got.Link.Type, d.Link.Type)
		}
	}
}

func TestDirRefRejectsUnknownLinkType(t *testing.T) {
	d := &DirRef{Link: DirLink{Type: "symlink", Hash: []byte{1}}}
	if _, err := EncodeDirRef(d); !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("EncodeDirRef error = %v, want ErrUnknownVariant", err)
	}
}

func TestHAMTNodeRoundTripLeafAndNodeChildren(t *testing.T) {
	n := &HAMTNode{
		Bitmap: 0b101,
		Count:  2,
		Depth:  0,
		Children: []ChildRef{
			{
				Type: ChildLeaf,
				Entries: []LeafEntry{
					{Key: "f:a.txt", Kind: EntryKindFile, File: &FileRef{Hash: bytes.Repeat([]byte{1}, 32), Size: 1}},
					{Key: "d:sub", Kind: EntryKindDir, Dir: &DirRef{Link: DirLink{Type: LinkFixedHashBlake3, Hash: bytes.Repeat([]byte{2}, 32)}}},
				},
			},
			{
				Type: ChildNode,
				CID:  bytes.Repeat([]byte{3}, 32),
			},
		},
	}
	data, err := EncodeHAMTNode(n)
	if err != nil {
		t.Fatalf("EncodeHAMTNode: %v", err)
	}
	got, err := DecodeHAMTNode(data)
	if err != nil {
		t.Fatalf("DecodeHAMTNode: %v", err)
	}
	if len(got.Children) != 2 {
		t.Fatalf("got %d children, want 2", len(got.Children))
	}
	if got.Children[0].Entries[0].File == nil || got.Children[0].Entries[1].Dir == nil {
		t.Fatalf("leaf entries lost their typed payload")
	}
	if !bytes.Equal(got.Children[1].CID, n.Children[1].CID) {
		t.Fatalf("node child cid mismatch")
	}
}

func TestHAMTNodeRejectsUnknownTopLevelKey(t *testing.T) {
	type hamtNodeWithExtra struct {
		Bitmap   uint32     `cbor:"bitmap"`
		Children []ChildRef `cbor:"children"`
		Count    uint64     `cbor:"count"`
		Depth    uint8      `cbor:"depth"`
		Extra    string     `cbor:"extra_field_from_the_future"`
	}
	extra := hamtNodeWithExtra{Bitmap: 1, Count: 0, Depth: 0, Extra: "surprise"}
	data, err := encMode.Marshal(extra)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := DecodeHAMTNode(data); err == nil {
		t.Fatalf("DecodeHAMTNode accepted an unknown top-level key")
	}
}

func TestHAMTNodeRejectsUnknownChildType(t *testing.T) {
	n := &HAMTNode{Bitmap: 1, Children: []ChildRef{{Type: "teleport", CID: []byte{1}}}}
	data, err := EncodeHAMTNode(n)
	if err != nil {
		t.Fatalf("EncodeHAMTNode: %v", err)
	}
	if _, err := DecodeHAMTNode(data); !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("DecodeHAMTNode error = %v, want ErrUnknownVariant", err)
	}
}

func TestShardingDescriptorRoundTrip(t *testing.T) {
	s := &ShardingDescriptor{
		Type:   ShardingHAMT,
		Config: ShardConfig{BitsPerLevel: 5, MaxInlineEntries: 1000, HashFunction: 1},
		Root:   ShardRoot{CID: bytes.Repeat([]byte{9}, 32), TotalEntries: 1500, Depth: 2},
	}
	data, err := EncodeShardingDescriptor(s)
	if err != nil {
		t.Fatalf("EncodeShardingDescriptor: %v", err)
	}
	got, err := DecodeShardingDescriptor(data)
	if err != nil {
		t.Fatalf("DecodeShardingDescriptor: %v", err)
	}
	if got.Root.TotalEntries != 1500 || got.Config.BitsPerLevel != 5 {
		t.Fatalf("sharding descriptor mismatch: %+v", got)
	}
}

func TestEncodeDecodeValueRoundTrip(t *testing.T) {
	type config struct {
		Name  string `cbor:"name"`
		Count int    `cbor:"count"`
	}
	want := config{Name: "widgets", Count: 7}

	data, err := EncodeValue(want)
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}

	data2, err := EncodeValue(want)
	if err != nil {
		t.Fatalf("EncodeValue again: %v", err)
	}
	if !bytes.Equal(data, data2) {
		t.Fatal("EncodeValue: encoding the same value twice produced different bytes")
	}

	var got config
	if err := DecodeValue(data, &got); err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if got != want {
		t.Fatalf("DecodeValue: got %+v, want %+v", got, want)
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := encMode.Marshal(v)
	if err != nil {
		t.Fatalf("marshal helper: %v", err)
	}
	return data
}
