// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package s5fs

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// childKeyDomain separates child-key derivation from every other use of
// BLAKE3 in this module, so a registry public key can never collide with
// an unrelated blob hash or cache key even if an attacker controls the
// input bytes.
const childKeyDomain = "s5fs.child-key.v1"

// WriterKey is an ed25519 seed that owns one registry entry: the root
// directory's own key, or a deterministically derived child key.
type WriterKey struct {
	seed [32]byte
}

// NewWriterKey wraps a 32-byte ed25519 seed.
func NewWriterKey(seed [32]byte) WriterKey { return WriterKey{seed: seed} }

// Seed returns the underlying ed25519 seed.
func (k WriterKey) Seed() [32]byte { return k.seed }

// PublicKey returns the ed25519 public key this writer key signs for.
func (k WriterKey) PublicKey() [32]byte {
	priv := ed25519.NewKeyFromSeed(k.seed[:])
	var out [32]byte
	copy(out[:], priv.Public().(ed25519.PublicKey))
	return out
}

// Sign returns an ed25519 signature over data.
func (k WriterKey) Sign(data []byte) [64]byte {
	priv := ed25519.NewKeyFromSeed(k.seed[:])
	var out [64]byte
	copy(out[:], ed25519.Sign(priv, data))
	return out
}

// DeriveChild returns the writer key for the child directory named name.
// Directory ownership is tree-shaped through this derivation: there is no
// separate keypair generated or stored per directory, only the path from
// the root.
func (k WriterKey) DeriveChild(name string) WriterKey {
	h := blake3.New()
	h.Write([]byte(childKeyDomain))
	h.Write(k.seed[:])
	nameLen := make([]byte, 8)
	binary.LittleEndian.PutUint64(nameLen, uint64(len(name)))
	h.Write(nameLen)
	h.Write([]byte(name))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return WriterKey{seed: out}
}

// defaultIdentity implements Identity directly in terms of WriterKey
// derivation, with no external key material beyond the root seed.
type defaultIdentity struct {
	root WriterKey
}

// NewIdentity returns an Identity rooted at the given ed25519 seed.
func NewIdentity(rootSeed [32]byte) Identity {
	return &defaultIdentity{root: NewWriterKey(rootSeed)}
}

func (d *defaultIdentity) RootKey() [32]byte { return d.root.PublicKey() }

func (d *defaultIdentity) DeriveChildKey(parentKey [32]byte, name string) [32]byte {
	return NewWriterKey(parentKey).DeriveChild(name).PublicKey()
}

// signaturePayload is the exact byte sequence a registry entry's signature
// covers: the claimed public key and revision bound together with the
// payload, so a signature cannot be replayed under a different revision or
// a different key.
func signaturePayload(publicKey [32]byte, revision uint64, data []byte) []byte {
	buf := make([]byte, 0, 32+8+len(data))
	buf = append(buf, publicKey[:]...)
	revBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(revBuf, revision)
	buf = append(buf, revBuf...)
	buf = append(buf, data...)
	return buf
}

// SignRegistryEntry builds a signed RegistryEntry for publishing under
// key's public key at the given revision.
func SignRegistryEntry(key WriterKey, revision uint64, data []byte) RegistryEntry {
	pub := key.PublicKey()
	sig := key.Sign(signaturePayload(pub, revision, data))
	return RegistryEntry{PublicKey: pub, Revision: revision, Data: data, Signature: sig}
}

// VerifyRegistryEntry reports whether entry's signature is valid for its
// own claimed public key and revision.
func VerifyRegistryEntry(entry RegistryEntry) bool {
	payload := signaturePayload(entry.PublicKey, entry.Revision, entry.Data)
	return ed25519.Verify(entry.PublicKey[:], payload, entry.Signature[:])
}
