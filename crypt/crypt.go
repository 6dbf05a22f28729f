// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package crypt implements the per-file streaming encryption envelope:
// XChaCha20-Poly1305 over fixed-size chunks, each independently
// authenticated so a reader can verify (and a writer can encrypt) without
// buffering the whole file.
package crypt

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// DefaultChunkSize is the plaintext size of every chunk but the last.
const DefaultChunkSize = 262144

// KeySize and SaltSize are the fixed sizes of the envelope's two secrets.
const (
	KeySize  = chacha20poly1305.KeySize // 32
	SaltSize = 8
)

// NewKey returns a fresh random per-file encryption key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("crypt: generate key: %w", err)
	}
	return key, nil
}

// NewSalt returns a fresh random per-file nonce salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypt: generate salt: %w", err)
	}
	return salt, nil
}

// nonceFor derives chunk index's 24-byte XChaCha20-Poly1305 nonce: an
// all-zero buffer with the file salt placed in the first 8 bytes and the
// little-endian chunk index in the last 8 bytes, leaving the middle 8
// zero. Salt and index never repeat together for one key, so the nonce
// never repeats.
func nonceFor(salt []byte, index uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	copy(nonce[0:8], salt)
	binary.LittleEndian.PutUint64(nonce[16:24], index)
	return nonce
}

// Encrypt reads plaintext from r in chunkSize-byte chunks (DefaultChunkSize
// if 0), writing ciphertext||tag for each chunk to w, and returns the total
// plaintext size read.
func Encrypt(w io.Writer, r io.Reader, key, salt []byte, chunkSize uint32) (uint64, error) {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return 0, fmt.Errorf("crypt: init cipher: %w", err)
	}

	plain := make([]byte, chunkSize)
	var total uint64
	var index uint64
	for {
		n, readErr := io.ReadFull(r, plain)
		if n > 0 {
			nonce := nonceFor(salt, index)
			sealed := aead.Seal(nil, nonce, plain[:n], nil)
			if _, err := w.Write(sealed); err != nil {
				return total, fmt.Errorf("crypt: write ciphertext chunk %d: %w", index, err)
			}
			total += uint64(n)
			index++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return total, fmt.Errorf("crypt: read plaintext chunk %d: %w", index, readErr)
		}
	}
	return total, nil
}

// Decrypt reads ciphertext||tag chunks from r (each at most chunkSize+16
// bytes, DefaultChunkSize if 0), writing verified plaintext to w. It
// returns ErrAuthenticationFailed if any chunk's tag does not verify.
func Decrypt(w io.Writer, r io.Reader, key, salt []byte, chunkSize uint32) error {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("crypt: init cipher: %w", err)
	}

	sealed := make([]byte, int(chunkSize)+aead.Overhead())
	var index uint64
	for {
		n, readErr := io.ReadFull(r, sealed)
		if n > 0 {
			nonce := nonceFor(salt, index)
			plain, err := aead.Open(nil, nonce, sealed[:n], nil)
			if err != nil {
				return fmt.Errorf("crypt: decrypt chunk %d: %w", index, ErrAuthenticationFailed)
			}
			if _, err := w.Write(plain); err != nil {
				return fmt.Errorf("crypt: write plaintext chunk %d: %w", index, err)
			}
			index++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("crypt: read ciphertext chunk %d: %w", index, readErr)
		}
	}
	return nil
}
