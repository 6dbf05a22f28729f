// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package s5fs_test

import (
	"context"
	"errors"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/s5fs/s5fs"
	"github.com/s5fs/s5fs/cidutil"
	"github.com/s5fs/s5fs/codec"
	"github.com/s5fs/s5fs/dirv1"
	"github.com/s5fs/s5fs/hamt"
	"github.com/s5fs/s5fs/internal/memstore"
)

func TestWalkDirVisitsEveryFileAndDirectory(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	if err := fs.Put(ctx, "home/docs/a.txt", []byte("a")); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if err := fs.Put(ctx, "home/docs/sub/b.txt", []byte("b")); err != nil {
		t.Fatalf("Put b: %v", err)
	}

	var files, dirs int
	err := fs.WalkDir(ctx, "home", func(e s5fs.WalkEntry) error {
		switch e.Kind {
		case s5fs.KindFile:
			files++
		case s5fs.KindDirectory:
			dirs++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDir: %v", err)
	}
	if files != 2 {
		t.Fatalf("files visited = %d, want 2", files)
	}
	if dirs != 2 { // docs, docs/sub
		t.Fatalf("dirs visited = %d, want 2", dirs)
	}
}

// dirPointerWire mirrors s5fs's own unexported dirPointer wire shape - the
// only way a test outside the package can hand-publish a registry entry
// that the facade's own directory loader will accept.
type dirPointerWire struct {
	Hash []byte `msgpack:"hash"`
}

type blobHAMTAdapter struct {
	blobs *memstore.BlobStore
}

func (a blobHAMTAdapter) GetNode(ctx context.Context, h cidutil.Hash) ([]byte, error) {
	return a.blobs.DownloadBlob(ctx, h)
}

func (a blobHAMTAdapter) PutNode(ctx context.Context, data []byte) (cidutil.Hash, error) {
	return a.blobs.UploadBlob(ctx, data)
}

// TestWalkDirDetectsCycleAcrossSharedDirectories builds a registry-linked
// cycle a -> b -> a by hand (the kind a walk can only encounter through a
// directory shared in by a second identity, since ensureDirPath's own
// derivation can never point back at an ancestor) and confirms WalkDir
// reports ErrCycleDetected instead of recursing forever.
func TestWalkDirDetectsCycleAcrossSharedDirectories(t *testing.T) {
	ctx := context.Background()
	blobs := memstore.NewBlobStore()
	registry := memstore.NewRegistry()
	rootKey := s5fs.NewWriterKey(memstore.NewRootSeed())
	fs := s5fs.New(blobs, registry, rootKey)

	if err := fs.CreateDirectory(ctx, "home", "a"); err != nil {
		t.Fatalf("CreateDirectory a: %v", err)
	}
	if err := fs.CreateDirectory(ctx, "home/a", "b"); err != nil {
		t.Fatalf("CreateDirectory b: %v", err)
	}

	keyA := rootKey.DeriveChild("home").DeriveChild("a")
	keyB := keyA.DeriveChild("b")
	pkA := keyA.PublicKey()
	pkB := keyB.PublicKey()

	entry, ok, err := registry.RegistryGet(ctx, pkB)
	if err != nil || !ok {
		t.Fatalf("RegistryGet b: ok=%v err=%v", ok, err)
	}
	var ptr dirPointerWire
	if err := msgpack.Unmarshal(entry.Data, &ptr); err != nil {
		t.Fatalf("decode dir pointer: %v", err)
	}
	hash, err := cidutil.Untag(ptr.Hash)
	if err != nil {
		t.Fatalf("untag: %v", err)
	}
	data, err := blobs.DownloadBlob(ctx, hash)
	if err != nil {
		t.Fatalf("download dir b blob: %v", err)
	}
	dirB, err := dirv1.Decode(data)
	if err != nil {
		t.Fatalf("decode dir b: %v", err)
	}

	h := hamt.New(blobHAMTAdapter{blobs}, hamt.WithHashFunction(hamt.HashFunctionMurmur3))
	if err := dirB.UpsertDir(ctx, h, "loop", codec.DirRef{
		Link: codec.DirLink{Type: codec.LinkMutableRegistryEd25519, PK: pkA[:]},
	}); err != nil {
		t.Fatalf("inject loop link: %v", err)
	}

	newData, err := dirB.Encode()
	if err != nil {
		t.Fatalf("encode dir b: %v", err)
	}
	newHash, err := blobs.UploadBlob(ctx, newData)
	if err != nil {
		t.Fatalf("upload dir b: %v", err)
	}
	newTagged, err := cidutil.Tag(newHash)
	if err != nil {
		t.Fatalf("tag new hash: %v", err)
	}
	payload, err := msgpack.Marshal(dirPointerWire{Hash: newTagged})
	if err != nil {
		t.Fatalf("encode dir pointer: %v", err)
	}
	newEntry := s5fs.SignRegistryEntry(keyB, entry.Revision+1, payload)
	if err := registry.RegistrySet(ctx, newEntry); err != nil {
		t.Fatalf("RegistrySet b: %v", err)
	}

	err = fs.WalkDir(ctx, "home", func(e s5fs.WalkEntry) error { return nil })
	if err == nil {
		t.Fatal("WalkDir: want ErrCycleDetected, got nil")
	}
	if !errors.Is(err, s5fs.ErrCycleDetected) {
		t.Fatalf("WalkDir: got %v, want ErrCycleDetected", err)
	}
}
