// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package s5fs_test

import (
	"context"
	"testing"

	"github.com/s5fs/s5fs"
	"github.com/s5fs/s5fs/cidutil"
)

func TestCIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)
	content := []byte("addressed by content")

	hash, err := fs.PutWithCID(ctx, "home/doc.txt", content)
	if err != nil {
		t.Fatalf("PutWithCID: %v", err)
	}

	fromPath, err := fs.PathToCID(ctx, "home/doc.txt")
	if err != nil {
		t.Fatalf("PathToCID: %v", err)
	}
	if fromPath != hash {
		t.Fatalf("PathToCID = %x, want %x", fromPath, hash)
	}

	path, ok := fs.CIDToPath(hash)
	if !ok {
		t.Fatal("CIDToPath: want ok=true")
	}
	if path != "home/doc.txt" {
		t.Fatalf("CIDToPath = %q, want %q", path, "home/doc.txt")
	}

	got, err := fs.GetByCID(ctx, hash)
	if err != nil {
		t.Fatalf("GetByCID: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("GetByCID = %q, want %q", got, content)
	}
}

func TestPutByCIDIsPathless(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)
	content := []byte("no home for me")

	hash, err := fs.PutByCID(ctx, content)
	if err != nil {
		t.Fatalf("PutByCID: %v", err)
	}

	got, err := fs.GetByCID(ctx, hash)
	if err != nil {
		t.Fatalf("GetByCID: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("GetByCID = %q, want %q", got, content)
	}

	path, ok := fs.CIDToPath(hash)
	if !ok {
		t.Fatal("CIDToPath: want ok=true for a PutByCID hash")
	}
	if path == "" {
		t.Fatal("CIDToPath: want non-empty virtual path")
	}
}

func TestCIDToPathPrefersVisibleOverVirtual(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)
	content := []byte("same bytes either way")

	// Record the virtual (.cid/) path first.
	hash, err := fs.PutByCID(ctx, content)
	if err != nil {
		t.Fatalf("PutByCID: %v", err)
	}
	virtualPath, ok := fs.CIDToPath(hash)
	if !ok {
		t.Fatal("CIDToPath: want ok=true after PutByCID")
	}

	// Now also store it under a real, user-visible path.
	if err := fs.Put(ctx, "home/visible.txt", content); err != nil {
		t.Fatalf("Put: %v", err)
	}

	path, ok := fs.CIDToPath(hash)
	if !ok {
		t.Fatal("CIDToPath: want ok=true")
	}
	if path == virtualPath {
		t.Fatalf("CIDToPath: want the user-visible path to win, still got virtual path %q", virtualPath)
	}
	if path != "home/visible.txt" {
		t.Fatalf("CIDToPath = %q, want %q", path, "home/visible.txt")
	}
}

func TestIdenticalContentAtDifferentPathsSharesCID(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)
	content := []byte("deduplicated")

	hashA, err := fs.PutWithCID(ctx, "home/a.txt", content)
	if err != nil {
		t.Fatalf("PutWithCID a: %v", err)
	}
	hashB, err := fs.PutWithCID(ctx, "archive/b.txt", content)
	if err != nil {
		t.Fatalf("PutWithCID b: %v", err)
	}
	if hashA != hashB {
		t.Fatalf("identical content at different paths hashed differently: %x vs %x", hashA, hashB)
	}
}

func TestCIDToPathUnknownHash(t *testing.T) {
	fs := newTestFS(t)
	var unknown cidutil.Hash
	unknown[0] = 0xFF

	if _, ok := fs.CIDToPath(unknown); ok {
		t.Fatal("CIDToPath: want ok=false for a hash this process never observed")
	}
}

func TestGetMetadataWithCID(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)
	content := []byte("metadata and cid together")

	if err := fs.Put(ctx, "home/both.txt", content); err != nil {
		t.Fatalf("Put: %v", err)
	}

	meta, hash, err := fs.GetMetadataWithCID(ctx, "home/both.txt")
	if err != nil {
		t.Fatalf("GetMetadataWithCID: %v", err)
	}
	if meta.Kind != s5fs.KindFile {
		t.Fatalf("GetMetadataWithCID: Kind = %v, want KindFile", meta.Kind)
	}
	if meta.Size != uint64(len(content)) {
		t.Fatalf("GetMetadataWithCID: Size = %d, want %d", meta.Size, len(content))
	}
	want, err := fs.PathToCID(ctx, "home/both.txt")
	if err != nil {
		t.Fatalf("PathToCID: %v", err)
	}
	if hash != want {
		t.Fatalf("GetMetadataWithCID hash = %x, want %x", hash, want)
	}
}
