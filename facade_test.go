// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package s5fs_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/s5fs/s5fs"
	"github.com/s5fs/s5fs/internal/memstore"
)

func newTestFS(t *testing.T, opts ...s5fs.Option) *s5fs.Filesystem {
	t.Helper()
	blobs := memstore.NewBlobStore()
	registry := memstore.NewRegistry()
	key := s5fs.NewWriterKey(memstore.NewRootSeed())
	return s5fs.New(blobs, registry, key, opts...)
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	content := []byte("hello, s5fs")
	if err := fs.Put(ctx, "home/docs/note.txt", content); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := fs.Get(ctx, "home/docs/note.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("Get: got %q, want %q", got, content)
	}
}

func TestPutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)
	content := []byte("same bytes")

	if err := fs.Put(ctx, "home/a.txt", content); err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	if err := fs.Put(ctx, "home/a.txt", content); err != nil {
		t.Fatalf("Put 2: %v", err)
	}

	hash1, err := fs.PathToCID(ctx, "home/a.txt")
	if err != nil {
		t.Fatalf("PathToCID: %v", err)
	}

	// Writing identical bytes at a different path must resolve to the same
	// content hash - the store is content-addressed, not path-addressed.
	if err := fs.Put(ctx, "home/b.txt", content); err != nil {
		t.Fatalf("Put 3: %v", err)
	}
	hash2, err := fs.PathToCID(ctx, "home/b.txt")
	if err != nil {
		t.Fatalf("PathToCID: %v", err)
	}
	if hash1 != hash2 {
		t.Fatalf("identical content hashed differently: %x vs %x", hash1, hash2)
	}
}

func TestGetMissingFileVsMissingAncestor(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	if err := fs.Put(ctx, "home/dir/file.txt", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, err := fs.Get(ctx, "home/dir/missing.txt")
	if err != nil {
		t.Fatalf("Get missing file: unexpected error %v", err)
	}
	if data != nil {
		t.Fatalf("Get missing file: want nil, got %v", data)
	}

	_, err = fs.Get(ctx, "home/nosuchdir/file.txt")
	if err == nil {
		t.Fatal("Get through missing ancestor: want error")
	}
}

func TestDeleteRemovesAndReportsAbsence(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)
	if err := fs.Put(ctx, "home/x.txt", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	removed, err := fs.Delete(ctx, "home/x.txt")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !removed {
		t.Fatal("Delete: want removed=true")
	}

	removed, err = fs.Delete(ctx, "home/x.txt")
	if err != nil {
		t.Fatalf("Delete again: %v", err)
	}
	if removed {
		t.Fatal("Delete again: want removed=false")
	}

	data, err := fs.Get(ctx, "home/x.txt")
	if err != nil || data != nil {
		t.Fatalf("Get after delete: got (%v, %v), want (nil, nil)", data, err)
	}
}

func TestCreateDirectoryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	if err := fs.CreateDirectory(ctx, "home", "mix"); err != nil {
		t.Fatalf("CreateDirectory 1: %v", err)
	}
	if err := fs.CreateDirectory(ctx, "home", "mix"); err != nil {
		t.Fatalf("CreateDirectory 2: %v", err)
	}

	meta, err := fs.GetMetadata(ctx, "home/mix")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.Kind != s5fs.KindDirectory {
		t.Fatalf("GetMetadata: want directory, got %v", meta.Kind)
	}
}

func TestSameNameFileAndDirectoryCoexist(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	if err := fs.Put(ctx, "home/mix", []byte("a file named mix")); err != nil {
		t.Fatalf("Put file: %v", err)
	}
	if err := fs.CreateDirectory(ctx, "home", "mix"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}

	entries, err := fs.List(ctx, "home", s5fs.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var sawFile, sawDir bool
	for _, e := range entries {
		if e.Name != "mix" {
			continue
		}
		switch e.Kind {
		case s5fs.KindFile:
			sawFile = true
		case s5fs.KindDirectory:
			sawDir = true
		}
	}
	if !sawFile || !sawDir {
		t.Fatalf("List: want both a file and directory entry named mix, got %+v", entries)
	}
}

func TestListPaginationIsDisjointAndOrdered(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	const n = 37
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("home/large/f%03d.txt", i)
		if err := fs.Put(ctx, name, []byte(fmt.Sprintf("content-%d", i))); err != nil {
			t.Fatalf("Put %s: %v", name, err)
		}
	}

	seen := map[string]bool{}
	var order []string
	cursor := ""
	for {
		page, err := fs.List(ctx, "home/large", s5fs.ListOptions{Limit: 10, Cursor: cursor})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			if seen[e.Name] {
				t.Fatalf("List: saw %q twice across pages", e.Name)
			}
			seen[e.Name] = true
			order = append(order, e.Name)
		}
		cursor = page[len(page)-1].Cursor
		if cursor == "" {
			break
		}
	}

	if len(seen) != n {
		t.Fatalf("List: saw %d distinct entries across all pages, want %d", len(seen), n)
	}
	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Fatalf("List: page order not strictly increasing at %d: %q >= %q", i, order[i-1], order[i])
		}
	}
}

func TestListPaginationSurvivesConcurrentMutation(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("home/snap/f%d.txt", i)
		if err := fs.Put(ctx, name, []byte("x")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	first, err := fs.List(ctx, "home/snap", s5fs.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("List: got %d entries, want 2", len(first))
	}
	cursor := first[len(first)-1].Cursor

	// Mutate the directory after the first page is captured. Resuming the
	// cursor must still walk the pinned snapshot from the first call, not
	// the directory's now-larger live state.
	if err := fs.Put(ctx, "home/snap/new.txt", []byte("y")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rest, err := fs.List(ctx, "home/snap", s5fs.ListOptions{Limit: 10, Cursor: cursor})
	if err != nil {
		t.Fatalf("List resume: %v", err)
	}
	for _, e := range rest {
		if e.Name == "new.txt" {
			t.Fatal("List resume: observed a file added after the cursor was captured")
		}
	}
}

func TestShardingThresholdCrossedEndToEnd(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t, s5fs.WithShardThreshold(100))

	const n = 1200
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("home/big/f%05d.txt", i)
		if err := fs.Put(ctx, name, []byte("x")); err != nil {
			t.Fatalf("Put %s: %v", name, err)
		}
	}

	meta, err := fs.GetMetadata(ctx, "home/big")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.Kind != s5fs.KindDirectory {
		t.Fatalf("GetMetadata: want directory, got %v", meta.Kind)
	}
	if meta.EntryCount != n {
		t.Fatalf("GetMetadata: EntryCount = %d, want %d", meta.EntryCount, n)
	}

	data, err := fs.Get(ctx, "home/big/f00999.txt")
	if err != nil {
		t.Fatalf("Get sharded entry: %v", err)
	}
	if string(data) != "x" {
		t.Fatalf("Get sharded entry: got %q", data)
	}
}

func TestEncryptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	content := []byte("top secret contents")
	if err := fs.Put(ctx, "home/secret.txt", content, s5fs.WithEncryption()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := fs.Get(ctx, "home/secret.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("Get: got %q, want %q", got, content)
	}

	meta, err := fs.GetMetadata(ctx, "home/secret.txt")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if !meta.Encrypted {
		t.Fatal("GetMetadata: want Encrypted=true")
	}
}

func TestPutValueGetValueRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	type record struct {
		Name  string `cbor:"name"`
		Count int    `cbor:"count"`
	}
	want := record{Name: "widgets", Count: 42}

	if err := fs.PutValue(ctx, "home/config.cbor", want); err != nil {
		t.Fatalf("PutValue: %v", err)
	}

	var got record
	if err := fs.GetValue(ctx, "home/config.cbor", &got); err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if got != want {
		t.Fatalf("GetValue: got %+v, want %+v", got, want)
	}
}

func TestHomeAndArchiveAreIndependentTrees(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	if err := fs.Put(ctx, "home/shared.txt", []byte("in home")); err != nil {
		t.Fatalf("Put home: %v", err)
	}
	if err := fs.Put(ctx, "archive/shared.txt", []byte("in archive")); err != nil {
		t.Fatalf("Put archive: %v", err)
	}

	home, err := fs.Get(ctx, "home/shared.txt")
	if err != nil {
		t.Fatalf("Get home: %v", err)
	}
	archive, err := fs.Get(ctx, "archive/shared.txt")
	if err != nil {
		t.Fatalf("Get archive: %v", err)
	}
	if string(home) == string(archive) {
		t.Fatalf("home and archive entries of the same name returned identical content unexpectedly")
	}
}

func TestInvalidPathsRejected(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	cases := []string{"", "notaroot/x.txt", "home", "home/../x.txt"}
	for _, p := range cases {
		if err := fs.Put(ctx, p, []byte("x")); err == nil {
			t.Errorf("Put(%q): want error, got nil", p)
		}
	}
}
