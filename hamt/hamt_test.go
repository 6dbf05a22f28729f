// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package hamt

import (
	"context"
	"fmt"
	"testing"

	"github.com/s5fs/s5fs/cidutil"
	"github.com/s5fs/s5fs/codec"
)

type memStore struct {
	blobs map[cidutil.Hash][]byte
}

func newMemStore() *memStore {
	return &memStore{blobs: map[cidutil.Hash][]byte{}}
}

func (m *memStore) GetNode(ctx context.Context, h cidutil.Hash) ([]byte, error) {
	data, ok := m.blobs[h]
	if !ok {
		return nil, fmt.Errorf("not found: %s", cidutil.Text(h))
	}
	return data, nil
}

func (m *memStore) PutNode(ctx context.Context, data []byte) (cidutil.Hash, error) {
	h := cidutil.Sum(data)
	m.blobs[h] = data
	return h, nil
}

func fileEntry(key string) codec.LeafEntry {
	h := cidutil.Sum([]byte(key))
	return codec.LeafEntry{
		Key:  key,
		Kind: codec.EntryKindFile,
		File: &codec.FileRef{Hash: mustTag(h), Size: uint64(len(key))},
	}
}

func mustTag(h cidutil.Hash) []byte {
	tagged, err := cidutil.Tag(h)
	if err != nil {
		panic(err)
	}
	return tagged
}

func TestInsertGetDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	h := New(store, WithLeafMaxEntries(4))

	root, err := h.NewEmptyRoot(ctx)
	if err != nil {
		t.Fatalf("NewEmptyRoot: %v", err)
	}

	names := []string{"alice", "bob", "carol", "dave", "erin", "frank", "grace", "heidi"}
	for _, n := range names {
		root, err = h.Insert(ctx, root, n, fileEntry(n))
		if err != nil {
			t.Fatalf("Insert(%s): %v", n, err)
		}
	}

	for _, n := range names {
		e, ok, err := h.Get(ctx, root, n)
		if err != nil {
			t.Fatalf("Get(%s): %v", n, err)
		}
		if !ok {
			t.Fatalf("Get(%s): not found", n)
		}
		if e.Key != n {
			t.Fatalf("Get(%s): got key %q", n, e.Key)
		}
	}

	if _, ok, err := h.Get(ctx, root, "nobody"); err != nil || ok {
		t.Fatalf("Get(nobody) = (ok=%v, err=%v), want (false, nil)", ok, err)
	}

	root, removed, err := h.Delete(ctx, root, "carol")
	if err != nil || !removed {
		t.Fatalf("Delete(carol) = (removed=%v, err=%v)", removed, err)
	}
	if _, ok, _ := h.Get(ctx, root, "carol"); ok {
		t.Fatalf("carol still present after delete")
	}
	for _, n := range []string{"alice", "bob", "dave", "heidi"} {
		if _, ok, _ := h.Get(ctx, root, n); !ok {
			t.Fatalf("%s missing after unrelated delete", n)
		}
	}
}

func TestEntriesVisitsEveryInsertedKeyExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	h := New(store, WithLeafMaxEntries(3))

	root, _ := h.NewEmptyRoot(ctx)
	var err error
	want := map[string]bool{}
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("file-%03d", i)
		want[name] = true
		root, err = h.Insert(ctx, root, name, fileEntry(name))
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got := map[string]bool{}
	err = h.Entries(ctx, root, func(e codec.LeafEntry) error {
		if got[e.Key] {
			t.Fatalf("duplicate entry %q during walk", e.Key)
		}
		got[e.Key] = true
		return nil
	})
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for k := range want {
		if !got[k] {
			t.Fatalf("missing entry %q from walk", k)
		}
	}
}

func TestEntriesFromPaginatesWithoutGapsOrDuplicates(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	h := New(store, WithLeafMaxEntries(3))

	root, _ := h.NewEmptyRoot(ctx)
	var err error
	const total = 50
	for i := 0; i < total; i++ {
		name := fmt.Sprintf("k-%03d", i)
		root, err = h.Insert(ctx, root, name, fileEntry(name))
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	seen := map[string]int{}
	var cursor *Cursor
	pages := 0
	for {
		next, done, err := h.EntriesFrom(ctx, root, cursor, 7, func(e codec.LeafEntry, after Cursor) error {
			seen[e.Key]++
			return nil
		})
		if err != nil {
			t.Fatalf("EntriesFrom: %v", err)
		}
		pages++
		if done {
			break
		}
		cursor = next
		if pages > total { // guard against an infinite loop on a bug
			t.Fatalf("EntriesFrom did not terminate")
		}
	}

	if len(seen) != total {
		t.Fatalf("got %d distinct entries across pages, want %d", len(seen), total)
	}
	for k, n := range seen {
		if n != 1 {
			t.Fatalf("entry %q emitted %d times, want 1", k, n)
		}
	}
}

func TestPathForKeyThenEntriesFromSkipsThatEntry(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	h := New(store, WithLeafMaxEntries(3))

	root, _ := h.NewEmptyRoot(ctx)
	var err error
	names := []string{}
	for i := 0; i < 30; i++ {
		name := fmt.Sprintf("m-%02d", i)
		names = append(names, name)
		root, err = h.Insert(ctx, root, name, fileEntry(name))
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	cursor, ok, err := h.PathForKey(ctx, root, names[10])
	if err != nil || !ok {
		t.Fatalf("PathForKey: ok=%v err=%v", ok, err)
	}

	seen := map[string]bool{}
	_, _, err = h.EntriesFrom(ctx, root, cursor, 0, func(e codec.LeafEntry, after Cursor) error {
		seen[e.Key] = true
		return nil
	})
	if err != nil {
		t.Fatalf("EntriesFrom: %v", err)
	}
	if seen[names[10]] {
		t.Fatalf("EntriesFrom resumed at the cursor's own key instead of after it")
	}
}
