// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Command s5fs-fixtures generates deterministic JSON fixtures exercising
// this module's two content-addressing paths: a local directory capture
// (localsnap) and a canonically-encoded structured value (codec). Other
// language implementations of this wire format can replay these fixtures
// to confirm their encoders agree byte-for-byte with this one.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/s5fs/s5fs/cidutil"
	"github.com/s5fs/s5fs/codec"
	"github.com/s5fs/s5fs/localsnap"
	"github.com/zeebo/blake3"
)

// Fixture is the shared JSON shape for every fixture this tool emits.
type Fixture struct {
	Name  string            `json:"name"`
	Hex   string            `json:"payload_hex,omitempty"`
	Files map[string]string `json:"files,omitempty"`
	Notes string            `json:"notes,omitempty"`
}

func main() {
	outDir := flag.String("out", "testdata/fixtures", "output directory for fixtures")
	flag.Parse()

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}

	fixtures := []Fixture{blake3Fixture(), canonicalValueFixture()}

	snapFixture, err := localCaptureFixture()
	if err != nil {
		fmt.Fprintf(os.Stderr, "local capture fixture: %v\n", err)
		os.Exit(1)
	}
	fixtures = append(fixtures, snapFixture)

	for _, fixture := range fixtures {
		path := filepath.Join(*outDir, fixture.Name+".json")
		data, err := json.MarshalIndent(fixture, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal %s: %v\n", fixture.Name, err)
			os.Exit(1)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
			os.Exit(1)
		}
	}
}

// blake3Fixture records reference digests for two canonical inputs, the
// baseline every blob hash in this module is built from.
func blake3Fixture() Fixture {
	empty := blake3.Sum256(nil)
	hello := blake3.Sum256([]byte("hello"))
	return Fixture{
		Name: "blake3_basic",
		Files: map[string]string{
			"empty": hex.EncodeToString(empty[:]),
			"hello": hex.EncodeToString(hello[:]),
		},
		Notes: "BLAKE3-256 digests of the empty string and \"hello\".",
	}
}

// canonicalValueFixture encodes a representative structured value with
// codec.EncodeValue, the path a PutValue call takes for a non-blob payload.
func canonicalValueFixture() Fixture {
	type sample struct {
		Name  string   `cbor:"name"`
		Count int      `cbor:"count"`
		Tags  []string `cbor:"tags"`
	}
	payload, err := codec.EncodeValue(sample{Name: "widgets", Count: 7, Tags: []string{"a", "b"}})
	if err != nil {
		panic(err)
	}
	return Fixture{
		Name:  "canonical_cbor_value",
		Hex:   hex.EncodeToString(payload),
		Notes: "codec.EncodeValue output for a struct with string/int/slice fields.",
	}
}

// localCaptureFixture seeds a small synthetic workspace, captures it with
// localsnap, and records the resulting root hash plus per-file hashes.
func localCaptureFixture() (Fixture, error) {
	tmpDir, err := os.MkdirTemp("", "s5fs-fixtures")
	if err != nil {
		return Fixture{}, fmt.Errorf("tmpdir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := seedWorkspace(tmpDir); err != nil {
		return Fixture{}, fmt.Errorf("seed workspace: %w", err)
	}

	snap, err := localsnap.Capture(tmpDir)
	if err != nil {
		return Fixture{}, fmt.Errorf("capture: %w", err)
	}

	var untagErr error
	files := map[string]string{}
	err = snap.Walk(context.Background(), func(e localsnap.Entry) error {
		if e.Kind != codec.EntryKindFile {
			return nil
		}
		hash, err := cidutil.Untag(e.File.Hash)
		if err != nil {
			untagErr = err
			return err
		}
		files[e.Path] = hex.EncodeToString(hash[:])
		return nil
	})
	if err != nil {
		return Fixture{}, err
	}
	if untagErr != nil {
		return Fixture{}, untagErr
	}

	return Fixture{
		Name:  "localsnap_basic",
		Hex:   hex.EncodeToString(snap.RootHash[:]),
		Files: files,
		Notes: "localsnap.Capture root hash and per-file content hashes for a deterministic synthetic workspace.",
	}, nil
}

func seedWorkspace(root string) error {
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("# Test"), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(root, "src", "main.go"), []byte("package main"), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(root, "src", "lib.go"), []byte("package main\n\nfunc foo() {}"), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, "script.sh"), []byte("#!/bin/bash\necho hi"), 0o755)
}
