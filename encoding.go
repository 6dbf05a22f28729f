// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package s5fs

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// encodeMsgpack encodes a value as msgpack with sorted map keys.
//
// This backs the registry entry payload: the signed envelope around a
// directory's current blob hash is small, append-mostly data that does not
// need the canonical CBOR codec's forward-compatible header semantics, so
// it stays on the simpler wire format used for other small signed
// envelopes in this codebase.
func encodeMsgpack(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := msgpack.NewEncoder(buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeMsgpackInto decodes msgpack data into the provided value.
func decodeMsgpackInto(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
