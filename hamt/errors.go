// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package hamt

import "errors"

// ErrCorruptNode is returned when a decoded HAMTNode's child type is
// neither "leaf" nor "node" (the codec package should already have
// rejected this, so seeing it here indicates a store returned bytes for
// the wrong hash).
var ErrCorruptNode = errors.New("hamt: corrupt node")
