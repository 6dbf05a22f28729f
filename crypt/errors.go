// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package crypt

import "errors"

// ErrAuthenticationFailed is returned by Decrypt when a chunk's Poly1305
// tag does not verify - a corrupted blob or a wrong key/salt.
var ErrAuthenticationFailed = errors.New("crypt: authentication failed")
