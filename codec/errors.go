// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package codec

import "errors"

var (
	// ErrBadMagic is returned when a decoded DirV1's magic field is not
	// MagicS5Pro.
	ErrBadMagic = errors.New("codec: bad magic")

	// ErrUnknownVariant is returned when a closed sum type's discriminant
	// (a DirLink, ChildRef, LeafEntry, EncryptionDescriptor, or
	// ShardingDescriptor type/algo tag) holds a value this package does
	// not understand.
	ErrUnknownVariant = errors.New("codec: unknown variant")

	// ErrMalformed is returned when a decoded value's discriminant is
	// recognized but the fields it requires are missing.
	ErrMalformed = errors.New("codec: malformed value")
)
