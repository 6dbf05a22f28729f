// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package s5fs

import (
	"strings"
)

// splitPath splits a slash-separated path into its components. Parsing is
// purely lexical: no percent-decoding and no normalization beyond trimming
// empty segments (from "//" or leading/trailing "/"). "." and ".." are
// ordinary segment names with no special meaning. The root path ("", "/")
// splits to an empty, non-nil slice.
func splitPath(p string) ([]string, error) {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return []string{}, nil
	}
	raw := strings.Split(trimmed, "/")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		if part == "" {
			continue
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// joinPath renders path components back into a canonical slash-separated
// path, used for cidsurface round trips and log messages.
func joinPath(parts []string) string {
	return "/" + strings.Join(parts, "/")
}
