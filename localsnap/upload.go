// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package localsnap

import (
	"context"
	"fmt"

	"github.com/s5fs/s5fs/cidutil"
)

// BlobStore is the subset of s5fs.BlobStore this package depends on,
// declared independently so localsnap has no import on the root module -
// the same separation hamt.Store keeps from the facade's BlobStore.
type BlobStore interface {
	UploadBlob(ctx context.Context, data []byte) (cidutil.Hash, error)
	DownloadBlob(ctx context.Context, hash cidutil.Hash) ([]byte, error)
}

// UploadResult reports what Upload actually had to send.
type UploadResult struct {
	BlobsUploaded int
	BlobsSkipped  int
	BytesUploaded int64
}

// Upload pushes every blob this snapshot captured - directory blobs, file
// contents, and any HAMT nodes from directories that sharded during
// capture - into blobs. It is safe to call Upload more than once for the
// same snapshot; already-present blobs are skipped.
func (s *Snapshot) Upload(ctx context.Context, blobs BlobStore) (*UploadResult, error) {
	result := &UploadResult{}
	for hash, data := range s.blobs.data {
		if _, err := blobs.DownloadBlob(ctx, hash); err == nil {
			result.BlobsSkipped++
			continue
		}
		if _, err := blobs.UploadBlob(ctx, data); err != nil {
			return nil, fmt.Errorf("localsnap: upload blob %s: %w", cidutil.Text(hash), err)
		}
		result.BlobsUploaded++
		result.BytesUploaded += int64(len(data))
	}
	return result, nil
}
