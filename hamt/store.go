// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package hamt

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/s5fs/s5fs/cidutil"
	"github.com/s5fs/s5fs/codec"
)

// Store is the minimal blob-storage dependency this package needs: put and
// get serialized HAMTNode blobs by content hash. The facade adapts its
// BlobStore to it (blobHAMTStore); the interface is kept separate here so
// this package has no dependency on the root module.
type Store interface {
	GetNode(ctx context.Context, h cidutil.Hash) ([]byte, error)
	PutNode(ctx context.Context, data []byte) (cidutil.Hash, error)
}

// DefaultCacheSize is the number of decoded nodes kept in the bounded LRU
// cache shared by all Handle operations against one Store.
const DefaultCacheSize = 512

type nodeCache struct {
	lru *lru.Cache[string, *codec.HAMTNode]
}

func newNodeCache(size int) *nodeCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, *codec.HAMTNode](size)
	if err != nil {
		// Only returns an error for a non-positive size, which is guarded above.
		panic(fmt.Sprintf("hamt: build node cache: %v", err))
	}
	return &nodeCache{lru: c}
}

func (h *Handle) load(ctx context.Context, hash cidutil.Hash) (*codec.HAMTNode, error) {
	key := cidText(hash)
	if n, ok := h.cache.lru.Get(key); ok {
		return n, nil
	}
	data, err := h.store.GetNode(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("hamt: load node %s: %w", key, err)
	}
	n, err := codec.DecodeHAMTNode(data)
	if err != nil {
		return nil, fmt.Errorf("hamt: decode node %s: %w", key, err)
	}
	h.cache.lru.Add(key, n)
	return n, nil
}

func (h *Handle) save(ctx context.Context, n *codec.HAMTNode) (cidutil.Hash, error) {
	data, err := codec.EncodeHAMTNode(n)
	if err != nil {
		return cidutil.Hash{}, fmt.Errorf("hamt: encode node: %w", err)
	}
	hash, err := h.store.PutNode(ctx, data)
	if err != nil {
		return cidutil.Hash{}, fmt.Errorf("hamt: store node: %w", err)
	}
	h.cache.lru.Add(cidText(hash), n)
	return hash, nil
}

func childCIDHash(c *codec.ChildRef) (cidutil.Hash, error) {
	return cidutil.Untag(c.CID)
}

func nodeChildRef(hash cidutil.Hash) (codec.ChildRef, error) {
	tagged, err := cidutil.Tag(hash)
	if err != nil {
		return codec.ChildRef{}, err
	}
	return codec.ChildRef{Type: codec.ChildNode, CID: tagged}, nil
}
