// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package cache

import (
	"fmt"

	"github.com/0xsoniclabs/statetrees/backend/nodestore"
	"github.com/0xsoniclabs/statetrees/common"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Store wraps a nodestore.Store and keeps recently accessed nodes in an LRU
// cache. Since nodes are content-addressed, cached entries never become
// stale except by deletion, which is passed through the cache.
type Store struct {
	wrapped nodestore.Store
	cache   *lru.Cache[common.Hash, []byte]
}

var _ nodestore.Store = (*Store)(nil)

// NewStore wraps the given store with a cache of the given capacity.
func NewStore(wrapped nodestore.Store, capacity int) (*Store, error) {
	cache, err := lru.New[common.Hash, []byte](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create node cache: %w", err)
	}
	return &Store{wrapped: wrapped, cache: cache}, nil
}

func (s *Store) Get(hash common.Hash) ([]byte, error) {
	if data, found := s.cache.Get(hash); found {
		return data, nil
	}
	data, err := s.wrapped.Get(hash)
	if err != nil {
		return nil, err
	}
	s.cache.Add(hash, data)
	return data, nil
}

func (s *Store) Put(hash common.Hash, data []byte) error {
	if err := s.wrapped.Put(hash, data); err != nil {
		return err
	}
	s.cache.Add(hash, data)
	return nil
}

// PutAll updates the cache only after the wrapped store accepted the batch.
func (s *Store) PutAll(nodes []nodestore.Node) error {
	if err := s.wrapped.PutAll(nodes); err != nil {
		return err
	}
	for _, node := range nodes {
		s.cache.Add(node.Hash, node.Data)
	}
	return nil
}

func (s *Store) Delete(hash common.Hash) error {
	s.cache.Remove(hash)
	return s.wrapped.Delete(hash)
}

func (s *Store) ForEachHash(visit func(hash common.Hash) error) error {
	return s.wrapped.ForEachHash(visit)
}

func (s *Store) Flush() error {
	return s.wrapped.Flush()
}

func (s *Store) Close() error {
	s.cache.Purge()
	return s.wrapped.Close()
}
