// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package memory

import (
	"sync"

	"github.com/0xsoniclabs/statetrees/backend/nodestore"
	"github.com/0xsoniclabs/statetrees/common"
)

const initCapacity = 10_000

// Store is an in-memory nodestore.Store implementation. It keeps all nodes
// for the lifetime of the process and provides no persistence.
type Store struct {
	data map[common.Hash][]byte
	mu   sync.RWMutex
}

var _ nodestore.Store = (*Store)(nil)

// NewStore constructs a new, empty Store.
func NewStore() *Store {
	return &Store{data: make(map[common.Hash][]byte, initCapacity)}
}

// Get returns the node with the given hash or nodestore.ErrNotFound.
func (m *Store) Get(hash common.Hash) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, found := m.data[hash]
	if !found {
		return nil, nodestore.ErrNotFound
	}
	return data, nil
}

// Put stores a copy of the given node.
func (m *Store) Put(hash common.Hash, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[hash] = clone(data)
	return nil
}

// PutAll stores copies of all given nodes under a single lock.
func (m *Store) PutAll(nodes []nodestore.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, node := range nodes {
		m.data[node.Hash] = clone(node.Data)
	}
	return nil
}

// Delete removes the given node if present.
func (m *Store) Delete(hash common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, hash)
	return nil
}

func (m *Store) ForEachHash(visit func(hash common.Hash) error) error {
	m.mu.RLock()
	hashes := make([]common.Hash, 0, len(m.data))
	for hash := range m.data {
		hashes = append(hashes, hash)
	}
	m.mu.RUnlock()
	for _, hash := range hashes {
		if err := visit(hash); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the number of stored nodes.
func (m *Store) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Flush the store
func (m *Store) Flush() error {
	return nil // no-op for in-memory database
}

// Close the store
func (m *Store) Close() error {
	return nil // no-op for in-memory database
}

func clone(data []byte) []byte {
	return append(make([]byte, 0, len(data)), data...)
}
