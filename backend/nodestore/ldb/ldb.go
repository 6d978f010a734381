// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package ldb

import (
	"errors"
	"fmt"

	"github.com/0xsoniclabs/statetrees/backend"
	"github.com/0xsoniclabs/statetrees/backend/nodestore"
	"github.com/0xsoniclabs/statetrees/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const keySize = 2 + common.HashSize

// Store is a LevelDB backed nodestore.Store. Several stores may share one
// database by using different namespaces. The database is owned by the
// caller and not closed by the store.
type Store struct {
	db        *leveldb.DB
	namespace byte
}

var _ nodestore.Store = (*Store)(nil)

// NewStore creates a store on top of the given database using the given
// namespace for all its keys.
func NewStore(db *leveldb.DB, namespace byte) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("no database provided")
	}
	return &Store{db: db, namespace: namespace}, nil
}

func (s *Store) key(hash common.Hash) []byte {
	var key [keySize]byte
	key[0] = byte(backend.MptNodeKey)
	key[1] = s.namespace
	copy(key[2:], hash[:])
	return key[:]
}

func (s *Store) Get(hash common.Hash) ([]byte, error) {
	data, err := s.db.Get(s.key(hash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nodestore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read node %v: %w", hash, err)
	}
	return data, nil
}

func (s *Store) Put(hash common.Hash, data []byte) error {
	return s.db.Put(s.key(hash), data, nil)
}

// PutAll writes all nodes in a single LevelDB batch.
func (s *Store) PutAll(nodes []nodestore.Node) error {
	batch := new(leveldb.Batch)
	for _, node := range nodes {
		batch.Put(s.key(node.Hash), node.Data)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to write %d nodes: %w", len(nodes), err)
	}
	return nil
}

func (s *Store) Delete(hash common.Hash) error {
	return s.db.Delete(s.key(hash), nil)
}

// ForEachHash iterates over a snapshot of the namespace's nodes.
func (s *Store) ForEachHash(visit func(hash common.Hash) error) error {
	it := s.db.NewIterator(util.BytesPrefix([]byte{byte(backend.MptNodeKey), s.namespace}), nil)
	defer it.Release()
	for it.Next() {
		hash, err := common.HashFromBytes(it.Key()[2:])
		if err != nil {
			return fmt.Errorf("invalid node key %x: %w", it.Key(), err)
		}
		if err := visit(hash); err != nil {
			return err
		}
	}
	return it.Error()
}

// Flush does nothing, all writes are passed to LevelDB immediately.
func (s *Store) Flush() error {
	return nil
}

// Close releases the store; the underlying database stays open.
func (s *Store) Close() error {
	return s.Flush()
}
