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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/0xsoniclabs/statetrees/backend"
	"github.com/0xsoniclabs/statetrees/backend/versionstore"
	"github.com/0xsoniclabs/statetrees/common"
	"github.com/0xsoniclabs/statetrees/common/nibbles"
	"github.com/ethereum/go-ethereum/log"
	"github.com/golang/snappy"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// DefaultChunkSize is the maximum number of deletions written per LevelDB
// batch while pruning.
const DefaultChunkSize = 10_000

// Store is a LevelDB backed versionstore.Store. Node payloads are stored
// as they are, values are snappy compressed. All tables of the store share
// the database under the store's namespace.
type Store struct {
	db        *leveldb.DB
	namespace byte
	owned     bool
	chunkSize int

	// serializes commits, prunes and truncations
	writeMu sync.Mutex
}

var _ versionstore.Store = (*Store)(nil)

// Open opens or creates a store in the given directory. The store owns the
// database and closes it on Close.
func Open(path string, namespace byte) (*Store, error) {
	db, err := backend.OpenLevelDb(path, nil)
	if err != nil {
		return nil, err
	}
	res, err := NewStore(db, namespace)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	res.owned = true
	log.Debug("Opened LevelDB version store", "path", path, "namespace", namespace)
	return res, nil
}

// NewStore creates a store on top of the given database. The database
// stays owned by the caller.
func NewStore(db *leveldb.DB, namespace byte) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("no database provided")
	}
	return &Store{db: db, namespace: namespace, chunkSize: DefaultChunkSize}, nil
}

func (s *Store) LatestVersion() (uint64, common.Hash, bool, error) {
	data, err := s.db.Get(latestKey(s.namespace), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, common.Hash{}, false, nil
	}
	if err != nil {
		return 0, common.Hash{}, false, fmt.Errorf("failed to read latest version: %w", err)
	}
	if len(data) != versionSize+common.HashSize {
		return 0, common.Hash{}, false, fmt.Errorf("invalid latest version record %x", data)
	}
	return binary.BigEndian.Uint64(data), common.Hash(data[versionSize:]), true, nil
}

func encodeLatest(version uint64, root common.Hash) []byte {
	return append(binary.BigEndian.AppendUint64(nil, version), root[:]...)
}

func (s *Store) RootHash(version uint64) (common.Hash, bool, error) {
	data, err := s.db.Get(rootKey(s.namespace, version), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return common.Hash{}, false, nil
	}
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("failed to read root of version %d: %w", version, err)
	}
	hash, err := common.HashFromBytes(data)
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("invalid root of version %d: %w", version, err)
	}
	return hash, true, nil
}

func (s *Store) GetNode(key versionstore.NodeKey) ([]byte, error) {
	data, err := s.db.Get(nodeKey(s.namespace, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, versionstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read node %v: %w", key, err)
	}
	return data, nil
}

// floorRange covers all keys of the given prefix followed by a version not
// newer than the given version.
func floorRange(prefix dbKey, version uint64) *util.Range {
	start := append(bytes.Clone(prefix), make([]byte, versionSize)...)
	if version == math.MaxUint64 {
		return &util.Range{Start: start, Limit: util.BytesPrefix(prefix).Limit}
	}
	return &util.Range{Start: start, Limit: dbKey(bytes.Clone(prefix)).appendVersion(version + 1)}
}

func (s *Store) FloorNode(path nibbles.Path, version uint64) (versionstore.NodeKey, []byte, error) {
	it := s.db.NewIterator(floorRange(nodePrefix(s.namespace, path), version), nil)
	defer it.Release()
	if !it.Last() {
		if err := it.Error(); err != nil {
			return versionstore.NodeKey{}, nil, fmt.Errorf("failed to look up node at %v: %w", path, err)
		}
		return versionstore.NodeKey{}, nil, versionstore.ErrNotFound
	}
	key, err := decodeNodeKey(it.Key())
	if err != nil {
		return versionstore.NodeKey{}, nil, err
	}
	return key, bytes.Clone(it.Value()), nil
}

func (s *Store) GetValue(keyHash common.Hash, version uint64) ([]byte, bool, error) {
	it := s.db.NewIterator(floorRange(valuePrefix(s.namespace, keyHash), version), nil)
	defer it.Release()
	if !it.Last() {
		if err := it.Error(); err != nil {
			return nil, false, fmt.Errorf("failed to look up value of %v: %w", keyHash, err)
		}
		return nil, false, nil
	}
	value, err := snappy.Decode(nil, it.Value())
	if err != nil {
		return nil, false, fmt.Errorf("corrupted value of %v: %w", keyHash, err)
	}
	return value, true, nil
}

func (s *Store) BeginCommit(version uint64) versionstore.CommitBatch {
	return &commitBatch{store: s, Records: versionstore.Records{Version: version}}
}

type commitBatch struct {
	versionstore.Records
	store *Store
}

// Commit writes all records in a single LevelDB batch.
func (b *commitBatch) Commit() error {
	s := b.store
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	latest, _, hasLatest, err := s.LatestVersion()
	if err != nil {
		return err
	}
	if err := b.Validate(latest, hasLatest); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	for _, node := range b.Nodes {
		batch.Put(nodeKey(s.namespace, node.Key), node.Data)
	}
	for _, stale := range b.Stale {
		batch.Put(staleKey(s.namespace, stale.StaleSince, stale.Key), nil)
	}
	for _, value := range b.Values {
		batch.Put(valueKey(s.namespace, value.KeyHash, b.Version), snappy.Encode(nil, value.Value))
	}
	batch.Put(rootKey(s.namespace, b.Version), b.Root[:])
	batch.Put(latestKey(s.namespace), encodeLatest(b.Version, b.Root))
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to commit version %d: %w", b.Version, err)
	}
	log.Debug("Committed version", "version", b.Version, "nodes", len(b.Nodes), "stale", len(b.Stale), "values", len(b.Values))
	b.Records.Discard()
	return nil
}

// chunkedWriter collects deletions and flushes them whenever the chunk is
// full. Each flushed chunk leaves the store in a valid state.
type chunkedWriter struct {
	db        *leveldb.DB
	batch     leveldb.Batch
	chunkSize int
	queued    uint64 // node and value records in the batch
	removed   uint64 // node and value records written
}

// remove deletes a node or value record.
func (w *chunkedWriter) remove(key []byte) error {
	w.queued++
	return w.delete(key)
}

func (w *chunkedWriter) delete(key []byte) error {
	w.batch.Delete(bytes.Clone(key))
	if w.batch.Len() >= w.chunkSize {
		return w.flush()
	}
	return nil
}

func (w *chunkedWriter) flush() error {
	if w.batch.Len() == 0 {
		return nil
	}
	if err := w.db.Write(&w.batch, nil); err != nil {
		return err
	}
	w.batch.Reset()
	w.removed += w.queued
	w.queued = 0
	return nil
}

func (s *Store) PruneUpTo(version uint64) (uint64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	latest, _, hasLatest, err := s.LatestVersion()
	if err != nil || !hasLatest {
		return 0, err
	}
	cutoff := min(version, latest)
	w := &chunkedWriter{db: s.db, chunkSize: s.chunkSize}

	// roots first, versions below the cutoff become unknown before any of
	// their nodes disappear
	if err := s.forEach(&util.Range{Start: rootKey(s.namespace, 0), Limit: rootKey(s.namespace, cutoff)}, func(it iterator.Iterator) error {
		return w.delete(it.Key())
	}); err != nil {
		return w.removed, fmt.Errorf("failed to prune roots: %w", err)
	}

	staleRange := util.BytesPrefix(tablePrefix(backend.JmtStaleKey, s.namespace))
	if cutoff < math.MaxUint64 {
		staleRange.Limit = staleKey(s.namespace, cutoff+1, versionstore.NodeKey{})[:2+versionSize]
	}
	if err := s.forEach(staleRange, func(it iterator.Iterator) error {
		_, key, err := decodeStaleKey(it.Key())
		if err != nil {
			return err
		}
		// the node goes into the same or an earlier chunk than its marker
		if err := w.remove(nodeKey(s.namespace, key)); err != nil {
			return err
		}
		return w.delete(it.Key())
	}); err != nil {
		return w.removed, fmt.Errorf("failed to prune nodes: %w", err)
	}

	var (
		current  common.Hash
		previous []byte // newest value key of current at or below the cutoff
	)
	if err := s.forEach(util.BytesPrefix(tablePrefix(backend.JmtValueKey, s.namespace)), func(it iterator.Iterator) error {
		keyHash, v, err := decodeValueKey(it.Key())
		if err != nil {
			return err
		}
		if keyHash != current {
			current, previous = keyHash, nil
		}
		if v > cutoff {
			return nil
		}
		if previous != nil {
			if err := w.remove(previous); err != nil {
				return err
			}
		}
		previous = bytes.Clone(it.Key())
		return nil
	}); err != nil {
		return w.removed, fmt.Errorf("failed to prune values: %w", err)
	}

	if err := w.flush(); err != nil {
		return w.removed, fmt.Errorf("failed to prune: %w", err)
	}
	log.Debug("Pruned version store", "cutoff", cutoff, "removed", w.removed)
	return w.removed, nil
}

func (s *Store) forEach(r *util.Range, visit func(iterator.Iterator) error) error {
	it := s.db.NewIterator(r, nil)
	defer it.Release()
	for it.Next() {
		if err := visit(it); err != nil {
			return err
		}
	}
	return it.Error()
}

func (s *Store) TruncateAfter(version uint64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	root, found, err := s.RootHash(version)
	if err != nil {
		return err
	}
	if !found && version > 0 {
		return fmt.Errorf("%w: %d", versionstore.ErrUnknownVersion, version)
	}
	batch := new(leveldb.Batch)
	remove := func(it iterator.Iterator) error {
		batch.Delete(bytes.Clone(it.Key()))
		return nil
	}
	if version < math.MaxUint64 {
		if err := s.forEach(&util.Range{
			Start: rootKey(s.namespace, version+1),
			Limit: util.BytesPrefix(tablePrefix(backend.JmtRootKey, s.namespace)).Limit,
		}, remove); err != nil {
			return err
		}
		if err := s.forEach(&util.Range{
			Start: staleKey(s.namespace, version+1, versionstore.NodeKey{})[:2+versionSize],
			Limit: util.BytesPrefix(tablePrefix(backend.JmtStaleKey, s.namespace)).Limit,
		}, remove); err != nil {
			return err
		}
	}
	if err := s.forEach(util.BytesPrefix(tablePrefix(backend.JmtNodeKey, s.namespace)), func(it iterator.Iterator) error {
		key, err := decodeNodeKey(it.Key())
		if err != nil {
			return err
		}
		if key.Version > version {
			batch.Delete(bytes.Clone(it.Key()))
		}
		return nil
	}); err != nil {
		return err
	}
	if err := s.forEach(util.BytesPrefix(tablePrefix(backend.JmtValueKey, s.namespace)), func(it iterator.Iterator) error {
		_, v, err := decodeValueKey(it.Key())
		if err != nil {
			return err
		}
		if v > version {
			batch.Delete(bytes.Clone(it.Key()))
		}
		return nil
	}); err != nil {
		return err
	}
	if version == 0 {
		batch.Delete(latestKey(s.namespace))
	} else {
		batch.Put(latestKey(s.namespace), encodeLatest(version, root))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to truncate after version %d: %w", version, err)
	}
	log.Info("Truncated version store", "version", version, "removed", batch.Len())
	return nil
}

func (s *Store) Stats() (versionstore.Stats, error) {
	count := func(table backend.TableSpace) (uint64, error) {
		res := uint64(0)
		err := s.forEach(util.BytesPrefix(tablePrefix(table, s.namespace)), func(iterator.Iterator) error {
			res++
			return nil
		})
		return res, err
	}
	var res versionstore.Stats
	var err error
	if res.Nodes, err = count(backend.JmtNodeKey); err != nil {
		return res, err
	}
	if res.StaleNodes, err = count(backend.JmtStaleKey); err != nil {
		return res, err
	}
	if res.Values, err = count(backend.JmtValueKey); err != nil {
		return res, err
	}
	res.Roots, err = count(backend.JmtRootKey)
	return res, err
}

// Close closes the database if it is owned by the store.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
