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
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/0xsoniclabs/statetrees/backend"
	"github.com/0xsoniclabs/statetrees/backend/rootindex"
	"github.com/0xsoniclabs/statetrees/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Index is a rootindex.Index in a LevelDB database shared with other
// stores. Keys are [H, ns, version] with big-endian versions, so the
// iteration order matches the version order. The database is not owned by
// the index.
type Index struct {
	db        *leveldb.DB
	namespace byte
	writeMu   sync.Mutex
}

var _ rootindex.Index = (*Index)(nil)

func NewIndex(db *leveldb.DB, namespace byte) *Index {
	return &Index{db: db, namespace: namespace}
}

func (i *Index) key(version uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte{byte(backend.MptRootKey), i.namespace}, version)
}

func (i *Index) prefix() *util.Range {
	return util.BytesPrefix([]byte{byte(backend.MptRootKey), i.namespace})
}

func decodeEntry(key, value []byte) (rootindex.Entry, error) {
	if len(key) != 2+8 {
		return rootindex.Entry{}, fmt.Errorf("invalid root key %x", key)
	}
	root, err := common.HashFromBytes(value)
	if err != nil {
		return rootindex.Entry{}, fmt.Errorf("invalid root of key %x: %w", key, err)
	}
	return rootindex.Entry{Version: binary.BigEndian.Uint64(key[2:]), Root: root}, nil
}

func (i *Index) Put(version uint64, root common.Hash) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	latest, found, err := i.Latest()
	if err != nil {
		return err
	}
	if found && latest.Version >= version {
		return fmt.Errorf("%w: %d after %d", rootindex.ErrVersionOrder, version, latest.Version)
	}
	return i.db.Put(i.key(version), root[:], nil)
}

func (i *Index) Get(version uint64) (common.Hash, error) {
	data, err := i.db.Get(i.key(version), nil)
	if err == leveldb.ErrNotFound {
		return common.Hash{}, fmt.Errorf("%w: version %d", rootindex.ErrNotFound, version)
	}
	if err != nil {
		return common.Hash{}, err
	}
	return common.HashFromBytes(data)
}

func (i *Index) Latest() (rootindex.Entry, bool, error) {
	it := i.db.NewIterator(i.prefix(), nil)
	defer it.Release()
	if !it.Last() {
		return rootindex.Entry{}, false, it.Error()
	}
	entry, err := decodeEntry(it.Key(), it.Value())
	if err != nil {
		return rootindex.Entry{}, false, err
	}
	return entry, true, nil
}

func (i *Index) ListRange(from, to uint64) ([]rootindex.Entry, error) {
	if from > to {
		return nil, nil
	}
	rng := i.prefix()
	rng.Start = i.key(from)
	if to < ^uint64(0) {
		rng.Limit = i.key(to + 1)
	}
	it := i.db.NewIterator(rng, nil)
	defer it.Release()
	var res []rootindex.Entry
	for it.Next() {
		entry, err := decodeEntry(it.Key(), it.Value())
		if err != nil {
			return nil, err
		}
		res = append(res, entry)
	}
	return res, it.Error()
}

func (i *Index) Count() (uint64, error) {
	it := i.db.NewIterator(i.prefix(), nil)
	defer it.Release()
	count := uint64(0)
	for it.Next() {
		count++
	}
	return count, it.Error()
}

func (i *Index) DeleteBelow(version uint64) (uint64, error) {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	rng := i.prefix()
	rng.Limit = i.key(version)
	it := i.db.NewIterator(rng, nil)
	defer it.Release()
	batch := new(leveldb.Batch)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	if err := it.Error(); err != nil {
		return 0, err
	}
	if err := i.db.Write(batch, nil); err != nil {
		return 0, fmt.Errorf("failed to delete roots below version %d: %w", version, err)
	}
	return uint64(batch.Len()), nil
}

// Close does nothing, the database is owned by the caller.
func (i *Index) Close() error {
	return nil
}
