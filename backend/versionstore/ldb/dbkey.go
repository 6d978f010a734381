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

	"github.com/0xsoniclabs/statetrees/backend"
	"github.com/0xsoniclabs/statetrees/backend/versionstore"
	"github.com/0xsoniclabs/statetrees/common"
	"github.com/0xsoniclabs/statetrees/common/nibbles"
)

const versionSize = 8

// dbKey is a LevelDB key of one of the store's tables. Every key starts
// with the table space followed by the namespace of the store.
type dbKey []byte

func newDbKey(table backend.TableSpace, namespace byte, capacity int) dbKey {
	res := make(dbKey, 2, 2+capacity)
	res[0] = byte(table)
	res[1] = namespace
	return res
}

func (k dbKey) appendVersion(version uint64) dbKey {
	return binary.BigEndian.AppendUint64(k, version)
}

func (k dbKey) appendPath(path nibbles.Path) dbKey {
	return append(k, versionstore.EncodePath(path)...)
}

func (k dbKey) appendHash(hash common.Hash) dbKey {
	return append(k, hash[:]...)
}

// nodeKey is [N, ns, len(path), path..., version]. The length prefix
// keeps all versions of one path adjacent and separated from other paths.
func nodeKey(namespace byte, key versionstore.NodeKey) dbKey {
	return nodePrefix(namespace, key.Path).appendVersion(key.Version)
}

func nodePrefix(namespace byte, path nibbles.Path) dbKey {
	return newDbKey(backend.JmtNodeKey, namespace, 1+len(path)+versionSize).appendPath(path)
}

func decodeNodeKey(key []byte) (versionstore.NodeKey, error) {
	if len(key) < 2+1+versionSize {
		return versionstore.NodeKey{}, fmt.Errorf("invalid node key %x", key)
	}
	split := len(key) - versionSize
	path, err := versionstore.DecodePath(key[2:split])
	if err != nil {
		return versionstore.NodeKey{}, err
	}
	return versionstore.NodeKey{Version: binary.BigEndian.Uint64(key[split:]), Path: path}, nil
}

// staleKey is [S, ns, staleSince, version, len(path), path...], ordering
// the index by the version the node got superseded at.
func staleKey(namespace byte, staleSince uint64, key versionstore.NodeKey) dbKey {
	return newDbKey(backend.JmtStaleKey, namespace, 2*versionSize+1+len(key.Path)).
		appendVersion(staleSince).
		appendVersion(key.Version).
		appendPath(key.Path)
}

func decodeStaleKey(key []byte) (uint64, versionstore.NodeKey, error) {
	if len(key) < 2+2*versionSize+1 {
		return 0, versionstore.NodeKey{}, fmt.Errorf("invalid stale key %x", key)
	}
	staleSince := binary.BigEndian.Uint64(key[2:])
	version := binary.BigEndian.Uint64(key[2+versionSize:])
	path, err := versionstore.DecodePath(key[2+2*versionSize:])
	if err != nil {
		return 0, versionstore.NodeKey{}, err
	}
	return staleSince, versionstore.NodeKey{Version: version, Path: path}, nil
}

// valueKey is [V, ns, keyHash, version].
func valueKey(namespace byte, keyHash common.Hash, version uint64) dbKey {
	return valuePrefix(namespace, keyHash).appendVersion(version)
}

func valuePrefix(namespace byte, keyHash common.Hash) dbKey {
	return newDbKey(backend.JmtValueKey, namespace, common.HashSize+versionSize).appendHash(keyHash)
}

func decodeValueKey(key []byte) (common.Hash, uint64, error) {
	if len(key) != 2+common.HashSize+versionSize {
		return common.Hash{}, 0, fmt.Errorf("invalid value key %x", key)
	}
	var hash common.Hash
	copy(hash[:], key[2:])
	return hash, binary.BigEndian.Uint64(key[2+common.HashSize:]), nil
}

// rootKey is [R, ns, version].
func rootKey(namespace byte, version uint64) dbKey {
	return newDbKey(backend.JmtRootKey, namespace, versionSize).appendVersion(version)
}

// latestKey is [L, ns].
func latestKey(namespace byte) dbKey {
	return newDbKey(backend.JmtLatestKey, namespace, 0)
}

// tablePrefix covers all keys of a table in the given namespace.
func tablePrefix(table backend.TableSpace, namespace byte) dbKey {
	return newDbKey(table, namespace, 0)
}
