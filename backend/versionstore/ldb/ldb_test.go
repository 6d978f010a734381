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
	"testing"

	"github.com/0xsoniclabs/statetrees/backend/versionstore"
	"github.com/0xsoniclabs/statetrees/common"
	"github.com/0xsoniclabs/statetrees/common/nibbles"
	"github.com/stretchr/testify/require"
)

func TestStore_PruneInSmallChunks(t *testing.T) {
	require := require.New(t)
	store, err := Open(t.TempDir(), 7)
	require.NoError(err)
	defer func() {
		require.NoError(store.Close())
	}()
	store.chunkSize = 1

	const versions = 10
	for v := uint64(1); v <= versions; v++ {
		batch := store.BeginCommit(v)
		batch.PutNode(versionstore.NodeKey{Version: v, Path: nibbles.Path{1, 2}}, []byte{byte(v)})
		if v > 1 {
			batch.MarkStale(v, versionstore.NodeKey{Version: v - 1, Path: nibbles.Path{1, 2}})
		}
		batch.PutValue(common.Hash{1}, []byte{byte(v)})
		batch.SetRootHash(common.Hash{byte(v)})
		require.NoError(batch.Commit())
	}

	removed, err := store.PruneUpTo(versions)
	require.NoError(err)
	require.Equal(uint64(2*(versions-1)), removed)

	stats, err := store.Stats()
	require.NoError(err)
	require.Equal(versionstore.Stats{Nodes: 1, Values: 1, Roots: 1}, stats)

	key, data, err := store.FloorNode(nibbles.Path{1, 2}, versions)
	require.NoError(err)
	require.Equal(uint64(versions), key.Version)
	require.Equal([]byte{versions}, data)
}

func TestDbKey_NodeKeysOfDifferentPathsDoNotOverlap(t *testing.T) {
	require := require.New(t)
	short := nodePrefix(1, nibbles.Path{1})
	long := nodeKey(1, versionstore.NodeKey{Version: 5, Path: nibbles.Path{1, 0}})
	require.NotEqual([]byte(short), []byte(long[:len(short)]))

	decoded, err := decodeNodeKey(long)
	require.NoError(err)
	require.Equal(uint64(5), decoded.Version)
	require.True(decoded.Path.Equal(nibbles.Path{1, 0}))
}

func TestDbKey_StaleKeysRoundTrip(t *testing.T) {
	require := require.New(t)
	key := versionstore.NodeKey{Version: 3, Path: nibbles.Path{4, 5, 6}}
	since, decoded, err := decodeStaleKey(staleKey(2, 9, key))
	require.NoError(err)
	require.Equal(uint64(9), since)
	require.Equal(key.Version, decoded.Version)
	require.True(key.Path.Equal(decoded.Path))
}
