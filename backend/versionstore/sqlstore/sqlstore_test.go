// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package sqlstore

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/0xsoniclabs/statetrees/backend/rdbms"
	"github.com/0xsoniclabs/statetrees/backend/versionstore"
	"github.com/0xsoniclabs/statetrees/common"
	"github.com/0xsoniclabs/statetrees/common/nibbles"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *rdbms.DB) {
	t.Helper()
	db, err := rdbms.Open(rdbms.DefaultConfig("sqlite3:" + filepath.Join(t.TempDir(), "versions.db")))
	require.NoError(t, err)
	require.NoError(t, db.Provision())
	store, err := NewStore(db, 1)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store, db
}

func TestStore_PruneInSmallChunks(t *testing.T) {
	require := require.New(t)
	store, _ := newTestStore(t)
	store.chunkSize = 2

	const versions = 10
	for v := uint64(1); v <= versions; v++ {
		batch := store.BeginCommit(v)
		batch.PutNode(versionstore.NodeKey{Version: v, Path: nibbles.Path{3}}, []byte{byte(v)})
		if v > 1 {
			batch.MarkStale(v, versionstore.NodeKey{Version: v - 1, Path: nibbles.Path{3}})
		}
		batch.PutValue(common.Hash{1}, []byte{byte(v)})
		batch.SetRootHash(common.Hash{byte(v)})
		require.NoError(batch.Commit())
	}

	removed, err := store.PruneUpTo(versions - 1)
	require.NoError(err)
	require.Equal(uint64(2*(versions-2)), removed)

	stats, err := store.Stats()
	require.NoError(err)
	require.Equal(versionstore.Stats{Nodes: 2, StaleNodes: 1, Values: 2, Roots: 2}, stats)
}

func TestStore_FailedCommitLeavesNoRecordsBehind(t *testing.T) {
	require := require.New(t)
	store, db := newTestStore(t)

	batch := store.BeginCommit(1)
	batch.PutNode(versionstore.NodeKey{Version: 1, Path: nibbles.Path{1}}, []byte{1})
	batch.PutValue(common.Hash{1}, []byte{1})
	batch.SetRootHash(common.Hash{1})
	require.NoError(batch.Commit())

	// the root is the last record written by a commit
	_, err := db.Exec(`CREATE TRIGGER reject_root BEFORE INSERT ON jmt_roots
		WHEN NEW.version = 2 BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(err)

	batch = store.BeginCommit(2)
	batch.PutNode(versionstore.NodeKey{Version: 2, Path: nibbles.Path{2}}, []byte{2})
	batch.MarkStale(2, versionstore.NodeKey{Version: 1, Path: nibbles.Path{1}})
	batch.PutValue(common.Hash{2}, []byte{2})
	batch.SetRootHash(common.Hash{2})
	require.Error(batch.Commit())

	version, root, found, err := store.LatestVersion()
	require.NoError(err)
	require.True(found)
	require.Equal(uint64(1), version)
	require.Equal(common.Hash{1}, root)

	_, err = store.GetNode(versionstore.NodeKey{Version: 2, Path: nibbles.Path{2}})
	require.ErrorIs(err, versionstore.ErrNotFound)
	_, found, err = store.GetValue(common.Hash{2}, 2)
	require.NoError(err)
	require.False(found)
	_, found, err = store.RootHash(2)
	require.NoError(err)
	require.False(found)

	stats, err := store.Stats()
	require.NoError(err)
	require.Equal(versionstore.Stats{Nodes: 1, Values: 1, Roots: 1}, stats)
}

func TestStore_CommitRejectsVersionsOutOfRange(t *testing.T) {
	require := require.New(t)
	store, _ := newTestStore(t)

	batch := store.BeginCommit(math.MaxInt64 + 1)
	batch.PutNode(versionstore.NodeKey{Version: math.MaxInt64 + 1}, []byte{1})
	batch.SetRootHash(common.Hash{1})
	require.ErrorIs(batch.Commit(), ErrVersionOutOfRange)

	_, _, found, err := store.LatestVersion()
	require.NoError(err)
	require.False(found)

	batch = store.BeginCommit(math.MaxInt64)
	batch.PutNode(versionstore.NodeKey{Version: math.MaxInt64}, []byte{1})
	batch.SetRootHash(common.Hash{1})
	require.NoError(batch.Commit())
	version, _, found, err := store.LatestVersion()
	require.NoError(err)
	require.True(found)
	require.Equal(uint64(math.MaxInt64), version)
}

func TestToDb_ClampsLargeVersions(t *testing.T) {
	require.Equal(t, int64(12), toDb(12))
	require.Equal(t, int64(1<<63-1), toDb(1<<64-1))
}
