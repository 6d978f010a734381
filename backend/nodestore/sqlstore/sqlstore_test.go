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
	"path/filepath"
	"testing"

	"github.com/0xsoniclabs/statetrees/backend/nodestore"
	"github.com/0xsoniclabs/statetrees/backend/rdbms"
	"github.com/0xsoniclabs/statetrees/common"
	"github.com/stretchr/testify/require"
)

func TestStore_FailedPutAllLeavesNoNodesBehind(t *testing.T) {
	require := require.New(t)
	db, err := rdbms.Open(rdbms.DefaultConfig("sqlite3:" + filepath.Join(t.TempDir(), "nodes.db")))
	require.NoError(err)
	require.NoError(db.Provision())
	store, err := NewStore(db, 1)
	require.NoError(err)
	defer func() {
		require.NoError(store.Close())
	}()

	_, err = db.Exec(`CREATE TRIGGER reject_node BEFORE INSERT ON mpt_nodes
		WHEN NEW.node_data = X'DEAD' BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(err)

	nodes := []nodestore.Node{
		{Hash: common.Hash{1}, Data: []byte{1}},
		{Hash: common.Hash{2}, Data: []byte{2}},
		{Hash: common.Hash{3}, Data: []byte{0xde, 0xad}},
		{Hash: common.Hash{4}, Data: []byte{4}},
	}
	require.Error(store.PutAll(nodes))
	for _, node := range nodes {
		_, err := store.Get(node.Hash)
		require.ErrorIs(err, nodestore.ErrNotFound, "node %v", node.Hash)
	}

	require.NoError(store.PutAll(nodes[:2]))
	data, err := store.Get(common.Hash{2})
	require.NoError(err)
	require.Equal([]byte{2}, data)
}
