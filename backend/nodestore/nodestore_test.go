// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package nodestore_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/0xsoniclabs/statetrees/backend"
	"github.com/0xsoniclabs/statetrees/backend/nodestore"
	"github.com/0xsoniclabs/statetrees/backend/nodestore/cache"
	"github.com/0xsoniclabs/statetrees/backend/nodestore/ldb"
	"github.com/0xsoniclabs/statetrees/backend/nodestore/memory"
	"github.com/0xsoniclabs/statetrees/backend/nodestore/sqlstore"
	"github.com/0xsoniclabs/statetrees/backend/rdbms"
	"github.com/0xsoniclabs/statetrees/common"
	"github.com/stretchr/testify/require"
)

func initStoresMap() map[string]func(t *testing.T) nodestore.Store {
	openLdb := func(t *testing.T) nodestore.Store {
		db, err := backend.OpenLevelDb(t.TempDir(), nil)
		if err != nil {
			t.Fatalf("failed to init leveldb; %s", err)
		}
		store, err := ldb.NewStore(db, 1)
		if err != nil {
			t.Fatalf("failed to init leveldb store; %s", err)
		}
		t.Cleanup(func() {
			_ = store.Close()
			_ = db.Close()
		})
		return store
	}
	openSql := func(t *testing.T) nodestore.Store {
		db, err := rdbms.Open(rdbms.DefaultConfig("sqlite3:" + filepath.Join(t.TempDir(), "nodes.db")))
		if err != nil {
			t.Fatalf("failed to open sqlite; %s", err)
		}
		if err := db.Provision(); err != nil {
			t.Fatalf("failed to provision schema; %s", err)
		}
		store, err := sqlstore.NewStore(db, 1)
		if err != nil {
			t.Fatalf("failed to init sql store; %s", err)
		}
		t.Cleanup(func() {
			_ = store.Close()
		})
		return store
	}
	withCache := func(open func(t *testing.T) nodestore.Store) func(t *testing.T) nodestore.Store {
		return func(t *testing.T) nodestore.Store {
			store, err := cache.NewStore(open(t), 10)
			if err != nil {
				t.Fatalf("failed to init cache; %s", err)
			}
			return store
		}
	}
	openMemory := func(t *testing.T) nodestore.Store {
		return memory.NewStore()
	}

	return map[string]func(t *testing.T) nodestore.Store{
		"memory":       openMemory,
		"ldb":          openLdb,
		"sql":          openSql,
		"cachedMemory": withCache(openMemory),
		"cachedLdb":    withCache(openLdb),
		"cachedSql":    withCache(openSql),
	}
}

func hashOf(i int) common.Hash {
	return common.Hash{byte(i >> 8), byte(i), 0xaa}
}

func TestStore_MissingNodesAreReportedAsNotFound(t *testing.T) {
	for name, open := range initStoresMap() {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			_, err := store.Get(hashOf(1))
			require.ErrorIs(t, err, nodestore.ErrNotFound)
		})
	}
}

func TestStore_PutNodesCanBeRetrieved(t *testing.T) {
	for name, open := range initStoresMap() {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			store := open(t)
			require.NoError(store.Put(hashOf(1), []byte{1, 2, 3}))
			data, err := store.Get(hashOf(1))
			require.NoError(err)
			require.Equal([]byte{1, 2, 3}, data)

			// content-addressed puts of the same node are idempotent
			require.NoError(store.Put(hashOf(1), []byte{1, 2, 3}))
			data, err = store.Get(hashOf(1))
			require.NoError(err)
			require.Equal([]byte{1, 2, 3}, data)
		})
	}
}

func TestStore_PutAllStoresEveryNode(t *testing.T) {
	for name, open := range initStoresMap() {
		for _, size := range []int{0, 1, 5, 100} {
			t.Run(fmt.Sprintf("%s/size-%d", name, size), func(t *testing.T) {
				require := require.New(t)
				store := open(t)
				nodes := make([]nodestore.Node, 0, size)
				for i := range size {
					nodes = append(nodes, nodestore.Node{Hash: hashOf(i), Data: []byte(fmt.Sprintf("node-%d", i))})
				}
				require.NoError(store.PutAll(nodes))
				for i := range size {
					data, err := store.Get(hashOf(i))
					require.NoError(err)
					require.Equal([]byte(fmt.Sprintf("node-%d", i)), data)
				}
				_, err := store.Get(hashOf(size))
				require.ErrorIs(err, nodestore.ErrNotFound)
			})
		}
	}
}

func TestStore_DeleteRemovesNodes(t *testing.T) {
	for name, open := range initStoresMap() {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			store := open(t)
			require.NoError(store.PutAll([]nodestore.Node{
				{Hash: hashOf(1), Data: []byte{1}},
				{Hash: hashOf(2), Data: []byte{2}},
			}))
			require.NoError(store.Delete(hashOf(1)))
			_, err := store.Get(hashOf(1))
			require.ErrorIs(err, nodestore.ErrNotFound)
			data, err := store.Get(hashOf(2))
			require.NoError(err)
			require.Equal([]byte{2}, data)

			// deleting missing nodes is fine
			require.NoError(store.Delete(hashOf(3)))
			require.NoError(store.Flush())
		})
	}
}

func TestStore_NamespacesAreIsolated(t *testing.T) {
	require := require.New(t)
	db, err := backend.OpenLevelDb(t.TempDir(), nil)
	require.NoError(err)
	defer db.Close()

	a, err := ldb.NewStore(db, 1)
	require.NoError(err)
	b, err := ldb.NewStore(db, 2)
	require.NoError(err)

	require.NoError(a.Put(hashOf(1), []byte{1}))
	_, err = b.Get(hashOf(1))
	require.ErrorIs(err, nodestore.ErrNotFound)
}

func TestSqlStore_DataSurvivesReopening(t *testing.T) {
	require := require.New(t)
	config := rdbms.DefaultConfig("sqlite3:" + filepath.Join(t.TempDir(), "nodes.db"))
	db, err := rdbms.Open(config)
	require.NoError(err)
	require.NoError(db.Provision())
	require.NoError(db.Close())

	store, err := sqlstore.Open(config, 0)
	require.NoError(err)
	require.NoError(store.Put(hashOf(7), []byte{7}))
	require.NoError(store.Close())

	store, err = sqlstore.Open(config, 0)
	require.NoError(err)
	defer store.Close()
	data, err := store.Get(hashOf(7))
	require.NoError(err)
	require.Equal([]byte{7}, data)
}

func TestSqlStore_OpeningWithoutSchemaFails(t *testing.T) {
	_, err := sqlstore.Open(rdbms.DefaultConfig("sqlite3:"+filepath.Join(t.TempDir(), "empty.db")), 0)
	require.ErrorIs(t, err, rdbms.ErrMissingTable)
}

func TestStore_ForEachHashVisitsAllNodes(t *testing.T) {
	for name, open := range initStoresMap() {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			store := open(t)
			want := map[common.Hash]bool{}
			for i := range 20 {
				require.NoError(store.Put(hashOf(i), []byte{byte(i)}))
				want[hashOf(i)] = true
			}

			got := map[common.Hash]bool{}
			require.NoError(store.ForEachHash(func(hash common.Hash) error {
				require.False(got[hash], "visited twice: %v", hash)
				got[hash] = true
				return nil
			}))
			require.Equal(want, got)
		})
	}
}

func TestStore_ForEachHashAllowsDeletingVisitedNodes(t *testing.T) {
	for name, open := range initStoresMap() {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			store := open(t)
			for i := range 20 {
				require.NoError(store.Put(hashOf(i), []byte{byte(i)}))
			}

			visited := 0
			require.NoError(store.ForEachHash(func(hash common.Hash) error {
				visited++
				if hash[1]%2 == 0 {
					return store.Delete(hash)
				}
				return nil
			}))
			require.Equal(20, visited)
			for i := range 20 {
				_, err := store.Get(hashOf(i))
				if i%2 == 0 {
					require.ErrorIs(err, nodestore.ErrNotFound)
				} else {
					require.NoError(err)
				}
			}
		})
	}
}

func TestStore_ForEachHashStopsAtFirstError(t *testing.T) {
	for name, open := range initStoresMap() {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			store := open(t)
			for i := range 5 {
				require.NoError(store.Put(hashOf(i), []byte{byte(i)}))
			}
			injected := fmt.Errorf("injected error")
			visited := 0
			err := store.ForEachHash(func(common.Hash) error {
				visited++
				return injected
			})
			require.ErrorIs(err, injected)
			require.Equal(1, visited)
		})
	}
}
