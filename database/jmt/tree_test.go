// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package jmt

import (
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/0xsoniclabs/statetrees/backend/rdbms"
	"github.com/0xsoniclabs/statetrees/backend/versionstore"
	"github.com/0xsoniclabs/statetrees/backend/versionstore/ldb"
	"github.com/0xsoniclabs/statetrees/backend/versionstore/memory"
	"github.com/0xsoniclabs/statetrees/backend/versionstore/sqlstore"
	"github.com/0xsoniclabs/statetrees/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type entry = common.MapEntry[[]byte, []byte]

var allConfigs = map[string]Config{
	"default": DefaultConfig,
	"classic": ClassicConfig,
}

func initStoresMap() map[string]func(t *testing.T) versionstore.Store {
	return map[string]func(t *testing.T) versionstore.Store{
		"memory": func(t *testing.T) versionstore.Store {
			return memory.NewStore()
		},
		"ldb": func(t *testing.T) versionstore.Store {
			store, err := ldb.Open(t.TempDir(), 1)
			if err != nil {
				t.Fatalf("failed to init leveldb store; %s", err)
			}
			t.Cleanup(func() {
				_ = store.Close()
			})
			return store
		},
		"sql": func(t *testing.T) versionstore.Store {
			db, err := rdbms.Open(rdbms.DefaultConfig("sqlite3:" + filepath.Join(t.TempDir(), "tree.db")))
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
		},
	}
}

func newTestTree(t *testing.T, store versionstore.Store, config Config) *Tree {
	t.Helper()
	tree, err := NewTree(store, config)
	require.NoError(t, err)
	return tree
}

func testEntries(n int, round int) []entry {
	res := make([]entry, 0, n)
	for i := range n {
		res = append(res, entry{
			Key: []byte(fmt.Sprintf("key-%d", i)),
			Val: []byte(fmt.Sprintf("value-%d-%d", i, round)),
		})
	}
	return res
}

func TestTree_EmptyStoreHasNoVersion(t *testing.T) {
	require := require.New(t)
	tree := newTestTree(t, memory.NewStore(), DefaultConfig)

	_, _, found, err := tree.LatestVersion()
	require.NoError(err)
	require.False(found)

	_, err = tree.RootHash(1)
	require.ErrorIs(err, ErrVersionNotFound)
	_, _, err = tree.Get([]byte("a"), 1)
	require.ErrorIs(err, ErrVersionNotFound)
}

func TestTree_ValuesOfAllVersionsCanBeRead(t *testing.T) {
	for name, open := range initStoresMap() {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			tree := newTestTree(t, open(t), DefaultConfig)

			_, err := tree.Put(1, []entry{{Key: []byte("a"), Val: []byte("1")}})
			require.NoError(err)
			_, err = tree.Put(2, []entry{{Key: []byte("a"), Val: []byte("2")}, {Key: []byte("b"), Val: []byte("3")}})
			require.NoError(err)

			value, found, err := tree.Get([]byte("a"), 1)
			require.NoError(err)
			require.True(found)
			require.Equal([]byte("1"), value)

			value, found, err = tree.Get([]byte("a"), 2)
			require.NoError(err)
			require.True(found)
			require.Equal([]byte("2"), value)

			_, found, err = tree.Get([]byte("b"), 1)
			require.NoError(err)
			require.False(found)

			version, _, found, err := tree.LatestVersion()
			require.NoError(err)
			require.True(found)
			require.Equal(uint64(2), version)
		})
	}
}

func TestTree_CommittedVersionsAreImmutable(t *testing.T) {
	for name, open := range initStoresMap() {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			tree := newTestTree(t, open(t), DefaultConfig)

			roots := map[uint64]common.Hash{}
			for version := uint64(1); version <= 5; version++ {
				res, err := tree.Put(version, testEntries(20*int(version), int(version)))
				require.NoError(err)
				require.Equal(version, res.Version)
				roots[version] = res.RootHash
			}

			for version, want := range roots {
				got, err := tree.RootHash(version)
				require.NoError(err)
				require.Equal(want, got)

				for _, e := range testEntries(20*int(version), int(version)) {
					value, found, err := tree.Get(e.Key, version)
					require.NoError(err)
					require.True(found)
					require.Equal(e.Val, value)

					proof, found, err := tree.GetProof(tree.HashKey(e.Key), version)
					require.NoError(err)
					require.True(found)
					require.NoError(proof.Verify(want, tree.HashKey(e.Key), e.Val, DefaultConfig))
				}
			}
		})
	}
}

func TestTree_Put_RejectsVersionsOutOfSequence(t *testing.T) {
	require := require.New(t)
	tree := newTestTree(t, memory.NewStore(), DefaultConfig)
	updates := testEntries(3, 0)

	for _, version := range []uint64{0, 2} {
		_, err := tree.Put(version, updates)
		require.ErrorIs(err, ErrVersionSequence, "version %d", version)
	}
	_, err := tree.Put(1, updates)
	require.NoError(err)
	for _, version := range []uint64{0, 1, 3} {
		_, err := tree.Put(version, updates)
		require.ErrorIs(err, ErrVersionSequence, "version %d", version)
	}
}

func TestTree_RootHashIsIndependentOfBatching(t *testing.T) {
	for name, config := range allConfigs {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			entries := testEntries(300, 0)

			single := newTestTree(t, memory.NewStore(), config)
			want, err := single.Put(1, entries)
			require.NoError(err)

			shuffled := append([]entry{}, entries...)
			rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})
			batched := newTestTree(t, memory.NewStore(), config)
			version := uint64(0)
			for i := 0; i < len(shuffled); i += 7 {
				version++
				_, err := batched.Put(version, shuffled[i:min(i+7, len(shuffled))])
				require.NoError(err)
			}
			got, err := batched.RootHash(version)
			require.NoError(err)
			require.Equal(want.RootHash, got)
		})
	}
}

func TestTree_ParallelCommitsProduceSameRoots(t *testing.T) {
	for name, open := range initStoresMap() {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			sequentialConfig := DefaultConfig
			sequentialConfig.ParallelThreshold = 0
			parallelConfig := DefaultConfig
			parallelConfig.ParallelThreshold = 16

			sequential := newTestTree(t, memory.NewStore(), sequentialConfig)
			parallel := newTestTree(t, open(t), parallelConfig)
			for version := uint64(1); version <= 3; version++ {
				updates := testEntries(500*int(version), int(version))
				want, err := sequential.Put(version, updates)
				require.NoError(err)
				got, err := parallel.Put(version, updates)
				require.NoError(err)
				require.Equal(want, got)
			}
		})
	}
}

func TestTree_LastUpdateOfKeyInBatchWins(t *testing.T) {
	require := require.New(t)
	tree := newTestTree(t, memory.NewStore(), DefaultConfig)
	_, err := tree.Put(1, []entry{
		{Key: []byte("a"), Val: []byte("1")},
		{Key: []byte("b"), Val: []byte("2")},
		{Key: []byte("a"), Val: []byte("3")},
	})
	require.NoError(err)

	value, found, err := tree.Get([]byte("a"), 1)
	require.NoError(err)
	require.True(found)
	require.Equal([]byte("3"), value)

	reference := newTestTree(t, memory.NewStore(), DefaultConfig)
	_, err = reference.Put(1, []entry{
		{Key: []byte("b"), Val: []byte("2")},
		{Key: []byte("a"), Val: []byte("3")},
	})
	require.NoError(err)
	want, err := reference.RootHash(1)
	require.NoError(err)
	got, err := tree.RootHash(1)
	require.NoError(err)
	require.Equal(want, got)
}

func TestTree_UnchangedValuesAreNotRewritten(t *testing.T) {
	require := require.New(t)
	tree := newTestTree(t, memory.NewStore(), DefaultConfig)
	entries := testEntries(50, 0)
	first, err := tree.Put(1, entries)
	require.NoError(err)
	require.Equal(50, first.ValuesWritten)
	require.Zero(first.StaleNodes)

	res, err := tree.Put(2, entries[:10])
	require.NoError(err)
	require.Equal(CommitResult{Version: 2, RootHash: first.RootHash}, res)
}

func TestTree_EmptyBatchKeepsTheRootHash(t *testing.T) {
	for name, open := range initStoresMap() {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			tree := newTestTree(t, open(t), DefaultConfig)

			res, err := tree.Put(1, nil)
			require.NoError(err)
			require.Equal(tree.EmptyRootHash(), res.RootHash)

			first, err := tree.Put(2, testEntries(10, 0))
			require.NoError(err)
			second, err := tree.Put(3, nil)
			require.NoError(err)
			require.Equal(first.RootHash, second.RootHash)

			value, found, err := tree.Get([]byte("key-3"), 3)
			require.NoError(err)
			require.True(found)
			require.Equal([]byte("value-3-0"), value)
		})
	}
}

func TestTree_UpdatesMarkReplacedNodesAsStale(t *testing.T) {
	require := require.New(t)
	tree := newTestTree(t, memory.NewStore(), DefaultConfig)

	res, err := tree.Put(1, []entry{{Key: []byte("a"), Val: []byte("1")}})
	require.NoError(err)
	require.Equal(1, res.NodesWritten)
	require.Zero(res.StaleNodes)

	// The single leaf at the root is replaced by a new leaf.
	res, err = tree.Put(2, []entry{{Key: []byte("a"), Val: []byte("2")}})
	require.NoError(err)
	require.Equal(1, res.NodesWritten)
	require.Equal(1, res.StaleNodes)
	require.Equal(1, res.ValuesWritten)

	// A second key pushes the leaf down, the moved leaf keeps its value.
	res, err = tree.Put(3, []entry{{Key: []byte("b"), Val: []byte("3")}})
	require.NoError(err)
	require.Equal(1, res.StaleNodes)
	require.Equal(1, res.ValuesWritten)
	require.GreaterOrEqual(res.NodesWritten, 3)
}

func TestTree_PrunedVersionsAreGoneWhileLaterOnesRemain(t *testing.T) {
	for name, open := range initStoresMap() {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			store := open(t)
			tree := newTestTree(t, store, DefaultConfig)
			key := []byte("k")
			for version := uint64(1); version <= 3; version++ {
				_, err := tree.Put(version, append(testEntries(30, 0),
					entry{Key: key, Val: []byte(fmt.Sprintf("v%d", version))},
				))
				require.NoError(err)
			}
			before, err := store.Stats()
			require.NoError(err)

			removed, err := tree.Prune(3)
			require.NoError(err)
			require.NotZero(removed)

			after, err := store.Stats()
			require.NoError(err)
			require.Less(after.Nodes, before.Nodes)
			require.Zero(after.StaleNodes)
			require.Equal(uint64(1), after.Roots)

			_, _, err = tree.Get(key, 1)
			require.ErrorIs(err, ErrVersionNotFound)

			value, found, err := tree.Get(key, 3)
			require.NoError(err)
			require.True(found)
			require.Equal([]byte("v3"), value)

			root, err := tree.RootHash(3)
			require.NoError(err)
			for _, e := range testEntries(30, 0) {
				proof, _, err := tree.GetProof(tree.HashKey(e.Key), 3)
				require.NoError(err)
				require.NoError(proof.Verify(root, tree.HashKey(e.Key), e.Val, DefaultConfig))
			}

			_, err = tree.Put(4, []entry{{Key: key, Val: []byte("v4")}})
			require.NoError(err)
		})
	}
}

type failingCommitStore struct {
	versionstore.Store
	batch versionstore.CommitBatch
}

func (s *failingCommitStore) BeginCommit(uint64) versionstore.CommitBatch {
	return s.batch
}

func TestTree_FailedCommitLeavesLatestVersionUnchanged(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)
	store := memory.NewStore()
	tree := newTestTree(t, store, DefaultConfig)
	first, err := tree.Put(1, testEntries(10, 0))
	require.NoError(err)

	injected := errors.New("injected error")
	batch := versionstore.NewMockCommitBatch(ctrl)
	batch.EXPECT().PutNode(gomock.Any(), gomock.Any()).AnyTimes()
	batch.EXPECT().MarkStale(gomock.Any(), gomock.Any()).AnyTimes()
	batch.EXPECT().PutValue(gomock.Any(), gomock.Any()).AnyTimes()
	batch.EXPECT().SetRootHash(gomock.Any())
	batch.EXPECT().Commit().Return(injected)
	batch.EXPECT().Discard()

	failing := newTestTree(t, &failingCommitStore{Store: store, batch: batch}, DefaultConfig)
	_, err = failing.Put(2, testEntries(20, 1))
	require.ErrorIs(err, injected)

	version, root, found, err := tree.LatestVersion()
	require.NoError(err)
	require.True(found)
	require.Equal(uint64(1), version)
	require.Equal(first.RootHash, root)

	_, err = tree.Put(2, testEntries(20, 1))
	require.NoError(err)
	value, found, err := tree.Get([]byte("key-15"), 2)
	require.NoError(err)
	require.True(found)
	require.Equal([]byte("value-15-1"), value)
}

func TestTree_MissingRootNodeIsReported(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := versionstore.NewMockStore(ctrl)
	store.EXPECT().LatestVersion().Return(uint64(1), common.Hash{1}, true, nil)
	store.EXPECT().FloorNode(gomock.Any(), uint64(1)).Return(versionstore.NodeKey{}, nil, versionstore.ErrNotFound)

	tree := newTestTree(t, store, DefaultConfig)
	_, err := tree.Put(2, testEntries(1, 0))
	require.ErrorIs(t, err, ErrMissingNode)
}

func TestTree_StoreErrorsArePropagated(t *testing.T) {
	ctrl := gomock.NewController(t)
	injected := errors.New("injected error")
	store := versionstore.NewMockStore(ctrl)
	store.EXPECT().RootHash(uint64(1)).Return(common.Hash{}, false, injected)

	tree := newTestTree(t, store, DefaultConfig)
	_, _, err := tree.Get([]byte("a"), 1)
	require.ErrorIs(t, err, injected)
}

func TestTree_CorruptedRootNodeIsReported(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := versionstore.NewMockStore(ctrl)
	store.EXPECT().RootHash(uint64(1)).Return(common.Hash{1}, true, nil)
	store.EXPECT().FloorNode(gomock.Any(), uint64(1)).Return(versionstore.NodeKey{Version: 1}, []byte{0xff, 0x01}, nil)

	tree := newTestTree(t, store, DefaultConfig)
	_, _, err := tree.GetProof(common.Hash{}, 1)
	require.ErrorIs(t, err, ErrCorruptedNode)
}

func TestTree_RollbackRestoresEarlierVersion(t *testing.T) {
	for name, open := range initStoresMap() {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			tree := newTestTree(t, open(t), DefaultConfig)
			var roots []common.Hash
			for version := uint64(1); version <= 3; version++ {
				res, err := tree.Put(version, testEntries(10*int(version), int(version)))
				require.NoError(err)
				roots = append(roots, res.RootHash)
			}

			require.ErrorIs(tree.Rollback(7), ErrVersionNotFound)
			require.NoError(tree.Rollback(1))

			version, root, found, err := tree.LatestVersion()
			require.NoError(err)
			require.True(found)
			require.Equal(uint64(1), version)
			require.Equal(roots[0], root)
			_, err = tree.RootHash(2)
			require.ErrorIs(err, ErrVersionNotFound)

			// Version 2 can be written again with different content.
			res, err := tree.Put(2, testEntries(5, 9))
			require.NoError(err)
			require.NotEqual(roots[1], res.RootHash)
			value, found, err := tree.Get([]byte("key-3"), 2)
			require.NoError(err)
			require.True(found)
			require.Equal([]byte("value-3-9"), value)
			value, found, err = tree.Get([]byte("key-7"), 2)
			require.NoError(err)
			require.True(found)
			require.Equal([]byte("value-7-1"), value)
		})
	}
}

func TestTree_RollbackToZeroEmptiesTree(t *testing.T) {
	require := require.New(t)
	tree := newTestTree(t, memory.NewStore(), DefaultConfig)
	want, err := tree.Put(1, testEntries(10, 0))
	require.NoError(err)
	require.NoError(tree.Rollback(0))

	_, _, found, err := tree.LatestVersion()
	require.NoError(err)
	require.False(found)

	got, err := tree.Put(1, testEntries(10, 0))
	require.NoError(err)
	require.Equal(want, got)
}

func TestTree_ReopenedTreeContinuesFromLatestVersion(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	store, err := ldb.Open(dir, 1)
	require.NoError(err)
	tree := newTestTree(t, store, DefaultConfig)
	_, err = tree.Put(1, testEntries(40, 0))
	require.NoError(err)
	want, err := tree.Put(2, testEntries(20, 1))
	require.NoError(err)
	require.NoError(tree.Close())

	store, err = ldb.Open(dir, 1)
	require.NoError(err)
	reopened := newTestTree(t, store, DefaultConfig)
	defer func() {
		require.NoError(reopened.Close())
	}()
	version, root, found, err := reopened.LatestVersion()
	require.NoError(err)
	require.True(found)
	require.Equal(want.Version, version)
	require.Equal(want.RootHash, root)

	_, err = reopened.Put(3, testEntries(60, 2))
	require.NoError(err)
	value, found, err := reopened.Get([]byte("key-30"), 2)
	require.NoError(err)
	require.True(found)
	require.Equal([]byte("value-30-0"), value)
}

func TestTree_ReadsMayRunConcurrentlyWithCommits(t *testing.T) {
	require := require.New(t)
	tree := newTestTree(t, memory.NewStore(), DefaultConfig)
	entries := testEntries(100, 0)
	first, err := tree.Put(1, entries)
	require.NoError(err)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, e := range entries {
				proof, _, err := tree.GetProof(tree.HashKey(e.Key), 1)
				if err == nil {
					err = proof.Verify(first.RootHash, tree.HashKey(e.Key), e.Val, DefaultConfig)
				}
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	for version := uint64(2); version <= 10; version++ {
		_, err := tree.Put(version, testEntries(100, int(version)))
		require.NoError(err)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(err)
	}
}

func TestTree_CacheCanBeDisabled(t *testing.T) {
	require := require.New(t)
	config := DefaultConfig
	config.NodeCacheSize = -1
	tree := newTestTree(t, memory.NewStore(), config)
	require.Nil(tree.cache)

	entries := testEntries(50, 0)
	res, err := tree.Put(1, entries)
	require.NoError(err)
	for _, e := range entries {
		proof, _, err := tree.GetProof(tree.HashKey(e.Key), 1)
		require.NoError(err)
		require.NoError(proof.Verify(res.RootHash, tree.HashKey(e.Key), e.Val, config))
	}
}

func TestConfig_ByNameResolvesKnownConfigurations(t *testing.T) {
	for _, config := range AllConfigs {
		got, err := ConfigByName(config.Name)
		require.NoError(t, err)
		require.Equal(t, config.Name, got.Name)
	}
	_, err := ConfigByName("unknown")
	require.Error(t, err)
}
