// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package pruner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/0xsoniclabs/statetrees/backend/versionstore"
	"github.com/0xsoniclabs/statetrees/backend/versionstore/memory"
	"github.com/0xsoniclabs/statetrees/common"
	"github.com/0xsoniclabs/statetrees/database/jmt"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestPruner(store versionstore.Store, config Config) (*Pruner, *[]time.Duration) {
	var delays []time.Duration
	res := NewPruner(store, config)
	res.sleep = func(d time.Duration) {
		delays = append(delays, d)
	}
	return res, &delays
}

func TestPruner_PruneUpTo_PassesResultOfStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := versionstore.NewMockStore(ctrl)
	store.EXPECT().PruneUpTo(uint64(12)).Return(uint64(5), nil)

	pruner, delays := newTestPruner(store, DefaultConfig)
	removed, err := pruner.PruneUpTo(12)
	require.NoError(t, err)
	require.Equal(t, uint64(5), removed)
	require.Empty(t, *delays)
}

func TestPruner_PruneUpTo_RetriesWithBackoff(t *testing.T) {
	ctrl := gomock.NewController(t)
	injected := errors.New("injected error")
	store := versionstore.NewMockStore(ctrl)
	gomock.InOrder(
		store.EXPECT().PruneUpTo(uint64(3)).Return(uint64(0), injected),
		store.EXPECT().PruneUpTo(uint64(3)).Return(uint64(0), injected),
		store.EXPECT().PruneUpTo(uint64(3)).Return(uint64(7), nil),
	)

	pruner, delays := newTestPruner(store, Config{MaxRetries: 3, RetryDelay: time.Second})
	removed, err := pruner.PruneUpTo(3)
	require.NoError(t, err)
	require.Equal(t, uint64(7), removed)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)
}

func TestPruner_PruneUpTo_CountsRecordsRemovedByFailedAttempts(t *testing.T) {
	ctrl := gomock.NewController(t)
	injected := errors.New("injected error")
	store := versionstore.NewMockStore(ctrl)
	gomock.InOrder(
		store.EXPECT().PruneUpTo(uint64(3)).Return(uint64(4), injected),
		store.EXPECT().PruneUpTo(uint64(3)).Return(uint64(2), injected),
		store.EXPECT().PruneUpTo(uint64(3)).Return(uint64(1), nil),
	)

	pruner, _ := newTestPruner(store, Config{MaxRetries: 3, RetryDelay: time.Millisecond})
	removed, err := pruner.PruneUpTo(3)
	require.NoError(t, err)
	require.Equal(t, uint64(7), removed)
}

func TestPruner_PruneUpTo_ReportsPartialProgressWhenGivingUp(t *testing.T) {
	ctrl := gomock.NewController(t)
	injected := errors.New("injected error")
	store := versionstore.NewMockStore(ctrl)
	store.EXPECT().PruneUpTo(uint64(3)).Return(uint64(5), injected).Times(2)

	pruner, _ := newTestPruner(store, Config{MaxRetries: 1, RetryDelay: time.Millisecond})
	removed, err := pruner.PruneUpTo(3)
	require.ErrorIs(t, err, injected)
	require.Equal(t, uint64(10), removed)
}

func TestPruner_PruneUpTo_GivesUpAfterMaxRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	injected := errors.New("injected error")
	store := versionstore.NewMockStore(ctrl)
	store.EXPECT().PruneUpTo(uint64(3)).Return(uint64(0), injected).Times(3)

	pruner, delays := newTestPruner(store, Config{MaxRetries: 2, RetryDelay: time.Millisecond})
	_, err := pruner.PruneUpTo(3)
	require.ErrorIs(t, err, injected)
	require.Len(t, *delays, 2)
}

func TestPruner_KeepLatest_ComputesCutoff(t *testing.T) {
	tests := []struct {
		latest uint64
		keep   uint64
		cutoff uint64
	}{
		{latest: 10, keep: 1, cutoff: 10},
		{latest: 10, keep: 0, cutoff: 10},
		{latest: 10, keep: 3, cutoff: 8},
		{latest: 10, keep: 10, cutoff: 1},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("latest=%d,keep=%d", test.latest, test.keep), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			store := versionstore.NewMockStore(ctrl)
			store.EXPECT().LatestVersion().Return(test.latest, common.Hash{}, true, nil)
			store.EXPECT().PruneUpTo(test.cutoff).Return(uint64(1), nil)

			pruner, _ := newTestPruner(store, DefaultConfig)
			removed, err := pruner.KeepLatest(test.keep)
			require.NoError(t, err)
			require.Equal(t, uint64(1), removed)
		})
	}
}

func TestPruner_KeepLatest_DoesNothingWithTooFewVersions(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := versionstore.NewMockStore(ctrl)
	store.EXPECT().LatestVersion().Return(uint64(0), common.Hash{}, false, nil)
	store.EXPECT().LatestVersion().Return(uint64(4), common.Hash{}, true, nil)

	pruner, _ := newTestPruner(store, DefaultConfig)
	for range 2 {
		removed, err := pruner.KeepLatest(5)
		require.NoError(t, err)
		require.Zero(t, removed)
	}
}

func TestPruner_Run_PrunesPeriodicallyUntilCancelled(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := versionstore.NewMockStore(ctrl)
	store.EXPECT().LatestVersion().Return(uint64(10), common.Hash{}, true, nil).MinTimes(2)
	store.EXPECT().PruneUpTo(uint64(9)).Return(uint64(0), errors.New("injected error"))
	store.EXPECT().PruneUpTo(uint64(9)).DoAndReturn(func(uint64) (uint64, error) {
		cancel()
		return 1, nil
	}).AnyTimes()

	pruner, _ := newTestPruner(store, Config{KeepLatest: 2})
	err := pruner.Run(ctx, time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPruner_KeepsLatestVersionsOfTreeReadable(t *testing.T) {
	require := require.New(t)
	store := memory.NewStore()
	tree, err := jmt.NewTree(store, jmt.DefaultConfig)
	require.NoError(err)
	key := []byte("key")
	for version := uint64(1); version <= 6; version++ {
		_, err := tree.Put(version, []common.MapEntry[[]byte, []byte]{
			{Key: key, Val: []byte(fmt.Sprintf("value-%d", version))},
		})
		require.NoError(err)
	}

	pruner := NewPruner(store, DefaultConfig)
	removed, err := pruner.KeepLatest(2)
	require.NoError(err)
	require.NotZero(removed)

	for version := uint64(1); version <= 4; version++ {
		_, _, err := tree.Get(key, version)
		require.ErrorIs(err, jmt.ErrVersionNotFound, "version %d", version)
	}
	for version := uint64(5); version <= 6; version++ {
		value, found, err := tree.Get(key, version)
		require.NoError(err)
		require.True(found)
		require.Equal(fmt.Appendf(nil, "value-%d", version), value)
	}
}
