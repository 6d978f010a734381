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
	"sync"
	"testing"
	"time"

	"github.com/0xsoniclabs/statetrees/backend/versionstore/memory"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/stretchr/testify/require"
)

type recordingMetrics struct {
	commits      []CommitResult
	updates      []int
	reads        []bool
	proofs       []bool
	proofSteps   []int
	cacheHits    int
	cacheMisses  int
	prunedTotals []uint64
	mu           sync.Mutex
}

func (m *recordingMetrics) RecordCommit(result CommitResult, updates int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = append(m.commits, result)
	m.updates = append(m.updates, updates)
}

func (m *recordingMetrics) RecordRead(found bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = append(m.reads, found)
}

func (m *recordingMetrics) RecordProof(steps int, found bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proofs = append(m.proofs, found)
	m.proofSteps = append(m.proofSteps, steps)
}

func (m *recordingMetrics) RecordCacheAccess(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
}

func (m *recordingMetrics) RecordPrune(removed uint64, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prunedTotals = append(m.prunedTotals, removed)
}

func TestMetrics_TreeOperationsAreRecorded(t *testing.T) {
	require := require.New(t)
	recorded := &recordingMetrics{}
	config := DefaultConfig
	config.NodeCacheSize = 1000
	config.Metrics = recorded
	tree := newTestTree(t, memory.NewStore(), config)

	res1, err := tree.Put(1, testEntries(20, 1))
	require.NoError(err)
	res2, err := tree.Put(2, testEntries(10, 2))
	require.NoError(err)
	require.Equal([]CommitResult{res1, res2}, recorded.commits)
	require.Equal([]int{20, 10}, recorded.updates)

	_, found, err := tree.Get([]byte("key-3"), 2)
	require.NoError(err)
	require.True(found)
	_, found, err = tree.Get([]byte("missing"), 2)
	require.NoError(err)
	require.False(found)
	require.Equal([]bool{true, false}, recorded.reads)

	_, found, err = tree.GetProof(tree.HashKey([]byte("key-3")), 2)
	require.NoError(err)
	require.True(found)
	_, found, err = tree.GetProof(tree.HashKey([]byte("missing")), 2)
	require.NoError(err)
	require.True(found)
	require.Equal([]bool{true, false}, recorded.proofs)
	require.NotZero(recorded.proofSteps[0])
	require.NotZero(recorded.cacheHits + recorded.cacheMisses)

	removed, err := tree.Prune(2)
	require.NoError(err)
	require.Equal([]uint64{removed}, recorded.prunedTotals)
}

func TestMetrics_FailedOperationsAreNotRecorded(t *testing.T) {
	require := require.New(t)
	recorded := &recordingMetrics{}
	config := DefaultConfig
	config.Metrics = recorded
	tree := newTestTree(t, memory.NewStore(), config)

	_, err := tree.Put(2, testEntries(5, 1))
	require.ErrorIs(err, ErrVersionSequence)
	_, _, err = tree.Get([]byte("key-1"), 1)
	require.ErrorIs(err, ErrVersionNotFound)
	_, found, err := tree.GetProof(tree.HashKey([]byte("key-1")), 1)
	require.NoError(err)
	require.False(found)

	require.Empty(recorded.commits)
	require.Empty(recorded.reads)
	require.Empty(recorded.proofs)
}

func TestMetrics_DefaultConfigRecordsNothing(t *testing.T) {
	require := require.New(t)
	tree := newTestTree(t, memory.NewStore(), DefaultConfig)
	require.Equal(noMetrics{}, tree.metrics)
	_, err := tree.Put(1, testEntries(5, 1))
	require.NoError(err)
}

func TestGethMetrics_ReportsToRegistry(t *testing.T) {
	require := require.New(t)
	registry := metrics.NewRegistry()
	gethMetrics := NewGethMetrics(registry, "jmt")
	defer gethMetrics.Stop()
	config := DefaultConfig
	config.NodeCacheSize = 1000
	config.Metrics = gethMetrics
	tree := newTestTree(t, memory.NewStore(), config)

	var nodes int
	for version := uint64(1); version <= 3; version++ {
		res, err := tree.Put(version, testEntries(10, int(version)))
		require.NoError(err)
		nodes += res.NodesWritten
	}
	_, _, err := tree.Get([]byte("missing"), 3)
	require.NoError(err)
	_, _, err = tree.GetProof(tree.HashKey([]byte("key-1")), 3)
	require.NoError(err)

	require.Equal(int64(3), gethMetrics.CommitTime().Count())
	require.Equal(int64(nodes), registry.Get("jmt/commit/nodes").(*metrics.Counter).Snapshot().Count())
	require.Equal(int64(3), registry.Get("jmt/version").(*metrics.Gauge).Snapshot().Value())
	require.Equal(int64(1), registry.Get("jmt/read/misses").(*metrics.Counter).Snapshot().Count())
	require.Equal(int64(1), registry.Get("jmt/proof/time").(*metrics.Timer).Snapshot().Count())
	require.Equal(int64(3), registry.Get("jmt/commit/updates").(metrics.Histogram).Snapshot().Count())
}
