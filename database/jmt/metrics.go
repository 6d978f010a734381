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
	"time"

	"github.com/ethereum/go-ethereum/metrics"
)

// Metrics receives measurements of tree operations. Implementations must be
// safe for concurrent use and return quickly, they are called while the
// tree holds its commit lock.
type Metrics interface {
	// RecordCommit is called after a version got committed.
	RecordCommit(result CommitResult, updates int, duration time.Duration)
	// RecordRead is called after a value lookup of a committed version.
	RecordRead(found bool, duration time.Duration)
	// RecordProof is called after a proof got generated.
	RecordProof(steps int, found bool, duration time.Duration)
	// RecordCacheAccess is called on every lookup of the node cache.
	RecordCacheAccess(hit bool)
	// RecordPrune is called after pruning, also if it failed part way.
	RecordPrune(removed uint64, duration time.Duration)
}

type noMetrics struct{}

func (noMetrics) RecordCommit(CommitResult, int, time.Duration) {}
func (noMetrics) RecordRead(bool, time.Duration)                {}
func (noMetrics) RecordProof(int, bool, time.Duration)          {}
func (noMetrics) RecordCacheAccess(bool)                        {}
func (noMetrics) RecordPrune(uint64, time.Duration)             {}

// GethMetrics reports tree measurements to a go-ethereum metrics registry.
// All metric names start with the given prefix, e.g. jmt/commit/time.
type GethMetrics struct {
	commitTime    *metrics.Timer
	commitUpdates metrics.Histogram
	nodesWritten  *metrics.Counter
	staleNodes    *metrics.Counter
	valuesWritten *metrics.Counter
	version       *metrics.Gauge

	readTime   *metrics.Timer
	readMisses *metrics.Counter
	proofTime  *metrics.Timer
	proofSteps metrics.Histogram

	cacheHits   *metrics.Counter
	cacheMisses *metrics.Counter

	pruneTime    *metrics.Timer
	pruneRecords *metrics.Counter
}

var _ Metrics = (*GethMetrics)(nil)

// NewGethMetrics registers the tree metrics in the given registry, the
// default one if nil.
func NewGethMetrics(registry metrics.Registry, prefix string) *GethMetrics {
	sample := func() metrics.Sample {
		return metrics.NewExpDecaySample(1028, 0.015)
	}
	return &GethMetrics{
		commitTime:    metrics.NewRegisteredTimer(prefix+"/commit/time", registry),
		commitUpdates: metrics.NewRegisteredHistogram(prefix+"/commit/updates", registry, sample()),
		nodesWritten:  metrics.NewRegisteredCounter(prefix+"/commit/nodes", registry),
		staleNodes:    metrics.NewRegisteredCounter(prefix+"/commit/stale", registry),
		valuesWritten: metrics.NewRegisteredCounter(prefix+"/commit/values", registry),
		version:       metrics.NewRegisteredGauge(prefix+"/version", registry),
		readTime:      metrics.NewRegisteredTimer(prefix+"/read/time", registry),
		readMisses:    metrics.NewRegisteredCounter(prefix+"/read/misses", registry),
		proofTime:     metrics.NewRegisteredTimer(prefix+"/proof/time", registry),
		proofSteps:    metrics.NewRegisteredHistogram(prefix+"/proof/steps", registry, sample()),
		cacheHits:     metrics.NewRegisteredCounter(prefix+"/cache/hits", registry),
		cacheMisses:   metrics.NewRegisteredCounter(prefix+"/cache/misses", registry),
		pruneTime:     metrics.NewRegisteredTimer(prefix+"/prune/time", registry),
		pruneRecords:  metrics.NewRegisteredCounter(prefix+"/prune/records", registry),
	}
}

func (m *GethMetrics) RecordCommit(result CommitResult, updates int, duration time.Duration) {
	m.commitTime.Update(duration)
	m.commitUpdates.Update(int64(updates))
	m.nodesWritten.Inc(int64(result.NodesWritten))
	m.staleNodes.Inc(int64(result.StaleNodes))
	m.valuesWritten.Inc(int64(result.ValuesWritten))
	m.version.Update(int64(result.Version))
}

func (m *GethMetrics) RecordRead(found bool, duration time.Duration) {
	m.readTime.Update(duration)
	if !found {
		m.readMisses.Inc(1)
	}
}

func (m *GethMetrics) RecordProof(steps int, _ bool, duration time.Duration) {
	m.proofTime.Update(duration)
	m.proofSteps.Update(int64(steps))
}

func (m *GethMetrics) RecordCacheAccess(hit bool) {
	if hit {
		m.cacheHits.Inc(1)
	} else {
		m.cacheMisses.Inc(1)
	}
}

func (m *GethMetrics) RecordPrune(removed uint64, duration time.Duration) {
	m.pruneTime.Update(duration)
	m.pruneRecords.Inc(int64(removed))
}

// CommitTime returns a snapshot of the commit durations.
func (m *GethMetrics) CommitTime() *metrics.TimerSnapshot {
	return m.commitTime.Snapshot()
}

// Stop releases the meters of the timers.
func (m *GethMetrics) Stop() {
	for _, timer := range []*metrics.Timer{m.commitTime, m.readTime, m.proofTime, m.pruneTime} {
		timer.Stop()
	}
}
