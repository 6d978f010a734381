// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package jmt implements a Jellyfish Merkle Tree, a versioned 16-ary
// authenticated tree over hashed keys. Each committed version is immutable
// and can be read and proven as long as it has not been pruned. Nodes are
// addressed by the version that wrote them and their nibble path, which
// allows superseded nodes to be tracked and removed by the pruner.
package jmt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/0xsoniclabs/statetrees/common"
	"github.com/0xsoniclabs/statetrees/common/hashing"
	"github.com/0xsoniclabs/statetrees/database/commitment"
)

var (
	// ErrVersionSequence is returned when committing a version that is not
	// the direct successor of the latest committed version.
	ErrVersionSequence = errors.New("version out of sequence")
	// ErrVersionNotFound is returned when reading a version that was never
	// committed or has been pruned.
	ErrVersionNotFound = errors.New("version not found")
	// ErrMissingNode is returned when a node referenced by a committed
	// version is not present in the store.
	ErrMissingNode = errors.New("missing tree node")
	// ErrCorruptedNode is returned when a stored node can not be decoded.
	ErrCorruptedNode = errors.New("corrupted tree node")
	// ErrInvalidProof is returned when a proof is malformed or does not
	// match the root it is verified against.
	ErrInvalidProof = errors.New("invalid proof")
)

// Config defines the hashing and commitment rules of a tree as well as
// its runtime tuning parameters.
type Config struct {
	Name    string
	Hashing hashing.Function
	// NewScheme creates the commitment scheme on top of the hash function.
	NewScheme func(hashing.Function) commitment.Scheme
	// NodeCacheSize is the number of decoded nodes kept in memory. Zero
	// selects a size derived from the available memory, a negative value
	// disables the cache.
	NodeCacheSize int
	// ParallelThreshold is the minimal number of updates in a batch for
	// the top-level subtrees to be built concurrently. Zero disables
	// concurrent commits.
	ParallelThreshold int
	// Metrics receives measurements of tree operations, none are recorded
	// if nil.
	Metrics Metrics
}

// DefaultConfig commits nodes using the Merkle Patricia Forestry layout.
var DefaultConfig = Config{
	Name:    "Default",
	Hashing: hashing.Default,
	NewScheme: func(h hashing.Function) commitment.Scheme {
		return commitment.NewMpf(h)
	},
	ParallelThreshold: 1024,
}

// ClassicConfig commits nodes by hashing their CBOR encoding.
var ClassicConfig = Config{
	Name:    "Classic",
	Hashing: hashing.Default,
	NewScheme: func(h hashing.Function) commitment.Scheme {
		return commitment.NewClassic(h)
	},
	ParallelThreshold: 1024,
}

// AllConfigs lists the named tree configurations.
var AllConfigs = []Config{DefaultConfig, ClassicConfig}

// ConfigByName resolves a configuration by its case insensitive name.
func ConfigByName(name string) (Config, error) {
	for _, config := range AllConfigs {
		if strings.EqualFold(config.Name, name) {
			return config, nil
		}
	}
	return Config{}, fmt.Errorf("unknown tree configuration %q", name)
}

// WithHashing returns a copy of the configuration using the given hash
// function.
func (c Config) WithHashing(hash hashing.Function) Config {
	c.Hashing = hash
	return c
}

// WithDefaults fills in the hashing and commitment defaults.
func (c Config) WithDefaults() Config {
	if c.Hashing == nil {
		c.Hashing = hashing.Default
	}
	if c.NewScheme == nil {
		c.NewScheme = DefaultConfig.NewScheme
	}
	if c.Metrics == nil {
		c.Metrics = noMetrics{}
	}
	return c
}

// CommitResult summarizes the records written by a single commit.
type CommitResult struct {
	Version       uint64
	RootHash      common.Hash
	NodesWritten  int
	StaleNodes    int
	ValuesWritten int
}

func (r CommitResult) String() string {
	return fmt.Sprintf(
		"version=%d root=%v nodes=%d stale=%d values=%d",
		r.Version, r.RootHash, r.NodesWritten, r.StaleNodes, r.ValuesWritten,
	)
}
