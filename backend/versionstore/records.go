// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package versionstore

import (
	"fmt"

	"github.com/0xsoniclabs/statetrees/common"
)

// NodeRecord is a node collected by a commit batch.
type NodeRecord struct {
	Key  NodeKey
	Data []byte
}

// StaleRecord marks a node superseded at the given version.
type StaleRecord struct {
	StaleSince uint64
	Key        NodeKey
}

// ValueRecord is a value collected by a commit batch.
type ValueRecord struct {
	KeyHash common.Hash
	Value   []byte
}

// Records collects the records of a single version. Store implementations
// embed it in their CommitBatch and write its content on commit.
type Records struct {
	Version uint64
	Nodes   []NodeRecord
	Stale   []StaleRecord
	Values  []ValueRecord
	Root    common.Hash
	RootSet bool
}

func (r *Records) PutNode(key NodeKey, data []byte) {
	r.Nodes = append(r.Nodes, NodeRecord{Key: key, Data: data})
}

func (r *Records) MarkStale(staleSince uint64, key NodeKey) {
	r.Stale = append(r.Stale, StaleRecord{StaleSince: staleSince, Key: key})
}

func (r *Records) PutValue(keyHash common.Hash, value []byte) {
	r.Values = append(r.Values, ValueRecord{KeyHash: keyHash, Value: value})
}

func (r *Records) SetRootHash(root common.Hash) {
	r.Root = root
	r.RootSet = true
}

// Discard drops all collected records.
func (r *Records) Discard() {
	r.Nodes = nil
	r.Stale = nil
	r.Values = nil
	r.RootSet = false
}

// Validate checks that the records form a complete commit on top of the
// given latest version.
func (r *Records) Validate(latest uint64, hasLatest bool) error {
	if !r.RootSet {
		return fmt.Errorf("no root hash set for version %d", r.Version)
	}
	if hasLatest && r.Version <= latest {
		return fmt.Errorf("%w: cannot commit version %d on top of version %d", ErrVersionConflict, r.Version, latest)
	}
	return nil
}
