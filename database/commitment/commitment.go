// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package commitment defines how trie nodes are turned into the digests
// stored in their parents. A Scheme is independent of the tree algorithm
// using it; the Merkle Patricia Trie and the Jellyfish Merkle Tree both
// describe their nodes in terms of leaves, branches and extensions.
package commitment

import (
	"github.com/0xsoniclabs/statetrees/common"
	"github.com/0xsoniclabs/statetrees/common/nibbles"
)

// Children holds the commitments of the 16 children of a branch. Empty
// children are represented by the scheme's null digest.
type Children [16]common.Hash

// Scheme is a node-to-digest commitment rule.
type Scheme interface {
	// Null returns the digest representing an empty sub-trie.
	Null() common.Hash

	// CommitLeaf commits to a leaf holding a value with the given hash. The
	// suffix is the part of the key path not covered by the leaf's ancestors.
	CommitLeaf(suffix nibbles.Path, valueHash common.Hash) common.Hash

	// CommitBranch commits to a branch node. The prefix is the nibble path
	// compressed into the branch by a folded extension and is empty for
	// plain branches. The value hash is nil if the branch carries no value.
	CommitBranch(prefix nibbles.Path, children *Children, valueHash *common.Hash) common.Hash

	// CommitExtension commits to an extension node with the given path and
	// child commitment. It is only used by schemes not folding extensions.
	CommitExtension(path nibbles.Path, child common.Hash) common.Hash

	// FoldsExtensions is true if extension nodes have no commitment of their
	// own. In this case the extension's path is passed as the prefix of the
	// branch below it.
	FoldsExtensions() bool

	// Name identifies the scheme in configurations and logs.
	Name() string
}

// IsEmpty reports whether all children are set to the given null digest.
func (c *Children) IsEmpty(null common.Hash) bool {
	for _, child := range c {
		if child != null {
			return false
		}
	}
	return true
}

// Count returns the number of children different from the null digest.
func (c *Children) Count(null common.Hash) int {
	res := 0
	for _, child := range c {
		if child != null {
			res++
		}
	}
	return res
}
