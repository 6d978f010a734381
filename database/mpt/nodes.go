// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package mpt

import (
	"fmt"

	"github.com/0xsoniclabs/statetrees/common"
	"github.com/0xsoniclabs/statetrees/common/nibbles"
	"github.com/0xsoniclabs/statetrees/database/commitment"
	"github.com/fxamacker/cbor/v2"
)

// node is the decoded form of a stored trie node. Nodes are immutable once
// created; updates create new nodes.
type node interface {
	encode() []byte
}

// leafNode holds a value and the remainder of its key path.
type leafNode struct {
	path  nibbles.Path
	value []byte
}

// extensionNode compresses a path shared by all keys below it. Its child
// is always a branch.
type extensionNode struct {
	path  nibbles.Path
	child common.Hash
}

// branchNode forks into up to 16 children and may hold the value of a key
// ending at the branch. A nil value marks the absence of such a key.
type branchNode struct {
	children commitment.Children
	value    []byte
}

func (n *leafNode) encode() []byte {
	return mustEncode([][]byte{nibbles.EncodeHP(n.path, true), n.value})
}

func (n *extensionNode) encode() []byte {
	return mustEncode([][]byte{nibbles.EncodeHP(n.path, false), n.child[:]})
}

// encode produces 17 byte strings, empty ones for missing children and a
// missing value. The null digest of all schemes is the zero hash.
func (n *branchNode) encode() []byte {
	items := make([][]byte, 17)
	for i := range n.children {
		if n.children[i].IsZero() {
			items[i] = []byte{}
		} else {
			items[i] = n.children[i][:]
		}
	}
	items[16] = []byte{}
	if n.value != nil {
		items[16] = n.value
	}
	return mustEncode(items)
}

func (n *branchNode) valueHash(hash func(...[]byte) common.Hash) *common.Hash {
	if n.value == nil {
		return nil
	}
	res := hash(n.value)
	return &res
}

// single returns the index of the only child of the branch, or -1 if the
// branch has none or several children.
func (n *branchNode) single() int {
	res := -1
	for i, child := range n.children {
		if child.IsZero() {
			continue
		}
		if res >= 0 {
			return -1
		}
		res = i
	}
	return res
}

func decodeNode(data []byte) (node, error) {
	var items [][]byte
	if err := cbor.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedNode, err)
	}
	switch len(items) {
	case 2:
		path, leaf, err := nibbles.DecodeHP(items[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptedNode, err)
		}
		if leaf {
			return &leafNode{path: path, value: items[1]}, nil
		}
		child, err := common.HashFromBytes(items[1])
		if err != nil || len(path) == 0 {
			return nil, fmt.Errorf("%w: invalid extension node", ErrCorruptedNode)
		}
		return &extensionNode{path: path, child: child}, nil
	case 17:
		res := &branchNode{}
		for i := range res.children {
			if len(items[i]) == 0 {
				continue
			}
			child, err := common.HashFromBytes(items[i])
			if err != nil {
				return nil, fmt.Errorf("%w: invalid child %d: %v", ErrCorruptedNode, i, err)
			}
			res.children[i] = child
		}
		if len(items[16]) > 0 {
			res.value = items[16]
		}
		return res, nil
	}
	return nil, fmt.Errorf("%w: unexpected number of items %d", ErrCorruptedNode, len(items))
}

func mustEncode(items [][]byte) []byte {
	data, err := cbor.Marshal(items)
	if err != nil {
		panic(fmt.Sprintf("failed to encode node: %v", err))
	}
	return data
}

// resolver fetches the node with the given commitment.
type resolver func(common.Hash) (node, error)

// digest computes the commitment of a node. Under schemes folding
// extensions, the commitment of an extension covers the branch below it,
// which is fetched through resolve.
func digest(n node, scheme commitment.Scheme, hash func(...[]byte) common.Hash, resolve resolver) (common.Hash, error) {
	switch n := n.(type) {
	case *leafNode:
		return scheme.CommitLeaf(n.path, hash(n.value)), nil
	case *branchNode:
		return scheme.CommitBranch(nil, &n.children, n.valueHash(hash)), nil
	case *extensionNode:
		if !scheme.FoldsExtensions() {
			return scheme.CommitExtension(n.path, n.child), nil
		}
		child, err := resolve(n.child)
		if err != nil {
			return common.Hash{}, err
		}
		branch, ok := child.(*branchNode)
		if !ok {
			return common.Hash{}, fmt.Errorf("%w: extension %v not followed by a branch", ErrCorruptedNode, n.path)
		}
		return scheme.CommitBranch(n.path, &branch.children, branch.valueHash(hash)), nil
	}
	panic(fmt.Sprintf("unknown node type %T", n))
}
