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
	"fmt"

	"github.com/0xsoniclabs/statetrees/common"
	"github.com/0xsoniclabs/statetrees/common/nibbles"
	"github.com/0xsoniclabs/statetrees/database/commitment"
	"github.com/fxamacker/cbor/v2"
)

// childRef locates a child node. Since nodes are keyed by the version that
// wrote them and their path, the version suffices to load the child.
type childRef struct {
	version uint64
	hash    common.Hash
	isLeaf  bool
}

// node is the decoded form of a stored tree node.
type node interface {
	encode() []byte
}

// internalNode forks into up to 16 children.
type internalNode struct {
	children childMap
	refs     [16]childRef
}

// leafNode holds the hash of a key and the hash of its value. The value
// itself is kept in the value history of the store.
type leafNode struct {
	keyHash   common.Hash
	valueHash common.Hash
}

type childRecord struct {
	_       struct{} `cbor:",toarray"`
	Index   uint8
	Version uint64
	Hash    []byte
	IsLeaf  bool
}

type internalRecord struct {
	_        struct{} `cbor:",toarray"`
	Children []childRecord
}

type leafRecord struct {
	_         struct{} `cbor:",toarray"`
	KeyHash   []byte
	ValueHash []byte
}

const (
	internalNodeTag = 0
	leafNodeTag     = 1
)

// encode produces a one byte node kind followed by the CBOR record.
func (n *internalNode) encode() []byte {
	record := internalRecord{Children: make([]childRecord, 0, n.children.popCount())}
	for i := range n.refs {
		if !n.children.get(i) {
			continue
		}
		ref := n.refs[i]
		record.Children = append(record.Children, childRecord{
			Index:   uint8(i),
			Version: ref.version,
			Hash:    ref.hash[:],
			IsLeaf:  ref.isLeaf,
		})
	}
	return mustEncode(internalNodeTag, record)
}

func (n *leafNode) encode() []byte {
	return mustEncode(leafNodeTag, leafRecord{
		KeyHash:   n.keyHash[:],
		ValueHash: n.valueHash[:],
	})
}

func mustEncode(tag byte, record any) []byte {
	data, err := cbor.Marshal(record)
	if err != nil {
		panic(fmt.Sprintf("failed to encode tree node: %v", err))
	}
	return append([]byte{tag}, data...)
}

func decodeNode(data []byte) (node, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty record", ErrCorruptedNode)
	}
	switch data[0] {
	case internalNodeTag:
		var record internalRecord
		if err := cbor.Unmarshal(data[1:], &record); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptedNode, err)
		}
		res := &internalNode{}
		for _, child := range record.Children {
			if child.Index >= 16 || res.children.get(int(child.Index)) {
				return nil, fmt.Errorf("%w: invalid child index %d", ErrCorruptedNode, child.Index)
			}
			hash, err := common.HashFromBytes(child.Hash)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptedNode, err)
			}
			res.children.set(int(child.Index))
			res.refs[child.Index] = childRef{version: child.Version, hash: hash, isLeaf: child.IsLeaf}
		}
		if !res.children.any() {
			return nil, fmt.Errorf("%w: internal node without children", ErrCorruptedNode)
		}
		return res, nil
	case leafNodeTag:
		var record leafRecord
		if err := cbor.Unmarshal(data[1:], &record); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptedNode, err)
		}
		keyHash, err := common.HashFromBytes(record.KeyHash)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptedNode, err)
		}
		valueHash, err := common.HashFromBytes(record.ValueHash)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptedNode, err)
		}
		return &leafNode{keyHash: keyHash, valueHash: valueHash}, nil
	}
	return nil, fmt.Errorf("%w: unknown node kind %d", ErrCorruptedNode, data[0])
}

// commitInternal computes the commitment of an internal node from the
// hashes of its children.
func commitInternal(scheme commitment.Scheme, n *internalNode) common.Hash {
	var children commitment.Children
	for i := range n.refs {
		if n.children.get(i) {
			children[i] = n.refs[i].hash
		} else {
			children[i] = scheme.Null()
		}
	}
	return scheme.CommitBranch(nil, &children, nil)
}

// commitLeaf computes the commitment of a leaf placed at the given depth.
// It covers the remainder of the key hash below that depth.
func commitLeaf(scheme commitment.Scheme, keyHash, valueHash common.Hash, depth int) common.Hash {
	return scheme.CommitLeaf(nibbles.FromBytes(keyHash[:])[depth:], valueHash)
}
