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
	"time"

	"github.com/0xsoniclabs/statetrees/backend/versionstore"
	"github.com/0xsoniclabs/statetrees/common"
	"github.com/0xsoniclabs/statetrees/common/nibbles"
	"github.com/0xsoniclabs/statetrees/database/commitment"
	"github.com/fxamacker/cbor/v2"
)

// ProofStep describes an internal node on the path of the proven key. The
// bitmap marks the occupied slots other than the one on the path, the
// siblings list their hashes in slot order.
type ProofStep struct {
	Bitmap   uint16
	Siblings []common.Hash
}

// ProofLeaf is the leaf terminating the path. For a non-inclusion proof it
// is a leaf of a different key sharing the path, or absent for an empty
// slot.
type ProofLeaf struct {
	KeyHash   common.Hash
	ValueHash common.Hash
}

// Proof proves the presence or absence of a key hash in a given version.
// Steps are ordered from the root downwards.
type Proof struct {
	Steps []ProofStep
	Leaf  *ProofLeaf
}

// GetProof creates a proof for the given key hash in the given version.
// The proof shows either the value of the key or its absence. If the
// version was never committed or has been pruned, found is false.
func (t *Tree) GetProof(keyHash common.Hash, version uint64) (proof *Proof, found bool, err error) {
	start := time.Now()
	proof, found, err = t.getProof(keyHash, version)
	if err == nil && found {
		present := proof.Leaf != nil && proof.Leaf.KeyHash == keyHash
		t.metrics.RecordProof(len(proof.Steps), present, time.Since(start))
	}
	return proof, found, err
}

func (t *Tree) getProof(keyHash common.Hash, version uint64) (*Proof, bool, error) {
	root, found, err := t.store.RootHash(version)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read root of version %d: %w", version, err)
	}
	if !found {
		return nil, false, nil
	}
	ref, err := t.rootRef(version, root)
	if err != nil {
		return nil, false, err
	}
	res := &Proof{}
	path := nibbles.FromBytes(keyHash[:])
	for depth := 0; ref != nil; depth++ {
		n, err := t.loadNode(versionstore.NodeKey{Version: ref.version, Path: path[:depth]})
		if err != nil {
			return nil, false, err
		}
		switch n := n.(type) {
		case *leafNode:
			res.Leaf = &ProofLeaf{KeyHash: n.keyHash, ValueHash: n.valueHash}
			return res, true, nil
		case *internalNode:
			nibble := int(path[depth])
			step := ProofStep{Bitmap: uint16(n.children)}
			for i := range n.refs {
				if i != nibble && n.children.get(i) {
					step.Siblings = append(step.Siblings, n.refs[i].hash)
				}
			}
			(*childMap)(&step.Bitmap).unset(nibble)
			res.Steps = append(res.Steps, step)
			ref = nil
			if n.children.get(nibble) {
				child := n.refs[nibble]
				ref = &child
			}
		}
	}
	return res, true, nil
}

// Verify checks that the proof shows the given value for the given key
// hash under the given root.
func (p *Proof) Verify(root, keyHash common.Hash, value []byte, config Config) error {
	config = config.WithDefaults()
	if p.Leaf == nil || p.Leaf.KeyHash != keyHash {
		return fmt.Errorf("%w: key %v not included", ErrInvalidProof, keyHash)
	}
	if p.Leaf.ValueHash != config.Hashing.Digest(value) {
		return fmt.Errorf("%w: value mismatch for key %v", ErrInvalidProof, keyHash)
	}
	return p.checkRoot(root, keyHash, config)
}

// VerifyAbsence checks that the proof shows that the given key hash is not
// present under the given root.
func (p *Proof) VerifyAbsence(root, keyHash common.Hash, config Config) error {
	config = config.WithDefaults()
	if p.Leaf != nil && p.Leaf.KeyHash == keyHash {
		return fmt.Errorf("%w: key %v is included", ErrInvalidProof, keyHash)
	}
	return p.checkRoot(root, keyHash, config)
}

func (p *Proof) checkRoot(root, keyHash common.Hash, config Config) error {
	got, err := p.computeRoot(config.NewScheme(config.Hashing), keyHash)
	if err != nil {
		return err
	}
	if got != root {
		return fmt.Errorf("%w: root mismatch, got %v, expected %v", ErrInvalidProof, got, root)
	}
	return nil
}

// computeRoot folds the proof bottom-up into the root hash it implies.
func (p *Proof) computeRoot(scheme commitment.Scheme, keyHash common.Hash) (common.Hash, error) {
	path := nibbles.FromBytes(keyHash[:])
	depth := len(p.Steps)
	if depth >= len(path) {
		return common.Hash{}, fmt.Errorf("%w: too many steps", ErrInvalidProof)
	}
	null := scheme.Null()
	current := null
	if p.Leaf != nil {
		leafPath := nibbles.FromBytes(p.Leaf.KeyHash[:])
		if leafPath.CommonPrefixLength(path) < depth {
			return common.Hash{}, fmt.Errorf("%w: leaf is not on the path of the key", ErrInvalidProof)
		}
		current = commitLeaf(scheme, p.Leaf.KeyHash, p.Leaf.ValueHash, depth)
	}
	for i := depth - 1; i >= 0; i-- {
		step := p.Steps[i]
		bitmap := childMap(step.Bitmap)
		nibble := int(path[i])
		if bitmap.get(nibble) || bitmap.popCount() != len(step.Siblings) {
			return common.Hash{}, fmt.Errorf("%w: inconsistent step at depth %d", ErrInvalidProof, i)
		}
		if current == null && !bitmap.any() {
			return common.Hash{}, fmt.Errorf("%w: empty node at depth %d", ErrInvalidProof, i)
		}
		var children commitment.Children
		next := 0
		for j := range children {
			switch {
			case j == nibble:
				children[j] = current
			case bitmap.get(j):
				children[j] = step.Siblings[next]
				next++
			default:
				children[j] = null
			}
		}
		current = scheme.CommitBranch(nil, &children, nil)
	}
	return current, nil
}

type stepRecord struct {
	_        struct{} `cbor:",toarray"`
	Bitmap   uint16
	Siblings [][]byte
}

type proofRecord struct {
	_     struct{} `cbor:",toarray"`
	Steps []stepRecord
	Leaf  *leafRecord
}

// Bytes encodes the proof in its CBOR wire format.
func (p *Proof) Bytes() []byte {
	record := proofRecord{}
	for _, step := range p.Steps {
		s := stepRecord{Bitmap: step.Bitmap}
		for _, sibling := range step.Siblings {
			s.Siblings = append(s.Siblings, sibling[:])
		}
		record.Steps = append(record.Steps, s)
	}
	if p.Leaf != nil {
		record.Leaf = &leafRecord{KeyHash: p.Leaf.KeyHash[:], ValueHash: p.Leaf.ValueHash[:]}
	}
	data, err := cbor.Marshal(record)
	if err != nil {
		panic(fmt.Sprintf("failed to encode proof: %v", err))
	}
	return data
}

// ParseProof decodes a proof from its CBOR wire format.
func ParseProof(data []byte) (*Proof, error) {
	var record proofRecord
	if err := cbor.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	res := &Proof{}
	for _, s := range record.Steps {
		step := ProofStep{Bitmap: s.Bitmap}
		for _, sibling := range s.Siblings {
			hash, err := common.HashFromBytes(sibling)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
			}
			step.Siblings = append(step.Siblings, hash)
		}
		res.Steps = append(res.Steps, step)
	}
	if record.Leaf != nil {
		keyHash, err := common.HashFromBytes(record.Leaf.KeyHash)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
		}
		valueHash, err := common.HashFromBytes(record.Leaf.ValueHash)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
		}
		res.Leaf = &ProofLeaf{KeyHash: keyHash, ValueHash: valueHash}
	}
	return res, nil
}
