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
	"errors"
	"fmt"

	"github.com/0xsoniclabs/statetrees/common"
	"github.com/0xsoniclabs/statetrees/common/hashing"
	"github.com/0xsoniclabs/statetrees/common/nibbles"
	"github.com/0xsoniclabs/statetrees/database/commitment"
	"github.com/fxamacker/cbor/v2"
)

// CBOR tags of the MPF proof steps.
const (
	mpfBranchTag = 121
	mpfForkTag   = 122
	mpfLeafTag   = 123
)

// ErrUnsupportedScheme is returned when requesting an MPF proof from a trie
// not using the MPF commitment scheme.
var ErrUnsupportedScheme = errors.New("trie does not use the MPF commitment scheme")

// MpfStep is a single step of an MPF proof, describing one branch on the
// path from the root to the proven leaf.
type MpfStep interface {
	// skip is the length of the prefix folded into the branch.
	skip() int
	// merkle computes the Merkle root of the branch's children from the
	// commitment of the child on the proven path.
	merkle(hash hashing.Function, path nibbles.Path, next int, me common.Hash) (common.Hash, error)
}

// MpfBranch describes a branch with more than two children by the roots of
// the four sibling sub-trees of the binary Merkle tree over its children.
type MpfBranch struct {
	Skip      int
	Neighbors [4]common.Hash
}

// MpfFork describes a branch with two children, the other one being a
// branch with the given prefix and Merkle root.
type MpfFork struct {
	Skip   int
	Nibble nibbles.Nibble
	Prefix nibbles.Path
	Root   common.Hash
}

// MpfLeaf describes a branch with two children, the other one being a leaf
// with the given key and value hashes.
type MpfLeaf struct {
	Skip  int
	Key   common.Hash
	Value common.Hash
}

func (s *MpfBranch) skip() int { return s.Skip }
func (s *MpfFork) skip() int   { return s.Skip }
func (s *MpfLeaf) skip() int   { return s.Skip }

func (s *MpfBranch) merkle(hash hashing.Function, path nibbles.Path, next int, me common.Hash) (common.Hash, error) {
	return commitment.MerkleFromNeighbors(hash, int(path[next-1]), me, s.Neighbors), nil
}

func (s *MpfFork) merkle(hash hashing.Function, path nibbles.Path, next int, me common.Hash) (common.Hash, error) {
	if s.Nibble > 15 || s.Nibble == path[next-1] {
		return common.Hash{}, fmt.Errorf("%w: invalid fork neighbor nibble %d", ErrInvalidProof, s.Nibble)
	}
	var children commitment.Children
	children[path[next-1]] = me
	children[s.Nibble] = hash.Digest(s.Prefix.NibbleBytes(), s.Root[:])
	return commitment.Merkle16(hash, &children), nil
}

func (s *MpfLeaf) merkle(hash hashing.Function, path nibbles.Path, next int, me common.Hash) (common.Hash, error) {
	neighbor := nibbles.FromBytes(s.Key[:])
	if neighbor[next-1] == path[next-1] || !neighbor[:next-1].Equal(path[:next-1]) {
		return common.Hash{}, fmt.Errorf("%w: leaf neighbor not forking at step", ErrInvalidProof)
	}
	var children commitment.Children
	children[path[next-1]] = me
	children[neighbor[next-1]] = commitment.NewMpf(hash).CommitLeaf(neighbor[next:], s.Value)
	return commitment.Merkle16(hash, &children), nil
}

// MpfProof proves the inclusion or the absence of a key in a secure trie
// using the MPF commitment scheme. Steps are ordered from the root towards
// the leaf. In an absence proof the last step describes what occupies the
// key's position: a branch step leaves the key's slot empty, while a fork
// or leaf step is the node found at the key's position itself, diverging
// from the key after skip nibbles.
type MpfProof struct {
	Steps []MpfStep
}

// ComputeRoot derives the root hash of a trie containing the given key and
// value hashes from the proof.
func (p *MpfProof) ComputeRoot(hash hashing.Function, keyHash, valueHash common.Hash) (common.Hash, error) {
	return p.computeRoot(hash, nibbles.FromBytes(keyHash[:]), &valueHash, 0, p.Steps)
}

// ComputeAbsentRoot derives the root hash of a trie not containing the given
// key hash from the proof.
func (p *MpfProof) ComputeAbsentRoot(hash hashing.Function, keyHash common.Hash) (common.Hash, error) {
	return p.computeRoot(hash, nibbles.FromBytes(keyHash[:]), nil, 0, p.Steps)
}

// computeRoot folds the steps starting at the given cursor. A nil value hash
// selects the interpretation as absence proof.
func (p *MpfProof) computeRoot(hash hashing.Function, path nibbles.Path, valueHash *common.Hash, cursor int, steps []MpfStep) (common.Hash, error) {
	scheme := commitment.NewMpf(hash)
	if len(steps) == 0 {
		if valueHash == nil {
			return scheme.Null(), nil
		}
		return scheme.CommitLeaf(path[cursor:], *valueHash), nil
	}
	step := steps[0]
	if skip := step.skip(); skip < 0 || skip > len(path)-cursor-1 {
		return common.Hash{}, fmt.Errorf("%w: step exceeds key length", ErrInvalidProof)
	}
	next := cursor + 1 + step.skip()
	if valueHash == nil && len(steps) == 1 {
		switch s := step.(type) {
		case *MpfFork:
			return s.occupant(hash, path, cursor, next)
		case *MpfLeaf:
			return s.occupant(hash, path, cursor, next)
		}
	}
	me, err := p.computeRoot(hash, path, valueHash, next, steps[1:])
	if err != nil {
		return common.Hash{}, err
	}
	merkle, err := step.merkle(hash, path, next, me)
	if err != nil {
		return common.Hash{}, err
	}
	return hash.Digest(path[cursor:next-1].NibbleBytes(), merkle[:]), nil
}

// occupant computes the commitment of the branch found at the cursor whose
// prefix diverges from the path at the nibble preceding next.
func (s *MpfFork) occupant(hash hashing.Function, path nibbles.Path, cursor, next int) (common.Hash, error) {
	if s.Nibble > 15 || s.Nibble == path[next-1] {
		return common.Hash{}, fmt.Errorf("%w: branch prefix not diverging from key", ErrInvalidProof)
	}
	prefix := path[cursor : next-1].Append(s.Nibble).Concat(s.Prefix)
	if cursor+len(prefix) >= len(path) {
		return common.Hash{}, fmt.Errorf("%w: branch prefix exceeds key length", ErrInvalidProof)
	}
	return hash.Digest(prefix.NibbleBytes(), s.Root[:]), nil
}

// occupant computes the commitment of the leaf found at the cursor whose key
// diverges from the path at the nibble preceding next.
func (s *MpfLeaf) occupant(hash hashing.Function, path nibbles.Path, cursor, next int) (common.Hash, error) {
	neighbor := nibbles.FromBytes(s.Key[:])
	if neighbor[next-1] == path[next-1] || !neighbor[:next-1].Equal(path[:next-1]) {
		return common.Hash{}, fmt.Errorf("%w: leaf not diverging from key at step", ErrInvalidProof)
	}
	return commitment.NewMpf(hash).CommitLeaf(neighbor[cursor:], s.Value), nil
}

// Wire format of the steps: tagged CBOR arrays.
type mpfBranchWire struct {
	_         struct{} `cbor:",toarray"`
	Skip      uint64
	Neighbors []byte
}

type mpfNeighborWire struct {
	_      struct{} `cbor:",toarray"`
	Nibble uint64
	Prefix []byte
	Root   []byte
}

type mpfForkWire struct {
	_        struct{} `cbor:",toarray"`
	Skip     uint64
	Neighbor cbor.RawTag
}

type mpfLeafWire struct {
	_     struct{} `cbor:",toarray"`
	Skip  uint64
	Key   []byte
	Value []byte
}

// MarshalCBOR encodes the proof as an array of tagged steps.
func (p *MpfProof) MarshalCBOR() ([]byte, error) {
	steps := make([]cbor.Tag, 0, len(p.Steps))
	for _, step := range p.Steps {
		switch s := step.(type) {
		case *MpfBranch:
			neighbors := make([]byte, 0, 4*common.HashSize)
			for _, n := range s.Neighbors {
				neighbors = append(neighbors, n[:]...)
			}
			steps = append(steps, cbor.Tag{Number: mpfBranchTag, Content: mpfBranchWire{Skip: uint64(s.Skip), Neighbors: neighbors}})
		case *MpfFork:
			neighbor, err := cbor.Marshal(mpfNeighborWire{Nibble: uint64(s.Nibble), Prefix: s.Prefix.NibbleBytes(), Root: s.Root[:]})
			if err != nil {
				return nil, err
			}
			steps = append(steps, cbor.Tag{Number: mpfForkTag, Content: mpfForkWire{
				Skip:     uint64(s.Skip),
				Neighbor: cbor.RawTag{Number: mpfBranchTag, Content: neighbor},
			}})
		case *MpfLeaf:
			steps = append(steps, cbor.Tag{Number: mpfLeafTag, Content: mpfLeafWire{Skip: uint64(s.Skip), Key: s.Key[:], Value: s.Value[:]}})
		default:
			return nil, fmt.Errorf("unknown proof step %T", step)
		}
	}
	return cbor.Marshal(steps)
}

// UnmarshalCBOR decodes a proof produced by MarshalCBOR.
func (p *MpfProof) UnmarshalCBOR(data []byte) error {
	var raw []cbor.RawTag
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	steps := make([]MpfStep, 0, len(raw))
	for i, tag := range raw {
		step, err := decodeMpfStep(tag)
		if err != nil {
			return fmt.Errorf("%w: step %d: %v", ErrInvalidProof, i, err)
		}
		steps = append(steps, step)
	}
	p.Steps = steps
	return nil
}

// maxMpfSkip is the longest prefix a branch below the root can fold.
const maxMpfSkip = 2*common.HashSize - 1

func decodeMpfSkip(skip uint64) (int, error) {
	if skip > maxMpfSkip {
		return 0, fmt.Errorf("skip %d exceeds key length", skip)
	}
	return int(skip), nil
}

func decodeMpfStep(tag cbor.RawTag) (MpfStep, error) {
	switch tag.Number {
	case mpfBranchTag:
		var wire mpfBranchWire
		if err := cbor.Unmarshal(tag.Content, &wire); err != nil {
			return nil, err
		}
		if len(wire.Neighbors) != 4*common.HashSize {
			return nil, fmt.Errorf("invalid neighbors length %d", len(wire.Neighbors))
		}
		skip, err := decodeMpfSkip(wire.Skip)
		if err != nil {
			return nil, err
		}
		res := &MpfBranch{Skip: skip}
		for i := range res.Neighbors {
			res.Neighbors[i] = common.Hash(wire.Neighbors[i*common.HashSize:])
		}
		return res, nil
	case mpfForkTag:
		var wire mpfForkWire
		if err := cbor.Unmarshal(tag.Content, &wire); err != nil {
			return nil, err
		}
		skip, err := decodeMpfSkip(wire.Skip)
		if err != nil {
			return nil, err
		}
		if wire.Neighbor.Number != mpfBranchTag {
			return nil, fmt.Errorf("unexpected neighbor tag %d", wire.Neighbor.Number)
		}
		var neighbor mpfNeighborWire
		if err := cbor.Unmarshal(wire.Neighbor.Content, &neighbor); err != nil {
			return nil, err
		}
		root, err := common.HashFromBytes(neighbor.Root)
		if err != nil {
			return nil, err
		}
		var prefix nibbles.Path
		if len(neighbor.Prefix) > 0 {
			if prefix, err = nibbles.FromNibbleBytes(neighbor.Prefix); err != nil {
				return nil, err
			}
		}
		if neighbor.Nibble > 15 {
			return nil, fmt.Errorf("invalid nibble %d", neighbor.Nibble)
		}
		return &MpfFork{Skip: skip, Nibble: nibbles.Nibble(neighbor.Nibble), Prefix: prefix, Root: root}, nil
	case mpfLeafTag:
		var wire mpfLeafWire
		if err := cbor.Unmarshal(tag.Content, &wire); err != nil {
			return nil, err
		}
		skip, err := decodeMpfSkip(wire.Skip)
		if err != nil {
			return nil, err
		}
		key, err := common.HashFromBytes(wire.Key)
		if err != nil {
			return nil, err
		}
		value, err := common.HashFromBytes(wire.Value)
		if err != nil {
			return nil, err
		}
		return &MpfLeaf{Skip: skip, Key: key, Value: value}, nil
	}
	return nil, fmt.Errorf("unknown step tag %d", tag.Number)
}

// GetMpfProof creates an MPF proof for the given key in its wire format. If
// the key is present, the proof shows its inclusion and found is true.
// Otherwise it is a proof of the key's absence.
func (s *SecureTrie) GetMpfProof(key []byte) (proof []byte, found bool, err error) {
	res, found, err := s.getMpfProof(s.HashKey(key))
	if err != nil {
		return nil, false, err
	}
	data, err := res.MarshalCBOR()
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode proof: %w", err)
	}
	return data, found, nil
}

func (s *SecureTrie) getMpfProof(keyHash common.Hash) (*MpfProof, bool, error) {
	t := s.trie
	if _, ok := t.scheme.(*commitment.Mpf); !ok {
		return nil, false, ErrUnsupportedScheme
	}
	res := &MpfProof{}
	path := nibbles.FromBytes(keyHash[:])
	cursor := 0
	ref := t.RootHash()
	null := t.scheme.Null()
	for ref != null {
		n, err := t.load(ref)
		if err != nil {
			return nil, false, err
		}
		skip := 0
		if ext, ok := n.(*extensionNode); ok {
			child, err := t.load(ext.child)
			if err != nil {
				return nil, false, err
			}
			if !path[cursor:].HasPrefix(ext.path) {
				below, ok := child.(*branchNode)
				if !ok {
					return nil, false, fmt.Errorf("%w: extension not followed by a branch", ErrCorruptedNode)
				}
				diverge := path[cursor:].CommonPrefixLength(ext.path)
				res.Steps = append(res.Steps, &MpfFork{
					Skip:   diverge,
					Nibble: ext.path[diverge],
					Prefix: ext.path[diverge+1:].Clone(),
					Root:   commitment.Merkle16(t.hash, &below.children),
				})
				return res, false, nil
			}
			skip = len(ext.path)
			n = child
		}
		switch n := n.(type) {
		case *leafNode:
			if n.path.Equal(path[cursor:]) {
				return res, true, nil
			}
			key := path[:cursor].Concat(n.path)
			if len(key) != 2*common.HashSize {
				return nil, false, fmt.Errorf("%w: leaf with key of %d nibbles", ErrCorruptedNode, len(key))
			}
			res.Steps = append(res.Steps, &MpfLeaf{
				Skip:  path[cursor:].CommonPrefixLength(n.path),
				Key:   common.Hash(key.Bytes()),
				Value: t.hash.Digest(n.value),
			})
			return res, false, nil
		case *extensionNode:
			return nil, false, fmt.Errorf("%w: extension below extension", ErrCorruptedNode)
		case *branchNode:
			if n.value != nil || cursor+skip >= len(path) {
				return nil, false, fmt.Errorf("%w: branch value in secure trie", ErrCorruptedNode)
			}
			index := path[cursor+skip]
			if n.children[index] == null {
				res.Steps = append(res.Steps, &MpfBranch{Skip: skip, Neighbors: commitment.Neighbors(t.hash, &n.children, int(index))})
				return res, false, nil
			}
			step, err := s.mpfStep(n, path[:cursor+skip], index, skip)
			if err != nil {
				return nil, false, err
			}
			res.Steps = append(res.Steps, step)
			cursor += skip + 1
			ref = n.children[index]
		}
	}
	return res, false, nil
}

// mpfStep describes a branch on the path at the given prefix, which is
// left through the child with the given index.
func (s *SecureTrie) mpfStep(branch *branchNode, prefix nibbles.Path, index nibbles.Nibble, skip int) (MpfStep, error) {
	t := s.trie
	null := t.scheme.Null()
	if branch.children.Count(null) != 2 {
		return &MpfBranch{Skip: skip, Neighbors: commitment.Neighbors(t.hash, &branch.children, int(index))}, nil
	}
	other := 0
	for i, child := range branch.children {
		if child != null && i != int(index) {
			other = i
		}
	}
	neighbor, err := t.load(branch.children[other])
	if err != nil {
		return nil, err
	}
	switch n := neighbor.(type) {
	case *leafNode:
		key := prefix.Append(nibbles.Nibble(other)).Concat(n.path)
		if len(key) != 2*common.HashSize {
			return nil, fmt.Errorf("%w: leaf with key of %d nibbles", ErrCorruptedNode, len(key))
		}
		return &MpfLeaf{Skip: skip, Key: common.Hash(key.Bytes()), Value: t.hash.Digest(n.value)}, nil
	case *extensionNode:
		child, err := t.load(n.child)
		if err != nil {
			return nil, err
		}
		below, ok := child.(*branchNode)
		if !ok {
			return nil, fmt.Errorf("%w: extension not followed by a branch", ErrCorruptedNode)
		}
		return &MpfFork{Skip: skip, Nibble: nibbles.Nibble(other), Prefix: n.path.Clone(), Root: commitment.Merkle16(t.hash, &below.children)}, nil
	case *branchNode:
		return &MpfFork{Skip: skip, Nibble: nibbles.Nibble(other), Root: commitment.Merkle16(t.hash, &n.children)}, nil
	}
	panic(fmt.Sprintf("unknown node type %T", neighbor))
}

// VerifyMpfProof checks that the proof, in its wire format, shows the key
// to be bound to the value in a secure trie with the given root hash.
func VerifyMpfProof(hash hashing.Function, root common.Hash, key, value []byte, proof []byte) error {
	var decoded MpfProof
	if err := decoded.UnmarshalCBOR(proof); err != nil {
		return err
	}
	got, err := decoded.ComputeRoot(hash, hash.Digest(key), hash.Digest(value))
	if err != nil {
		return err
	}
	return checkMpfRoot(got, root)
}

// VerifyMpfAbsence checks that the proof, in its wire format, shows the key
// to be absent from a secure trie with the given root hash.
func VerifyMpfAbsence(hash hashing.Function, root common.Hash, key []byte, proof []byte) error {
	var decoded MpfProof
	if err := decoded.UnmarshalCBOR(proof); err != nil {
		return err
	}
	got, err := decoded.ComputeAbsentRoot(hash, hash.Digest(key))
	if err != nil {
		return err
	}
	return checkMpfRoot(got, root)
}

func checkMpfRoot(got, want common.Hash) error {
	if got != want {
		return fmt.Errorf("%w: computed root %v, expected %v", ErrInvalidProof, got, want)
	}
	return nil
}

// VerifyMpfProof checks an MPF proof against the trie's current root.
func (s *SecureTrie) VerifyMpfProof(key, value []byte, proof []byte) error {
	return VerifyMpfProof(s.trie.hash, s.RootHash(), key, value, proof)
}

// VerifyMpfAbsence checks an MPF absence proof against the trie's current
// root.
func (s *SecureTrie) VerifyMpfAbsence(key []byte, proof []byte) error {
	return VerifyMpfAbsence(s.trie.hash, s.RootHash(), key, proof)
}
