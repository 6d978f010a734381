// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package commitment

import (
	"github.com/0xsoniclabs/statetrees/common"
	"github.com/0xsoniclabs/statetrees/common/hashing"
	"github.com/0xsoniclabs/statetrees/common/nibbles"
)

// Mpf implements the commitment rules of the Merkle Patricia Forestry, the
// trie layout verified by on-chain validators on Cardano:
//
//	leaf   ... H(suffix encoding || valueHash)
//	branch ... H(nibble bytes of prefix || merkle root of the 16 children)
//
// The suffix encoding is 0xff followed by the packed nibbles for suffixes of
// even length and 0x00, the first nibble, and the packed remainder for odd
// ones. The children are combined by a binary Merkle tree of depth 4 where
// empty children contribute the null digest. Extensions are folded into the
// prefix of the branch below them.
type Mpf struct {
	hash hashing.Function
}

// NewMpf creates the MPF scheme on top of the given hash function.
func NewMpf(hash hashing.Function) *Mpf {
	return &Mpf{hash: hash}
}

func (m *Mpf) Null() common.Hash {
	return common.Hash{}
}

func (m *Mpf) CommitLeaf(suffix nibbles.Path, valueHash common.Hash) common.Hash {
	return m.hash.Digest(EncodeMpfSuffix(suffix), valueHash[:])
}

func (m *Mpf) CommitBranch(prefix nibbles.Path, children *Children, valueHash *common.Hash) common.Hash {
	root := Merkle16(m.hash, children)
	if valueHash != nil {
		leaf := m.CommitLeaf(nil, *valueHash)
		root = m.hash.Digest(root[:], leaf[:])
	}
	return m.hash.Digest(prefix.NibbleBytes(), root[:])
}

// CommitExtension is only reached for extensions without a branch below,
// which do not occur in well-formed tries.
func (m *Mpf) CommitExtension(path nibbles.Path, child common.Hash) common.Hash {
	return m.hash.Digest(path.NibbleBytes(), child[:])
}

func (m *Mpf) FoldsExtensions() bool {
	return true
}

func (m *Mpf) Name() string {
	return "mpf"
}

// EncodeMpfSuffix produces the leaf path encoding of the MPF layout.
func EncodeMpfSuffix(suffix nibbles.Path) []byte {
	if len(suffix)%2 == 0 {
		return append([]byte{0xff}, suffix.Bytes()...)
	}
	return append([]byte{0x00, byte(suffix[0])}, suffix[1:].Bytes()...)
}

// Merkle16 computes the root of the binary Merkle tree over the 16 children.
func Merkle16(hash hashing.Function, children *Children) common.Hash {
	return merkleRange(hash, children[:])
}

// Neighbors returns the roots of the four sibling sub-trees met on the way
// from the child at the given index to the root of the binary Merkle tree
// over all children. The sibling closest to the root comes first.
func Neighbors(hash hashing.Function, children *Children, index int) [4]common.Hash {
	var res [4]common.Hash
	start, size := 0, 16
	for level := range 4 {
		half := size / 2
		if index < start+half {
			res[level] = merkleRange(hash, children[start+half:start+size])
		} else {
			res[level] = merkleRange(hash, children[start:start+half])
			start += half
		}
		size = half
	}
	return res
}

// MerkleFromNeighbors recomputes the root of the binary Merkle tree over 16
// children from the child at the given index and its neighbors as produced
// by Neighbors.
func MerkleFromNeighbors(hash hashing.Function, index int, me common.Hash, neighbors [4]common.Hash) common.Hash {
	cur := me
	for level := 3; level >= 0; level-- {
		// bit 3-level of the index decides the side at this level
		if index&(1<<(3-level)) == 0 {
			cur = hash.Digest(cur[:], neighbors[level][:])
		} else {
			cur = hash.Digest(neighbors[level][:], cur[:])
		}
	}
	return cur
}

func merkleRange(hash hashing.Function, layer []common.Hash) common.Hash {
	cur := append([]common.Hash(nil), layer...)
	for len(cur) > 1 {
		next := make([]common.Hash, len(cur)/2)
		for i := range next {
			next[i] = hash.Digest(cur[2*i][:], cur[2*i+1][:])
		}
		cur = next
	}
	return cur[0]
}
