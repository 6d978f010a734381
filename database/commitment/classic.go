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
	"github.com/fxamacker/cbor/v2"
)

// Classic commits to nodes by hashing their CBOR serialization:
//
//	leaf      ... H(cbor[HP(suffix, leaf), valueHash])
//	extension ... H(cbor[HP(path, extension), child])
//	branch    ... H(cbor[child_0, ..., child_15, valueHash])
//
// Empty children and missing values are encoded as empty byte strings. A
// branch with a non-empty prefix is committed as an extension over the
// plain branch.
type Classic struct {
	hash hashing.Function
}

// NewClassic creates the classic scheme on top of the given hash function.
func NewClassic(hash hashing.Function) *Classic {
	return &Classic{hash: hash}
}

func (c *Classic) Null() common.Hash {
	return common.Hash{}
}

func (c *Classic) CommitLeaf(suffix nibbles.Path, valueHash common.Hash) common.Hash {
	return c.hash.Digest(mustEncode([][]byte{
		nibbles.EncodeHP(suffix, true),
		valueHash[:],
	}))
}

func (c *Classic) CommitBranch(prefix nibbles.Path, children *Children, valueHash *common.Hash) common.Hash {
	items := make([][]byte, 17)
	for i := range children {
		if children[i] == c.Null() {
			items[i] = []byte{}
		} else {
			items[i] = children[i][:]
		}
	}
	items[16] = []byte{}
	if valueHash != nil {
		items[16] = valueHash[:]
	}
	res := c.hash.Digest(mustEncode(items))
	if len(prefix) > 0 {
		return c.CommitExtension(prefix, res)
	}
	return res
}

func (c *Classic) CommitExtension(path nibbles.Path, child common.Hash) common.Hash {
	return c.hash.Digest(mustEncode([][]byte{
		nibbles.EncodeHP(path, false),
		child[:],
	}))
}

func (c *Classic) FoldsExtensions() bool {
	return false
}

func (c *Classic) Name() string {
	return "classic"
}

func mustEncode(items [][]byte) []byte {
	data, err := cbor.Marshal(items)
	if err != nil {
		// byte string arrays are always encodable
		panic(err)
	}
	return data
}
