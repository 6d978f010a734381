// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package hashing provides the pluggable hash functions used to derive node
// commitments and hashed trie paths. All functions produce 32-byte digests,
// are stateless, and are safe for concurrent use.
package hashing

import (
	"fmt"
	"strings"

	"github.com/0xsoniclabs/statetrees/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// Function maps a byte sequence to a 32-byte digest. If multiple parts are
// given, the digest covers their concatenation.
type Function interface {
	Digest(parts ...[]byte) common.Hash
	Name() string
}

// Default is the hash function used when no other is configured.
var Default Function = Blake2b256{}

// Blake2b256 is the 256-bit variant of BLAKE2b.
type Blake2b256 struct{}

func (Blake2b256) Digest(parts ...[]byte) common.Hash {
	h, _ := blake2b.New256(nil) // only fails for oversized keys
	for _, part := range parts {
		h.Write(part)
	}
	var res common.Hash
	h.Sum(res[:0])
	return res
}

func (Blake2b256) Name() string {
	return "blake2b256"
}

// Keccak256 is the legacy Keccak hash used by Ethereum.
type Keccak256 struct{}

func (Keccak256) Digest(parts ...[]byte) common.Hash {
	return common.Hash(crypto.Keccak256Hash(parts...))
}

func (Keccak256) Name() string {
	return "keccak256"
}

// Blake3 is the 256-bit output of BLAKE3.
type Blake3 struct{}

func (Blake3) Digest(parts ...[]byte) common.Hash {
	h := blake3.New()
	for _, part := range parts {
		h.Write(part)
	}
	var res common.Hash
	h.Sum(res[:0])
	return res
}

func (Blake3) Name() string {
	return "blake3"
}

// All lists every supported hash function.
var All = []Function{Blake2b256{}, Keccak256{}, Blake3{}}

// ByName resolves a hash function from its name as reported by Name. The
// lookup is case insensitive.
func ByName(name string) (Function, error) {
	for _, f := range All {
		if strings.EqualFold(f.Name(), name) {
			return f, nil
		}
	}
	return nil, fmt.Errorf("unknown hash function %q", name)
}
