// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import (
	"encoding/hex"
	"fmt"
)

// HashSize is the number of bytes of every digest produced by the hash
// functions and commitment schemes of this module.
const HashSize = 32

// Hash is a 32-byte digest, used as node identity, commitment and root hash.
type Hash [HashSize]byte

// HashFromBytes converts the given slice into a Hash. It fails if the slice
// does not have exactly HashSize bytes.
func HashFromBytes(data []byte) (Hash, error) {
	var res Hash
	if len(data) != HashSize {
		return res, fmt.Errorf("invalid hash length %d, expected %d", len(data), HashSize)
	}
	copy(res[:], data)
	return res, nil
}

// IsZero is true for the all-zero hash, which is used as the null digest.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Bytes returns a copy of the hash as a slice.
func (h Hash) Bytes() []byte {
	res := make([]byte, HashSize)
	copy(res, h[:])
	return res
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MapEntry is a key/value pair, produced for instance by prefix scans.
type MapEntry[K any, V any] struct {
	Key K
	Val V
}

func (e MapEntry[K, V]) String() string {
	return fmt.Sprintf("Entry: %v -> %v", e.Key, e.Val)
}
