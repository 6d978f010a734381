// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package nibbles provides the 4-bit path representation used to navigate
// radix-16 tries, together with the hex-prefix (HP) encoding used to store
// partial paths in leaf and extension nodes.
package nibbles

import (
	"errors"
	"fmt"
	"strings"
)

// Nibble is a 4-bit value in the range [0, 15].
type Nibble byte

// Path is a sequence of nibbles. Paths are treated as immutable values;
// operations deriving new paths never modify their inputs.
type Path []Nibble

// ErrInvalidHP is returned when decoding a malformed hex-prefix encoding.
var ErrInvalidHP = errors.New("invalid hex-prefix encoding")

// FromBytes expands the given bytes into a path with two nibbles per byte,
// high nibble first.
func FromBytes(data []byte) Path {
	res := make(Path, 2*len(data))
	for i, b := range data {
		res[2*i] = Nibble(b >> 4)
		res[2*i+1] = Nibble(b & 0xf)
	}
	return res
}

// FromNibbleBytes interprets each byte as a single nibble. It fails if any
// byte exceeds 15.
func FromNibbleBytes(data []byte) (Path, error) {
	res := make(Path, len(data))
	for i, b := range data {
		if b > 0xf {
			return nil, fmt.Errorf("invalid nibble value %d at position %d", b, i)
		}
		res[i] = Nibble(b)
	}
	return res, nil
}

// Bytes packs the path into bytes, two nibbles per byte. For paths of odd
// length the low nibble of the last byte is zero.
func (p Path) Bytes() []byte {
	res := make([]byte, (len(p)+1)/2)
	for i, n := range p {
		if i%2 == 0 {
			res[i/2] = byte(n) << 4
		} else {
			res[i/2] |= byte(n)
		}
	}
	return res
}

// NibbleBytes returns one byte per nibble.
func (p Path) NibbleBytes() []byte {
	res := make([]byte, len(p))
	for i, n := range p {
		res[i] = byte(n)
	}
	return res
}

// Equal reports whether both paths contain the same nibbles.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether the path starts with the given prefix.
func (p Path) HasPrefix(prefix Path) bool {
	return len(p) >= len(prefix) && p[:len(prefix)].Equal(prefix)
}

// CommonPrefixLength returns the number of leading nibbles both paths share.
func (p Path) CommonPrefixLength(other Path) int {
	i := 0
	for i < len(p) && i < len(other) && p[i] == other[i] {
		i++
	}
	return i
}

// Concat creates a new path consisting of p followed by all given parts.
func (p Path) Concat(parts ...Path) Path {
	size := len(p)
	for _, part := range parts {
		size += len(part)
	}
	res := make(Path, 0, size)
	res = append(res, p...)
	for _, part := range parts {
		res = append(res, part...)
	}
	return res
}

// Append creates a new path with the given nibbles added to the end.
func (p Path) Append(n ...Nibble) Path {
	return p.Concat(Path(n))
}

// Clone returns an independent copy of the path.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	return append(Path{}, p...)
}

// String renders the path as a hex string with one character per nibble.
func (p Path) String() string {
	var b strings.Builder
	for _, n := range p {
		b.WriteByte("0123456789abcdef"[n&0xf])
	}
	return b.String()
}

// EncodeHP encodes a path using the hex-prefix encoding. The first nibble
// holds the flags: bit 1 marks a leaf, bit 0 marks an odd length. For odd
// lengths the first path nibble shares the first byte with the flags,
// otherwise the flag byte is padded with a zero nibble.
func EncodeHP(p Path, leaf bool) []byte {
	flags := byte(0)
	if leaf {
		flags = 2
	}
	odd := len(p)%2 == 1
	if odd {
		flags |= 1
	}
	res := make([]byte, 1+len(p)/2)
	rest := p
	if odd {
		res[0] = flags<<4 | byte(p[0])
		rest = p[1:]
	} else {
		res[0] = flags << 4
	}
	for i := 0; i < len(rest); i += 2 {
		res[1+i/2] = byte(rest[i])<<4 | byte(rest[i+1])
	}
	return res
}

// DecodeHP decodes a hex-prefix encoded path, returning the path and the
// leaf flag.
func DecodeHP(data []byte) (Path, bool, error) {
	if len(data) == 0 {
		return nil, false, ErrInvalidHP
	}
	flags := data[0] >> 4
	if flags > 3 {
		return nil, false, fmt.Errorf("%w: flag nibble %d", ErrInvalidHP, flags)
	}
	leaf := flags&2 != 0
	odd := flags&1 != 0
	if !odd && data[0]&0xf != 0 {
		return nil, false, fmt.Errorf("%w: non-zero padding", ErrInvalidHP)
	}
	res := make(Path, 0, 2*len(data))
	if odd {
		res = append(res, Nibble(data[0]&0xf))
	}
	res = append(res, FromBytes(data[1:])...)
	return res, leaf, nil
}
