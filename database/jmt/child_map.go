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

import "math/bits"

// childMap is a bitmap marking the occupied child slots of an internal node.
type childMap uint16

// get returns true if the bit at the specified index is set.
func (m childMap) get(index int) bool {
	return m&(1<<index) != 0
}

// set sets the bit at the specified index.
func (m *childMap) set(index int) {
	*m |= 1 << index
}

// unset clears the bit at the specified index.
func (m *childMap) unset(index int) {
	*m &^= 1 << index
}

// any returns true if any bit in the bitmap is set.
func (m childMap) any() bool {
	return m != 0
}

// popCount returns the number of bits set in the bitmap.
func (m childMap) popCount() int {
	return bits.OnesCount16(uint16(m))
}
