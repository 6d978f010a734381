// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package memory

import (
	"fmt"
	"slices"
	"sync"

	"github.com/0xsoniclabs/statetrees/backend/rootindex"
	"github.com/0xsoniclabs/statetrees/common"
)

// Index is an in-memory rootindex.Index keeping its entries in a slice
// sorted by version.
type Index struct {
	entries []rootindex.Entry
	mu      sync.RWMutex
}

var _ rootindex.Index = (*Index)(nil)

func NewIndex() *Index {
	return &Index{}
}

func (m *Index) Put(version uint64, root common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.entries); n > 0 && m.entries[n-1].Version >= version {
		return fmt.Errorf("%w: %d after %d", rootindex.ErrVersionOrder, version, m.entries[n-1].Version)
	}
	m.entries = append(m.entries, rootindex.Entry{Version: version, Root: root})
	return nil
}

// search returns the position of the first entry with a version at or above
// the given one.
func (m *Index) search(version uint64) int {
	pos, _ := slices.BinarySearchFunc(m.entries, version, func(e rootindex.Entry, v uint64) int {
		switch {
		case e.Version < v:
			return -1
		case e.Version > v:
			return 1
		}
		return 0
	})
	return pos
}

func (m *Index) Get(version uint64) (common.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos := m.search(version)
	if pos == len(m.entries) || m.entries[pos].Version != version {
		return common.Hash{}, fmt.Errorf("%w: version %d", rootindex.ErrNotFound, version)
	}
	return m.entries[pos].Root, nil
}

func (m *Index) Latest() (rootindex.Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return rootindex.Entry{}, false, nil
	}
	return m.entries[len(m.entries)-1], true, nil
}

func (m *Index) ListRange(from, to uint64) ([]rootindex.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []rootindex.Entry
	for _, e := range m.entries[m.search(from):] {
		if e.Version > to {
			break
		}
		res = append(res, e)
	}
	return res, nil
}

func (m *Index) Count() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.entries)), nil
}

func (m *Index) DeleteBelow(version uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos := m.search(version)
	m.entries = slices.Delete(m.entries, 0, pos)
	return uint64(pos), nil
}

// Close the index
func (m *Index) Close() error {
	return nil // no-op for in-memory index
}
