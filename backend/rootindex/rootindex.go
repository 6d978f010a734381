// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package rootindex records the root hashes of a content-addressed trie by
// version. Together with the node store it allows reopening earlier states
// of a trie and tells the garbage collector which roots are retained.
package rootindex

import (
	"errors"

	"github.com/0xsoniclabs/statetrees/common"
)

var (
	// ErrNotFound is returned when no root is recorded for a version.
	ErrNotFound = errors.New("root not found")
	// ErrVersionOrder is returned when recording a version not greater than
	// the latest recorded one.
	ErrVersionOrder = errors.New("versions must be recorded in increasing order")
)

// Entry is a recorded root.
type Entry struct {
	Version uint64
	Root    common.Hash
}

// Index maps versions to trie roots. Implementations are safe for
// concurrent use.
type Index interface {
	// Put records the root of the given version, which has to be greater
	// than all recorded versions.
	Put(version uint64, root common.Hash) error

	// Get returns the root of the given version or ErrNotFound.
	Get(version uint64) (common.Hash, error)

	// Latest returns the entry with the highest version. If nothing was
	// recorded, found is false.
	Latest() (entry Entry, found bool, err error)

	// ListRange returns all entries with from <= version <= to in ascending
	// order of versions.
	ListRange(from, to uint64) ([]Entry, error)

	// Count returns the number of recorded entries.
	Count() (uint64, error)

	// DeleteBelow removes all entries with versions below the given one and
	// returns the number of removed entries.
	DeleteBelow(version uint64) (uint64, error)

	// Close releases the resources of the index.
	Close() error
}
