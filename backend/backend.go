// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package backend

import (
	"fmt"

	"github.com/pbnjay/memory"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// TableSpace prefixes all keys of a logical table inside a shared LevelDB
// instance, allowing several stores to share one database.
type TableSpace byte

const (
	// MptNodeKey is the table of content-addressed trie nodes.
	MptNodeKey TableSpace = 'M'
	// MptRootKey maps trie versions to root hashes.
	MptRootKey TableSpace = 'H'
	// JmtNodeKey is the table of version-addressed tree nodes.
	JmtNodeKey TableSpace = 'N'
	// JmtStaleKey is the index of superseded tree nodes.
	JmtStaleKey TableSpace = 'S'
	// JmtValueKey is the table of the value history.
	JmtValueKey TableSpace = 'V'
	// JmtRootKey maps versions to root hashes.
	JmtRootKey TableSpace = 'R'
	// JmtLatestKey holds the latest committed version.
	JmtLatestKey TableSpace = 'L'
)

// OpenLevelDb opens a LevelDB instance at the given directory, creating it
// if needed. If no options are given, defaults tuned for node workloads are
// used.
func OpenLevelDb(path string, options *opt.Options) (*leveldb.DB, error) {
	if options == nil {
		options = &opt.Options{
			BlockCacheCapacity: 64 * opt.MiB,
			WriteBuffer:        32 * opt.MiB,
		}
	}
	db, err := leveldb.OpenFile(path, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open LevelDB at %s: %w", path, err)
	}
	return db, nil
}

// DefaultCacheSize returns a number of cache entries of the given average
// size that occupies about 1/64 of the physical memory, bounded to
// [1_000, 10_000_000] entries.
func DefaultCacheSize(entrySize int) int {
	if entrySize <= 0 {
		entrySize = 1
	}
	res := memory.TotalMemory() / 64 / uint64(entrySize)
	switch {
	case res < 1_000:
		return 1_000
	case res > 10_000_000:
		return 10_000_000
	}
	return int(res)
}
