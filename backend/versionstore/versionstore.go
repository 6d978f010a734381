// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package versionstore defines the version-addressed storage used by the
// Jellyfish Merkle Tree. Nodes are identified by the version that wrote them
// and their position in the tree. Besides nodes, a store keeps the history
// of values per key hash, the root hash of every retained version, and an
// index of superseded (stale) nodes driving pruning.
//
// Records written for a version are never modified by later versions; they
// are only superseded, recorded in the stale index, and eventually removed
// by pruning once no retained version can reach them.
package versionstore

//go:generate mockgen -source versionstore.go -destination versionstore_mocks.go -package versionstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/0xsoniclabs/statetrees/common"
	"github.com/0xsoniclabs/statetrees/common/nibbles"
)

var (
	// ErrNotFound is returned when a requested node is not present.
	ErrNotFound = errors.New("node not found")
	// ErrVersionConflict is returned when committing a version that is not
	// newer than the latest committed version.
	ErrVersionConflict = errors.New("version conflict")
	// ErrUnknownVersion is returned when truncating to a version that has
	// never been committed or has been pruned.
	ErrUnknownVersion = errors.New("unknown version")
)

// NodeKey identifies a node by the version that wrote it and its path from
// the root.
type NodeKey struct {
	Version uint64
	Path    nibbles.Path
}

func (k NodeKey) String() string {
	return fmt.Sprintf("%d:%v", k.Version, k.Path)
}

// EncodePath produces a self-delimiting encoding of a node path: its length
// followed by one byte per nibble. Encoded paths never are empty.
func EncodePath(path nibbles.Path) []byte {
	res := make([]byte, 1, 1+len(path))
	res[0] = byte(len(path))
	return append(res, path.NibbleBytes()...)
}

// DecodePath inverts EncodePath.
func DecodePath(data []byte) (nibbles.Path, error) {
	if len(data) == 0 || int(data[0]) != len(data)-1 {
		return nil, fmt.Errorf("invalid encoded path %x", data)
	}
	return nibbles.FromNibbleBytes(data[1:])
}

// EncodeVersion encodes a version as 8 big-endian bytes, preserving order.
func EncodeVersion(version uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, version)
}

// Stats summarizes the number of records held by a store.
type Stats struct {
	Nodes      uint64
	StaleNodes uint64
	Values     uint64
	Roots      uint64
}

// Store is a version-addressed node store. Implementations are safe for
// concurrent reads alongside a single writer.
type Store interface {
	// LatestVersion returns the latest committed version and its root hash.
	// If nothing has been committed yet, found is false.
	LatestVersion() (version uint64, root common.Hash, found bool, err error)

	// RootHash returns the root hash committed for the given version. If the
	// version was never committed or has been pruned, found is false.
	RootHash(version uint64) (root common.Hash, found bool, err error)

	// GetNode returns the node with the exact given key or ErrNotFound.
	GetNode(key NodeKey) ([]byte, error)

	// FloorNode returns the newest node at the given path written at or
	// before the given version, or ErrNotFound.
	FloorNode(path nibbles.Path, version uint64) (NodeKey, []byte, error)

	// GetValue returns the value most recently written for the given key
	// hash at or before the given version.
	GetValue(keyHash common.Hash, version uint64) (value []byte, found bool, err error)

	// BeginCommit starts collecting the records of a new version. Nothing is
	// visible until the returned batch is committed.
	BeginCommit(version uint64) CommitBatch

	// PruneUpTo removes every record that is not reachable from any version
	// at or after the given version, which is clamped to the latest version.
	// It returns the number of removed node and value records, on failure
	// the number removed before the failure. Interrupted prunes leave the
	// store valid and can be repeated.
	PruneUpTo(version uint64) (uint64, error)

	// TruncateAfter removes all records written after the given version and
	// makes it the latest version again.
	TruncateAfter(version uint64) error

	// Stats counts the records held by the store.
	Stats() (Stats, error)

	// Close releases all resources held by the store.
	Close() error
}

// CommitBatch collects the records of a single version and writes them
// atomically.
type CommitBatch interface {
	// PutNode adds a node written by this version.
	PutNode(key NodeKey, data []byte)
	// MarkStale records that the given node is superseded by this version.
	MarkStale(staleSince uint64, key NodeKey)
	// PutValue adds a value written by this version.
	PutValue(keyHash common.Hash, value []byte)
	// SetRootHash sets the root hash of this version.
	SetRootHash(root common.Hash)
	// Commit writes all collected records atomically. On failure, none of
	// them become visible.
	Commit() error
	// Discard drops all collected records.
	Discard()
}
