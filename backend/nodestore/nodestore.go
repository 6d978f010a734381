// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package nodestore defines the content-addressed storage of trie nodes.
// Nodes are identified by their commitment; the same identity always maps
// to the same serialized node, which makes records immutable and freely
// shareable between tries.
package nodestore

//go:generate mockgen -source nodestore.go -destination nodestore_mocks.go -package nodestore

import (
	"errors"

	"github.com/0xsoniclabs/statetrees/common"
)

// ErrNotFound is returned when a requested node is not present.
var ErrNotFound = errors.New("node not found")

// Node is a serialized node together with its identity.
type Node struct {
	Hash common.Hash
	Data []byte
}

// Store is a content-addressed node store. Implementations are safe for
// concurrent reads alongside a single writer.
type Store interface {
	// Get returns the serialized node with the given hash or ErrNotFound.
	Get(hash common.Hash) ([]byte, error)

	// Put stores a single node.
	Put(hash common.Hash, data []byte) error

	// PutAll stores all given nodes atomically: either all or none of them
	// become visible.
	PutAll(nodes []Node) error

	// Delete removes the node with the given hash. Deleting a missing node
	// is not an error.
	Delete(hash common.Hash) error

	// ForEachHash calls visit with the hash of every stored node in an
	// unspecified order, stopping at the first error. The visited set is
	// fixed when the iteration starts; visit may delete nodes.
	ForEachHash(visit func(hash common.Hash) error) error

	// Flush writes buffered data to the underlying storage.
	Flush() error

	// Close flushes and releases all resources.
	Close() error
}
