// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package mpt

import (
	"errors"
	"fmt"

	"github.com/0xsoniclabs/statetrees/backend/nodestore"
	"github.com/0xsoniclabs/statetrees/backend/rootindex"
	"github.com/0xsoniclabs/statetrees/common"
	"github.com/ethereum/go-ethereum/log"
)

// ErrUnknownVersion is returned when opening a version without recorded
// root, either because it was never committed or because it was collected.
var ErrUnknownVersion = errors.New("unknown trie version")

// History records the roots of a secure trie by version and removes the
// nodes no retained root references any more. Nodes are shared between
// versions, so collecting garbage requires marking every retained root.
type History struct {
	store  nodestore.Store
	roots  rootindex.Index
	config Config
}

// GcResult summarizes a garbage collection run.
type GcResult struct {
	RetainedRoots  int
	RemovedRoots   uint64
	ReachableNodes int
	RemovedNodes   uint64
}

func NewHistory(store nodestore.Store, roots rootindex.Index, config Config) *History {
	return &History{store: store, roots: roots, config: config.WithDefaults()}
}

// Commit records the current root of the given trie as the given version.
// Versions have to increase.
func (h *History) Commit(version uint64, trie *SecureTrie) error {
	root := trie.RootHash()
	if err := h.store.Flush(); err != nil {
		return fmt.Errorf("failed to flush nodes of version %d: %w", version, err)
	}
	if err := h.roots.Put(version, root); err != nil {
		return err
	}
	log.Debug("Trie version committed", "version", version, "root", root)
	return nil
}

// Latest returns the most recently committed version.
func (h *History) Latest() (rootindex.Entry, bool, error) {
	return h.roots.Latest()
}

// Open opens the trie as of the given version.
func (h *History) Open(version uint64) (*SecureTrie, error) {
	root, err := h.roots.Get(version)
	if errors.Is(err, rootindex.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
	if err != nil {
		return nil, err
	}
	return OpenSecureTrie(h.store, h.config, root)
}

// OpenLatest opens the most recently committed version, or an empty trie if
// nothing was committed so far.
func (h *History) OpenLatest() (*SecureTrie, uint64, error) {
	latest, found, err := h.roots.Latest()
	if err != nil {
		return nil, 0, err
	}
	if !found {
		return NewSecureTrie(h.store, h.config), 0, nil
	}
	trie, err := OpenSecureTrie(h.store, h.config, latest.Root)
	if err != nil {
		return nil, 0, err
	}
	return trie, latest.Version, nil
}

// CollectGarbage retains the roots of the keepLatest most recent versions,
// at least the latest one, and deletes every node not reachable from them.
// Nodes written after the last commit are not reachable from a recorded root
// and get removed as well, so the collector must not run concurrently with
// writers.
func (h *History) CollectGarbage(keepLatest uint64) (GcResult, error) {
	latest, found, err := h.roots.Latest()
	if err != nil || !found {
		return GcResult{}, err
	}
	keepLatest = max(keepLatest, 1)
	cutoff := uint64(0)
	if latest.Version >= keepLatest {
		cutoff = latest.Version - keepLatest + 1
	}
	retained, err := h.roots.ListRange(cutoff, latest.Version)
	if err != nil {
		return GcResult{}, err
	}

	reachable := map[common.Hash]struct{}{}
	for _, entry := range retained {
		if err := h.mark(entry.Root, reachable); err != nil {
			return GcResult{}, fmt.Errorf("failed to mark nodes of version %d: %w", entry.Version, err)
		}
	}

	res := GcResult{RetainedRoots: len(retained), ReachableNodes: len(reachable)}
	// Roots are dropped first, so an interrupted sweep never leaves a
	// recorded root with missing nodes.
	if res.RemovedRoots, err = h.roots.DeleteBelow(cutoff); err != nil {
		return res, err
	}
	err = h.store.ForEachHash(func(hash common.Hash) error {
		if _, found := reachable[hash]; found {
			return nil
		}
		if err := h.store.Delete(hash); err != nil {
			return err
		}
		res.RemovedNodes++
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("failed to sweep nodes: %w", err)
	}
	if err := h.store.Flush(); err != nil {
		return res, err
	}
	log.Info("Trie garbage collected", "cutoff", cutoff, "roots", res.RetainedRoots,
		"reachable", res.ReachableNodes, "removedRoots", res.RemovedRoots, "removedNodes", res.RemovedNodes)
	return res, nil
}

// mark adds all nodes of the sub-trie rooted by hash to the reachable set.
func (h *History) mark(hash common.Hash, reachable map[common.Hash]struct{}) error {
	pending := []common.Hash{hash}
	for len(pending) > 0 {
		hash := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if hash.IsZero() {
			continue
		}
		if _, found := reachable[hash]; found {
			continue
		}
		data, err := h.store.Get(hash)
		if errors.Is(err, nodestore.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrMissingNode, hash)
		}
		if err != nil {
			return err
		}
		n, err := decodeNode(data)
		if err != nil {
			return fmt.Errorf("node %v: %w", hash, err)
		}
		reachable[hash] = struct{}{}
		switch n := n.(type) {
		case *extensionNode:
			pending = append(pending, n.child)
		case *branchNode:
			for _, child := range n.children {
				if !child.IsZero() {
					pending = append(pending, child)
				}
			}
		}
	}
	return nil
}
