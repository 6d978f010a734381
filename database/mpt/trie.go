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
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/0xsoniclabs/statetrees/backend/nodestore"
	"github.com/0xsoniclabs/statetrees/common"
	"github.com/0xsoniclabs/statetrees/common/hashing"
	"github.com/0xsoniclabs/statetrees/common/nibbles"
	"github.com/0xsoniclabs/statetrees/database/commitment"
	"github.com/ethereum/go-ethereum/log"
)

// Trie is a Merkle Patricia Trie over raw keys. Mutations must be
// serialized by the caller; reads may run concurrently with each other and
// with a single writer.
type Trie struct {
	store  nodestore.Store
	config Config
	hash   hashing.Function
	scheme commitment.Scheme

	root common.Hash
	mu   sync.RWMutex
}

// NewTrie creates an empty trie on top of the given store.
func NewTrie(store nodestore.Store, config Config) *Trie {
	config = config.WithDefaults()
	scheme := config.NewScheme(config.Hashing)
	return &Trie{
		store:  store,
		config: config,
		hash:   config.Hashing,
		scheme: scheme,
		root:   scheme.Null(),
	}
}

// OpenTrie opens a trie at the given root, which has to be present in the
// store unless it is the empty root.
func OpenTrie(store nodestore.Store, config Config, root common.Hash) (*Trie, error) {
	res := NewTrie(store, config)
	if err := res.SetRootHash(root); err != nil {
		return nil, err
	}
	return res, nil
}

// Config returns the configuration of the trie.
func (t *Trie) Config() Config {
	return t.config
}

// RootHash returns the commitment to the current content of the trie.
func (t *Trie) RootHash() common.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// EmptyRootHash returns the root hash of a trie without any keys.
func (t *Trie) EmptyRootHash() common.Hash {
	return t.scheme.Null()
}

// SetRootHash switches the trie to an earlier root.
func (t *Trie) SetRootHash(root common.Hash) error {
	if root != t.scheme.Null() {
		if _, err := t.load(root); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = root
	log.Debug("Trie root set", "root", root)
	return nil
}

func (t *Trie) load(hash common.Hash) (node, error) {
	_, res, err := t.loadRaw(hash)
	return res, err
}

// loadRaw fetches a node together with its encoding.
func (t *Trie) loadRaw(hash common.Hash) ([]byte, node, error) {
	data, err := t.store.Get(hash)
	if errors.Is(err, nodestore.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %v", ErrMissingNode, hash)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load node %v: %w", hash, err)
	}
	res, err := decodeNode(data)
	if err != nil {
		return nil, nil, fmt.Errorf("node %v: %w", hash, err)
	}
	return data, res, nil
}

// Get returns the value stored for the given key. Absent keys are reported
// by found being false.
func (t *Trie) Get(key []byte) (value []byte, found bool, err error) {
	ref := t.RootHash()
	path := nibbles.FromBytes(key)
	null := t.scheme.Null()
	for ref != null {
		n, err := t.load(ref)
		if err != nil {
			return nil, false, err
		}
		switch n := n.(type) {
		case *leafNode:
			if !n.path.Equal(path) {
				return nil, false, nil
			}
			return n.value, true, nil
		case *extensionNode:
			if !path.HasPrefix(n.path) {
				return nil, false, nil
			}
			path, ref = path[len(n.path):], n.child
		case *branchNode:
			if len(path) == 0 {
				return n.value, n.value != nil, nil
			}
			path, ref = path[1:], n.children[path[0]]
		}
	}
	return nil, false, nil
}

// Put sets the value of the given key. An empty value deletes the key.
func (t *Trie) Put(key, value []byte) error {
	return t.Update([]common.MapEntry[[]byte, []byte]{{Key: key, Val: value}})
}

// Delete removes the given key. Deleting an absent key has no effect.
func (t *Trie) Delete(key []byte) error {
	return t.Put(key, nil)
}

// Update applies all given updates in order and persists the resulting
// nodes in a single batch. Empty values delete their keys.
func (t *Trie) Update(updates []common.MapEntry[[]byte, []byte]) error {
	t.mu.RLock()
	root := t.root
	t.mu.RUnlock()

	w := t.newWriter()
	var err error
	for _, update := range updates {
		path := nibbles.FromBytes(update.Key)
		if len(update.Val) == 0 {
			root, _, err = w.delete(root, path)
		} else {
			root, err = w.put(root, path, update.Val)
		}
		if err != nil {
			return err
		}
	}
	if err := t.store.PutAll(w.nodes); err != nil {
		return fmt.Errorf("failed to store %d trie nodes: %w", len(w.nodes), err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = root
	return nil
}

// writer collects the nodes created by a batch of updates. Nodes created by
// the batch are visible to later updates of the same batch before they are
// persisted.
type writer struct {
	trie    *Trie
	null    common.Hash
	pending map[common.Hash]node
	nodes   []nodestore.Node
}

func (t *Trie) newWriter() *writer {
	return &writer{
		trie:    t,
		null:    t.scheme.Null(),
		pending: map[common.Hash]node{},
	}
}

func (w *writer) resolve(hash common.Hash) (node, error) {
	if n, found := w.pending[hash]; found {
		return n, nil
	}
	return w.trie.load(hash)
}

func (w *writer) store(n node) (common.Hash, error) {
	hash, err := digest(n, w.trie.scheme, w.trie.hash.Digest, w.resolve)
	if err != nil {
		return common.Hash{}, err
	}
	if _, found := w.pending[hash]; !found {
		w.pending[hash] = n
		w.nodes = append(w.nodes, nodestore.Node{Hash: hash, Data: n.encode()})
	}
	return hash, nil
}

// put inserts the value at the given path into the sub-trie rooted by ref
// and returns the commitment of the new sub-trie.
func (w *writer) put(ref common.Hash, path nibbles.Path, value []byte) (common.Hash, error) {
	if ref == w.null {
		return w.store(&leafNode{path: path, value: value})
	}
	n, err := w.resolve(ref)
	if err != nil {
		return common.Hash{}, err
	}
	switch n := n.(type) {
	case *leafNode:
		if n.path.Equal(path) {
			if bytes.Equal(n.value, value) {
				return ref, nil
			}
			return w.store(&leafNode{path: path, value: value})
		}
		shared := n.path.CommonPrefixLength(path)
		branch := &branchNode{}
		if err := w.place(branch, n.path[shared:], n.value); err != nil {
			return common.Hash{}, err
		}
		if err := w.place(branch, path[shared:], value); err != nil {
			return common.Hash{}, err
		}
		return w.storeUnder(path[:shared], branch)

	case *extensionNode:
		shared := n.path.CommonPrefixLength(path)
		if shared == len(n.path) {
			child, err := w.put(n.child, path[shared:], value)
			if err != nil {
				return common.Hash{}, err
			}
			return w.store(&extensionNode{path: n.path, child: child})
		}
		branch := &branchNode{}
		rest := n.path[shared:]
		if len(rest) == 1 {
			branch.children[rest[0]] = n.child
		} else {
			child, err := w.store(&extensionNode{path: rest[1:], child: n.child})
			if err != nil {
				return common.Hash{}, err
			}
			branch.children[rest[0]] = child
		}
		if err := w.place(branch, path[shared:], value); err != nil {
			return common.Hash{}, err
		}
		return w.storeUnder(path[:shared], branch)

	case *branchNode:
		res := *n
		if len(path) == 0 {
			if bytes.Equal(n.value, value) {
				return ref, nil
			}
			res.value = value
			return w.store(&res)
		}
		child, err := w.put(n.children[path[0]], path[1:], value)
		if err != nil {
			return common.Hash{}, err
		}
		if child == n.children[path[0]] {
			return ref, nil
		}
		res.children[path[0]] = child
		return w.store(&res)
	}
	panic(fmt.Sprintf("unknown node type %T", n))
}

// place adds a value at the given path below a new branch.
func (w *writer) place(branch *branchNode, path nibbles.Path, value []byte) error {
	if len(path) == 0 {
		branch.value = value
		return nil
	}
	child, err := w.store(&leafNode{path: path[1:], value: value})
	if err != nil {
		return err
	}
	branch.children[path[0]] = child
	return nil
}

// storeUnder stores the branch and, if the prefix is not empty, an
// extension leading to it.
func (w *writer) storeUnder(prefix nibbles.Path, branch *branchNode) (common.Hash, error) {
	hash, err := w.store(branch)
	if err != nil || len(prefix) == 0 {
		return hash, err
	}
	return w.store(&extensionNode{path: prefix.Clone(), child: hash})
}

// delete removes the value at the given path from the sub-trie rooted by
// ref. It returns the commitment of the new sub-trie and whether anything
// was removed.
func (w *writer) delete(ref common.Hash, path nibbles.Path) (common.Hash, bool, error) {
	if ref == w.null {
		return ref, false, nil
	}
	n, err := w.resolve(ref)
	if err != nil {
		return common.Hash{}, false, err
	}
	switch n := n.(type) {
	case *leafNode:
		if !n.path.Equal(path) {
			return ref, false, nil
		}
		return w.null, true, nil

	case *extensionNode:
		if !path.HasPrefix(n.path) {
			return ref, false, nil
		}
		child, changed, err := w.delete(n.child, path[len(n.path):])
		if err != nil || !changed {
			return ref, changed, err
		}
		res, err := w.extend(n.path, child)
		return res, true, err

	case *branchNode:
		res := *n
		if len(path) == 0 {
			if n.value == nil {
				return ref, false, nil
			}
			res.value = nil
		} else {
			child, changed, err := w.delete(n.children[path[0]], path[1:])
			if err != nil || !changed {
				return ref, changed, err
			}
			res.children[path[0]] = child
		}
		hash, err := w.collapse(&res)
		return hash, true, err
	}
	panic(fmt.Sprintf("unknown node type %T", n))
}

// collapse stores a branch that may have lost a child or its value,
// replacing it by a simpler node where the branch is no longer needed.
func (w *writer) collapse(branch *branchNode) (common.Hash, error) {
	count := branch.children.Count(w.null)
	switch {
	case count == 0 && branch.value == nil:
		return w.null, nil
	case count == 0:
		return w.store(&leafNode{value: branch.value})
	case count == 1 && branch.value == nil:
		i := branch.single()
		return w.extend(nibbles.Path{nibbles.Nibble(i)}, branch.children[i])
	}
	return w.store(branch)
}

// extend prepends the given non-empty prefix to the sub-trie rooted by ref,
// merging it into the root node of the sub-trie where possible.
func (w *writer) extend(prefix nibbles.Path, ref common.Hash) (common.Hash, error) {
	if ref == w.null {
		return ref, nil
	}
	n, err := w.resolve(ref)
	if err != nil {
		return common.Hash{}, err
	}
	switch n := n.(type) {
	case *leafNode:
		return w.store(&leafNode{path: prefix.Concat(n.path), value: n.value})
	case *extensionNode:
		return w.store(&extensionNode{path: prefix.Concat(n.path), child: n.child})
	case *branchNode:
		return w.store(&extensionNode{path: prefix.Clone(), child: ref})
	}
	panic(fmt.Sprintf("unknown node type %T", n))
}

// errScanLimit ends a scan once enough entries have been collected.
var errScanLimit = errors.New("scan limit reached")

// ScanByPrefix lists the entries whose keys start with the given prefix in
// key order. At most limit entries are returned; a limit of zero or less
// lists all matching entries.
func (t *Trie) ScanByPrefix(prefix []byte, limit int) ([]common.MapEntry[[]byte, []byte], error) {
	var res []common.MapEntry[[]byte, []byte]
	want := nibbles.FromBytes(prefix)
	null := t.scheme.Null()

	add := func(path nibbles.Path, value []byte) error {
		if !path.HasPrefix(want) {
			return nil
		}
		res = append(res, common.MapEntry[[]byte, []byte]{Key: path.Bytes(), Val: value})
		if limit > 0 && len(res) >= limit {
			return errScanLimit
		}
		return nil
	}
	relevant := func(path nibbles.Path) bool {
		return path.HasPrefix(want) || want.HasPrefix(path)
	}

	var visit func(ref common.Hash, path nibbles.Path) error
	visit = func(ref common.Hash, path nibbles.Path) error {
		if ref == null || !relevant(path) {
			return nil
		}
		n, err := t.load(ref)
		if err != nil {
			return err
		}
		switch n := n.(type) {
		case *leafNode:
			return add(path.Concat(n.path), n.value)
		case *extensionNode:
			return visit(n.child, path.Concat(n.path))
		case *branchNode:
			if n.value != nil {
				if err := add(path, n.value); err != nil {
					return err
				}
			}
			for i, child := range n.children {
				if err := visit(child, path.Append(nibbles.Nibble(i))); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := visit(t.RootHash(), nil); err != nil && !errors.Is(err, errScanLimit) {
		return nil, err
	}
	return res, nil
}
