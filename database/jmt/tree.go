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

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/0xsoniclabs/statetrees/backend"
	"github.com/0xsoniclabs/statetrees/backend/versionstore"
	"github.com/0xsoniclabs/statetrees/common"
	"github.com/0xsoniclabs/statetrees/common/hashing"
	"github.com/0xsoniclabs/statetrees/common/nibbles"
	"github.com/0xsoniclabs/statetrees/database/commitment"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

// nodeSizeEstimate is the average memory footprint of a cached node.
const nodeSizeEstimate = 512

// Tree is a Jellyfish Merkle Tree on top of a version store. Commits and
// rollbacks are serialized internally; reads of committed versions may run
// concurrently with them.
type Tree struct {
	store   versionstore.Store
	config  Config
	hash    hashing.Function
	scheme  commitment.Scheme
	cache   *lru.Cache[nodeCacheKey, node] // nil if disabled
	metrics Metrics

	mu sync.Mutex
}

type nodeCacheKey struct {
	version uint64
	path    string
}

func cacheKeyOf(key versionstore.NodeKey) nodeCacheKey {
	return nodeCacheKey{version: key.Version, path: string(key.Path.NibbleBytes())}
}

// NewTree opens a tree on top of the given store. The store may already
// contain committed versions.
func NewTree(store versionstore.Store, config Config) (*Tree, error) {
	config = config.WithDefaults()
	res := &Tree{
		store:   store,
		config:  config,
		hash:    config.Hashing,
		scheme:  config.NewScheme(config.Hashing),
		metrics: config.Metrics,
	}
	if config.NodeCacheSize >= 0 {
		size := config.NodeCacheSize
		if size == 0 {
			size = backend.DefaultCacheSize(nodeSizeEstimate)
		}
		cache, err := lru.New[nodeCacheKey, node](size)
		if err != nil {
			return nil, fmt.Errorf("failed to create node cache: %w", err)
		}
		res.cache = cache
	}
	return res, nil
}

// Config returns the configuration of the tree.
func (t *Tree) Config() Config {
	return t.config
}

// Store returns the version store backing the tree.
func (t *Tree) Store() versionstore.Store {
	return t.store
}

// EmptyRootHash returns the root hash of a tree without any keys.
func (t *Tree) EmptyRootHash() common.Hash {
	return t.scheme.Null()
}

// HashKey returns the hash under which the given key is stored.
func (t *Tree) HashKey(key []byte) common.Hash {
	return t.hash.Digest(key)
}

// LatestVersion returns the latest committed version and its root hash.
// If nothing has been committed yet, found is false.
func (t *Tree) LatestVersion() (version uint64, root common.Hash, found bool, err error) {
	return t.store.LatestVersion()
}

// RootHash returns the root hash of the given version.
func (t *Tree) RootHash(version uint64) (common.Hash, error) {
	root, found, err := t.store.RootHash(version)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to read root of version %d: %w", version, err)
	}
	if !found {
		return common.Hash{}, fmt.Errorf("%w: %d", ErrVersionNotFound, version)
	}
	return root, nil
}

// Get returns the value of the given key at the given version.
func (t *Tree) Get(key []byte, version uint64) (value []byte, found bool, err error) {
	return t.GetByHash(t.HashKey(key), version)
}

// GetByHash returns the value stored under the given key hash at the given
// version.
func (t *Tree) GetByHash(keyHash common.Hash, version uint64) (value []byte, found bool, err error) {
	start := time.Now()
	if _, err := t.RootHash(version); err != nil {
		return nil, false, err
	}
	value, found, err = t.store.GetValue(keyHash, version)
	if err != nil {
		return nil, false, err
	}
	t.metrics.RecordRead(found, time.Since(start))
	return value, found, nil
}

// Put commits the given updates as a new version, which has to be the
// direct successor of the latest version, or 1 for an empty store. If a
// key occurs several times, its last value wins. On failure, nothing is
// committed.
func (t *Tree) Put(version uint64, updates []common.MapEntry[[]byte, []byte]) (CommitResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := time.Now()
	latest, latestRoot, found, err := t.store.LatestVersion()
	if err != nil {
		return CommitResult{}, fmt.Errorf("failed to read latest version: %w", err)
	}
	expected := uint64(1)
	if found {
		expected = latest + 1
	}
	if version != expected {
		return CommitResult{}, fmt.Errorf("%w: got %d, expected %d", ErrVersionSequence, version, expected)
	}

	var root *childRef
	if found {
		if root, err = t.rootRef(latest, latestRoot); err != nil {
			return CommitResult{}, err
		}
	}

	b := &builder{tree: t, version: version}
	newRoot, err := b.update(root, nibbles.Path{}, t.prepare(updates))
	if err != nil {
		return CommitResult{}, err
	}
	rootHash := t.scheme.Null()
	if newRoot != nil {
		rootHash = newRoot.hash
	}

	batch := t.store.BeginCommit(version)
	for _, n := range b.nodes {
		batch.PutNode(n.key, n.node.encode())
	}
	for _, key := range b.stale {
		batch.MarkStale(version, key)
	}
	for _, u := range b.values {
		batch.PutValue(u.keyHash, u.value)
	}
	batch.SetRootHash(rootHash)
	if err := batch.Commit(); err != nil {
		batch.Discard()
		return CommitResult{}, fmt.Errorf("failed to commit version %d: %w", version, err)
	}
	if t.cache != nil {
		for _, n := range b.nodes {
			t.cache.Add(cacheKeyOf(n.key), n.node)
		}
	}

	res := CommitResult{
		Version:       version,
		RootHash:      rootHash,
		NodesWritten:  len(b.nodes),
		StaleNodes:    len(b.stale),
		ValuesWritten: len(b.values),
	}
	t.metrics.RecordCommit(res, len(updates), time.Since(start))
	log.Debug("Committed tree version",
		"version", version, "root", rootHash, "updates", len(updates),
		"nodes", res.NodesWritten, "stale", res.StaleNodes, "values", res.ValuesWritten,
		"duration", time.Since(start),
	)
	return res, nil
}

// Rollback removes all versions after the given one, which becomes the
// latest version. Rolling back to version 0 empties the tree.
func (t *Tree) Rollback(version uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.store.TruncateAfter(version); err != nil {
		if errors.Is(err, versionstore.ErrUnknownVersion) {
			return fmt.Errorf("%w: %d", ErrVersionNotFound, version)
		}
		return fmt.Errorf("failed to roll back to version %d: %w", version, err)
	}
	// Versions after the new latest one will be written again.
	if t.cache != nil {
		t.cache.Purge()
	}
	log.Info("Rolled back tree", "version", version)
	return nil
}

// Prune removes all records not needed by versions at or after the given
// one. It returns the number of removed records.
func (t *Tree) Prune(version uint64) (uint64, error) {
	start := time.Now()
	removed, err := t.store.PruneUpTo(version)
	t.metrics.RecordPrune(removed, time.Since(start))
	return removed, err
}

// Close releases the node cache and the underlying store.
func (t *Tree) Close() error {
	if t.cache != nil {
		t.cache.Purge()
	}
	return t.store.Close()
}

// rootRef locates the root node of the given version. It returns nil for
// the empty tree.
func (t *Tree) rootRef(version uint64, root common.Hash) (*childRef, error) {
	if root == t.scheme.Null() {
		return nil, nil
	}
	key, data, err := t.store.FloorNode(nibbles.Path{}, version)
	if errors.Is(err, versionstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: root of version %d", ErrMissingNode, version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load root of version %d: %w", version, err)
	}
	n, err := decodeNode(data)
	if err != nil {
		return nil, fmt.Errorf("node %v: %w", key, err)
	}
	res := &childRef{version: key.Version}
	switch n := n.(type) {
	case *leafNode:
		res.hash = commitLeaf(t.scheme, n.keyHash, n.valueHash, 0)
		res.isLeaf = true
	case *internalNode:
		res.hash = commitInternal(t.scheme, n)
	}
	if res.hash != root {
		return nil, fmt.Errorf("%w: root node %v does not match root hash %v of version %d", ErrCorruptedNode, key, root, version)
	}
	if t.cache != nil {
		t.cache.Add(cacheKeyOf(key), n)
	}
	return res, nil
}

func (t *Tree) loadNode(key versionstore.NodeKey) (node, error) {
	if t.cache != nil {
		n, found := t.cache.Get(cacheKeyOf(key))
		t.metrics.RecordCacheAccess(found)
		if found {
			return n, nil
		}
	}
	data, err := t.store.GetNode(key)
	if errors.Is(err, versionstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrMissingNode, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load node %v: %w", key, err)
	}
	n, err := decodeNode(data)
	if err != nil {
		return nil, fmt.Errorf("node %v: %w", key, err)
	}
	if t.cache != nil {
		t.cache.Add(cacheKeyOf(key), n)
	}
	return n, nil
}

// keyUpdate is a pending modification of a single key.
type keyUpdate struct {
	keyHash   common.Hash
	path      nibbles.Path
	valueHash common.Hash
	value     []byte
	// carried marks an existing leaf moved to a new position, whose value
	// is already present in the value history.
	carried bool
}

// prepare hashes the given updates and orders them by key hash, keeping
// only the last update of each key.
func (t *Tree) prepare(updates []common.MapEntry[[]byte, []byte]) []keyUpdate {
	res := make([]keyUpdate, 0, len(updates))
	for _, update := range updates {
		value := update.Val
		if value == nil {
			value = []byte{}
		}
		keyHash := t.hash.Digest(update.Key)
		res = append(res, keyUpdate{
			keyHash:   keyHash,
			path:      nibbles.FromBytes(keyHash[:]),
			valueHash: t.hash.Digest(value),
			value:     value,
		})
	}
	slices.SortStableFunc(res, func(a, b keyUpdate) int {
		return bytes.Compare(a.keyHash[:], b.keyHash[:])
	})
	out := res[:0]
	for _, update := range res {
		if len(out) > 0 && out[len(out)-1].keyHash == update.keyHash {
			out[len(out)-1] = update
			continue
		}
		out = append(out, update)
	}
	return out
}

type builtNode struct {
	key  versionstore.NodeKey
	node node
}

// builder collects the records of a single version.
type builder struct {
	tree    *Tree
	version uint64
	nodes   []builtNode
	stale   []versionstore.NodeKey
	values  []keyUpdate
}

// update applies the given updates to the subtree referenced by ref, which
// is nil for an empty slot. All updates share the given path as the prefix
// of their key paths. The reference to the resulting subtree is returned;
// it is ref itself if nothing changed.
func (b *builder) update(ref *childRef, path nibbles.Path, updates []keyUpdate) (*childRef, error) {
	if len(updates) == 0 {
		return ref, nil
	}
	if ref == nil {
		return b.create(path, updates)
	}
	key := versionstore.NodeKey{Version: ref.version, Path: path}
	n, err := b.tree.loadNode(key)
	if err != nil {
		return nil, err
	}
	switch n := n.(type) {
	case *leafNode:
		if len(updates) == 1 && updates[0].keyHash == n.keyHash && updates[0].valueHash == n.valueHash {
			return ref, nil
		}
		b.stale = append(b.stale, key)
		return b.create(path, mergeLeaf(updates, n))
	case *internalNode:
		return b.updateInternal(ref, path, n, updates)
	}
	return nil, fmt.Errorf("%w: unexpected node type %T", ErrCorruptedNode, n)
}

// create builds a new subtree holding exactly the given updates.
func (b *builder) create(path nibbles.Path, updates []keyUpdate) (*childRef, error) {
	if len(updates) > 1 {
		return b.updateInternal(nil, path, &internalNode{}, updates)
	}
	u := updates[0]
	leaf := &leafNode{keyHash: u.keyHash, valueHash: u.valueHash}
	b.write(path, leaf)
	if !u.carried {
		b.values = append(b.values, u)
	}
	return &childRef{
		version: b.version,
		hash:    commitLeaf(b.tree.scheme, u.keyHash, u.valueHash, len(path)),
		isLeaf:  true,
	}, nil
}

// updateInternal applies the given updates to the children of the internal
// node at the given path. For a new node, ref is nil and n is empty.
func (b *builder) updateInternal(ref *childRef, path nibbles.Path, n *internalNode, updates []keyUpdate) (*childRef, error) {
	groups := groupByNibble(updates, len(path))

	var children [16]*childRef
	for i := range n.refs {
		if n.children.get(i) {
			child := n.refs[i]
			children[i] = &child
		}
	}

	var updated [16]*childRef
	threshold := b.tree.config.ParallelThreshold
	parallel := len(path) == 0 && threshold > 0 && len(updates) >= threshold
	if parallel {
		subs := [16]*builder{}
		var group errgroup.Group
		for i := range groups {
			if len(groups[i]) == 0 {
				continue
			}
			subs[i] = &builder{tree: b.tree, version: b.version}
			group.Go(func() error {
				res, err := subs[i].update(children[i], path.Append(nibbles.Nibble(i)), groups[i])
				updated[i] = res
				return err
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}
		for _, sub := range subs {
			if sub != nil {
				b.merge(sub)
			}
		}
	} else {
		for i := range groups {
			if len(groups[i]) == 0 {
				continue
			}
			res, err := b.update(children[i], path.Append(nibbles.Nibble(i)), groups[i])
			if err != nil {
				return nil, err
			}
			updated[i] = res
		}
	}

	res := *n
	changed := false
	for i, child := range updated {
		if child == nil || (children[i] != nil && *child == *children[i]) {
			continue
		}
		res.children.set(i)
		res.refs[i] = *child
		changed = true
	}
	if ref != nil {
		if !changed {
			return ref, nil
		}
		b.stale = append(b.stale, versionstore.NodeKey{Version: ref.version, Path: path.Clone()})
	}
	b.write(path, &res)
	return &childRef{version: b.version, hash: commitInternal(b.tree.scheme, &res)}, nil
}

func (b *builder) write(path nibbles.Path, n node) {
	b.nodes = append(b.nodes, builtNode{
		key:  versionstore.NodeKey{Version: b.version, Path: path.Clone()},
		node: n,
	})
}

func (b *builder) merge(other *builder) {
	b.nodes = append(b.nodes, other.nodes...)
	b.stale = append(b.stale, other.stale...)
	b.values = append(b.values, other.values...)
}

// mergeLeaf adds the key of an existing leaf to the sorted updates, unless the key is updated itself.
func mergeLeaf(updates []keyUpdate, leaf *leafNode) []keyUpdate {
	pos, found := slices.BinarySearchFunc(updates, leaf.keyHash, func(u keyUpdate, hash common.Hash) int {
		return bytes.Compare(u.keyHash[:], hash[:])
	})
	res := slices.Clone(updates)
	if found {
		if res[pos].valueHash == leaf.valueHash {
			res[pos].carried = true
		}
		return res
	}
	return slices.Insert(res, pos, keyUpdate{
		keyHash:   leaf.keyHash,
		path:      nibbles.FromBytes(leaf.keyHash[:]),
		valueHash: leaf.valueHash,
		carried:   true,
	})
}

// groupByNibble splits sorted updates by the nibble at the given depth.
func groupByNibble(updates []keyUpdate, depth int) [16][]keyUpdate {
	var res [16][]keyUpdate
	start := 0
	for start < len(updates) {
		nibble := updates[start].path[depth]
		end := start + 1
		for end < len(updates) && updates[end].path[depth] == nibble {
			end++
		}
		res[nibble] = updates[start:end]
		start = end
	}
	return res
}
