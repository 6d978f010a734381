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
	"slices"
	"sort"
	"sync"

	"github.com/0xsoniclabs/statetrees/backend/versionstore"
	"github.com/0xsoniclabs/statetrees/common"
	"github.com/0xsoniclabs/statetrees/common/nibbles"
)

// entry is a record of a version-ordered history.
type entry struct {
	version uint64
	data    []byte
}

// history is a list of entries ordered by version.
type history []entry

// floor returns the index of the newest entry not newer than the given
// version, or -1 if there is none.
func (h history) floor(version uint64) int {
	return sort.Search(len(h), func(i int) bool { return h[i].version > version }) - 1
}

// Store is an in-memory versionstore.Store. It keeps all records for the
// lifetime of the process and provides no persistence.
type Store struct {
	nodes  map[string]history // encoded path -> node history
	values map[common.Hash]history
	roots  map[uint64]common.Hash
	stale  []versionstore.StaleRecord // ordered by stale-since version

	latest     uint64
	latestRoot common.Hash
	hasLatest  bool

	mu sync.RWMutex
}

var _ versionstore.Store = (*Store)(nil)

// NewStore constructs a new, empty Store.
func NewStore() *Store {
	return &Store{
		nodes:  map[string]history{},
		values: map[common.Hash]history{},
		roots:  map[uint64]common.Hash{},
	}
}

func (s *Store) LatestVersion() (uint64, common.Hash, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.latestRoot, s.hasLatest, nil
}

func (s *Store) RootHash(version uint64) (common.Hash, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	root, found := s.roots[version]
	return root, found, nil
}

func (s *Store) GetNode(key versionstore.NodeKey) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.nodes[string(key.Path.NibbleBytes())]
	i := h.floor(key.Version)
	if i < 0 || h[i].version != key.Version {
		return nil, versionstore.ErrNotFound
	}
	return h[i].data, nil
}

func (s *Store) FloorNode(path nibbles.Path, version uint64) (versionstore.NodeKey, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.nodes[string(path.NibbleBytes())]
	i := h.floor(version)
	if i < 0 {
		return versionstore.NodeKey{}, nil, versionstore.ErrNotFound
	}
	return versionstore.NodeKey{Version: h[i].version, Path: path.Clone()}, h[i].data, nil
}

func (s *Store) GetValue(keyHash common.Hash, version uint64) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.values[keyHash]
	i := h.floor(version)
	if i < 0 {
		return nil, false, nil
	}
	return h[i].data, true, nil
}

func (s *Store) BeginCommit(version uint64) versionstore.CommitBatch {
	return &batch{store: s, Records: versionstore.Records{Version: version}}
}

type batch struct {
	versionstore.Records
	store *Store
}

// Commit applies all records under the store's write lock, which makes the
// new version visible to readers at once.
func (b *batch) Commit() error {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := b.Validate(s.latest, s.hasLatest); err != nil {
		return err
	}
	version := b.Version
	for _, node := range b.Nodes {
		path := string(node.Key.Path.NibbleBytes())
		s.nodes[path] = insert(s.nodes[path], entry{version: node.Key.Version, data: clone(node.Data)})
	}
	for _, value := range b.Values {
		s.values[value.KeyHash] = insert(s.values[value.KeyHash], entry{version: version, data: clone(value.Value)})
	}
	s.stale = append(s.stale, b.Stale...)
	s.roots[version] = b.Root
	s.latest, s.latestRoot, s.hasLatest = version, b.Root, true
	b.Records.Discard()
	return nil
}

// insert adds the entry to the history, replacing an entry of the same
// version.
func insert(h history, e entry) history {
	i := h.floor(e.version)
	if i >= 0 && h[i].version == e.version {
		h[i] = e
		return h
	}
	return slices.Insert(h, i+1, e)
}

func (s *Store) PruneUpTo(version uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasLatest {
		return 0, nil
	}
	cutoff := min(version, s.latest)

	for v := range s.roots {
		if v < cutoff {
			delete(s.roots, v)
		}
	}

	removed := uint64(0)
	keep := s.stale[:0]
	for _, rec := range s.stale {
		if rec.StaleSince > cutoff {
			keep = append(keep, rec)
			continue
		}
		path := string(rec.Key.Path.NibbleBytes())
		h := s.nodes[path]
		if i := h.floor(rec.Key.Version); i >= 0 && h[i].version == rec.Key.Version {
			h = slices.Delete(h, i, i+1)
			removed++
		}
		if len(h) == 0 {
			delete(s.nodes, path)
		} else {
			s.nodes[path] = h
		}
	}
	clear(s.stale[len(keep):])
	s.stale = keep

	for key, h := range s.values {
		// keep the newest entry at or below the cutoff, it is the value
		// visible at the cutoff version
		i := h.floor(cutoff)
		if i <= 0 {
			continue
		}
		s.values[key] = slices.Delete(h, 0, i)
		removed += uint64(i)
	}
	return removed, nil
}

func (s *Store) TruncateAfter(version uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, found := s.roots[version]
	if !found && version > 0 {
		return versionstore.ErrUnknownVersion
	}
	for v := range s.roots {
		if v > version {
			delete(s.roots, v)
		}
	}
	for path, h := range s.nodes {
		h = h[:h.floor(version)+1]
		if len(h) == 0 {
			delete(s.nodes, path)
		} else {
			s.nodes[path] = h
		}
	}
	for key, h := range s.values {
		h = h[:h.floor(version)+1]
		if len(h) == 0 {
			delete(s.values, key)
		} else {
			s.values[key] = h
		}
	}
	s.stale = slices.DeleteFunc(s.stale, func(rec versionstore.StaleRecord) bool {
		return rec.StaleSince > version
	})
	if version == 0 {
		s.latest, s.latestRoot, s.hasLatest = 0, common.Hash{}, false
	} else {
		s.latest, s.latestRoot, s.hasLatest = version, root, true
	}
	return nil
}

func (s *Store) Stats() (versionstore.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := versionstore.Stats{
		StaleNodes: uint64(len(s.stale)),
		Roots:      uint64(len(s.roots)),
	}
	for _, h := range s.nodes {
		res.Nodes += uint64(len(h))
	}
	for _, h := range s.values {
		res.Values += uint64(len(h))
	}
	return res, nil
}

// Close does nothing for the in-memory store.
func (s *Store) Close() error {
	return nil
}

func clone(data []byte) []byte {
	return append(make([]byte, 0, len(data)), data...)
}
