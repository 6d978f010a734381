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
	"github.com/0xsoniclabs/statetrees/backend/nodestore"
	"github.com/0xsoniclabs/statetrees/common"
)

// SecureTrie is a trie storing every key under the hash of the key. This
// balances the trie independently of the key distribution and makes all
// paths equally long, as required by MPF proofs.
type SecureTrie struct {
	trie *Trie
}

// NewSecureTrie creates an empty secure trie on top of the given store.
func NewSecureTrie(store nodestore.Store, config Config) *SecureTrie {
	return &SecureTrie{trie: NewTrie(store, config)}
}

// OpenSecureTrie opens a secure trie at the given root.
func OpenSecureTrie(store nodestore.Store, config Config, root common.Hash) (*SecureTrie, error) {
	trie, err := OpenTrie(store, config, root)
	if err != nil {
		return nil, err
	}
	return &SecureTrie{trie: trie}, nil
}

// Trie provides access to the underlying trie indexed by hashed keys.
func (s *SecureTrie) Trie() *Trie {
	return s.trie
}

// HashKey returns the path used for the given key.
func (s *SecureTrie) HashKey(key []byte) common.Hash {
	return s.trie.hash.Digest(key)
}

func (s *SecureTrie) Get(key []byte) ([]byte, bool, error) {
	hash := s.HashKey(key)
	return s.trie.Get(hash[:])
}

// Put sets the value of the given key. An empty value deletes the key.
func (s *SecureTrie) Put(key, value []byte) error {
	hash := s.HashKey(key)
	return s.trie.Put(hash[:], value)
}

func (s *SecureTrie) Delete(key []byte) error {
	return s.Put(key, nil)
}

// Update applies all given updates in a single batch.
func (s *SecureTrie) Update(updates []common.MapEntry[[]byte, []byte]) error {
	hashed := make([]common.MapEntry[[]byte, []byte], len(updates))
	for i, update := range updates {
		hash := s.HashKey(update.Key)
		hashed[i] = common.MapEntry[[]byte, []byte]{Key: hash[:], Val: update.Val}
	}
	return s.trie.Update(hashed)
}

func (s *SecureTrie) RootHash() common.Hash {
	return s.trie.RootHash()
}

func (s *SecureTrie) SetRootHash(root common.Hash) error {
	return s.trie.SetRootHash(root)
}

// GetProof creates a node list proof for the given key. It is verified by
// VerifySecureProof.
func (s *SecureTrie) GetProof(key []byte) (Proof, error) {
	hash := s.HashKey(key)
	return s.trie.GetProof(hash[:])
}

// VerifySecureProof checks a proof produced by a secure trie.
func VerifySecureProof(config Config, root common.Hash, key []byte, proof Proof) ([]byte, bool, error) {
	hash := config.WithDefaults().Hashing.Digest(key)
	return VerifyProof(config, root, hash[:], proof)
}
