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
	"fmt"

	"github.com/0xsoniclabs/statetrees/common"
	"github.com/0xsoniclabs/statetrees/common/nibbles"
	"github.com/fxamacker/cbor/v2"
)

// Proof lists the encoded nodes on the path from the root towards a key,
// root first. It proves either the value of the key or its absence.
type Proof [][]byte

// Bytes returns the CBOR wire format of the proof, an array of byte strings.
func (p Proof) Bytes() ([]byte, error) {
	return cbor.Marshal([][]byte(p))
}

// ParseProof decodes a proof from its wire format.
func ParseProof(data []byte) (Proof, error) {
	var res [][]byte
	if err := cbor.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return res, nil
}

// GetProof creates a proof for the given key against the current root.
func (t *Trie) GetProof(key []byte) (Proof, error) {
	return t.getProof(t.RootHash(), nibbles.FromBytes(key))
}

func (t *Trie) getProof(root common.Hash, path nibbles.Path) (Proof, error) {
	var res Proof
	ref := root
	null := t.scheme.Null()
	for ref != null {
		data, n, err := t.loadRaw(ref)
		if err != nil {
			return nil, err
		}
		res = append(res, data)
		switch n := n.(type) {
		case *leafNode:
			return res, nil
		case *extensionNode:
			if !path.HasPrefix(n.path) {
				if !t.scheme.FoldsExtensions() {
					return res, nil
				}
				// the commitment of a folded extension covers its branch
				child, _, err := t.loadRaw(n.child)
				if err != nil {
					return nil, err
				}
				return append(res, child), nil
			}
			path, ref = path[len(n.path):], n.child
		case *branchNode:
			if len(path) == 0 {
				return res, nil
			}
			path, ref = path[1:], n.children[path[0]]
		}
	}
	return res, nil
}

func noResolve(common.Hash) (node, error) {
	return nil, fmt.Errorf("%w: extension below extension", ErrInvalidProof)
}

// VerifyProof checks the proof against the given root and returns the
// proven value of the key. If the proof shows that the key is absent, found
// is false. Proofs not matching the root fail with ErrInvalidProof.
func VerifyProof(config Config, root common.Hash, key []byte, proof Proof) (value []byte, found bool, err error) {
	config = config.WithDefaults()
	hash := config.Hashing
	scheme := config.NewScheme(hash)
	null := scheme.Null()

	nodes := make([]node, len(proof))
	for i, data := range proof {
		if nodes[i], err = decodeNode(data); err != nil {
			return nil, false, fmt.Errorf("%w: node %d: %v", ErrInvalidProof, i, err)
		}
	}
	invalid := func(format string, args ...any) ([]byte, bool, error) {
		return nil, false, fmt.Errorf("%w: %s", ErrInvalidProof, fmt.Sprintf(format, args...))
	}

	expected := root
	path := nibbles.FromBytes(key)
	for i := 0; i < len(nodes); i++ {
		// under folding schemes, an extension commits to the branch following it
		next := func(child common.Hash) (node, error) {
			if i+1 >= len(nodes) {
				return nil, fmt.Errorf("%w: missing branch after extension", ErrInvalidProof)
			}
			got, err := digest(nodes[i+1], scheme, hash.Digest, noResolve)
			if err != nil || got != child {
				return nil, fmt.Errorf("%w: extension child mismatch", ErrInvalidProof)
			}
			return nodes[i+1], nil
		}
		got, err := digest(nodes[i], scheme, hash.Digest, next)
		if err != nil {
			return invalid("node %d: %v", i, err)
		}
		if got != expected {
			return invalid("node %d does not match its reference", i)
		}
		last := i == len(nodes)-1
		switch n := nodes[i].(type) {
		case *leafNode:
			if !last {
				return invalid("nodes after leaf")
			}
			if !n.path.Equal(path) {
				return nil, false, nil
			}
			return n.value, true, nil
		case *extensionNode:
			if !path.HasPrefix(n.path) {
				folded := scheme.FoldsExtensions() && i+1 == len(nodes)-1
				if !last && !folded {
					return invalid("nodes after diverging extension")
				}
				return nil, false, nil
			}
			path, expected = path[len(n.path):], n.child
		case *branchNode:
			if len(path) == 0 {
				if !last {
					return invalid("nodes after branch")
				}
				return n.value, n.value != nil, nil
			}
			child := n.children[path[0]]
			if child == null {
				if !last {
					return invalid("nodes after empty child")
				}
				return nil, false, nil
			}
			path, expected = path[1:], child
		}
	}
	if len(nodes) == 0 && root == null {
		return nil, false, nil
	}
	return invalid("proof incomplete")
}
