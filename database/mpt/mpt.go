// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package mpt implements a Merkle Patricia Trie over a content-addressed
// node store, together with the Secure Trie variant hashing its keys and
// the proofs both of them produce.
//
// The trie keeps a single current root. Every mutation rebuilds the nodes
// on the path of the modified key, computes their commitments bottom-up and
// persists all new nodes in one batch before switching the root. Nodes
// reachable from earlier roots are never modified, so a trie may be
// re-opened at any earlier root still present in the store.
package mpt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/0xsoniclabs/statetrees/common/hashing"
	"github.com/0xsoniclabs/statetrees/database/commitment"
)

var (
	// ErrMissingNode is returned when a node referenced by the trie is not
	// present in the node store. The trie must not be used any further.
	ErrMissingNode = errors.New("missing trie node")
	// ErrCorruptedNode is returned when a stored node can not be decoded.
	ErrCorruptedNode = errors.New("corrupted trie node")
	// ErrInvalidProof is returned when a proof is malformed or inconsistent
	// with the root it is verified against.
	ErrInvalidProof = errors.New("invalid proof")
)

// Config defines the hashing and commitment rules of a trie. Tries with
// equal configurations fed with the same updates have equal root hashes.
type Config struct {
	Name string
	// Hashing is used for values, secure trie keys and node commitments.
	Hashing hashing.Function
	// NewScheme creates the commitment scheme on top of the hash function.
	NewScheme func(hashing.Function) commitment.Scheme
}

// ClassicConfig commits to nodes by hashing their CBOR encoding.
var ClassicConfig = Config{
	Name:    "Classic",
	Hashing: hashing.Default,
	NewScheme: func(h hashing.Function) commitment.Scheme {
		return commitment.NewClassic(h)
	},
}

// MpfConfig uses the Merkle Patricia Forestry layout, which is required
// for producing MPF proofs.
var MpfConfig = Config{
	Name:    "MPF",
	Hashing: hashing.Default,
	NewScheme: func(h hashing.Function) commitment.Scheme {
		return commitment.NewMpf(h)
	},
}

// AllConfigs lists the named trie configurations.
var AllConfigs = []Config{ClassicConfig, MpfConfig}

// ConfigByName resolves a configuration by its case insensitive name.
func ConfigByName(name string) (Config, error) {
	for _, config := range AllConfigs {
		if strings.EqualFold(config.Name, name) {
			return config, nil
		}
	}
	return Config{}, fmt.Errorf("unknown trie configuration %q", name)
}

// WithDefaults returns a copy of the configuration with unset fields
// replaced by their defaults.
func (c Config) WithDefaults() Config {
	if c.Hashing == nil {
		c.Hashing = hashing.Default
	}
	if c.NewScheme == nil {
		c.NewScheme = ClassicConfig.NewScheme
	}
	return c
}

// WithHashing returns a copy of the configuration using the given hash
// function.
func (c Config) WithHashing(hash hashing.Function) Config {
	c.Hashing = hash
	return c
}
