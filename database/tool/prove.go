// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/0xsoniclabs/statetrees/database/jmt"
	"github.com/0xsoniclabs/statetrees/database/mpt"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"
)

var (
	treeFlag = cli.StringFlag{
		Name:  "tree",
		Usage: "kind of the proven structure: jmt or mpt",
		Value: "jmt",
	}
	keyFlag = cli.StringFlag{
		Name:     "key",
		Usage:    "hex encoded key to prove",
		Required: true,
	}
	versionFlag = cli.Uint64Flag{
		Name:  "version",
		Usage: "tree version to prove against, the latest if not set and no --root is given",
	}
	mpfFlag = cli.BoolFlag{
		Name:  "mpf",
		Usage: "produce a Merkle Patricia Forestry proof instead of a node list",
	}
)

var ProveCmd = cli.Command{
	Action: doProve,
	Name:   "prove",
	Usage:  "produces and checks a proof for a key",
	Flags: []cli.Flag{
		&treeFlag,
		&keyFlag,
		&versionFlag,
		&rootFlag,
		&mpfFlag,
	},
}

func doProve(context *cli.Context) error {
	config, err := loadConfig(context)
	if err != nil {
		return err
	}
	key, err := hexutil.Decode(context.String(keyFlag.Name))
	if err != nil {
		return fmt.Errorf("invalid key: %w", err)
	}
	switch kind := context.String(treeFlag.Name); kind {
	case "jmt":
		return proveJmt(context, config, key)
	case "mpt":
		return proveMpt(context, config, key)
	default:
		return fmt.Errorf("unknown tree kind %q, supported are jmt and mpt", kind)
	}
}

func printValue(out io.Writer, value []byte, found bool) {
	if found {
		fmt.Fprintf(out, "Value:    %s\n", hexutil.Encode(value))
	} else {
		fmt.Fprintf(out, "Value:    absent\n")
	}
}

func proveJmt(context *cli.Context, config toolConfig, key []byte) (err error) {
	treeConfig, err := config.treeConfig()
	if err != nil {
		return err
	}
	store, err := openVersionStore(config)
	if err != nil {
		return err
	}
	tree, err := jmt.NewTree(store, treeConfig)
	if err != nil {
		return errors.Join(err, store.Close())
	}
	defer func() {
		err = errors.Join(err, tree.Close())
	}()

	version := context.Uint64(versionFlag.Name)
	if !context.IsSet(versionFlag.Name) {
		latest, _, found, err := tree.LatestVersion()
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("the tree has no committed version")
		}
		version = latest
	}
	root, err := tree.RootHash(version)
	if err != nil {
		return err
	}
	keyHash := tree.HashKey(key)
	value, found, err := tree.GetByHash(keyHash, version)
	if err != nil {
		return err
	}
	proof, available, err := tree.GetProof(keyHash, version)
	if err != nil {
		return err
	}
	if !available {
		return fmt.Errorf("version %d is not available", version)
	}
	if found {
		err = proof.Verify(root, keyHash, value, treeConfig)
	} else {
		err = proof.VerifyAbsence(root, keyHash, treeConfig)
	}
	if err != nil {
		return err
	}

	out := context.App.Writer
	fmt.Fprintf(out, "Version:  %d\n", version)
	fmt.Fprintf(out, "Root:     %s\n", hexutil.Encode(root[:]))
	fmt.Fprintf(out, "Key hash: %s\n", hexutil.Encode(keyHash[:]))
	printValue(out, value, found)
	fmt.Fprintf(out, "Proof:    %s\n", hexutil.Encode(proof.Bytes()))
	return nil
}

func proveMpt(context *cli.Context, config toolConfig, key []byte) (err error) {
	trieConfig, err := config.trieConfig()
	if err != nil {
		return err
	}
	root, hasRoot, err := parseRoot(context)
	if err != nil {
		return err
	}
	stores, err := openTrieStores(config)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, stores.Close())
	}()

	var trie *mpt.SecureTrie
	version := context.Uint64(versionFlag.Name)
	switch {
	case hasRoot:
		trie, err = mpt.OpenSecureTrie(stores.nodes, trieConfig, root)
	case context.IsSet(versionFlag.Name):
		trie, err = stores.history(trieConfig).Open(version)
	default:
		latest, found, latestErr := stores.roots.Latest()
		if latestErr != nil {
			return latestErr
		}
		if !found {
			return fmt.Errorf("the trie has no recorded version, proving requires --%s", rootFlag.Name)
		}
		version = latest.Version
		trie, err = stores.history(trieConfig).Open(version)
	}
	if err != nil {
		return err
	}
	root = trie.RootHash()

	var wire []byte
	var value []byte
	var found bool
	if context.Bool(mpfFlag.Name) {
		if value, found, err = trie.Get(key); err != nil {
			return err
		}
		if wire, _, err = trie.GetMpfProof(key); err != nil {
			return err
		}
		if found {
			err = trie.VerifyMpfProof(key, value, wire)
		} else {
			err = trie.VerifyMpfAbsence(key, wire)
		}
		if err != nil {
			return err
		}
	} else {
		proof, err := trie.GetProof(key)
		if err != nil {
			return err
		}
		if value, found, err = mpt.VerifySecureProof(trieConfig, root, key, proof); err != nil {
			return err
		}
		if wire, err = proof.Bytes(); err != nil {
			return err
		}
	}

	out := context.App.Writer
	if !hasRoot {
		fmt.Fprintf(out, "Version:  %d\n", version)
	}
	fmt.Fprintf(out, "Root:     %s\n", hexutil.Encode(root[:]))
	fmt.Fprintf(out, "Key hash: %s\n", hexutil.Encode(trie.HashKey(key).Bytes()))
	printValue(out, value, found)
	fmt.Fprintf(out, "Proof:    %s\n", hexutil.Encode(wire))
	return nil
}
