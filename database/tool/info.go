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

	"github.com/0xsoniclabs/statetrees/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"
)

var InfoCmd = cli.Command{
	Action: doInfo,
	Name:   "info",
	Usage:  "prints the latest version and the record counts of a tree store",
	Flags: []cli.Flag{
		&treeFlag,
	},
}

func doInfo(context *cli.Context) (err error) {
	config, err := loadConfig(context)
	if err != nil {
		return err
	}
	switch kind := context.String(treeFlag.Name); kind {
	case "jmt":
	case "mpt":
		return mptInfo(context, config)
	default:
		return fmt.Errorf("unknown tree kind %q, supported are jmt and mpt", kind)
	}
	store, err := openVersionStore(config)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, store.Close())
	}()

	out := context.App.Writer
	version, root, found, err := store.LatestVersion()
	if err != nil {
		return err
	}
	if found {
		fmt.Fprintf(out, "Latest version: %d\n", version)
		fmt.Fprintf(out, "Root hash:      %s\n", hexutil.Encode(root[:]))
	} else {
		fmt.Fprintf(out, "Latest version: none\n")
	}

	stats, err := store.Stats()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Nodes:          %d\n", stats.Nodes)
	fmt.Fprintf(out, "Stale nodes:    %d\n", stats.StaleNodes)
	fmt.Fprintf(out, "Values:         %d\n", stats.Values)
	fmt.Fprintf(out, "Roots:          %d\n", stats.Roots)
	if config.Backend == "ldb" {
		fmt.Fprintf(out, "Disk usage:     %d bytes\n", getDirectorySize(config.Db))
	}
	return nil
}

func mptInfo(context *cli.Context, config toolConfig) (err error) {
	stores, err := openTrieStores(config)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, stores.Close())
	}()

	out := context.App.Writer
	latest, found, err := stores.roots.Latest()
	if err != nil {
		return err
	}
	if found {
		fmt.Fprintf(out, "Latest version: %d\n", latest.Version)
		fmt.Fprintf(out, "Root hash:      %s\n", hexutil.Encode(latest.Root[:]))
	} else {
		fmt.Fprintf(out, "Latest version: none\n")
	}

	roots, err := stores.roots.Count()
	if err != nil {
		return err
	}
	nodes := 0
	err = stores.nodes.ForEachHash(func(common.Hash) error {
		nodes++
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Nodes:          %d\n", nodes)
	fmt.Fprintf(out, "Roots:          %d\n", roots)
	if config.Backend == "ldb" {
		fmt.Fprintf(out, "Disk usage:     %d bytes\n", getDirectorySize(config.Db))
	}
	return nil
}
