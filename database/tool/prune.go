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

	"github.com/0xsoniclabs/statetrees/database/pruner"
	"github.com/urfave/cli/v2"
)

var cutoffFlag = cli.Uint64Flag{
	Name:  "version",
	Usage: "oldest version to keep readable, overrides --keep",
}

var PruneCmd = cli.Command{
	Action: doPrune,
	Name:   "prune",
	Usage:  "removes the records of a tree store no longer needed by retained versions",
	Flags: []cli.Flag{
		&treeFlag,
		&keepFlag,
		&cutoffFlag,
	},
}

func doPrune(context *cli.Context) (err error) {
	config, err := loadConfig(context)
	if err != nil {
		return err
	}
	switch kind := context.String(treeFlag.Name); kind {
	case "jmt":
	case "mpt":
		return pruneMpt(context, config)
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

	prunerConfig := config.prunerConfig()
	if keep := context.Uint64(keepFlag.Name); keep > 0 {
		prunerConfig.KeepLatest = keep
	}
	p := pruner.NewPruner(store, prunerConfig)

	var removed uint64
	if context.IsSet(cutoffFlag.Name) {
		removed, err = p.PruneUpTo(context.Uint64(cutoffFlag.Name))
	} else {
		removed, err = p.KeepLatest(prunerConfig.KeepLatest)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(context.App.Writer, "Removed %d records\n", removed)
	return nil
}

// pruneMpt drops the roots of old trie versions and collects the nodes only
// they referenced.
func pruneMpt(context *cli.Context, config toolConfig) (err error) {
	trieConfig, err := config.trieConfig()
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

	keep := config.prunerConfig().KeepLatest
	if context.IsSet(keepFlag.Name) {
		keep = context.Uint64(keepFlag.Name)
	}
	if context.IsSet(cutoffFlag.Name) {
		latest, found, err := stores.roots.Latest()
		if err != nil {
			return err
		}
		if cutoff := context.Uint64(cutoffFlag.Name); found && cutoff <= latest.Version {
			keep = latest.Version - cutoff + 1
		} else {
			keep = 1
		}
	}

	res, err := stores.history(trieConfig).CollectGarbage(keep)
	if err != nil {
		return err
	}
	out := context.App.Writer
	fmt.Fprintf(out, "Removed %d records\n", res.RemovedRoots+res.RemovedNodes)
	fmt.Fprintf(out, "Removed roots: %d\n", res.RemovedRoots)
	fmt.Fprintf(out, "Removed nodes: %d\n", res.RemovedNodes)
	fmt.Fprintf(out, "Retained roots: %d\n", res.RetainedRoots)
	return nil
}
