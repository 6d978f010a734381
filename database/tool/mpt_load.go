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
	"time"

	"github.com/0xsoniclabs/statetrees/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

var (
	numBatchesFlag = cli.IntFlag{
		Name:  "batches",
		Usage: "number of update batches applied to the trie",
		Value: 100,
	}
	rootFlag = cli.StringFlag{
		Name:  "root",
		Usage: "hex encoded root hash of the trie to start from, the latest recorded version if not set",
	}
)

var MptLoadCmd = cli.Command{
	Action: doMptLoad,
	Name:   "mpt-load",
	Usage:  "applies batches of random updates to a secure Merkle Patricia Trie, recording each batch as a version",
	Flags: []cli.Flag{
		&numBatchesFlag,
		&updatesFlag,
		&keySpaceFlag,
		&seedFlag,
		&rootFlag,
		&reportPeriodFlag,
	},
}

func parseRoot(context *cli.Context) (common.Hash, bool, error) {
	if !context.IsSet(rootFlag.Name) {
		return common.Hash{}, false, nil
	}
	data, err := hexutil.Decode(context.String(rootFlag.Name))
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("invalid root hash: %w", err)
	}
	root, err := common.HashFromBytes(data)
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("invalid root hash: %w", err)
	}
	return root, true, nil
}

func doMptLoad(context *cli.Context) (err error) {
	config, err := loadConfig(context)
	if err != nil {
		return err
	}
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

	history := stores.history(trieConfig)
	trie, version, err := history.OpenLatest()
	if err != nil {
		return err
	}
	if hasRoot {
		if err := trie.SetRootHash(root); err != nil {
			return err
		}
	}

	generator := newUpdateGenerator(context.Int64(seedFlag.Name), context.Int(keySpaceFlag.Name))
	numBatches := context.Int(numBatchesFlag.Name)
	numUpdates := context.Int(updatesFlag.Name)
	reportPeriod := context.Duration(reportPeriodFlag.Name)

	start := time.Now()
	lastReport := start
	for i := range numBatches {
		if err := trie.Update(generator.next(numUpdates)); err != nil {
			return err
		}
		version++
		if err := history.Commit(version, trie); err != nil {
			return err
		}
		if now := time.Now(); now.Sub(lastReport) >= reportPeriod {
			lastReport = now
			log.Info("Loading trie", "batch", i+1, "root", trie.RootHash(),
				"updates/s", float64((i+1)*numUpdates)/now.Sub(start).Seconds(),
				"heapMiB", getMemoryUsage()>>20,
			)
		}
	}
	root = trie.RootHash()
	out := context.App.Writer
	fmt.Fprintf(out, "Applied %d batches with %d updates each in %v\n", numBatches, numUpdates, time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(out, "Configuration: %s\n", trieConfig.Name)
	fmt.Fprintf(out, "Latest version: %d\n", version)
	fmt.Fprintf(out, "Root hash:     %s\n", hexutil.Encode(root[:]))
	return nil
}
