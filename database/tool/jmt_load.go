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
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/0xsoniclabs/statetrees/common"
	"github.com/0xsoniclabs/statetrees/database/jmt"
	"github.com/0xsoniclabs/statetrees/database/pruner"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/urfave/cli/v2"
)

var (
	numVersionsFlag = cli.IntFlag{
		Name:  "versions",
		Usage: "number of versions to commit",
		Value: 100,
	}
	updatesFlag = cli.IntFlag{
		Name:  "updates",
		Usage: "number of updates per version or batch",
		Value: 1000,
	}
	keySpaceFlag = cli.IntFlag{
		Name:  "key-space",
		Usage: "number of distinct keys updates are drawn from",
		Value: 1_000_000,
	}
	seedFlag = cli.Int64Flag{
		Name:  "seed",
		Usage: "seed of the random update generator",
		Value: 1,
	}
	keepFlag = cli.Uint64Flag{
		Name:  "keep",
		Usage: "number of latest versions kept when pruning, taken from the config if zero",
	}
	pruneFlag = cli.BoolFlag{
		Name:  "prune",
		Usage: "prune old versions after each commit",
	}
	reportPeriodFlag = cli.DurationFlag{
		Name:  "report-period",
		Usage: "time between progress reports",
		Value: 10 * time.Second,
	}
)

var JmtLoadCmd = cli.Command{
	Action: doJmtLoad,
	Name:   "jmt-load",
	Usage:  "commits versions of random updates to a Jellyfish Merkle Tree",
	Flags: []cli.Flag{
		&numVersionsFlag,
		&updatesFlag,
		&keySpaceFlag,
		&seedFlag,
		&pruneFlag,
		&keepFlag,
		&reportPeriodFlag,
	},
}

// updateGenerator produces random updates of keys from a bounded key space.
type updateGenerator struct {
	random   *rand.Rand
	keySpace int
}

func newUpdateGenerator(seed int64, keySpace int) *updateGenerator {
	return &updateGenerator{
		random:   rand.New(rand.NewSource(seed)),
		keySpace: max(keySpace, 1),
	}
}

func (g *updateGenerator) next(n int) []common.MapEntry[[]byte, []byte] {
	res := make([]common.MapEntry[[]byte, []byte], n)
	for i := range res {
		key := binary.BigEndian.AppendUint64(nil, uint64(g.random.Intn(g.keySpace)))
		value := make([]byte, 32)
		g.random.Read(value)
		res[i] = common.MapEntry[[]byte, []byte]{Key: key, Val: value}
	}
	return res
}

func doJmtLoad(context *cli.Context) (err error) {
	config, err := loadConfig(context)
	if err != nil {
		return err
	}
	treeConfig, err := config.treeConfig()
	if err != nil {
		return err
	}
	treeMetrics := jmt.NewGethMetrics(metrics.NewRegistry(), "jmt")
	defer treeMetrics.Stop()
	treeConfig.Metrics = treeMetrics

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

	prunerConfig := config.prunerConfig()
	if keep := context.Uint64(keepFlag.Name); keep > 0 {
		prunerConfig.KeepLatest = keep
	}
	prune := pruner.NewPruner(store, prunerConfig)

	latest, _, _, err := tree.LatestVersion()
	if err != nil {
		return err
	}
	generator := newUpdateGenerator(context.Int64(seedFlag.Name), context.Int(keySpaceFlag.Name))
	numVersions := context.Int(numVersionsFlag.Name)
	numUpdates := context.Int(updatesFlag.Name)
	reportPeriod := context.Duration(reportPeriodFlag.Name)

	start := time.Now()
	lastReport := start
	var total jmt.CommitResult
	var pruned uint64
	for i := range numVersions {
		res, err := tree.Put(latest+uint64(i)+1, generator.next(numUpdates))
		if err != nil {
			return err
		}
		total.Version = res.Version
		total.RootHash = res.RootHash
		total.NodesWritten += res.NodesWritten
		total.StaleNodes += res.StaleNodes
		total.ValuesWritten += res.ValuesWritten

		if context.Bool(pruneFlag.Name) {
			removed, err := prune.KeepLatest(prunerConfig.KeepLatest)
			if err != nil {
				return err
			}
			pruned += removed
		}
		if now := time.Now(); now.Sub(lastReport) >= reportPeriod {
			lastReport = now
			log.Info("Loading tree", "version", res.Version, "root", res.RootHash,
				"updates/s", float64((i+1)*numUpdates)/now.Sub(start).Seconds(),
				"heapMiB", getMemoryUsage()>>20,
			)
		}
	}

	duration := time.Since(start)
	out := context.App.Writer
	fmt.Fprintf(out, "Committed %d versions with %d updates each in %v\n", numVersions, numUpdates, duration.Round(time.Millisecond))
	fmt.Fprintf(out, "Latest version: %d\n", total.Version)
	fmt.Fprintf(out, "Root hash:      %s\n", hexutil.Encode(total.RootHash[:]))
	fmt.Fprintf(out, "Nodes written:  %d\n", total.NodesWritten)
	fmt.Fprintf(out, "Stale nodes:    %d\n", total.StaleNodes)
	fmt.Fprintf(out, "Values written: %d\n", total.ValuesWritten)
	commitTime := treeMetrics.CommitTime()
	fmt.Fprintf(out, "Commit time:    mean %v, p95 %v\n",
		time.Duration(commitTime.Mean()).Round(time.Microsecond),
		time.Duration(commitTime.Percentile(0.95)).Round(time.Microsecond),
	)
	if context.Bool(pruneFlag.Name) {
		fmt.Fprintf(out, "Pruned records: %d\n", pruned)
	}
	return nil
}
