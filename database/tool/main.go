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
	"fmt"
	"os"

	"github.com/0xsoniclabs/statetrees/common/diagnostics"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

// Run using
//  go run ./database/tool <command> <flags>

var (
	diagnosticsFlag = cli.IntFlag{
		Name:  "diagnostic-port",
		Usage: "enable hosting of a realtime diagnostic server by providing a port",
		Value: 0,
	}
	cpuProfileFlag = cli.StringFlag{
		Name:  "cpuprofile",
		Usage: "sets the target file for storing CPU profiles to, disabled if empty",
		Value: "",
	}
	heapProfileFlag = cli.StringFlag{
		Name:  "heapprofile",
		Usage: "sets the target file for a heap profile taken at the end of the command, disabled if empty",
		Value: "",
	}
	traceFlag = cli.StringFlag{
		Name:  "tracefile",
		Usage: "sets the target file for traces to, disabled if empty",
		Value: "",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "log level: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value: 3,
	}
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML file providing defaults for the flags of this tool",
	}
	backendFlag = cli.StringFlag{
		Name:  "backend",
		Usage: "storage backend: memory, ldb or sql",
		Value: "memory",
	}
	dbFlag = cli.StringFlag{
		Name:  "db",
		Usage: "LevelDB directory or relational database descriptor (sqlite3:<file> or postgres://...)",
	}
	namespaceFlag = cli.UintFlag{
		Name:  "namespace",
		Usage: "namespace separating several trees in one database",
		Value: 1,
	}
	hashingFlag = cli.StringFlag{
		Name:  "hashing",
		Usage: "hash function: blake2b256, keccak256 or blake3",
	}
	schemeFlag = cli.StringFlag{
		Name:  "scheme",
		Usage: "commitment configuration by name, e.g. Classic or MPF",
	}
	cacheSizeFlag = cli.IntFlag{
		Name:  "cache-size",
		Usage: "number of cached nodes, derived from the available memory if zero",
	}
)

var commands = []*cli.Command{
	&InitSchemaCmd,
	&JmtLoadCmd,
	&MptLoadCmd,
	&InfoCmd,
	&ProveCmd,
	&PruneCmd,
}

var diagnosticFlags = diagnostics.Flags{
	Port:        &diagnosticsFlag,
	CpuProfile:  &cpuProfileFlag,
	HeapProfile: &heapProfileFlag,
	Trace:       &traceFlag,
}

func newApp() *cli.App {
	res := &cli.App{
		Name:      "tool",
		Usage:     "authenticated state tree toolbox",
		Copyright: "(c) 2025 Sonic Operations Ltd",
		Flags: []cli.Flag{
			&diagnosticsFlag,
			&cpuProfileFlag,
			&heapProfileFlag,
			&traceFlag,
			&verbosityFlag,
			&configFlag,
			&backendFlag,
			&dbFlag,
			&namespaceFlag,
			&hashingFlag,
			&schemeFlag,
			&cacheSizeFlag,
		},
		Before: setupLogging,
	}
	for _, cmd := range commands {
		wrapped := *cmd
		wrapped.Action = diagnostics.WrapAction(cmd.Action, diagnosticFlags)
		res.Commands = append(res.Commands, &wrapped)
	}
	return res
}

func setupLogging(ctx *cli.Context) error {
	level := log.FromLegacyLevel(ctx.Int(verbosityFlag.Name))
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, level, false)))
	return nil
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
