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
	"time"

	"github.com/0xsoniclabs/statetrees/common/hashing"
	"github.com/0xsoniclabs/statetrees/database/jmt"
	"github.com/0xsoniclabs/statetrees/database/mpt"
	"github.com/0xsoniclabs/statetrees/database/pruner"
	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v2"
)

// toolConfig holds the settings shared by all commands. Values are read
// from an optional TOML file and overridden by explicitly set flags.
type toolConfig struct {
	Backend      string        `toml:"backend"`
	Db           string        `toml:"db"`
	Namespace    uint8         `toml:"namespace"`
	Hashing      string        `toml:"hashing"`
	Scheme       string        `toml:"scheme"`
	CacheSize    int           `toml:"cache_size"`
	QueryTimeout time.Duration `toml:"query_timeout"`
	Prune        pruneConfig   `toml:"prune"`
}

type pruneConfig struct {
	KeepLatest uint64        `toml:"keep_latest"`
	MaxRetries int           `toml:"max_retries"`
	RetryDelay time.Duration `toml:"retry_delay"`
}

func defaultToolConfig() toolConfig {
	return toolConfig{
		Backend:      "memory",
		Namespace:    1,
		Hashing:      hashing.Default.Name(),
		QueryTimeout: 30 * time.Second,
		Prune: pruneConfig{
			KeepLatest: pruner.DefaultConfig.KeepLatest,
			MaxRetries: pruner.DefaultConfig.MaxRetries,
			RetryDelay: pruner.DefaultConfig.RetryDelay,
		},
	}
}

// loadConfig resolves the configuration of the running command.
func loadConfig(ctx *cli.Context) (toolConfig, error) {
	res := defaultToolConfig()
	if file := ctx.String(configFlag.Name); file != "" {
		if _, err := toml.DecodeFile(file, &res); err != nil {
			return toolConfig{}, fmt.Errorf("failed to load config file %s: %w", file, err)
		}
	}
	if ctx.IsSet(backendFlag.Name) {
		res.Backend = ctx.String(backendFlag.Name)
	}
	if ctx.IsSet(dbFlag.Name) {
		res.Db = ctx.String(dbFlag.Name)
	}
	if ctx.IsSet(namespaceFlag.Name) {
		res.Namespace = uint8(ctx.Uint(namespaceFlag.Name))
	}
	if ctx.IsSet(hashingFlag.Name) {
		res.Hashing = ctx.String(hashingFlag.Name)
	}
	if ctx.IsSet(schemeFlag.Name) {
		res.Scheme = ctx.String(schemeFlag.Name)
	}
	if ctx.IsSet(cacheSizeFlag.Name) {
		res.CacheSize = ctx.Int(cacheSizeFlag.Name)
	}
	switch res.Backend {
	case "memory":
	case "ldb", "sql":
		if res.Db == "" {
			return toolConfig{}, fmt.Errorf("backend %s requires --%s", res.Backend, dbFlag.Name)
		}
	default:
		return toolConfig{}, fmt.Errorf("unknown backend %q, supported are memory, ldb and sql", res.Backend)
	}
	return res, nil
}

func (c toolConfig) hashFunction() (hashing.Function, error) {
	return hashing.ByName(c.Hashing)
}

// treeConfig selects the tree configuration, the default one if no scheme
// is configured.
func (c toolConfig) treeConfig() (jmt.Config, error) {
	res := jmt.DefaultConfig
	if c.Scheme != "" {
		var err error
		if res, err = jmt.ConfigByName(c.Scheme); err != nil {
			return jmt.Config{}, err
		}
	}
	hash, err := c.hashFunction()
	if err != nil {
		return jmt.Config{}, err
	}
	res = res.WithHashing(hash)
	res.NodeCacheSize = c.CacheSize
	return res, nil
}

// trieConfig selects the trie configuration, the classic one if no scheme
// is configured.
func (c toolConfig) trieConfig() (mpt.Config, error) {
	res := mpt.ClassicConfig
	if c.Scheme != "" {
		var err error
		if res, err = mpt.ConfigByName(c.Scheme); err != nil {
			return mpt.Config{}, err
		}
	}
	hash, err := c.hashFunction()
	if err != nil {
		return mpt.Config{}, err
	}
	return res.WithHashing(hash), nil
}

func (c toolConfig) prunerConfig() pruner.Config {
	return pruner.Config{
		KeepLatest: c.Prune.KeepLatest,
		MaxRetries: c.Prune.MaxRetries,
		RetryDelay: c.Prune.RetryDelay,
	}
}
