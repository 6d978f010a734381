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

	"github.com/0xsoniclabs/statetrees/backend"
	"github.com/0xsoniclabs/statetrees/backend/nodestore"
	"github.com/0xsoniclabs/statetrees/backend/nodestore/cache"
	nodeldb "github.com/0xsoniclabs/statetrees/backend/nodestore/ldb"
	nodememory "github.com/0xsoniclabs/statetrees/backend/nodestore/memory"
	nodesql "github.com/0xsoniclabs/statetrees/backend/nodestore/sqlstore"
	"github.com/0xsoniclabs/statetrees/backend/rdbms"
	"github.com/0xsoniclabs/statetrees/backend/rootindex"
	rootldb "github.com/0xsoniclabs/statetrees/backend/rootindex/ldb"
	rootmemory "github.com/0xsoniclabs/statetrees/backend/rootindex/memory"
	rootsql "github.com/0xsoniclabs/statetrees/backend/rootindex/sqlstore"
	"github.com/0xsoniclabs/statetrees/backend/versionstore"
	versionldb "github.com/0xsoniclabs/statetrees/backend/versionstore/ldb"
	versionmemory "github.com/0xsoniclabs/statetrees/backend/versionstore/memory"
	versionsql "github.com/0xsoniclabs/statetrees/backend/versionstore/sqlstore"
	"github.com/0xsoniclabs/statetrees/database/mpt"
	"github.com/syndtr/goleveldb/leveldb"
)

// trieNodeSize is the expected average size of an encoded trie node.
const trieNodeSize = 256

func (c toolConfig) rdbmsConfig() rdbms.Config {
	res := rdbms.DefaultConfig(c.Db)
	res.QueryTimeout = c.QueryTimeout
	return res
}

func openVersionStore(config toolConfig) (versionstore.Store, error) {
	switch config.Backend {
	case "ldb":
		return versionldb.Open(config.Db, config.Namespace)
	case "sql":
		return versionsql.Open(config.rdbmsConfig(), config.Namespace)
	}
	return versionmemory.NewStore(), nil
}

// levelDbNodeStore closes the LevelDB instance together with the store.
type levelDbNodeStore struct {
	nodestore.Store
	db *leveldb.DB
}

func (s *levelDbNodeStore) Close() error {
	return errors.Join(s.Store.Close(), s.db.Close())
}

// trieStores holds the node store and the root index of a trie. Both share
// one database, which is closed together with the node store.
type trieStores struct {
	nodes nodestore.Store
	roots rootindex.Index
}

func (s *trieStores) history(config mpt.Config) *mpt.History {
	return mpt.NewHistory(s.nodes, s.roots, config)
}

func (s *trieStores) Close() error {
	return errors.Join(s.roots.Close(), s.nodes.Close())
}

// openTrieStores opens the configured node store behind an LRU cache and
// the root index next to it.
func openTrieStores(config toolConfig) (*trieStores, error) {
	var store nodestore.Store
	var roots rootindex.Index
	switch config.Backend {
	case "ldb":
		db, err := backend.OpenLevelDb(config.Db, nil)
		if err != nil {
			return nil, err
		}
		res, err := nodeldb.NewStore(db, config.Namespace)
		if err != nil {
			return nil, errors.Join(err, db.Close())
		}
		store = &levelDbNodeStore{Store: res, db: db}
		roots = rootldb.NewIndex(db, config.Namespace)
	case "sql":
		db, err := rdbms.Open(config.rdbmsConfig())
		if err != nil {
			return nil, err
		}
		res, err := nodesql.NewStore(db, config.Namespace)
		if err != nil {
			return nil, errors.Join(err, db.Close())
		}
		if roots, err = rootsql.NewIndex(db, config.Namespace); err != nil {
			return nil, errors.Join(err, res.Close())
		}
		store = res
	default:
		store = nodememory.NewStore()
		roots = rootmemory.NewIndex()
	}
	size := config.CacheSize
	if size <= 0 {
		size = backend.DefaultCacheSize(trieNodeSize)
	}
	res, err := cache.NewStore(store, size)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create node cache: %w", err), roots.Close(), store.Close())
	}
	return &trieStores{nodes: res, roots: roots}, nil
}
