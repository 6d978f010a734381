// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package rdbms

import (
	"strconv"
	"strings"
)

// Table names used by the SQL-backed stores.
const (
	MptNodesTable  = "mpt_nodes"
	MptRootsTable  = "mpt_roots"
	JmtNodesTable  = "jmt_nodes"
	JmtStaleTable  = "jmt_stale"
	JmtValuesTable = "jmt_values"
	JmtRootsTable  = "jmt_roots"
	JmtLatestTable = "jmt_latest"
)

// MptTables lists the tables required by the content-addressed node store.
var MptTables = []string{MptNodesTable}

// MptRootTables lists the tables required by the trie root index.
var MptRootTables = []string{MptRootsTable}

// JmtTables lists the tables required by the version-addressed node store.
var JmtTables = []string{JmtNodesTable, JmtStaleTable, JmtValuesTable, JmtRootsTable, JmtLatestTable}

// Dialect captures the differences between the supported database systems.
type Dialect interface {
	Name() string
	// Rebind rewrites '?' placeholders into the dialect's syntax.
	Rebind(query string) string
	// Schema returns the statements creating all tables if missing.
	Schema() []string
	DefaultMaxOpenConns() int
}

var dialects = map[string]Dialect{
	"sqlite3":  sqliteDialect{},
	"postgres": postgresDialect{},
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string {
	return "sqlite3"
}

func (sqliteDialect) Rebind(query string) string {
	return query
}

func (sqliteDialect) Schema() []string {
	return schema("BLOB")
}

// SQLite serializes writers; a single connection avoids lock contention
// between concurrent transactions of one process.
func (sqliteDialect) DefaultMaxOpenConns() int {
	return 1
}

type postgresDialect struct{}

func (postgresDialect) Name() string {
	return "postgres"
}

func (postgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (postgresDialect) Schema() []string {
	return schema("BYTEA")
}

func (postgresDialect) DefaultMaxOpenConns() int {
	return 16
}

func schema(blob string) []string {
	r := strings.NewReplacer("BLOB", blob)
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mpt_nodes (
			namespace INTEGER NOT NULL,
			node_hash BLOB NOT NULL,
			node_data BLOB NOT NULL,
			PRIMARY KEY (namespace, node_hash))`,
		`CREATE TABLE IF NOT EXISTS mpt_roots (
			namespace INTEGER NOT NULL,
			version BIGINT NOT NULL,
			root_hash BLOB NOT NULL,
			PRIMARY KEY (namespace, version))`,
		`CREATE TABLE IF NOT EXISTS jmt_nodes (
			namespace INTEGER NOT NULL,
			node_path BLOB NOT NULL,
			version BIGINT NOT NULL,
			node_data BLOB NOT NULL,
			PRIMARY KEY (namespace, node_path, version))`,
		`CREATE TABLE IF NOT EXISTS jmt_stale (
			namespace INTEGER NOT NULL,
			stale_since BIGINT NOT NULL,
			node_path BLOB NOT NULL,
			node_version BIGINT NOT NULL,
			PRIMARY KEY (namespace, stale_since, node_path, node_version))`,
		`CREATE TABLE IF NOT EXISTS jmt_values (
			namespace INTEGER NOT NULL,
			key_hash BLOB NOT NULL,
			version BIGINT NOT NULL,
			value_data BLOB,
			PRIMARY KEY (namespace, key_hash, version))`,
		`CREATE TABLE IF NOT EXISTS jmt_roots (
			namespace INTEGER NOT NULL,
			version BIGINT NOT NULL,
			root_hash BLOB NOT NULL,
			PRIMARY KEY (namespace, version))`,
		`CREATE TABLE IF NOT EXISTS jmt_latest (
			namespace INTEGER NOT NULL PRIMARY KEY,
			latest_version BIGINT NOT NULL,
			latest_root BLOB NOT NULL)`,
	}
	for i, stmt := range stmts {
		stmts[i] = r.Replace(stmt)
	}
	return stmts
}
