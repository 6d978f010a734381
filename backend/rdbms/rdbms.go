// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package rdbms provides the relational database plumbing shared by the
// SQL-backed node stores: connection descriptors, SQL dialects, per-query
// timeouts, and the table layout expected to be provisioned before a store
// is opened.
package rdbms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrUnsupportedDriver is returned for connection descriptors naming an
	// unknown database system.
	ErrUnsupportedDriver = errors.New("unsupported database driver")
	// ErrMissingTable is returned when opening a store on a database lacking
	// one of the required tables.
	ErrMissingTable = errors.New("required table missing")
)

// Config describes how to connect to a relational database.
type Config struct {
	// Descriptor selects the database, either as "sqlite3:<file or DSN>" or
	// as a "postgres://" connection URL.
	Descriptor string
	// QueryTimeout bounds every individual database interaction. Zero
	// disables the timeout.
	QueryTimeout time.Duration
	// MaxOpenConns limits the connection pool. Zero selects the dialect's
	// default.
	MaxOpenConns int
}

// DefaultQueryTimeout is the timeout used by DefaultConfig.
const DefaultQueryTimeout = 30 * time.Second

// DefaultConfig returns a configuration for the given descriptor using
// default limits.
func DefaultConfig(descriptor string) Config {
	return Config{
		Descriptor:   descriptor,
		QueryTimeout: DefaultQueryTimeout,
	}
}

// DB is a connection pool bound to a dialect. It is safe for concurrent use.
type DB struct {
	*sql.DB
	dialect Dialect
	timeout time.Duration
}

// Open connects to the database described by the configuration. It fails
// fast on malformed descriptors and unreachable databases.
func Open(config Config) (*DB, error) {
	driver, dsn, err := parseDescriptor(config.Descriptor)
	if err != nil {
		return nil, err
	}
	dialect := dialects[driver]
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	maxConns := config.MaxOpenConns
	if maxConns <= 0 {
		maxConns = dialect.DefaultMaxOpenConns()
	}
	db.SetMaxOpenConns(maxConns)

	res := &DB{DB: db, dialect: dialect, timeout: config.QueryTimeout}
	ctx, cancel := res.Context()
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to connect to %s database: %w", driver, err), db.Close())
	}
	log.Debug("Opened relational database", "driver", driver, "maxConns", maxConns)
	return res, nil
}

// Dialect returns the SQL dialect of the connected database.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Rebind converts a query using '?' placeholders into the dialect's syntax.
func (db *DB) Rebind(query string) string {
	return db.dialect.Rebind(query)
}

// Context returns a context bounded by the configured query timeout.
func (db *DB) Context() (context.Context, context.CancelFunc) {
	if db.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), db.timeout)
}

// RequireTables checks that all given tables exist.
func (db *DB) RequireTables(tables ...string) error {
	for _, table := range tables {
		ctx, cancel := db.Context()
		rows, err := db.QueryContext(ctx, "SELECT 1 FROM "+table+" WHERE 1 = 0")
		if err == nil {
			err = rows.Close()
		}
		cancel()
		if err != nil {
			return fmt.Errorf("%w: %s (%v)", ErrMissingTable, table, err)
		}
	}
	return nil
}

// Provision creates all tables used by the stores of this module if they do
// not exist yet. Production deployments usually provision the schema with
// their own migration tooling; this is intended for tools and tests.
func (db *DB) Provision() error {
	for _, stmt := range db.dialect.Schema() {
		ctx, cancel := db.Context()
		_, err := db.ExecContext(ctx, stmt)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to provision schema: %w", err)
		}
	}
	return nil
}

// InTx runs the given function in a transaction which is committed if the
// function succeeds and rolled back otherwise.
func (db *DB) InTx(run func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, cancel := db.Context()
	defer cancel()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := run(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func parseDescriptor(descriptor string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(descriptor, "sqlite3:"):
		dsn = strings.TrimPrefix(descriptor, "sqlite3:")
		driver = "sqlite3"
	case strings.HasPrefix(descriptor, "sqlite:"):
		dsn = strings.TrimPrefix(descriptor, "sqlite:")
		driver = "sqlite3"
	case strings.HasPrefix(descriptor, "postgres://"), strings.HasPrefix(descriptor, "postgresql://"):
		dsn = descriptor
		driver = "postgres"
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, descriptor)
	}
	if strings.TrimSpace(dsn) == "" {
		return "", "", fmt.Errorf("empty data source in descriptor %q", descriptor)
	}
	return driver, dsn, nil
}
