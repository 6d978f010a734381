// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/0xsoniclabs/statetrees/backend/rdbms"
	"github.com/0xsoniclabs/statetrees/backend/rootindex"
	"github.com/0xsoniclabs/statetrees/common"
)

// Index is a rootindex.Index in the mpt_roots table of a relational
// database. The database is shared with the node store and not owned by
// the index.
type Index struct {
	db        *rdbms.DB
	namespace int64

	getStmt    string
	putStmt    string
	latestStmt string
	rangeStmt  string
	countStmt  string
	deleteStmt string
}

var _ rootindex.Index = (*Index)(nil)

// NewIndex creates an index on an open database. The schema must have been
// provisioned before.
func NewIndex(db *rdbms.DB, namespace byte) (*Index, error) {
	if err := db.RequireTables(rdbms.MptRootTables...); err != nil {
		return nil, err
	}
	return &Index{
		db:         db,
		namespace:  int64(namespace),
		getStmt:    db.Rebind("SELECT root_hash FROM mpt_roots WHERE namespace = ? AND version = ?"),
		putStmt:    db.Rebind("INSERT INTO mpt_roots (namespace, version, root_hash) VALUES (?, ?, ?)"),
		latestStmt: db.Rebind("SELECT version, root_hash FROM mpt_roots WHERE namespace = ? ORDER BY version DESC LIMIT 1"),
		rangeStmt:  db.Rebind("SELECT version, root_hash FROM mpt_roots WHERE namespace = ? AND version >= ? AND version <= ? ORDER BY version"),
		countStmt:  db.Rebind("SELECT COUNT(*) FROM mpt_roots WHERE namespace = ?"),
		deleteStmt: db.Rebind("DELETE FROM mpt_roots WHERE namespace = ? AND version < ?"),
	}, nil
}

// toDb converts a version into a column value. Versions beyond the signed
// range are clamped, which is only valid for range bounds.
func toDb(version uint64) int64 {
	if version > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(version)
}

func scanEntry(scan func(dest ...any) error) (rootindex.Entry, error) {
	var version int64
	var data []byte
	if err := scan(&version, &data); err != nil {
		return rootindex.Entry{}, err
	}
	root, err := common.HashFromBytes(data)
	if err != nil {
		return rootindex.Entry{}, fmt.Errorf("invalid root of version %d: %w", version, err)
	}
	return rootindex.Entry{Version: uint64(version), Root: root}, nil
}

func (i *Index) Put(version uint64, root common.Hash) error {
	if version > math.MaxInt64 {
		return fmt.Errorf("%w: version %d exceeds supported range", rootindex.ErrVersionOrder, version)
	}
	return i.db.InTx(func(ctx context.Context, tx *sql.Tx) error {
		entry, err := scanEntry(tx.QueryRowContext(ctx, i.latestStmt, i.namespace).Scan)
		if err == nil && entry.Version >= version {
			return fmt.Errorf("%w: %d after %d", rootindex.ErrVersionOrder, version, entry.Version)
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if _, err := tx.ExecContext(ctx, i.putStmt, i.namespace, int64(version), root[:]); err != nil {
			return fmt.Errorf("failed to record root of version %d: %w", version, err)
		}
		return nil
	})
}

func (i *Index) Get(version uint64) (common.Hash, error) {
	if version > math.MaxInt64 {
		return common.Hash{}, fmt.Errorf("%w: version %d", rootindex.ErrNotFound, version)
	}
	ctx, cancel := i.db.Context()
	defer cancel()
	var data []byte
	err := i.db.QueryRowContext(ctx, i.getStmt, i.namespace, int64(version)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Hash{}, fmt.Errorf("%w: version %d", rootindex.ErrNotFound, version)
	}
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to read root of version %d: %w", version, err)
	}
	return common.HashFromBytes(data)
}

func (i *Index) Latest() (rootindex.Entry, bool, error) {
	ctx, cancel := i.db.Context()
	defer cancel()
	entry, err := scanEntry(i.db.QueryRowContext(ctx, i.latestStmt, i.namespace).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return rootindex.Entry{}, false, nil
	}
	if err != nil {
		return rootindex.Entry{}, false, fmt.Errorf("failed to read latest root: %w", err)
	}
	return entry, true, nil
}

func (i *Index) ListRange(from, to uint64) ([]rootindex.Entry, error) {
	if from > to || from > math.MaxInt64 {
		return nil, nil
	}
	ctx, cancel := i.db.Context()
	defer cancel()
	rows, err := i.db.QueryContext(ctx, i.rangeStmt, i.namespace, toDb(from), toDb(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list roots: %w", err)
	}
	var res []rootindex.Entry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, errors.Join(err, rows.Close())
		}
		res = append(res, entry)
	}
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return nil, fmt.Errorf("failed to list roots: %w", err)
	}
	return res, nil
}

func (i *Index) Count() (uint64, error) {
	ctx, cancel := i.db.Context()
	defer cancel()
	var count int64
	if err := i.db.QueryRowContext(ctx, i.countStmt, i.namespace).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count roots: %w", err)
	}
	return uint64(count), nil
}

func (i *Index) DeleteBelow(version uint64) (uint64, error) {
	ctx, cancel := i.db.Context()
	defer cancel()
	res, err := i.db.ExecContext(ctx, i.deleteStmt, i.namespace, toDb(version))
	if err != nil {
		return 0, fmt.Errorf("failed to delete roots below version %d: %w", version, err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return uint64(removed), nil
}

// Close does nothing, the database is owned by the caller.
func (i *Index) Close() error {
	return nil
}
