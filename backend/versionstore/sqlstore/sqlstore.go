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
	"github.com/0xsoniclabs/statetrees/backend/versionstore"
	"github.com/0xsoniclabs/statetrees/common"
	"github.com/0xsoniclabs/statetrees/common/nibbles"
	"github.com/ethereum/go-ethereum/log"
)

// DefaultChunkSize is the maximum number of stale nodes removed per
// transaction while pruning.
const DefaultChunkSize = 10_000

// Store is a versionstore.Store keeping its records in relational tables.
// Each commit is written in a single transaction. The store owns the
// database connection and closes it on Close.
type Store struct {
	db        *rdbms.DB
	namespace byte
	chunkSize int
	q         queries
}

type queries struct {
	latest, setLatest, clearLatest      string
	root, putRoot                       string
	node, floorNode, putNode            string
	value, putValue                     string
	markStale, selectStale              string
	deleteNode, deleteStale             string
	pruneRoots, pruneValues             string
	truncRoots, truncNodes, truncValues string
	truncStale                          string
	countNodes, countStale, countValues string
	countRoots                          string
}

func newQueries(db *rdbms.DB) queries {
	r := db.Rebind
	return queries{
		latest:      r("SELECT latest_version, latest_root FROM jmt_latest WHERE namespace = ?"),
		setLatest:   r("INSERT INTO jmt_latest (namespace, latest_version, latest_root) VALUES (?, ?, ?) ON CONFLICT (namespace) DO UPDATE SET latest_version = excluded.latest_version, latest_root = excluded.latest_root"),
		clearLatest: r("DELETE FROM jmt_latest WHERE namespace = ?"),
		root:        r("SELECT root_hash FROM jmt_roots WHERE namespace = ? AND version = ?"),
		putRoot:     r("INSERT INTO jmt_roots (namespace, version, root_hash) VALUES (?, ?, ?)"),
		node:        r("SELECT node_data FROM jmt_nodes WHERE namespace = ? AND node_path = ? AND version = ?"),
		floorNode:   r("SELECT version, node_data FROM jmt_nodes WHERE namespace = ? AND node_path = ? AND version <= ? ORDER BY version DESC LIMIT 1"),
		putNode:     r("INSERT INTO jmt_nodes (namespace, node_path, version, node_data) VALUES (?, ?, ?, ?) ON CONFLICT (namespace, node_path, version) DO NOTHING"),
		value:       r("SELECT value_data FROM jmt_values WHERE namespace = ? AND key_hash = ? AND version <= ? ORDER BY version DESC LIMIT 1"),
		putValue:    r("INSERT INTO jmt_values (namespace, key_hash, version, value_data) VALUES (?, ?, ?, ?) ON CONFLICT (namespace, key_hash, version) DO NOTHING"),
		markStale:   r("INSERT INTO jmt_stale (namespace, stale_since, node_path, node_version) VALUES (?, ?, ?, ?) ON CONFLICT (namespace, stale_since, node_path, node_version) DO NOTHING"),
		selectStale: r("SELECT stale_since, node_path, node_version FROM jmt_stale WHERE namespace = ? AND stale_since <= ? ORDER BY stale_since LIMIT ?"),
		deleteNode:  r("DELETE FROM jmt_nodes WHERE namespace = ? AND node_path = ? AND version = ?"),
		deleteStale: r("DELETE FROM jmt_stale WHERE namespace = ? AND stale_since = ? AND node_path = ? AND node_version = ?"),
		pruneRoots:  r("DELETE FROM jmt_roots WHERE namespace = ? AND version < ?"),
		pruneValues: r(`DELETE FROM jmt_values WHERE namespace = ? AND version < (
			SELECT MAX(newer.version) FROM jmt_values newer
			WHERE newer.namespace = jmt_values.namespace AND newer.key_hash = jmt_values.key_hash AND newer.version <= ?)`),
		truncRoots:  r("DELETE FROM jmt_roots WHERE namespace = ? AND version > ?"),
		truncNodes:  r("DELETE FROM jmt_nodes WHERE namespace = ? AND version > ?"),
		truncValues: r("DELETE FROM jmt_values WHERE namespace = ? AND version > ?"),
		truncStale:  r("DELETE FROM jmt_stale WHERE namespace = ? AND stale_since > ?"),
		countNodes:  r("SELECT COUNT(*) FROM jmt_nodes WHERE namespace = ?"),
		countStale:  r("SELECT COUNT(*) FROM jmt_stale WHERE namespace = ?"),
		countValues: r("SELECT COUNT(*) FROM jmt_values WHERE namespace = ?"),
		countRoots:  r("SELECT COUNT(*) FROM jmt_roots WHERE namespace = ?"),
	}
}

var _ versionstore.Store = (*Store)(nil)

// Open connects to the configured database and opens a store on it.
func Open(config rdbms.Config, namespace byte) (*Store, error) {
	db, err := rdbms.Open(config)
	if err != nil {
		return nil, err
	}
	res, err := NewStore(db, namespace)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return res, nil
}

// NewStore creates a store on an open database. The schema must have been
// provisioned before.
func NewStore(db *rdbms.DB, namespace byte) (*Store, error) {
	if err := db.RequireTables(rdbms.JmtTables...); err != nil {
		return nil, err
	}
	return &Store{
		db:        db,
		namespace: namespace,
		chunkSize: DefaultChunkSize,
		q:         newQueries(db),
	}, nil
}

// ErrVersionOutOfRange is returned when committing a version exceeding the
// range of the signed integers used for versions in the database.
var ErrVersionOutOfRange = errors.New("version exceeds supported range")

// toDb maps version bounds to the signed integers supported by all
// databases. Larger bounds are clamped, which does not change the result of
// range queries.
func toDb(version uint64) int64 {
	if version > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(version)
}

// checkRange verifies that the batch only refers to versions which can be
// stored without loss.
func (b *commitBatch) checkRange() error {
	if b.Version > math.MaxInt64 {
		return fmt.Errorf("%w: %d", ErrVersionOutOfRange, b.Version)
	}
	for _, node := range b.Nodes {
		if node.Key.Version > math.MaxInt64 {
			return fmt.Errorf("%w: node %v", ErrVersionOutOfRange, node.Key)
		}
	}
	for _, rec := range b.Stale {
		if rec.StaleSince > math.MaxInt64 || rec.Key.Version > math.MaxInt64 {
			return fmt.Errorf("%w: stale node %v", ErrVersionOutOfRange, rec.Key)
		}
	}
	return nil
}

// querier is implemented by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) latestIn(ctx context.Context, q querier) (uint64, common.Hash, bool, error) {
	var version int64
	var root []byte
	err := q.QueryRowContext(ctx, s.q.latest, s.namespace).Scan(&version, &root)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, common.Hash{}, false, nil
	}
	if err != nil {
		return 0, common.Hash{}, false, fmt.Errorf("failed to read latest version: %w", err)
	}
	hash, err := common.HashFromBytes(root)
	if err != nil {
		return 0, common.Hash{}, false, fmt.Errorf("invalid latest root: %w", err)
	}
	return uint64(version), hash, true, nil
}

func (s *Store) LatestVersion() (uint64, common.Hash, bool, error) {
	ctx, cancel := s.db.Context()
	defer cancel()
	return s.latestIn(ctx, s.db)
}

func (s *Store) rootIn(ctx context.Context, q querier, version uint64) (common.Hash, bool, error) {
	var root []byte
	err := q.QueryRowContext(ctx, s.q.root, s.namespace, toDb(version)).Scan(&root)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Hash{}, false, nil
	}
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("failed to read root of version %d: %w", version, err)
	}
	hash, err := common.HashFromBytes(root)
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("invalid root of version %d: %w", version, err)
	}
	return hash, true, nil
}

func (s *Store) RootHash(version uint64) (common.Hash, bool, error) {
	ctx, cancel := s.db.Context()
	defer cancel()
	return s.rootIn(ctx, s.db, version)
}

func (s *Store) GetNode(key versionstore.NodeKey) ([]byte, error) {
	ctx, cancel := s.db.Context()
	defer cancel()
	var data []byte
	err := s.db.QueryRowContext(ctx, s.q.node, s.namespace, versionstore.EncodePath(key.Path), toDb(key.Version)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, versionstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read node %v: %w", key, err)
	}
	return data, nil
}

func (s *Store) FloorNode(path nibbles.Path, version uint64) (versionstore.NodeKey, []byte, error) {
	ctx, cancel := s.db.Context()
	defer cancel()
	var found int64
	var data []byte
	err := s.db.QueryRowContext(ctx, s.q.floorNode, s.namespace, versionstore.EncodePath(path), toDb(version)).Scan(&found, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return versionstore.NodeKey{}, nil, versionstore.ErrNotFound
	}
	if err != nil {
		return versionstore.NodeKey{}, nil, fmt.Errorf("failed to look up node at %v: %w", path, err)
	}
	return versionstore.NodeKey{Version: uint64(found), Path: path.Clone()}, data, nil
}

func (s *Store) GetValue(keyHash common.Hash, version uint64) ([]byte, bool, error) {
	ctx, cancel := s.db.Context()
	defer cancel()
	var data []byte
	err := s.db.QueryRowContext(ctx, s.q.value, s.namespace, keyHash[:], toDb(version)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up value of %v: %w", keyHash, err)
	}
	return data, true, nil
}

func (s *Store) BeginCommit(version uint64) versionstore.CommitBatch {
	return &commitBatch{store: s, Records: versionstore.Records{Version: version}}
}

type commitBatch struct {
	versionstore.Records
	store *Store
}

// execAll runs a prepared statement once per argument list.
func execAll(ctx context.Context, tx *sql.Tx, query string, args [][]any) error {
	if len(args) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, cur := range args {
		if _, err := stmt.ExecContext(ctx, cur...); err != nil {
			return err
		}
	}
	return nil
}

// Commit writes all records in a single transaction.
func (b *commitBatch) Commit() error {
	s := b.store
	if err := b.checkRange(); err != nil {
		return fmt.Errorf("failed to commit version %d: %w", b.Version, err)
	}
	version := toDb(b.Version)
	err := s.db.InTx(func(ctx context.Context, tx *sql.Tx) error {
		latest, _, hasLatest, err := s.latestIn(ctx, tx)
		if err != nil {
			return err
		}
		if err := b.Validate(latest, hasLatest); err != nil {
			return err
		}
		nodes := make([][]any, 0, len(b.Nodes))
		for _, node := range b.Nodes {
			nodes = append(nodes, []any{s.namespace, versionstore.EncodePath(node.Key.Path), toDb(node.Key.Version), node.Data})
		}
		if err := execAll(ctx, tx, s.q.putNode, nodes); err != nil {
			return fmt.Errorf("failed to insert nodes: %w", err)
		}
		stale := make([][]any, 0, len(b.Stale))
		for _, rec := range b.Stale {
			stale = append(stale, []any{s.namespace, toDb(rec.StaleSince), versionstore.EncodePath(rec.Key.Path), toDb(rec.Key.Version)})
		}
		if err := execAll(ctx, tx, s.q.markStale, stale); err != nil {
			return fmt.Errorf("failed to insert stale markers: %w", err)
		}
		values := make([][]any, 0, len(b.Values))
		for _, value := range b.Values {
			values = append(values, []any{s.namespace, value.KeyHash[:], version, value.Value})
		}
		if err := execAll(ctx, tx, s.q.putValue, values); err != nil {
			return fmt.Errorf("failed to insert values: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.q.putRoot, s.namespace, version, b.Root[:]); err != nil {
			return fmt.Errorf("failed to insert root: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.q.setLatest, s.namespace, version, b.Root[:]); err != nil {
			return fmt.Errorf("failed to update latest version: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit version %d: %w", b.Version, err)
	}
	log.Debug("Committed version", "version", b.Version, "nodes", len(b.Nodes), "stale", len(b.Stale), "values", len(b.Values))
	b.Records.Discard()
	return nil
}

type staleRow struct {
	staleSince int64
	path       []byte
	version    int64
}

// PruneUpTo removes roots and values in one transaction each and stale
// nodes in transactions of bounded size, each leaving a valid store.
func (s *Store) PruneUpTo(version uint64) (uint64, error) {
	latest, _, hasLatest, err := s.LatestVersion()
	if err != nil || !hasLatest {
		return 0, err
	}
	cutoff := toDb(min(version, latest))

	err = s.db.InTx(func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q.pruneRoots, s.namespace, cutoff)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune roots: %w", err)
	}

	removed := uint64(0)
	for {
		count := 0
		err := s.db.InTx(func(ctx context.Context, tx *sql.Tx) error {
			rows, err := tx.QueryContext(ctx, s.q.selectStale, s.namespace, cutoff, s.chunkSize)
			if err != nil {
				return err
			}
			var chunk []staleRow
			for rows.Next() {
				var row staleRow
				if err := rows.Scan(&row.staleSince, &row.path, &row.version); err != nil {
					return errors.Join(err, rows.Close())
				}
				chunk = append(chunk, row)
			}
			if err := errors.Join(rows.Err(), rows.Close()); err != nil {
				return err
			}
			nodes := make([][]any, 0, len(chunk))
			markers := make([][]any, 0, len(chunk))
			for _, row := range chunk {
				nodes = append(nodes, []any{s.namespace, row.path, row.version})
				markers = append(markers, []any{s.namespace, row.staleSince, row.path, row.version})
			}
			if err := execAll(ctx, tx, s.q.deleteNode, nodes); err != nil {
				return err
			}
			if err := execAll(ctx, tx, s.q.deleteStale, markers); err != nil {
				return err
			}
			count = len(chunk)
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("failed to prune nodes: %w", err)
		}
		removed += uint64(count)
		if count < s.chunkSize {
			break
		}
	}

	err = s.db.InTx(func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q.pruneValues, s.namespace, cutoff)
		if err != nil {
			return err
		}
		count, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed += uint64(count)
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("failed to prune values: %w", err)
	}
	log.Debug("Pruned version store", "cutoff", cutoff, "removed", removed)
	return removed, nil
}

func (s *Store) TruncateAfter(version uint64) error {
	v := toDb(version)
	err := s.db.InTx(func(ctx context.Context, tx *sql.Tx) error {
		root, found, err := s.rootIn(ctx, tx, version)
		if err != nil {
			return err
		}
		if !found && version > 0 {
			return fmt.Errorf("%w: %d", versionstore.ErrUnknownVersion, version)
		}
		for _, query := range []string{s.q.truncRoots, s.q.truncNodes, s.q.truncValues, s.q.truncStale} {
			if _, err := tx.ExecContext(ctx, query, s.namespace, v); err != nil {
				return err
			}
		}
		if version == 0 {
			_, err = tx.ExecContext(ctx, s.q.clearLatest, s.namespace)
		} else {
			_, err = tx.ExecContext(ctx, s.q.setLatest, s.namespace, v, root[:])
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to truncate after version %d: %w", version, err)
	}
	log.Info("Truncated version store", "version", version)
	return nil
}

func (s *Store) Stats() (versionstore.Stats, error) {
	ctx, cancel := s.db.Context()
	defer cancel()
	var res versionstore.Stats
	for query, target := range map[string]*uint64{
		s.q.countNodes:  &res.Nodes,
		s.q.countStale:  &res.StaleNodes,
		s.q.countValues: &res.Values,
		s.q.countRoots:  &res.Roots,
	} {
		var count int64
		if err := s.db.QueryRowContext(ctx, query, s.namespace).Scan(&count); err != nil {
			return res, fmt.Errorf("failed to collect statistics: %w", err)
		}
		*target = uint64(count)
	}
	return res, nil
}

// Close closes the owned database connection.
func (s *Store) Close() error {
	log.Debug("Closing relational version store", "namespace", s.namespace)
	return s.db.Close()
}
