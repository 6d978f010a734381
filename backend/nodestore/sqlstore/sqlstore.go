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

	"github.com/0xsoniclabs/statetrees/backend/nodestore"
	"github.com/0xsoniclabs/statetrees/backend/rdbms"
	"github.com/0xsoniclabs/statetrees/common"
	"github.com/ethereum/go-ethereum/log"
)

// Store is a nodestore.Store keeping one row per node in a relational
// database. The store owns the database connection and closes it on Close.
type Store struct {
	db        *rdbms.DB
	namespace byte

	getStmt    string
	putStmt    string
	deleteStmt string
	hashesStmt string
}

var _ nodestore.Store = (*Store)(nil)

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
	if err := db.RequireTables(rdbms.MptTables...); err != nil {
		return nil, err
	}
	return &Store{
		db:         db,
		namespace:  namespace,
		getStmt:    db.Rebind("SELECT node_data FROM mpt_nodes WHERE namespace = ? AND node_hash = ?"),
		putStmt:    db.Rebind("INSERT INTO mpt_nodes (namespace, node_hash, node_data) VALUES (?, ?, ?) ON CONFLICT (namespace, node_hash) DO NOTHING"),
		deleteStmt: db.Rebind("DELETE FROM mpt_nodes WHERE namespace = ? AND node_hash = ?"),
		hashesStmt: db.Rebind("SELECT node_hash FROM mpt_nodes WHERE namespace = ?"),
	}, nil
}

func (s *Store) Get(hash common.Hash) ([]byte, error) {
	ctx, cancel := s.db.Context()
	defer cancel()
	var data []byte
	err := s.db.QueryRowContext(ctx, s.getStmt, s.namespace, hash[:]).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nodestore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read node %v: %w", hash, err)
	}
	return data, nil
}

func (s *Store) Put(hash common.Hash, data []byte) error {
	return s.PutAll([]nodestore.Node{{Hash: hash, Data: data}})
}

// PutAll inserts all nodes in a single transaction.
func (s *Store) PutAll(nodes []nodestore.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	return s.db.InTx(func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.putStmt)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, node := range nodes {
			if _, err := stmt.ExecContext(ctx, s.namespace, node.Hash[:], node.Data); err != nil {
				return fmt.Errorf("failed to insert node %v: %w", node.Hash, err)
			}
		}
		return nil
	})
}

func (s *Store) Delete(hash common.Hash) error {
	ctx, cancel := s.db.Context()
	defer cancel()
	if _, err := s.db.ExecContext(ctx, s.deleteStmt, s.namespace, hash[:]); err != nil {
		return fmt.Errorf("failed to delete node %v: %w", hash, err)
	}
	return nil
}

// ForEachHash reads all hashes of the namespace before visiting them, so
// visit may modify the table.
func (s *Store) ForEachHash(visit func(hash common.Hash) error) error {
	hashes, err := s.hashes()
	if err != nil {
		return err
	}
	for _, hash := range hashes {
		if err := visit(hash); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) hashes() ([]common.Hash, error) {
	ctx, cancel := s.db.Context()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, s.hashesStmt, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	var res []common.Hash
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, errors.Join(err, rows.Close())
		}
		hash, err := common.HashFromBytes(data)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("invalid node hash %x: %w", data, err), rows.Close())
		}
		res = append(res, hash)
	}
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return res, nil
}

// Flush does nothing, every write is committed immediately.
func (s *Store) Flush() error {
	return nil
}

// Close closes the owned database connection.
func (s *Store) Close() error {
	log.Debug("Closing relational node store", "namespace", s.namespace)
	return s.db.Close()
}
