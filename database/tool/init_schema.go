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

	"github.com/0xsoniclabs/statetrees/backend/rdbms"
	"github.com/urfave/cli/v2"
)

var InitSchemaCmd = cli.Command{
	Action: doInitSchema,
	Name:   "init-schema",
	Usage:  "creates the tables used by the relational backend if they do not exist",
}

func doInitSchema(context *cli.Context) error {
	config, err := loadConfig(context)
	if err != nil {
		return err
	}
	if config.Backend != "sql" {
		return fmt.Errorf("schema initialization requires the sql backend, got %s", config.Backend)
	}
	db, err := rdbms.Open(config.rdbmsConfig())
	if err != nil {
		return err
	}
	if err := db.Provision(); err != nil {
		return errors.Join(err, db.Close())
	}
	fmt.Fprintf(context.App.Writer, "Provisioned %s schema\n", db.Dialect().Name())
	return db.Close()
}
