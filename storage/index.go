/*
 * Copyright 2022 The utxowatch Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// indexDef names a permanent index and its ON-clause definition.
type indexDef struct {
	name       string
	definition string
}

var (
	indexInputsByAddress           = indexDef{"inputsByAddress", "inputs(address COLLATE NOCASE, spent_at)"}
	indexInputsByPaymentCredential = indexDef{"inputsByPaymentCredential", "inputs(payment_credential COLLATE NOCASE, spent_at)"}
	indexInputsByDatumHash         = indexDef{"inputsByDatumHash", "inputs(datum_hash)"}
	indexInputsBySpentAt           = indexDef{"inputsBySpentAt", "inputs(spent_at)"}
	indexInputsByCreatedAt         = indexDef{"inputsByCreatedAt", "inputs(created_at)"}
)

// permanentIndexes is the full index set installed at startup unless
// deferred.
var permanentIndexes = []indexDef{
	indexInputsByAddress,
	indexInputsByPaymentCredential,
	indexInputsByDatumHash,
	indexInputsBySpentAt,
	indexInputsByCreatedAt,
}

// installIndexes creates the permanent index set, or skips it entirely under
// SkipNonEssential so bulk ingest is not slowed by index maintenance.
func (db *Database) installIndexes(ctx context.Context) error {
	if db.deferIndexes == SkipNonEssential {
		db.tracer.Trace(DatabaseDeferIndexes{})
		return nil
	}
	return db.Transaction(ctx, "install indexes", func(tx *sql.Tx) error {
		for _, idx := range permanentIndexes {
			exists, err := indexExists(ctx, tx, idx.name)
			if err != nil {
				return err
			}
			if exists {
				db.tracer.Trace(DatabaseIndexAlreadyExists{Name: idx.name})
				continue
			}
			db.tracer.Trace(DatabaseCreateIndex{Name: idx.name})
			if err = createIndex(ctx, tx, idx); err != nil {
				return err
			}
		}
		return nil
	})
}

// indexExists probes `PRAGMA index_info`: any row back means the index is
// installed.
func indexExists(ctx context.Context, tx *sql.Tx, name string) (exists bool, err error) {
	var rows *sql.Rows
	if rows, err = tx.QueryContext(ctx, "PRAGMA index_info("+name+")"); err != nil {
		err = errors.Wrapf(err, "probe index %s", name)
		return
	}
	defer func() { _ = rows.Close() }()
	exists = rows.Next()
	err = rows.Err()
	return
}

func createIndex(ctx context.Context, tx *sql.Tx, idx indexDef) error {
	if _, err := tx.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS "+idx.name+" ON "+idx.definition); err != nil {
		return errors.Wrapf(err, "create index %s", idx.name)
	}
	return nil
}

// withTemporaryIndex brackets fn with the given index. When the index is
// already installed fn runs as-is; otherwise the index is created for the
// duration of fn and dropped afterwards, with trace events around both steps.
func (db *Database) withTemporaryIndex(ctx context.Context, tx *sql.Tx, idx indexDef, fn func() error) (err error) {
	var exists bool
	if exists, err = indexExists(ctx, tx, idx.name); err != nil {
		return
	}
	if !exists {
		db.tracer.Trace(ConnectionCreateTemporaryIndex{Name: idx.name})
		if err = createIndex(ctx, tx, idx); err != nil {
			return
		}
	}
	if err = fn(); err != nil {
		return
	}
	if !exists {
		db.tracer.Trace(ConnectionRemoveTemporaryIndex{Name: idx.name})
		if _, err = tx.ExecContext(ctx, "DROP INDEX IF EXISTS "+idx.name); err != nil {
			err = errors.Wrapf(err, "drop temporary index %s", idx.name)
		}
	}
	return
}
