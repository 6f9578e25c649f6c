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
	"strings"

	"github.com/pkg/errors"
)

// migrations is the ordered ladder of schema scripts. migrations[i] brings the
// store from version i to version i+1. The version bump is embedded as the
// first statement of each script so it commits atomically with the rest.
var migrations = []string{
	migration1,
	migration2,
	migration3,
	migration4,
}

const migration1 = `
PRAGMA user_version = 1;

CREATE TABLE IF NOT EXISTS inputs (
  ext_output_reference BLOB NOT NULL PRIMARY KEY,
  address TEXT COLLATE NOCASE NOT NULL,
  value BLOB NOT NULL,
  created_at INTEGER NOT NULL,
  spent_at INTEGER
);

CREATE TABLE IF NOT EXISTS checkpoints (
  slot_no INTEGER NOT NULL PRIMARY KEY,
  header_hash BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS patterns (
  pattern TEXT NOT NULL PRIMARY KEY
);
`

const migration2 = `
PRAGMA user_version = 2;

ALTER TABLE inputs ADD COLUMN datum_hash BLOB;
ALTER TABLE inputs ADD COLUMN script_hash BLOB;

CREATE TABLE IF NOT EXISTS binary_data (
  binary_data_hash BLOB NOT NULL PRIMARY KEY,
  binary_data BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS scripts (
  script_hash BLOB NOT NULL PRIMARY KEY,
  script BLOB NOT NULL
);
`

const migration3 = `
PRAGMA user_version = 3;

ALTER TABLE inputs ADD COLUMN payment_credential TEXT COLLATE NOCASE NOT NULL DEFAULT '';

CREATE TABLE IF NOT EXISTS policies (
  output_reference BLOB NOT NULL,
  policy_id BLOB NOT NULL,
  UNIQUE (output_reference, policy_id)
);

CREATE INDEX IF NOT EXISTS policiesByPolicyId ON policies(policy_id);
`

const migration4 = `
PRAGMA user_version = 4;

ALTER TABLE inputs ADD COLUMN transaction_index INTEGER NOT NULL DEFAULT 0;
ALTER TABLE inputs ADD COLUMN output_index INTEGER NOT NULL DEFAULT 0;

DROP INDEX IF EXISTS inputsByAddress;
DROP INDEX IF EXISTS inputsByPaymentCredential;
DROP INDEX IF EXISTS inputsByDatumHash;
DROP INDEX IF EXISTS inputsBySpentAt;
DROP INDEX IF EXISTS inputsByCreatedAt;
`

// migrate reads the persisted schema version and executes every pending
// script in order, each inside its own immediate transaction.
func (db *Database) migrate(ctx context.Context) (err error) {
	var version int
	if version, err = db.userVersion(ctx); err != nil {
		return
	}
	db.tracer.Trace(DatabaseCurrentVersion{Version: version})

	if version >= len(migrations) {
		db.tracer.Trace(DatabaseNoMigrationNeeded{})
		return
	}

	for next := version; next < len(migrations); next++ {
		db.tracer.Trace(DatabaseRunningMigration{From: next, To: next + 1})
		script := migrations[next]
		target := next + 1
		if err = db.Transaction(ctx, "migration", func(tx *sql.Tx) error {
			for _, stmt := range splitStatements(script) {
				if _, serr := tx.ExecContext(ctx, stmt); serr != nil {
					return errors.Wrapf(serr, "migrate to version %d", target)
				}
			}
			return nil
		}); err != nil {
			return
		}
	}
	return
}

// userVersion reads `PRAGMA user_version`. A missing or non-integer value is
// fatal.
func (db *Database) userVersion(ctx context.Context) (version int, err error) {
	var raw interface{}
	if err = db.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&raw); err != nil {
		err = errors.Wrap(err, "read user_version")
		return
	}
	v, ok := raw.(int64)
	if !ok {
		err = &UnexpectedUserVersionError{Value: raw}
		return
	}
	version = int(v)
	return
}

// splitStatements cuts a migration script on `;`, dropping blank segments.
func splitStatements(script string) (stmts []string) {
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return
}
