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
	"time"

	"github.com/pkg/errors"
)

// retryDelay is the pause before retrying a transaction that failed with
// SQLITE_BUSY or SQLITE_LOCKED.
const retryDelay = 100 * time.Millisecond

// Transaction runs fn inside a single transaction. Read-write handles begin
// IMMEDIATE, read-only handles DEFERRED (set through the connection string at
// open time). Read-write transactions are gated by the coordinator: the
// long-lived writer excludes short-lived writers and vice versa. The whole
// transaction is retried after retryDelay when sqlite reports a transient
// busy or locked condition; all other errors propagate.
func (db *Database) Transaction(ctx context.Context, name string, fn func(*sql.Tx) error) (err error) {
	if db.mode == ReadWrite {
		if db.longLived {
			if err = db.coord.AcquireLongLived(ctx); err != nil {
				return
			}
			defer db.coord.ReleaseLongLived()
		} else {
			if err = db.coord.AcquireShortLived(ctx); err != nil {
				return
			}
			defer db.coord.ReleaseShortLived()
		}
	}

	db.tracer.Trace(ConnectionBeginQuery{Name: name})
	defer db.tracer.Trace(ConnectionExitQuery{Name: name})
	db.metrics.ObserveQuery(name)

	for {
		err = db.runOnce(ctx, fn)
		switch {
		case err == nil:
			return
		case isBusy(err):
			db.tracer.Trace(ConnectionBusy{RetryIn: retryDelay})
			db.metrics.ObserveRetry("busy")
		case isLocked(err):
			db.tracer.Trace(ConnectionLocked{RetryIn: retryDelay})
			db.metrics.ObserveRetry("locked")
		default:
			return
		}

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
	}
}

// runOnce executes fn inside one BEGIN/COMMIT bracket. A failing body rolls
// back before returning. A failing COMMIT also rolls back: sqlite commits can
// fail with BUSY and leave the transaction open otherwise.
func (db *Database) runOnce(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	var tx *sql.Tx
	if tx, err = db.conn.BeginTx(ctx, nil); err != nil {
		err = errors.Wrap(err, "begin transaction")
		return
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return
	}
	err = tx.Commit()
	return
}
