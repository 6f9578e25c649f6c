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

// Package storage implements the chain-index store on top of sqlite3: schema
// and migrations, connection lifecycle, writer/reader coordination, and the
// typed query surface over inputs, checkpoints, patterns, binary data and
// scripts.
//
// One privileged long-lived read-write connection owns ingestion, rollback
// and pruning for the lifetime of the process. Short-lived connections serve
// individual requests: read-only ones observe relaxed snapshots
// (read_uncommitted), read-write ones are gated against the long-lived
// writer by a Coordinator.
package storage

import (
	"context"
	"database/sql"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	// Pragmas applied to every new connection. The negative cache_size is in
	// KiB, amounting to roughly 50 MiB per connection.
	pragmaPageSize  = "PRAGMA page_size = 16184"
	pragmaCacheSize = "PRAGMA cache_size = -50000"

	rwDriver = "sqlite3-utxowatch"
	roDriver = "sqlite3-utxowatch-ro"

	sharedMemoryName = ":utxowatch:"
)

func init() {
	sql.Register(rwDriver, &sqlite3.SQLiteDriver{
		ConnectHook: func(c *sqlite3.SQLiteConn) (err error) {
			if _, err = c.Exec(pragmaPageSize, nil); err != nil {
				return
			}
			_, err = c.Exec(pragmaCacheSize, nil)
			return
		},
	})
	sql.Register(roDriver, &sqlite3.SQLiteDriver{
		ConnectHook: func(c *sqlite3.SQLiteConn) (err error) {
			if _, err = c.Exec(pragmaPageSize, nil); err != nil {
				return
			}
			if _, err = c.Exec(pragmaCacheSize, nil); err != nil {
				return
			}
			_, err = c.Exec("PRAGMA read_uncommitted = 1", nil)
			return
		},
	})
}

// ConnectionType distinguishes reader and writer connections.
type ConnectionType int

const (
	// ReadOnly connections observe snapshots under relaxed read discipline.
	ReadOnly ConnectionType = iota
	// ReadWrite connections may mutate the store.
	ReadWrite
)

func (t ConnectionType) String() string {
	if t == ReadOnly {
		return "read-only"
	}
	return "read-write"
}

type fileKind int

const (
	onDisk fileKind = iota
	inMemoryShared
	inMemoryEphemeral
)

// DatabaseFile designates where the store lives.
type DatabaseFile struct {
	kind fileKind
	path string
}

// OnDisk locates the store at the given filesystem path.
func OnDisk(path string) DatabaseFile {
	return DatabaseFile{kind: onDisk, path: path}
}

// InMemoryShared names an in-memory store shared between connections of this
// process.
func InMemoryShared() DatabaseFile {
	return DatabaseFile{kind: inMemoryShared}
}

// InMemoryEphemeral is an isolated in-memory store, private to a single
// connection. Meant for tests.
func InMemoryEphemeral() DatabaseFile {
	return DatabaseFile{kind: inMemoryEphemeral}
}

// InMemory reports whether the store is not persisted to disk.
func (f DatabaseFile) InMemory() bool {
	return f.kind != onDisk
}

// dsn builds the sqlite connection string for the given connection flavor.
func (f DatabaseFile) dsn(mode ConnectionType, longLived bool) string {
	d := &DSN{}
	switch f.kind {
	case inMemoryShared:
		d.SetFileName(sharedMemoryName)
		d.AddParam("mode", "memory")
		d.AddParam("cache", "shared")
		if mode == ReadOnly {
			d.AddParam("_query_only", "on")
		}
	case inMemoryEphemeral:
		d.SetFileName(":memory:")
	default:
		d.SetFileName(f.path)
		if mode == ReadOnly {
			d.AddParam("mode", "ro")
		} else {
			d.AddParam("mode", "rwc")
		}
	}
	if mode == ReadWrite {
		d.AddParam("_txlock", "immediate")
	}
	if longLived {
		d.AddParam("_journal_mode", "WAL")
		d.AddParam("_synchronous", "NORMAL")
		d.AddParam("_foreign_keys", "on")
	}
	return d.Format()
}

// DeferIndexesMode selects the index installation policy at startup.
type DeferIndexesMode int

const (
	// InstallIfNotExist creates the full permanent index set at startup.
	InstallIfNotExist DeferIndexesMode = iota
	// SkipNonEssential defers non-essential indexes for faster bulk ingest.
	SkipNonEssential
)

// Options configure the long-lived connection bracket.
type Options struct {
	File DatabaseFile
	// LongestRollback is the retention window k, in slots. Must be >= 1.
	LongestRollback uint64
	DeferIndexes    DeferIndexesMode
	Tracer          Tracer
	// Metrics is optional; nil disables instrumentation.
	Metrics *Metrics
}

// Database is a handle over a single underlying sqlite connection, plus the
// shared coordination state of the store it belongs to.
type Database struct {
	conn            *sql.DB
	file            DatabaseFile
	mode            ConnectionType
	longLived       bool
	longestRollback uint64
	deferIndexes    DeferIndexesMode
	coord           *Coordinator
	tracer          Tracer
	metrics         *Metrics
}

func openConn(file DatabaseFile, mode ConnectionType, longLived bool) (conn *sql.DB, err error) {
	driver := rwDriver
	if mode == ReadOnly {
		driver = roDriver
	}
	if conn, err = sql.Open(driver, file.dsn(mode, longLived)); err != nil {
		err = errors.Wrap(err, "open sqlite connection")
		return
	}
	// sqlite requires serialized use of a connection handle; pin the pool to
	// a single connection so a Database is exactly one connection.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)
	conn.SetMaxIdleConns(1)
	return
}

// OpenLongLived opens the privileged writer connection, runs pending
// migrations and installs permanent indexes per the deferral policy. The
// returned handle must be closed by the caller; it is meant to live for the
// whole process.
func OpenLongLived(ctx context.Context, opts Options) (db *Database, err error) {
	if opts.LongestRollback < 1 {
		err = errors.New("longest rollback must be at least 1 slot")
		return
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = NopTracer{}
	}

	instance := &Database{
		file:            opts.File,
		mode:            ReadWrite,
		longLived:       true,
		longestRollback: opts.LongestRollback,
		deferIndexes:    opts.DeferIndexes,
		coord:           NewCoordinator(),
		tracer:          tracer,
		metrics:         opts.Metrics,
	}
	if instance.conn, err = openConn(opts.File, ReadWrite, true); err != nil {
		return
	}
	if err = instance.conn.PingContext(ctx); err != nil {
		_ = instance.conn.Close()
		err = errors.Wrap(err, "ping long-lived connection")
		return
	}
	tracer.Trace(DatabaseConnection{Mode: ReadWrite})
	if opts.File.InMemory() {
		tracer.Trace(DatabaseRunningInMemory{})
	}

	if err = instance.migrate(ctx); err != nil {
		_ = instance.conn.Close()
		return
	}
	if err = instance.installIndexes(ctx); err != nil {
		_ = instance.conn.Close()
		return
	}
	db = instance
	return
}

// Close releases the underlying connection.
func (db *Database) Close() error {
	return db.conn.Close()
}

// LongestRollback returns the retention window k, in slots.
func (db *Database) LongestRollback() uint64 {
	return db.longestRollback
}

// WithShortLived opens a transient connection of the given type against the
// same store, hands it to fn, and closes it on exit. The handle shares the
// store's lock coordinator and tracer.
func (db *Database) WithShortLived(ctx context.Context, mode ConnectionType, fn func(*Database) error) (err error) {
	short := &Database{
		file:            db.file,
		mode:            mode,
		longestRollback: db.longestRollback,
		deferIndexes:    db.deferIndexes,
		coord:           db.coord,
		tracer:          db.tracer,
		metrics:         db.metrics,
	}
	if short.conn, err = openConn(db.file, mode, false); err != nil {
		return
	}
	db.tracer.Trace(ConnectionCreateShortLived{Mode: mode})
	defer func() {
		db.tracer.Trace(ConnectionDestroyShortLived{Mode: mode})
		if cerr := short.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err = short.conn.PingContext(ctx); err != nil {
		err = errors.Wrap(err, "ping short-lived connection")
		return
	}
	err = fn(short)
	return
}
