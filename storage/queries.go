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
	"math/bits"
	"sort"

	"github.com/pkg/errors"

	"github.com/utxowatch/utxowatch/pattern"
	"github.com/utxowatch/utxowatch/types"
)

// SortDirection orders fold results by chain position.
type SortDirection int

const (
	// Asc yields oldest inputs first.
	Asc SortDirection = iota
	// Desc yields newest inputs first.
	Desc
)

func (d SortDirection) String() string {
	if d == Desc {
		return "DESC"
	}
	return "ASC"
}

const inputColumns = "ext_output_reference, address, value, datum_hash, script_hash, " +
	"payment_credential, created_at, spent_at, transaction_index, output_index"

// InsertInputs appends a batch of inputs, upserting their referenced binary
// data, scripts and policies alongside. Idempotent per output reference.
func (db *Database) InsertInputs(ctx context.Context, inputs []types.Input) error {
	return db.Transaction(ctx, "insert_inputs", func(tx *sql.Tx) (err error) {
		var insertInput, insertDatum, insertScript, insertPolicy *sql.Stmt
		if insertInput, err = tx.PrepareContext(ctx,
			"INSERT OR IGNORE INTO inputs ("+inputColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		); err != nil {
			err = errors.Wrap(err, "prepare insert inputs")
			return
		}
		defer func() { _ = insertInput.Close() }()
		if insertDatum, err = tx.PrepareContext(ctx,
			"INSERT OR IGNORE INTO binary_data (binary_data_hash, binary_data) VALUES (?, ?)",
		); err != nil {
			err = errors.Wrap(err, "prepare insert binary_data")
			return
		}
		defer func() { _ = insertDatum.Close() }()
		if insertScript, err = tx.PrepareContext(ctx,
			"INSERT OR IGNORE INTO scripts (script_hash, script) VALUES (?, ?)",
		); err != nil {
			err = errors.Wrap(err, "prepare insert scripts")
			return
		}
		defer func() { _ = insertScript.Close() }()
		if insertPolicy, err = tx.PrepareContext(ctx,
			"INSERT OR IGNORE INTO policies (output_reference, policy_id) VALUES (?, ?)",
		); err != nil {
			err = errors.Wrap(err, "prepare insert policies")
			return
		}
		defer func() { _ = insertPolicy.Close() }()

		for _, in := range inputs {
			if _, err = insertInput.ExecContext(ctx, in.ToRow()...); err != nil {
				err = errors.Wrap(err, "insert input")
				return
			}
			if in.DatumHash != nil && in.Datum != nil {
				if _, err = insertDatum.ExecContext(ctx, in.DatumHash, in.Datum); err != nil {
					err = errors.Wrap(err, "insert binary data")
					return
				}
			}
			if in.ScriptHash != nil && in.Script != nil {
				if _, err = insertScript.ExecContext(ctx, in.ScriptHash, in.Script); err != nil {
					err = errors.Wrap(err, "insert script")
					return
				}
			}
			for _, policyID := range in.PolicyIDs {
				if _, err = insertPolicy.ExecContext(ctx, in.ExtendedOutputReference, policyID); err != nil {
					err = errors.Wrap(err, "insert policy")
					return
				}
			}
		}
		return
	})
}

// DeleteInputs removes every input matched by any of the given patterns and
// returns the total number of deleted rows.
func (db *Database) DeleteInputs(ctx context.Context, patterns []pattern.Pattern) (count int64, err error) {
	err = db.Transaction(ctx, "delete_inputs", func(tx *sql.Tx) error {
		for _, p := range patterns {
			res, derr := tx.ExecContext(ctx, "DELETE FROM inputs WHERE "+p.ToSQL())
			if derr != nil {
				return errors.Wrap(derr, "delete inputs")
			}
			n, derr := res.RowsAffected()
			if derr != nil {
				return errors.Wrap(derr, "count deleted inputs")
			}
			count += n
		}
		return nil
	})
	return
}

// MarkInputs flags every input matched by any of the given patterns as spent
// at the given slot and returns the total number of updated rows.
func (db *Database) MarkInputs(ctx context.Context, slot types.SlotNo, patterns []pattern.Pattern) (count int64, err error) {
	err = db.Transaction(ctx, "mark_inputs", func(tx *sql.Tx) error {
		for _, p := range patterns {
			res, uerr := tx.ExecContext(ctx,
				"UPDATE inputs SET spent_at = ? WHERE "+p.ToSQL(), int64(slot))
			if uerr != nil {
				return errors.Wrap(uerr, "mark inputs")
			}
			n, uerr := res.RowsAffected()
			if uerr != nil {
				return errors.Wrap(uerr, "count marked inputs")
			}
			count += n
		}
		return nil
	})
	return
}

// PruneInputs deletes inputs spent longer than the retention window ago and
// returns the number of pruned rows.
func (db *Database) PruneInputs(ctx context.Context) (count int64, err error) {
	err = db.Transaction(ctx, "prune_inputs", func(tx *sql.Tx) error {
		return db.withTemporaryIndex(ctx, tx, indexInputsBySpentAt, func() error {
			res, perr := tx.ExecContext(ctx,
				"DELETE FROM inputs WHERE spent_at < ((SELECT MAX(slot_no) FROM checkpoints) - ?)",
				int64(db.longestRollback))
			if perr != nil {
				return errors.Wrap(perr, "prune inputs")
			}
			var cerr error
			if count, cerr = res.RowsAffected(); cerr != nil {
				return errors.Wrap(cerr, "count pruned inputs")
			}
			return nil
		})
	})
	if err == nil {
		db.metrics.AddPruned("inputs", count)
	}
	return
}

// FoldInputs streams every input matched by the pattern, joined with its
// creation checkpoint and, when spent, its spending checkpoint. yield is
// called once per row in (created_at, transaction_index, output_index) order,
// following the given direction. Results are never materialized.
func (db *Database) FoldInputs(
	ctx context.Context,
	p pattern.Pattern,
	status pattern.Status,
	dir SortDirection,
	yield func(types.Result) error,
) error {
	order := dir.String()
	query := "SELECT inputs.ext_output_reference, inputs.address, inputs.value, " +
		"inputs.datum_hash, inputs.script_hash, inputs.payment_credential, " +
		"inputs.created_at, inputs.spent_at, inputs.transaction_index, inputs.output_index, " +
		"createdAt.header_hash, spentAt.header_hash " +
		"FROM inputs " +
		"JOIN checkpoints AS createdAt ON createdAt.slot_no = inputs.created_at " +
		"LEFT OUTER JOIN checkpoints AS spentAt ON spentAt.slot_no = inputs.spent_at " +
		"WHERE " + p.ToSQL() + " " + status.ToSQL() + " " +
		"ORDER BY inputs.created_at " + order +
		", inputs.transaction_index " + order +
		", inputs.output_index " + order

	return db.Transaction(ctx, "fold_inputs", func(tx *sql.Tx) (err error) {
		var rows *sql.Rows
		if rows, err = tx.QueryContext(ctx, query); err != nil {
			err = errors.Wrap(err, "fold inputs")
			return
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			cells := make([]interface{}, 12)
			dest := make([]interface{}, 12)
			for i := range cells {
				dest[i] = &cells[i]
			}
			if err = rows.Scan(dest...); err != nil {
				err = errors.Wrap(err, "scan fold row")
				return
			}
			var result types.Result
			if result, err = resultFromRow(cells); err != nil {
				err = &UnexpectedRowError{Context: "fold_inputs", Cells: cells, Cause: err}
				return
			}
			if err = yield(result); err != nil {
				return
			}
		}
		err = rows.Err()
		return
	})
}

// resultFromRow rebuilds a Result from a 12-cell fold row: the 10 input cells
// followed by the created-at and spent-at header hashes.
func resultFromRow(cells []interface{}) (r types.Result, err error) {
	if r.Input, err = types.InputFromRow(cells[:10]); err != nil {
		return
	}
	createdHash, ok := cells[10].([]byte)
	if !ok {
		err = errors.Errorf("created_at header_hash cell is %T, want []byte", cells[10])
		return
	}
	r.CreatedAt = types.Point{SlotNo: r.Input.CreatedAt, HeaderHash: createdHash}
	if cells[11] != nil {
		spentHash, sok := cells[11].([]byte)
		if !sok {
			err = errors.Errorf("spent_at header_hash cell is %T, want []byte", cells[11])
			return
		}
		if r.Input.SpentAt == nil {
			err = errors.New("spent_at header_hash present without spent_at slot")
			return
		}
		r.SpentAt = &types.Point{SlotNo: *r.Input.SpentAt, HeaderHash: spentHash}
	}
	return
}

// InsertCheckpoints appends checkpoints, ignoring slots already present.
func (db *Database) InsertCheckpoints(ctx context.Context, points []types.Point) error {
	err := db.Transaction(ctx, "insert_checkpoints", func(tx *sql.Tx) (err error) {
		var stmt *sql.Stmt
		if stmt, err = tx.PrepareContext(ctx,
			"INSERT OR IGNORE INTO checkpoints (slot_no, header_hash) VALUES (?, ?)",
		); err != nil {
			err = errors.Wrap(err, "prepare insert checkpoints")
			return
		}
		defer func() { _ = stmt.Close() }()
		for _, p := range points {
			if _, err = stmt.ExecContext(ctx, p.ToRow()...); err != nil {
				err = errors.Wrap(err, "insert checkpoint")
				return
			}
		}
		return
	})
	if err == nil {
		for _, p := range points {
			db.metrics.SetTip(uint64(p.SlotNo))
		}
	}
	return err
}

// ladderOffsets builds the sparse sampling offsets for ListCheckpointsDesc:
// steps of 10 from 0 up to k>>n with n = bits.Len64(k-1), then k>>i for i
// from n-1 down to 0, so gaps double out to the retention window. As k>>n is
// at most 1, the steps of 10 contribute only offset 0 (the tip). Small windows
// (k <= 10) sample every slot.
func ladderOffsets(k uint64) []uint64 {
	if k <= 10 {
		offsets := make([]uint64, 0, k+1)
		for o := uint64(0); o <= k; o++ {
			offsets = append(offsets, o)
		}
		return offsets
	}
	n := uint(bits.Len64(k - 1))
	var offsets []uint64
	for o := uint64(0); o <= k>>n; o += 10 {
		offsets = append(offsets, o)
	}
	for i := int(n) - 1; i >= 0; i-- {
		offsets = append(offsets, k>>uint(i))
	}
	return offsets
}

// ListCheckpointsDesc returns a sparse, tip-dense sample of the checkpoint
// list in descending slot order. The head is always the tip.
func (db *Database) ListCheckpointsDesc(ctx context.Context) (points []types.Point, err error) {
	err = db.Transaction(ctx, "list_checkpoints", func(tx *sql.Tx) error {
		tip, terr := maxSlot(ctx, tx)
		if terr != nil {
			return terr
		}
		if tip == nil {
			return nil
		}

		stmt, serr := tx.PrepareContext(ctx,
			"SELECT slot_no, header_hash FROM checkpoints WHERE slot_no >= ? ORDER BY slot_no ASC LIMIT 1")
		if serr != nil {
			return errors.Wrap(serr, "prepare list checkpoints")
		}
		defer func() { _ = stmt.Close() }()

		seen := make(map[types.SlotNo]struct{})
		for _, o := range ladderOffsets(db.longestRollback) {
			var from uint64
			if o < uint64(*tip) {
				from = uint64(*tip) - o
			}
			var slot int64
			var hash []byte
			qerr := stmt.QueryRowContext(ctx, int64(from)).Scan(&slot, &hash)
			if qerr == sql.ErrNoRows {
				continue
			}
			if qerr != nil {
				return errors.Wrap(qerr, "probe checkpoint")
			}
			if _, dup := seen[types.SlotNo(slot)]; dup {
				continue
			}
			seen[types.SlotNo(slot)] = struct{}{}
			points = append(points, types.Point{SlotNo: types.SlotNo(slot), HeaderHash: hash})
		}
		sort.Slice(points, func(i, j int) bool { return points[i].SlotNo > points[j].SlotNo })
		return nil
	})
	return
}

// ListAncestorsDesc returns up to n checkpoints strictly before the given
// slot, newest first.
func (db *Database) ListAncestorsDesc(ctx context.Context, slot types.SlotNo, n int64) (points []types.Point, err error) {
	err = db.Transaction(ctx, "list_ancestors", func(tx *sql.Tx) error {
		rows, qerr := tx.QueryContext(ctx,
			"SELECT slot_no, header_hash FROM checkpoints WHERE slot_no < ? ORDER BY slot_no DESC LIMIT ?",
			int64(slot), n)
		if qerr != nil {
			return errors.Wrap(qerr, "list ancestors")
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var slotNo int64
			var hash []byte
			if qerr = rows.Scan(&slotNo, &hash); qerr != nil {
				return errors.Wrap(qerr, "scan ancestor")
			}
			points = append(points, types.Point{SlotNo: types.SlotNo(slotNo), HeaderHash: hash})
		}
		return rows.Err()
	})
	return
}

// InsertPatterns registers patterns, ignoring ones already present.
func (db *Database) InsertPatterns(ctx context.Context, patterns []pattern.Pattern) error {
	return db.Transaction(ctx, "insert_patterns", func(tx *sql.Tx) (err error) {
		var stmt *sql.Stmt
		if stmt, err = tx.PrepareContext(ctx,
			"INSERT OR IGNORE INTO patterns (pattern) VALUES (?)",
		); err != nil {
			err = errors.Wrap(err, "prepare insert patterns")
			return
		}
		defer func() { _ = stmt.Close() }()
		for _, p := range patterns {
			if _, err = stmt.ExecContext(ctx, p.Text()); err != nil {
				err = errors.Wrap(err, "insert pattern")
				return
			}
		}
		return
	})
}

// DeletePattern removes a registered pattern and returns the number of
// deleted rows (0 or 1).
func (db *Database) DeletePattern(ctx context.Context, p pattern.Pattern) (count int64, err error) {
	err = db.Transaction(ctx, "delete_pattern", func(tx *sql.Tx) error {
		res, derr := tx.ExecContext(ctx, "DELETE FROM patterns WHERE pattern = ?", p.Text())
		if derr != nil {
			return errors.Wrap(derr, "delete pattern")
		}
		count, derr = res.RowsAffected()
		return errors.Wrap(derr, "count deleted patterns")
	})
	return
}

// ListPatterns returns every registered pattern.
func (db *Database) ListPatterns(ctx context.Context) (patterns []pattern.Pattern, err error) {
	err = db.Transaction(ctx, "list_patterns", func(tx *sql.Tx) error {
		rows, qerr := tx.QueryContext(ctx, "SELECT pattern FROM patterns")
		if qerr != nil {
			return errors.Wrap(qerr, "list patterns")
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var text string
			if qerr = rows.Scan(&text); qerr != nil {
				return errors.Wrap(qerr, "scan pattern")
			}
			p, perr := pattern.FromText(text)
			if perr != nil {
				return &UnexpectedRowError{Context: "list_patterns", Cells: []interface{}{text}, Cause: perr}
			}
			patterns = append(patterns, p)
		}
		return rows.Err()
	})
	return
}

// InsertBinaryData upserts content-addressed datum payloads.
func (db *Database) InsertBinaryData(ctx context.Context, data []types.BinaryData) error {
	return db.Transaction(ctx, "insert_binary_data", func(tx *sql.Tx) (err error) {
		var stmt *sql.Stmt
		if stmt, err = tx.PrepareContext(ctx,
			"INSERT OR IGNORE INTO binary_data (binary_data_hash, binary_data) VALUES (?, ?)",
		); err != nil {
			err = errors.Wrap(err, "prepare insert binary_data")
			return
		}
		defer func() { _ = stmt.Close() }()
		for _, b := range data {
			if _, err = stmt.ExecContext(ctx, b.ToRow()...); err != nil {
				err = errors.Wrap(err, "insert binary data")
				return
			}
		}
		return
	})
}

// GetBinaryData returns the datum payload for the given hash, or nil when
// absent.
func (db *Database) GetBinaryData(ctx context.Context, hash []byte) (data []byte, err error) {
	err = db.Transaction(ctx, "get_binary_data", func(tx *sql.Tx) error {
		qerr := tx.QueryRowContext(ctx,
			"SELECT binary_data FROM binary_data WHERE binary_data_hash = ?", hash).Scan(&data)
		if qerr == sql.ErrNoRows {
			return nil
		}
		return errors.Wrap(qerr, "get binary data")
	})
	return
}

// PruneBinaryData garbage-collects binary-data rows no longer referenced by
// any input and returns the number of deleted rows. The ORDER BY on the inner
// select forces the planner onto the datum-hash index; without it the scan
// degenerates on large stores.
func (db *Database) PruneBinaryData(ctx context.Context) (count int64, err error) {
	err = db.Transaction(ctx, "prune_binary_data", func(tx *sql.Tx) error {
		res, perr := tx.ExecContext(ctx,
			"DELETE FROM binary_data WHERE binary_data_hash IN ("+
				"SELECT binary_data_hash FROM binary_data "+
				"LEFT JOIN inputs ON binary_data_hash = inputs.datum_hash "+
				"WHERE inputs.ext_output_reference IS NULL "+
				"ORDER BY inputs.datum_hash)")
		if perr != nil {
			return errors.Wrap(perr, "prune binary data")
		}
		count, perr = res.RowsAffected()
		return errors.Wrap(perr, "count pruned binary data")
	})
	if err == nil {
		db.metrics.AddPruned("binary_data", count)
	}
	return
}

// InsertScripts upserts content-addressed script payloads.
func (db *Database) InsertScripts(ctx context.Context, scripts []types.ScriptReference) error {
	return db.Transaction(ctx, "insert_scripts", func(tx *sql.Tx) (err error) {
		var stmt *sql.Stmt
		if stmt, err = tx.PrepareContext(ctx,
			"INSERT OR IGNORE INTO scripts (script_hash, script) VALUES (?, ?)",
		); err != nil {
			err = errors.Wrap(err, "prepare insert scripts")
			return
		}
		defer func() { _ = stmt.Close() }()
		for _, s := range scripts {
			if _, err = stmt.ExecContext(ctx, s.ToRow()...); err != nil {
				err = errors.Wrap(err, "insert script")
				return
			}
		}
		return
	})
}

// GetScript returns the script payload for the given hash, or nil when
// absent.
func (db *Database) GetScript(ctx context.Context, hash []byte) (script []byte, err error) {
	err = db.Transaction(ctx, "get_script", func(tx *sql.Tx) error {
		qerr := tx.QueryRowContext(ctx,
			"SELECT script FROM scripts WHERE script_hash = ?", hash).Scan(&script)
		if qerr == sql.ErrNoRows {
			return nil
		}
		return errors.Wrap(qerr, "get script")
	})
	return
}

// RollbackTo rewinds the store to the given slot: inputs created after it are
// deleted, inputs spent after it are unmarked, checkpoints after it are
// removed. Returns the new tip, or nil when the checkpoint list is empty.
// Rolling back to the current tip is a no-op.
func (db *Database) RollbackTo(ctx context.Context, target types.SlotNo) (tip *types.SlotNo, err error) {
	err = db.Transaction(ctx, "rollback_to", func(tx *sql.Tx) error {
		before, merr := maxSlot(ctx, tx)
		if merr != nil {
			return merr
		}
		if before != nil && *before == target {
			tip = before
			return nil
		}

		rerr := db.withTemporaryIndex(ctx, tx, indexInputsBySpentAt, func() error {
			return db.withTemporaryIndex(ctx, tx, indexInputsByCreatedAt, func() error {
				if _, derr := tx.ExecContext(ctx,
					"DELETE FROM inputs WHERE created_at > ?", int64(target)); derr != nil {
					return errors.Wrap(derr, "rollback delete inputs")
				}
				if _, uerr := tx.ExecContext(ctx,
					"UPDATE inputs SET spent_at = NULL WHERE spent_at > ?", int64(target)); uerr != nil {
					return errors.Wrap(uerr, "rollback unmark inputs")
				}
				if _, derr := tx.ExecContext(ctx,
					"DELETE FROM checkpoints WHERE slot_no > ?", int64(target)); derr != nil {
					return errors.Wrap(derr, "rollback delete checkpoints")
				}
				return nil
			})
		})
		if rerr != nil {
			return rerr
		}

		// Refresh planner statistics after the bulk rewrite.
		if _, oerr := tx.ExecContext(ctx, "PRAGMA optimize"); oerr != nil {
			return errors.Wrap(oerr, "optimize after rollback")
		}

		if tip, rerr = maxSlot(ctx, tx); rerr != nil {
			return rerr
		}
		return nil
	})
	if err == nil && tip != nil {
		db.metrics.SetTip(uint64(*tip))
	}
	return
}

// maxSlot reads the current tip slot, or nil when the checkpoint list is
// empty.
func maxSlot(ctx context.Context, tx *sql.Tx) (slot *types.SlotNo, err error) {
	var raw interface{}
	if err = tx.QueryRowContext(ctx, "SELECT MAX(slot_no) FROM checkpoints").Scan(&raw); err != nil {
		err = errors.Wrap(err, "read tip")
		return
	}
	if raw == nil {
		return
	}
	v, ok := raw.(int64)
	if !ok {
		err = &UnexpectedRowError{Context: "max_slot", Cells: []interface{}{raw}}
		return
	}
	s := types.SlotNo(v)
	slot = &s
	return
}
