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

package types

import (
	"github.com/pkg/errors"
)

// Cell kinds follow database/sql scanning conventions: INTEGER maps to int64,
// BLOB to []byte, TEXT to string, NULL to nil.

// ToRow maps a Point to its checkpoints row (slot_no, header_hash).
func (p Point) ToRow() []interface{} {
	return []interface{}{int64(p.SlotNo), p.HeaderHash}
}

// PointFromRow rebuilds a Point from a checkpoints row.
func PointFromRow(cells []interface{}) (p Point, err error) {
	if len(cells) != 2 {
		err = errors.Errorf("checkpoint row has %d cells, want 2", len(cells))
		return
	}
	slot, ok := cells[0].(int64)
	if !ok {
		err = errors.Errorf("checkpoint slot_no cell is %T, want int64", cells[0])
		return
	}
	hash, ok := cells[1].([]byte)
	if !ok {
		err = errors.Errorf("checkpoint header_hash cell is %T, want []byte", cells[1])
		return
	}
	p = Point{SlotNo: SlotNo(slot), HeaderHash: hash}
	return
}

// ToRow maps an Input to its inputs row, in table column order:
// ext_output_reference, address, value, datum_hash, script_hash,
// payment_credential, created_at, spent_at, transaction_index, output_index.
func (i Input) ToRow() []interface{} {
	var spentAt interface{}
	if i.SpentAt != nil {
		spentAt = int64(*i.SpentAt)
	}
	var datumHash, scriptHash interface{}
	if i.DatumHash != nil {
		datumHash = i.DatumHash
	}
	if i.ScriptHash != nil {
		scriptHash = i.ScriptHash
	}
	return []interface{}{
		i.ExtendedOutputReference,
		i.Address,
		i.Value,
		datumHash,
		scriptHash,
		i.PaymentCredential,
		int64(i.CreatedAt),
		spentAt,
		int64(i.TransactionIndex),
		int64(i.OutputIndex),
	}
}

// InputFromRow rebuilds an Input from an inputs row.
func InputFromRow(cells []interface{}) (in Input, err error) {
	if len(cells) != 10 {
		err = errors.Errorf("input row has %d cells, want 10", len(cells))
		return
	}
	var ok bool
	if in.ExtendedOutputReference, ok = cells[0].([]byte); !ok {
		err = errors.Errorf("input ext_output_reference cell is %T, want []byte", cells[0])
		return
	}
	if in.Address, ok = cells[1].(string); !ok {
		err = errors.Errorf("input address cell is %T, want string", cells[1])
		return
	}
	if in.Value, ok = cells[2].([]byte); !ok {
		err = errors.Errorf("input value cell is %T, want []byte", cells[2])
		return
	}
	if cells[3] != nil {
		if in.DatumHash, ok = cells[3].([]byte); !ok {
			err = errors.Errorf("input datum_hash cell is %T, want []byte", cells[3])
			return
		}
	}
	if cells[4] != nil {
		if in.ScriptHash, ok = cells[4].([]byte); !ok {
			err = errors.Errorf("input script_hash cell is %T, want []byte", cells[4])
			return
		}
	}
	if in.PaymentCredential, ok = cells[5].(string); !ok {
		err = errors.Errorf("input payment_credential cell is %T, want string", cells[5])
		return
	}
	createdAt, ok := cells[6].(int64)
	if !ok {
		err = errors.Errorf("input created_at cell is %T, want int64", cells[6])
		return
	}
	in.CreatedAt = SlotNo(createdAt)
	if cells[7] != nil {
		spentAt, ok := cells[7].(int64)
		if !ok {
			err = errors.Errorf("input spent_at cell is %T, want int64", cells[7])
			return
		}
		slot := SlotNo(spentAt)
		in.SpentAt = &slot
	}
	txIndex, ok := cells[8].(int64)
	if !ok {
		err = errors.Errorf("input transaction_index cell is %T, want int64", cells[8])
		return
	}
	in.TransactionIndex = uint32(txIndex)
	outIndex, ok := cells[9].(int64)
	if !ok {
		err = errors.Errorf("input output_index cell is %T, want int64", cells[9])
		return
	}
	in.OutputIndex = uint32(outIndex)
	return
}

// ToRow maps a BinaryData to its binary_data row.
func (b BinaryData) ToRow() []interface{} {
	return []interface{}{b.Hash, b.Data}
}

// BinaryDataFromRow rebuilds a BinaryData from a binary_data row.
func BinaryDataFromRow(cells []interface{}) (b BinaryData, err error) {
	if len(cells) != 2 {
		err = errors.Errorf("binary_data row has %d cells, want 2", len(cells))
		return
	}
	var ok bool
	if b.Hash, ok = cells[0].([]byte); !ok {
		err = errors.Errorf("binary_data_hash cell is %T, want []byte", cells[0])
		return
	}
	if b.Data, ok = cells[1].([]byte); !ok {
		err = errors.Errorf("binary_data cell is %T, want []byte", cells[1])
		return
	}
	return
}

// ToRow maps a ScriptReference to its scripts row.
func (s ScriptReference) ToRow() []interface{} {
	return []interface{}{s.Hash, s.Script}
}

// ScriptReferenceFromRow rebuilds a ScriptReference from a scripts row.
func ScriptReferenceFromRow(cells []interface{}) (s ScriptReference, err error) {
	if len(cells) != 2 {
		err = errors.Errorf("scripts row has %d cells, want 2", len(cells))
		return
	}
	var ok bool
	if s.Hash, ok = cells[0].([]byte); !ok {
		err = errors.Errorf("script_hash cell is %T, want []byte", cells[0])
		return
	}
	if s.Script, ok = cells[1].([]byte); !ok {
		err = errors.Errorf("script cell is %T, want []byte", cells[1])
		return
	}
	return
}
