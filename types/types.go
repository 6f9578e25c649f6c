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

// Package types defines the domain entities persisted by the storage engine
// and their row codecs. A row is a flat tuple of primitive cells (integer,
// blob, text or null) in table column order.
package types

import (
	"bytes"
)

// SlotNo is a position on the ingested chain.
type SlotNo uint64

// Point identifies a checkpoint: a slot number paired with the hash of the
// block header sealing that slot.
type Point struct {
	SlotNo     SlotNo
	HeaderHash []byte
}

// Equal reports whether two points reference the same checkpoint.
func (p Point) Equal(o Point) bool {
	return p.SlotNo == o.SlotNo && bytes.Equal(p.HeaderHash, o.HeaderHash)
}

// Input is an unspent-transaction-output-like record produced by the chain
// follower. ExtendedOutputReference is an opaque byte identifier, unique
// across the store.
type Input struct {
	ExtendedOutputReference []byte
	Address                 string
	Value                   []byte
	DatumHash               []byte
	ScriptHash              []byte
	PaymentCredential       string
	CreatedAt               SlotNo
	SpentAt                 *SlotNo
	TransactionIndex        uint32
	OutputIndex             uint32

	// PolicyIDs are the asset policies referenced by Value, persisted to the
	// policies table alongside the input.
	PolicyIDs [][]byte
	// Datum and Script carry the referenced payloads when the follower saw
	// them inline; they are upserted into binary_data and scripts.
	Datum  []byte
	Script []byte
}

// Result is a fold row: an input joined with the checkpoints at which it was
// created and, when spent, the checkpoint at which it was spent.
type Result struct {
	Input     Input
	CreatedAt Point
	SpentAt   *Point
}

// BinaryData is a content-addressed datum payload.
type BinaryData struct {
	Hash []byte
	Data []byte
}

// ScriptReference is a content-addressed script payload.
type ScriptReference struct {
	Hash   []byte
	Script []byte
}
