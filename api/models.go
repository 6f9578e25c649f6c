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

package api

import (
	"encoding/hex"

	"github.com/utxowatch/utxowatch/types"
)

// checkpointModel is the JSON shape of a checkpoint.
type checkpointModel struct {
	SlotNo     uint64 `json:"slot_no"`
	HeaderHash string `json:"header_hash"`
}

func formatCheckpoint(p types.Point) checkpointModel {
	return checkpointModel{
		SlotNo:     uint64(p.SlotNo),
		HeaderHash: hex.EncodeToString(p.HeaderHash),
	}
}

func formatCheckpoints(points []types.Point) []checkpointModel {
	models := make([]checkpointModel, 0, len(points))
	for _, p := range points {
		models = append(models, formatCheckpoint(p))
	}
	return models
}

// matchModel is the JSON shape of a fold result.
type matchModel struct {
	OutputReference   string           `json:"output_reference"`
	Address           string           `json:"address"`
	Value             string           `json:"value"`
	DatumHash         *string          `json:"datum_hash"`
	ScriptHash        *string          `json:"script_hash"`
	PaymentCredential string           `json:"payment_credential"`
	TransactionIndex  uint32           `json:"transaction_index"`
	OutputIndex       uint32           `json:"output_index"`
	CreatedAt         checkpointModel  `json:"created_at"`
	SpentAt           *checkpointModel `json:"spent_at"`
}

func formatMatch(r types.Result) matchModel {
	m := matchModel{
		OutputReference:   hex.EncodeToString(r.Input.ExtendedOutputReference),
		Address:           r.Input.Address,
		Value:             hex.EncodeToString(r.Input.Value),
		PaymentCredential: r.Input.PaymentCredential,
		TransactionIndex:  r.Input.TransactionIndex,
		OutputIndex:       r.Input.OutputIndex,
		CreatedAt:         formatCheckpoint(r.CreatedAt),
	}
	if r.Input.DatumHash != nil {
		h := hex.EncodeToString(r.Input.DatumHash)
		m.DatumHash = &h
	}
	if r.Input.ScriptHash != nil {
		h := hex.EncodeToString(r.Input.ScriptHash)
		m.ScriptHash = &h
	}
	if r.SpentAt != nil {
		cp := formatCheckpoint(*r.SpentAt)
		m.SpentAt = &cp
	}
	return m
}
