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
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestInputRow(t *testing.T) {
	Convey("A fully-populated input survives the row codec", t, func() {
		spent := SlotNo(42)
		in := Input{
			ExtendedOutputReference: []byte("ref"),
			Address:                 "addrone",
			Value:                   []byte{0x01},
			DatumHash:               []byte("dh"),
			ScriptHash:              []byte("sh"),
			PaymentCredential:       "credone",
			CreatedAt:               40,
			SpentAt:                 &spent,
			TransactionIndex:        3,
			OutputIndex:             1,
		}

		out, err := InputFromRow(in.ToRow())
		So(err, ShouldBeNil)
		So(out, ShouldResemble, in)
	})

	Convey("Optional cells map to NULL and back", t, func() {
		in := Input{
			ExtendedOutputReference: []byte("ref"),
			Address:                 "addrone",
			Value:                   []byte{0x01},
			PaymentCredential:       "credone",
			CreatedAt:               40,
		}
		row := in.ToRow()
		So(row[3], ShouldBeNil)
		So(row[4], ShouldBeNil)
		So(row[7], ShouldBeNil)

		out, err := InputFromRow(row)
		So(err, ShouldBeNil)
		So(out.DatumHash, ShouldBeNil)
		So(out.ScriptHash, ShouldBeNil)
		So(out.SpentAt, ShouldBeNil)
	})

	Convey("Malformed rows are rejected", t, func() {
		_, err := InputFromRow([]interface{}{[]byte("ref")})
		So(err, ShouldNotBeNil)

		row := Input{
			ExtendedOutputReference: []byte("ref"),
			Address:                 "addrone",
			Value:                   []byte{0x01},
			PaymentCredential:       "credone",
		}.ToRow()
		row[6] = "not-an-integer"
		_, err = InputFromRow(row)
		So(err, ShouldNotBeNil)
	})
}

func TestPointRow(t *testing.T) {
	Convey("Points survive the row codec", t, func() {
		p := Point{SlotNo: 30, HeaderHash: []byte("hash")}
		out, err := PointFromRow(p.ToRow())
		So(err, ShouldBeNil)
		So(out.Equal(p), ShouldBeTrue)
	})

	Convey("Point equality compares slot and hash", t, func() {
		p := Point{SlotNo: 30, HeaderHash: []byte("hash")}
		So(p.Equal(Point{SlotNo: 30, HeaderHash: []byte("hash")}), ShouldBeTrue)
		So(p.Equal(Point{SlotNo: 31, HeaderHash: []byte("hash")}), ShouldBeFalse)
		So(p.Equal(Point{SlotNo: 30, HeaderHash: []byte("other")}), ShouldBeFalse)
	})
}
