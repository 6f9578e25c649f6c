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

package pattern

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestPatternRoundTrip(t *testing.T) {
	Convey("Valid patterns parse and serialize back to themselves", t, func() {
		for _, text := range []string{
			"*",
			"addr:addr1vxyz",
			"addr:addr1*",
			"cred:somecredential",
			"cred:some*",
			"policy:deadbeef",
		} {
			p, err := FromText(text)
			So(err, ShouldBeNil)
			So(p.Text(), ShouldEqual, text)
		}
	})

	Convey("Policy operands are lowercased", t, func() {
		p, err := FromText("policy:DEADBEEF")
		So(err, ShouldBeNil)
		So(p.Text(), ShouldEqual, "policy:deadbeef")
	})

	Convey("Invalid patterns are rejected", t, func() {
		for _, text := range []string{
			"",
			"addr:",
			"cred:*",
			"policy:xyz",
			"policy:abc",
			"addr:has space",
			"addr:quote'quote",
			"unknown:foo",
		} {
			_, err := FromText(text)
			So(err, ShouldNotBeNil)
		}
	})
}

func TestPatternToSQL(t *testing.T) {
	Convey("Compiled fragments match the expected SQL", t, func() {
		testCases := []struct {
			text     string
			expected string
		}{
			{"*", "ext_output_reference IS NOT NULL"},
			{"addr:addrone", "address = 'addrone'"},
			{"addr:addrone*", "address LIKE 'addrone%'"},
			{"cred:credone", "payment_credential = 'credone'"},
			{"cred:credone*", "payment_credential LIKE 'credone%'"},
			{"policy:deadbeef",
				"ext_output_reference IN (SELECT output_reference FROM policies WHERE policy_id = x'deadbeef')"},
		}
		for _, tc := range testCases {
			p, err := FromText(tc.text)
			So(err, ShouldBeNil)
			So(p.ToSQL(), ShouldEqual, tc.expected)
		}
	})
}

func TestStatus(t *testing.T) {
	Convey("Status flags parse from text", t, func() {
		for text, expected := range map[string]Status{
			"":        StatusAny,
			"any":     StatusAny,
			"unspent": StatusUnspent,
			"spent":   StatusSpent,
		} {
			s, err := StatusFromText(text)
			So(err, ShouldBeNil)
			So(s, ShouldEqual, expected)
		}

		_, err := StatusFromText("bogus")
		So(err, ShouldNotBeNil)
	})

	Convey("Status flags compile to AND fragments", t, func() {
		So(StatusAny.ToSQL(), ShouldEqual, "")
		So(StatusUnspent.ToSQL(), ShouldEqual, "AND spent_at IS NULL")
		So(StatusSpent.ToSQL(), ShouldEqual, "AND spent_at IS NOT NULL")
	})
}
