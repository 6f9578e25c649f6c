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
	"github.com/pkg/errors"
)

// Status narrows a fold to spent, unspent or all inputs.
type Status int

const (
	// StatusAny keeps both spent and unspent inputs.
	StatusAny Status = iota
	// StatusUnspent keeps inputs not yet spent.
	StatusUnspent
	// StatusSpent keeps inputs already spent.
	StatusSpent
)

func (s Status) String() string {
	switch s {
	case StatusUnspent:
		return "unspent"
	case StatusSpent:
		return "spent"
	}
	return "any"
}

// StatusFromText parses a status flag. The empty string means StatusAny.
func StatusFromText(s string) (Status, error) {
	switch s {
	case "", "any":
		return StatusAny, nil
	case "unspent":
		return StatusUnspent, nil
	case "spent":
		return StatusSpent, nil
	}
	return StatusAny, errors.Errorf("unrecognized status flag: %q", s)
}

// ToSQL returns an AND-fragment narrowing on spent_at, or the empty string
// for StatusAny.
func (s Status) ToSQL() string {
	switch s {
	case StatusUnspent:
		return "AND spent_at IS NULL"
	case StatusSpent:
		return "AND spent_at IS NOT NULL"
	}
	return ""
}
