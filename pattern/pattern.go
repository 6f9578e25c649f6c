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

// Package pattern implements the compact textual predicate grammar over input
// attributes and its compilation to SQL WHERE fragments.
//
// Grammar:
//
//	*                  match every input
//	addr:<text>[*]     match by address, optionally by prefix
//	cred:<text>[*]     match by payment credential, optionally by prefix
//	policy:<hex>       match inputs carrying an asset of the given policy
//
// Compiled fragments embed only charset-validated literals, so they are safe
// to splice into statements without further quoting.
package pattern

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type kind int

const (
	matchAny kind = iota
	matchAddress
	matchCredential
	matchPolicy
)

// Pattern is a parsed predicate over input attributes.
type Pattern struct {
	kind   kind
	value  string
	prefix bool
}

// Any returns the pattern matching every input.
func Any() Pattern {
	return Pattern{kind: matchAny}
}

// FromText parses the textual form of a pattern.
func FromText(s string) (p Pattern, err error) {
	if s == "*" {
		return Pattern{kind: matchAny}, nil
	}
	switch {
	case strings.HasPrefix(s, "addr:"):
		p.kind = matchAddress
		p.value = strings.TrimPrefix(s, "addr:")
	case strings.HasPrefix(s, "cred:"):
		p.kind = matchCredential
		p.value = strings.TrimPrefix(s, "cred:")
	case strings.HasPrefix(s, "policy:"):
		p.kind = matchPolicy
		p.value = strings.TrimPrefix(s, "policy:")
	default:
		err = errors.Errorf("unrecognized pattern: %q", s)
		return
	}
	if p.kind != matchPolicy && strings.HasSuffix(p.value, "*") {
		p.prefix = true
		p.value = strings.TrimSuffix(p.value, "*")
	}
	if p.value == "" {
		err = errors.Errorf("empty pattern operand: %q", s)
		return
	}
	if p.kind == matchPolicy {
		if !isHex(p.value) {
			err = errors.Errorf("policy pattern operand is not hex-encoded: %q", s)
			return
		}
		p.value = strings.ToLower(p.value)
	} else if !isBare(p.value) {
		err = errors.Errorf("pattern operand contains invalid characters: %q", s)
		return
	}
	return
}

// Text serializes the pattern back to its textual form.
func (p Pattern) Text() string {
	switch p.kind {
	case matchAny:
		return "*"
	case matchAddress:
		return "addr:" + p.value + wildcard(p.prefix)
	case matchCredential:
		return "cred:" + p.value + wildcard(p.prefix)
	case matchPolicy:
		return "policy:" + p.value
	}
	return ""
}

// ToSQL compiles the pattern to a WHERE fragment over the inputs table. The
// fragment never carries unvalidated text.
func (p Pattern) ToSQL() string {
	switch p.kind {
	case matchAddress:
		if p.prefix {
			return fmt.Sprintf("address LIKE '%s%%'", p.value)
		}
		return fmt.Sprintf("address = '%s'", p.value)
	case matchCredential:
		if p.prefix {
			return fmt.Sprintf("payment_credential LIKE '%s%%'", p.value)
		}
		return fmt.Sprintf("payment_credential = '%s'", p.value)
	case matchPolicy:
		return fmt.Sprintf(
			"ext_output_reference IN (SELECT output_reference FROM policies WHERE policy_id = x'%s')",
			p.value)
	}
	return "ext_output_reference IS NOT NULL"
}

func wildcard(prefix bool) string {
	if prefix {
		return "*"
	}
	return ""
}

// isBare reports whether s is limited to the bech32/base58 safe alphabet used
// for addresses and credentials.
func isBare(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func isHex(s string) bool {
	if len(s)%2 != 0 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
