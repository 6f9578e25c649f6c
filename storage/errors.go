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
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// UnexpectedUserVersionError reports a missing or non-integer
// `PRAGMA user_version` value. It is fatal for startup.
type UnexpectedUserVersionError struct {
	Value interface{}
}

func (e *UnexpectedUserVersionError) Error() string {
	return fmt.Sprintf("unexpected user_version: %v (%T)", e.Value, e.Value)
}

// UnexpectedRowError reports a row whose shape does not match the entity the
// query was expected to produce.
type UnexpectedRowError struct {
	Context string
	Cells   []interface{}
	Cause   error
}

func (e *UnexpectedRowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unexpected row in %s: %v", e.Context, e.Cause)
	}
	return fmt.Sprintf("unexpected row in %s: %v", e.Context, e.Cells)
}

// isBusy reports whether err is a transient SQLITE_BUSY condition.
func isBusy(err error) bool {
	var serr sqlite3.Error
	if errors.As(errors.Cause(err), &serr) {
		return serr.Code == sqlite3.ErrBusy
	}
	return false
}

// isLocked reports whether err is a transient SQLITE_LOCKED condition.
func isLocked(err error) bool {
	var serr sqlite3.Error
	if errors.As(errors.Cause(err), &serr) {
		return serr.Code == sqlite3.ErrLocked
	}
	return false
}
