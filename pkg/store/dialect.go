// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"fmt"
	"strings"
)

// rebind rewrites a query written with "?" placeholders into the
// dialect's native placeholder syntax ("?" for mysql/sqlite, "$1", "$2",
// ... for postgres), so every query in this package is written once.
func rebind(dialect, query string) string {
	if dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdateClause returns the row-locking clause for dialects whose
// database/sql driver supports SELECT ... FOR UPDATE inside a
// transaction. SQLite has no row-level locking, so callers fall back to
// an in-process keyed mutex (see Repository.LockRun).
func forUpdateClause(dialect string) string {
	switch dialect {
	case "postgres", "mysql":
		return " FOR UPDATE"
	default:
		return ""
	}
}
