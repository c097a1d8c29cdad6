// Package database opens the SQL store (PostgreSQL via lib/pq or SQLite via
// mattn/go-sqlite3) and applies the embedded schema.
//
// Stores write queries with $n placeholders and RETURNING clauses, which both
// dialects accept. Placeholders must first appear in ascending order because
// SQLite binds them positionally. Timestamps are always passed in from Go.
package database
