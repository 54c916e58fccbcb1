// Package db wires database/sql to the heaven.db namespace described
// in spec.md §6, over the "heaven" VFS package sqlitevfs registers.
// Grounded on the original implementation's schema
// (original_source's kernel/src/api/mod.rs defines the same
// namespace(path, type, content, mode, mtime) table) restricted to
// the bootstrap/exec/query surface spec.md's Non-goals actually allow
// — the tool-invocation loop and Lua REPL above it stay out of scope.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"hvnos/sqlitevfs"
)

// Value is a tagged SQL column value, matching spec.md §6's
// Null/Integer/Real/Text variants instead of exposing database/sql's
// untyped interface{} directly to callers.
type Value struct {
	kind valueKind
	i    int64
	f    float64
	s    string
}

type valueKind int

const (
	kindNull valueKind = iota
	kindInteger
	kindReal
	kindText
)

func Null() Value             { return Value{kind: kindNull} }
func Integer(v int64) Value   { return Value{kind: kindInteger, i: v} }
func Real(v float64) Value    { return Value{kind: kindReal, f: v} }
func Text(v string) Value     { return Value{kind: kindText, s: v} }
func (v Value) IsNull() bool  { return v.kind == kindNull }
func (v Value) Int() int64    { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) String() string {
	if v.kind == kindText {
		return v.s
	}
	return ""
}

func (v Value) asAny() any {
	switch v.kind {
	case kindInteger:
		return v.i
	case kindReal:
		return v.f
	case kindText:
		return v.s
	default:
		return nil
	}
}

func valueFromAny(a any) Value {
	switch t := a.(type) {
	case nil:
		return Null()
	case int64:
		return Integer(t)
	case float64:
		return Real(t)
	case string:
		return Text(t)
	case []byte:
		return Text(string(t))
	default:
		return Null()
	}
}

// DB wraps the *sql.DB opened against the heaven VFS.
type DB struct {
	sql *sql.DB
}

// Open dials the single heaven.db database through the "heaven" VFS and
// switches it into WAL mode — package sqlitevfs's Lock/Unlock bridge
// reuses WAL lock slot 0 as SQLite's single rollback-journal lock, a
// rationale that only holds once the database actually runs under WAL.
// sqlitevfs.Register must have been called already (cmd/heavenfsd does
// this before calling Open).
func Open() (*DB, error) {
	dsn := fmt.Sprintf("file:heaven.db?vfs=%s", sqlitevfs.Name)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &DB{sql: sqlDB}, nil
}

// Close releases the underlying *sql.DB.
func (d *DB) Close() error { return d.sql.Close() }

// namespaceSchema is the single table spec.md §6 describes.
const namespaceSchema = `CREATE TABLE IF NOT EXISTS namespace (
	path  TEXT PRIMARY KEY,
	type  TEXT NOT NULL,
	content BLOB,
	mode  INTEGER DEFAULT 420,
	mtime INTEGER DEFAULT 0
)`

// Bootstrap creates the namespace table if it is absent, checked via
// sqlite_master so repeated calls across reboots are idempotent, per
// spec.md §6's SQL surface enrichment.
func (d *DB) Bootstrap() error {
	row := d.sql.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='namespace'`)
	var count int
	if err := row.Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err := d.sql.Exec(namespaceSchema)
	return err
}

// Exec runs a statement with no result rows, e.g. an insert into
// namespace.
func (d *DB) Exec(query string, args ...Value) error {
	anyArgs := make([]any, len(args))
	for i, a := range args {
		anyArgs[i] = a.asAny()
	}
	_, err := d.sql.Exec(query, anyArgs...)
	return err
}

// Query runs a statement and returns its column names alongside every
// result row as a slice of Value, one slice per row in column order —
// spec.md §6's `query(sql)→{columns, rows}` surface.
func (d *DB) Query(query string, args ...Value) ([]string, [][]Value, error) {
	anyArgs := make([]any, len(args))
	for i, a := range args {
		anyArgs[i] = a.asAny()
	}
	rows, err := d.sql.Query(query, anyArgs...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out [][]Value
	for rows.Next() {
		scanTargets := make([]any, len(cols))
		scanValues := make([]any, len(cols))
		for i := range scanTargets {
			scanTargets[i] = &scanValues[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, err
		}
		row := make([]Value, len(cols))
		for i, v := range scanValues {
			row[i] = valueFromAny(v)
		}
		out = append(out, row)
	}
	return cols, out, rows.Err()
}
