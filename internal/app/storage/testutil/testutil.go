// Package testutil contains utilities for writing tests against storage.
package testutil

import (
	"database/sql"
	"fmt"

	"github.com/eveqx/corpstat/internal/app/storage"
)

// NewDBInMemory creates and returns a database in memory for tests.
// The connection pool is limited to one connection,
// so that all callers share the same in-memory database.
func NewDBInMemory() (*sql.DB, *storage.Storage, *Factory) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	if err := storage.ApplyMigrations(db); err != nil {
		panic(err)
	}
	st := storage.New(db)
	factory := NewFactory(st)
	return db, st, factory
}

// MustTruncateTables purges data from all data tables and panics on any error.
// The placeholder sequence is reset afterwards, as after initdb.
func MustTruncateTables(db *sql.DB) {
	if _, err := db.Exec("PRAGMA foreign_keys = 0"); err != nil {
		panic(err)
	}
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = "table" AND name != "migrations";`)
	if err != nil {
		panic(err)
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			panic(err)
		}
		tables = append(tables, name)
	}
	for _, n := range tables {
		if _, err := db.Exec(fmt.Sprintf("DELETE FROM %s;", n)); err != nil {
			panic(err)
		}
		if _, err := db.Exec(fmt.Sprintf("DELETE FROM SQLITE_SEQUENCE WHERE name='%s';", n)); err != nil {
			panic(err)
		}
	}
	if _, err := db.Exec("INSERT INTO placeholder_sequence (id, last_id) VALUES (1, 0);"); err != nil {
		panic(err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = 1"); err != nil {
		panic(err)
	}
}
