// Package storage implements persistent storage for the app with SQLite.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eveqx/corpstat/internal/app"
	"github.com/eveqx/corpstat/internal/migrate"
)

//go:embed migrations/*.sql
var migrations embed.FS

// dbConn is the part of the database/sql API shared by *sql.DB and *sql.Tx.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Storage provides access to all objects in persistent storage.
type Storage struct {
	q  dbConn
	db *sql.DB
}

// New returns a new Storage object backed by the given database.
func New(db *sql.DB) *Storage {
	return &Storage{q: db, db: db}
}

// BeginTx starts a transaction and returns a transaction bound Storage
// together with commit and rollback functions.
// The returned Storage must not be used after commit or rollback.
func (st *Storage) BeginTx(ctx context.Context) (*Storage, func() error, func() error, error) {
	if st.db == nil {
		return nil, nil, nil, errors.New("BeginTx on transaction bound storage")
	}
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	st2 := &Storage{q: tx}
	return st2, tx.Commit, tx.Rollback, nil
}

// InitDB initializes the database and returns it.
func InitDB(dataSourceName string) (*sql.DB, error) {
	v := url.Values{}
	v.Add("_fk", "on")
	v.Add("_journal_mode", "WAL")
	v.Add("_synchronous", "normal")
	v.Add("_busy_timeout", "10000")
	dsn := fmt.Sprintf("%s?%s", dataSourceName, v.Encode())
	slog.Debug("Connecting to sqlite", "dsn", dsn)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := ApplyMigrations(db); err != nil {
		return nil, err
	}
	slog.Info("Connected to database")
	return db, nil
}

// ApplyMigrations applies all unapplied migrations to a database.
func ApplyMigrations(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}
	return migrate.Run(db, migrations)
}

func convertGetError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return app.ErrNotFound
	}
	return err
}
