// Package migrate provides a simple mechanism for dealing with migrations of a SQLite database.
package migrate

import (
	"cmp"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// MigrateFS is a filesystem containing SQL files in a folder called "migrations".
type MigrateFS interface {
	fs.ReadDirFS
	fs.ReadFileFS
}

// Run applies all unapplied migrations.
func Run(db *sql.DB, migrations MigrateFS) error {
	empty, err := isEmpty(db)
	if err != nil {
		return err
	}
	if empty {
		if err := createMigrationTracking(db); err != nil {
			return err
		}
	}
	return applyNewMigrations(db, migrations)
}

var createMigrationTrackingSQL = `
CREATE TABLE migrations(
    id INTEGER PRIMARY KEY NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	name TEXT NOT NULL,
	UNIQUE (name)
);`

func createMigrationTracking(db *sql.DB) error {
	_, err := db.Exec(createMigrationTrackingSQL)
	return err
}

func recordMigration(db *sql.DB, name string) error {
	_, err := db.Exec(`INSERT INTO migrations(name) VALUES(?);`, name)
	return err
}

func listMigrationNames(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query(`SELECT name FROM migrations;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	applied := make(map[string]bool)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		applied[n] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return applied, nil
}

type migration struct {
	name     string
	filename string
}

// applyNewMigrations applies any new migrations in alphabetical order.
func applyNewMigrations(db *sql.DB, migrations MigrateFS) error {
	applied, err := listMigrationNames(db)
	if err != nil {
		return err
	}
	c, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	unapplied := make([]migration, 0)
	for _, entry := range c {
		fn := entry.Name()
		ext := filepath.Ext(fn)
		if ext != ".sql" {
			continue
		}
		name := strings.TrimSuffix(fn, ext)
		if applied[name] {
			continue
		}
		unapplied = append(unapplied, migration{name: name, filename: fn})
	}
	if len(unapplied) == 0 {
		slog.Debug("No new migrations to apply")
		return nil
	}
	slog.Info("Applying new migrations", "count", len(unapplied))
	slices.SortFunc(unapplied, func(a, b migration) int {
		return cmp.Compare(a.name, b.name)
	})
	for _, m := range unapplied {
		p := fmt.Sprintf("migrations/%s", m.filename) // FS uses slashes on all platforms incl. Windows
		data, err := migrations.ReadFile(p)
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(data)); err != nil {
			return fmt.Errorf("applying migration %s: %w", m.name, err)
		}
		if err := recordMigration(db, m.name); err != nil {
			return err
		}
		slog.Info("Successfully applied new migration", "name", m.name)
	}
	return nil
}

// isEmpty reports whether the database is empty.
func isEmpty(db *sql.DB) (bool, error) {
	rows, err := db.Query("SELECT name FROM sqlite_master;")
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		return false, nil
	}
	return true, rows.Err()
}

// ListTableNames returns the names of all tables in a database. This is meant for tests.
func ListTableNames(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = "table";`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
