// Package migrations applies the store's schema with goose, embedding the
// SQL files so the binary needs no external migration directory at runtime
// (spec §4.6: migrate() is idempotent and applies pending versions in
// order). Grounded on the teacher's migration manager's SetDialect + Up
// sequencing, generalized from a directory on disk to an embedded FS and
// narrowed to forward-only application per this agent's design.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var sqlFiles embed.FS

// Up applies every pending migration in order. It is safe to call on every
// process startup; goose tracks applied versions in its own table.
func Up(db *sql.DB) error {
	goose.SetBaseFS(sqlFiles)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "sql"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Version reports the current applied schema version.
func Version(db *sql.DB) (int64, error) {
	goose.SetBaseFS(sqlFiles)
	defer goose.SetBaseFS(nil)
	return goose.GetDBVersion(db)
}
