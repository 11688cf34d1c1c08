// Package migrations embeds the postgres schema and applies it with
// golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var files embed.FS

// Source returns the embedded migration files as a golang-migrate source.
func Source() (source.Driver, error) {
	return iofs.New(files, "sql")
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := Source()
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("open migration driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, "postgres", driver)
}

// Up applies every pending migration. An already current schema is not an
// error.
func Up(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down rolls back the given number of migrations.
func Down(db *sql.DB, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive")
	}
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Version reports the applied schema version. ok is false when nothing has
// been applied yet.
func Version(db *sql.DB) (version uint, dirty bool, ok bool, err error) {
	m, err := newMigrate(db)
	if err != nil {
		return 0, false, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, err
	}
	return version, dirty, true, nil
}
