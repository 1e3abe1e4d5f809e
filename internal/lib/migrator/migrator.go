// Package migrator applies the embedded schema migrations with golang-migrate.
package migrator

import (
	"errors"
	"fmt"
	"strings"

	"admissions/migrations"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrUnknownDriver = errors.New("unknown storage driver")

// Up applies every pending migration. An up-to-date schema is not an error.
func Up(driver, dsn string) error {
	const op = "migrator.Up"

	m, err := newMigrate(driver, dsn)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Down rolls back every applied migration.
func Down(driver, dsn string) error {
	const op = "migrator.Down"

	m, err := newMigrate(driver, dsn)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer m.Close()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func newMigrate(driver, dsn string) (*migrate.Migrate, error) {
	databaseURL, err := DatabaseURL(driver, dsn)
	if err != nil {
		return nil, err
	}

	src, err := iofs.New(migrations.FS, driver)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}

	return migrate.NewWithSourceInstance("iofs", src, databaseURL)
}

// DatabaseURL converts a storage path or DSN into the URL scheme golang-migrate expects.
func DatabaseURL(driver, dsn string) (string, error) {
	switch driver {
	case DriverSQLite:
		return "sqlite3://" + strings.TrimPrefix(dsn, "file:"), nil
	case DriverPostgres:
		for _, scheme := range []string{"postgres://", "postgresql://"} {
			if strings.HasPrefix(dsn, scheme) {
				return "pgx5://" + strings.TrimPrefix(dsn, scheme), nil
			}
		}
		return "", fmt.Errorf("%w: postgres dsn must start with postgres://", ErrUnknownDriver)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
