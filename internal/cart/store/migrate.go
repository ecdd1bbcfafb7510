package store

import (
	"embed"
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// MigratePostgres applies the cart_kv schema to the PostgreSQL database at dbURL.
func MigratePostgres(dbURL string) error {
	return runMigrations("migrations/postgres", dbURL)
}

// MigrateSqlite applies the cart_kv schema to the SQLite database file at path.
func MigrateSqlite(path string) error {
	return runMigrations("migrations/sqlite", "sqlite://"+path)
}

func runMigrations(dir, dbURL string) error {
	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("failed to open migrations %s: %w", dir, err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance for %s: %w", maskDSN(dbURL), err)
	}
	defer func() {
		_, _ = m.Close()
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// maskDSN hides credentials in a connection string before it is logged or wrapped into an error.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "****"
	}
	return u.Redacted()
}
