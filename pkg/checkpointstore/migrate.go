package checkpointstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies every pending migration to a Postgres-backed
// checkpoint store. Migration files are embedded at compile time so a
// deployed binary never depends on an external migrations directory.
func Migrate(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("checkpointstore: create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("checkpointstore: create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "checkpointstore", driver)
	if err != nil {
		return fmt.Errorf("checkpointstore: create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("checkpointstore: apply migrations: %w", err)
	}

	// Only the source driver is closed here; closing the migrate
	// instance itself would close db, which the caller still owns.
	return sourceDriver.Close()
}
