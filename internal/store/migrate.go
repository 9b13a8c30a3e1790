package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/matheus3301/wappd/internal/store/migrations"
)

// Migrate brings the registry schema up to date from the embedded
// migration files. It reports the schema version and whether any
// migration actually ran.
func (db *DB) Migrate() (version uint, applied bool, err error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return 0, false, fmt.Errorf("load migrations: %w", err)
	}
	drv, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return 0, false, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return 0, false, fmt.Errorf("migrate: %w", err)
	}

	applied = true
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return 0, false, fmt.Errorf("apply migrations: %w", err)
		}
		applied = false
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("read schema version: %w", verr)
	}
	if dirty {
		return version, applied, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, applied, nil
}
