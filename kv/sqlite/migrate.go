package sqlite

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/hybridflow/hybridflow/kv/sqlite/migrations"
)

// ApplyMigrations applies any pending schema migrations using the migration
// files compiled into the binary.
func (s *Store) ApplyMigrations() error {
	const op = "Store.ApplyMigrations"
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("%s: unable to create migration driver: %w", op, err)
	}
	src, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return fmt.Errorf("%s: unable to read migrations: %w", op, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
