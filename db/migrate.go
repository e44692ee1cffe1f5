package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/onnwee/ghostbot/apperr"
)

// Migration files are NNNNNN_description.{up,down}.sql.
//
//go:embed migrations/*.sql
var migrationFS embed.FS

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "db.migrate", err)
	}
	return migrate.NewWithInstance("iofs", src, "postgres", driver)
}

// RunMigrations brings the snapshot schema up to date. It runs on every start
// and refuses to continue from a dirty schema.
func RunMigrations(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	changed := true
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return apperr.Wrap(apperr.KindPersistence, "db.migrate", err)
		}
		changed = false
	}
	version, dirty, err := schemaVersion(m)
	if err != nil {
		return err
	}
	if dirty {
		return apperr.New(apperr.KindPersistence, "db.migrate", "schema is dirty at version %d; repair it and force the version", version)
	}
	slog.Info("snapshot schema ready",
		slog.Uint64("version", uint64(version)),
		slog.Bool("migrated", changed),
		slog.String("component", "db_migrate"))
	return nil
}

// SchemaVersion reports the applied migration version; an unmigrated database is version 0.
func SchemaVersion(db *sql.DB) (version uint, dirty bool, err error) {
	m, err := newMigrate(db)
	if err != nil {
		return 0, false, err
	}
	return schemaVersion(m)
}

func schemaVersion(m *migrate.Migrate) (uint, bool, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperr.Wrap(apperr.KindPersistence, "db.version", err)
	}
	return v, dirty, nil
}
