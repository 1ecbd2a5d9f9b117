package db

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/banshee-data/laneguard/internal/monitoring"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

func getMigrationsFS() (fs.FS, error) {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	return sub, nil
}

// withMigrate builds a migrator over the shared connection and runs fn.
// ErrNoChange is not an error. The migrator is never closed because closing
// it would close db.DB.
func (db *DB) withMigrate(migrationsFS fs.FS, op string, fn func(*migrate.Migrate) error) error {
	if migrationsFS == nil {
		return errors.New("nil migrations filesystem")
	}
	src, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("open migrations source: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("new migrator: %w", err)
	}
	m.Log = migrateLog{}
	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", op, err)
	}
	return nil
}

// MigrateUp applies every pending migration.
func (db *DB) MigrateUp(migrationsFS fs.FS) error {
	return db.withMigrate(migrationsFS, "up", (*migrate.Migrate).Up)
}

// MigrateDown reverts the newest applied migration.
func (db *DB) MigrateDown(migrationsFS fs.FS) error {
	return db.withMigrate(migrationsFS, "down", func(m *migrate.Migrate) error { return m.Steps(-1) })
}

// MigrateTo moves the schema up or down to version.
func (db *DB) MigrateTo(migrationsFS fs.FS, version uint) error {
	return db.withMigrate(migrationsFS, fmt.Sprintf("to %d", version), func(m *migrate.Migrate) error {
		return m.Migrate(version)
	})
}

// MigrateForce records version as applied and clears the dirty flag.
func (db *DB) MigrateForce(migrationsFS fs.FS, version int) error {
	return db.withMigrate(migrationsFS, fmt.Sprintf("force %d", version), func(m *migrate.Migrate) error {
		return m.Force(version)
	})
}

// MigrateVersion reports the applied version; 0 when nothing is applied.
func (db *DB) MigrateVersion(migrationsFS fs.FS) (version uint, dirty bool, err error) {
	err = db.withMigrate(migrationsFS, "version", func(m *migrate.Migrate) error {
		var verr error
		version, dirty, verr = m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			return nil
		}
		return verr
	})
	return version, dirty, err
}

type migrateLog struct{}

func (migrateLog) Printf(format string, v ...interface{}) {
	monitoring.Logf("migrate: "+format, v...)
}

func (migrateLog) Verbose() bool { return false }

// MigrationStatus is what `laneguard migrate status` prints.
type MigrationStatus struct {
	CurrentVersion         uint `json:"current_version"`
	LatestVersion          uint `json:"latest_version"`
	Dirty                  bool `json:"dirty"`
	SchemaMigrationsExists bool `json:"schema_migrations_exists"`
}

func (db *DB) GetMigrationStatus(migrationsFS fs.FS) (MigrationStatus, error) {
	var st MigrationStatus
	if err := db.QueryRow(
		`SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`,
	).Scan(&st.SchemaMigrationsExists); err != nil {
		return st, fmt.Errorf("look up schema_migrations: %w", err)
	}
	var err error
	if st.CurrentVersion, st.Dirty, err = db.MigrateVersion(migrationsFS); err != nil {
		return st, err
	}
	st.LatestVersion, err = GetLatestMigrationVersion(migrationsFS)
	return st, err
}

// GetLatestMigrationVersion returns the highest version among the
// NNNNNN_name.up.sql files.
func GetLatestMigrationVersion(migrationsFS fs.FS) (uint, error) {
	names, err := fs.Glob(migrationsFS, "*.up.sql")
	if err != nil {
		return 0, fmt.Errorf("list migrations: %w", err)
	}
	var latest uint
	for _, name := range names {
		var v uint
		if _, err := fmt.Sscanf(name, "%d_", &v); err == nil && v > latest {
			latest = v
		}
	}
	if latest == 0 {
		return 0, errors.New("no migration files found")
	}
	return latest, nil
}
