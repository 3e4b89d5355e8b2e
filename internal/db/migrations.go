package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
)

// LatestMigrationVersion must be bumped with every new migration file.
const LatestMigrationVersion uint = 1

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrMigrationDowngrade is returned when the database schema is newer than
// this binary knows about.
var ErrMigrationDowngrade = errors.New("database downgrade detected")

// migrationLogger adapts slog to migrate.Logger.
type migrationLogger struct {
	log *slog.Logger
}

func (m *migrationLogger) Printf(format string, v ...any) {
	format = strings.TrimRight(format, "\n")
	m.log.Info(fmt.Sprintf(format, v...))
}

func (m *migrationLogger) Verbose() bool {
	return false
}

// Migrate brings the schema up to LatestMigrationVersion.
func Migrate(db *sql.DB, log *slog.Logger) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	src, err := httpfs.New(http.FS(migrationFS), "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("migrations", src, "postgres", driver)
	if err != nil {
		return err
	}
	m.Log = &migrationLogger{log: log}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("unable to determine current migration "+
			"version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in a dirty state at version "+
			"%v, manual intervention required", version)
	}
	if version > LatestMigrationVersion {
		return fmt.Errorf("%w: db_version=%v, latest_migration_version=%v",
			ErrMigrationDowngrade, version, LatestMigrationVersion)
	}

	log.Info("Applying migrations", "current_version", version,
		"target_version", LatestMigrationVersion)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
