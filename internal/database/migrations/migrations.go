package migrations

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/uptrace/bun"

	"ms-reservation/internal/logger"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

// Runner applies the embedded schema migrations. It is a one-shot startup
// routine and keeps no state once Close has been called.
type Runner struct {
	bunDB    *bun.DB
	log      *logger.Logger
	migrator *migrate.Migrate
}

func NewRunner(bunDB *bun.DB, log *logger.Logger) *Runner {
	return &Runner{bunDB: bunDB, log: log}
}

func (r *Runner) ensure() (*migrate.Migrate, error) {
	if r.migrator != nil {
		return r.migrator, nil
	}

	driver, err := postgres.WithInstance(r.bunDB.DB, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres migration driver: %w", err)
	}
	source, err := iofs.New(migrationFiles, "sql")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	r.migrator = m
	return m, nil
}

// Version reports the applied schema version. Zero means nothing is applied.
func (r *Runner) Version() (uint, bool, error) {
	m, err := r.ensure()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// MigrateUp applies every pending migration. A dirty version left by a
// crashed run is forced clean first.
func (r *Runner) MigrateUp() error {
	m, err := r.ensure()
	if err != nil {
		return err
	}

	version, dirty, err := r.Version()
	if err != nil {
		return err
	}
	if dirty {
		r.log.Warn("MIGRATE", fmt.Sprintf("Schema version %d is dirty, forcing it clean", version))
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to fix dirty migration: %w", err)
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if version, _, err := r.Version(); err == nil {
		r.log.LogDatabase("MIGRATE", "schema_migrations", fmt.Sprintf("at version %d", version))
	}
	return nil
}

// MigrateDown rolls back steps migrations, or all of them when steps <= 0.
func (r *Runner) MigrateDown(steps int) error {
	m, err := r.ensure()
	if err != nil {
		return err
	}

	if steps > 0 {
		err = m.Steps(-steps)
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

func (r *Runner) Close() error {
	if r.migrator == nil {
		return nil
	}
	sourceErr, databaseErr := r.migrator.Close()
	r.migrator = nil
	return errors.Join(sourceErr, databaseErr)
}
