package store

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrator applies the embedded schema migrations.
type Migrator struct {
	m  *migrate.Migrate
	db *sql.DB
}

// NewMigrator opens a database/sql handle over pgx and prepares the
// embedded migration source.
func NewMigrator(connString string) (*Migrator, error) {
	pgxCfg, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "migrate: parse config")
	}
	sqlDB := stdlib.OpenDB(*pgxCfg)

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		sqlDB.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate: create driver")
	}

	src, err := SourceDriver()
	if err != nil {
		sqlDB.Close() //nolint:errcheck
		return nil, err
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		sqlDB.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate: create migrator")
	}
	return &Migrator{m: m, db: sqlDB}, nil
}

// SourceDriver returns the embedded migration files as a migrate source.
func SourceDriver() (source.Driver, error) {
	d, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, eris.Wrap(err, "migrate: open embedded source")
	}
	return d, nil
}

// Up applies all pending migrations. No pending migrations is not an error.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return eris.Wrap(err, "migrate: up")
	}
	zap.L().Info("migrations applied")
	return nil
}

// Down reverts the given number of migrations.
func (mg *Migrator) Down(steps int) error {
	if steps <= 0 {
		return eris.New("migrate: steps must be > 0")
	}
	if err := mg.m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return eris.Wrap(err, "migrate: down")
	}
	zap.L().Info("migrations reverted", zap.Int("steps", steps))
	return nil
}

// Force marks version v as applied and clean after a failed migration.
func (mg *Migrator) Force(v int) error {
	return eris.Wrapf(mg.m.Force(v), "migrate: force %d", v)
}

// Version returns the current schema version and dirty flag.
func (mg *Migrator) Version() (uint, bool, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrap(err, "migrate: version")
	}
	return v, dirty, nil
}

// Close releases the migration source and database handle.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	if srcErr != nil {
		return eris.Wrap(srcErr, "migrate: close source")
	}
	if dbErr != nil {
		return eris.Wrap(dbErr, "migrate: close database")
	}
	return nil
}
