package eventlog

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver used below
	gormpostgres "gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Driver selects the backing database.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Config holds what the event log needs to connect: one DSN, one driver
// choice, one log-level knob.
type Config struct {
	Driver   Driver
	DSN      string
	LogLevel gormlogger.LogLevel
}

func (c Config) resolvedDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return "file:rain-events.db?_pragma=busy_timeout(5000)"
}

// Connect opens the database and makes sure the events table exists, then
// returns a GORM handle for the Store to use.
//
// Postgres deployments (a shared log surviving server restarts, possibly
// read by more than one process) apply the versioned SQL files in
// migrations/ via golang-migrate, a deliberate schema-evolution story for
// a table other tooling reads directly.
// SQLite deployments (the default: a single embedded file next to one
// server process) use GORM's AutoMigrate instead, through the
// gorm.io/driver/sqlite driver; no code here imports modernc.org/sqlite.
func Connect(cfg Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(cfg.LogLevel)}

	switch cfg.Driver {
	case DriverPostgres:
		if err := migratePostgres(cfg.DSN); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		db, err := gorm.Open(gormpostgres.Open(cfg.DSN), gcfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	case DriverSQLite, "":
		db, err := gorm.Open(gormsqlite.Open(cfg.resolvedDSN()), gcfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("automigrate sqlite: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
}

func migratePostgres(dsn string) error {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open for migration: %w", err)
	}
	defer conn.Close()

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	dbDriver, err := postgres.WithInstance(conn, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("postgres migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
