package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
)

// MigrationsFS holds the SQL migration files. It is set by the migrations
// package so the files are compiled into the binary:
//
//	import _ "github.com/nerrad567/idotmatrix-bridge/migrations"
var MigrationsFS fs.FS

// MigrationsDir is the directory within MigrationsFS containing migration files.
var MigrationsDir = "."

// ErrNoMigrations is returned when MigrationsFS has not been registered.
var ErrNoMigrations = errors.New("database: no migrations registered")

// gooseMu guards goose's package-level base FS, dialect and logger.
var gooseMu sync.Mutex

// Logger receives goose progress output.
type Logger interface {
	Info(msg string, args ...any)
}

// gooseLogger adapts a structured Logger to goose's printf interface.
type gooseLogger struct {
	log Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	if g.log != nil {
		g.log.Info(fmt.Sprintf(format, v...), "component", "migrations")
	}
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	// goose only calls Fatalf from its CLI helpers; surface it as a log line.
	g.Printf("fatal: "+format, v...)
}

// Migrate applies all pending migrations in version order.
// Each goose migration runs in its own transaction.
func (db *DB) Migrate(ctx context.Context, log Logger) error {
	return db.withGoose(log, func() error {
		if err := goose.UpContext(ctx, db.DB, MigrationsDir); err != nil {
			return fmt.Errorf("running migrations up: %w", err)
		}
		return nil
	})
}

// MigrateDown rolls back the most recent migration.
func (db *DB) MigrateDown(ctx context.Context) error {
	return db.withGoose(nil, func() error {
		if err := goose.DownContext(ctx, db.DB, MigrationsDir); err != nil {
			return fmt.Errorf("running migration down: %w", err)
		}
		return nil
	})
}

// SchemaVersion returns the version of the most recently applied migration.
func (db *DB) SchemaVersion(ctx context.Context) (int64, error) {
	var version int64
	err := db.withGoose(nil, func() error {
		v, err := goose.GetDBVersionContext(ctx, db.DB)
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}

// withGoose configures goose's global state under gooseMu and runs fn.
func (db *DB) withGoose(log Logger, fn func() error) error {
	if MigrationsFS == nil {
		return ErrNoMigrations
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(MigrationsFS)
	goose.SetLogger(gooseLogger{log: log})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	return fn()
}
