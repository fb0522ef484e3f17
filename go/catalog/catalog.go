// Package catalog is the durable record of sites, snapshots, diffs, and
// queue entries, and the single source of truth for scheduling state. It
// speaks plain database/sql so the same queries run against PostgreSQL
// (production, via the pgx stdlib driver) and SQLite (local development
// and tests).
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v4/stdlib" // Import for registration side-effect.
	_ "github.com/mattn/go-sqlite3"    // Import for registration side-effect.
	log "github.com/sirupsen/logrus"
)

// Config is the catalog database configuration.
type Config struct {
	Driver   string `long:"driver" env:"DB_DRIVER" default:"pgx" choice:"pgx" choice:"sqlite3" description:"Database driver"`
	Host     string `long:"host" env:"DB_HOST" default:"db" description:"Database host"`
	Port     int    `long:"port" env:"DB_PORT" default:"5432" description:"Database port"`
	Name     string `long:"name" env:"DB_NAME" default:"govwatcher" description:"Database name"`
	User     string `long:"user" env:"DB_USER" default:"archive_admin" description:"Database user"`
	Password string `long:"password" env:"DB_PASSWORD" default:"" description:"Database password"`
	Path     string `long:"path" env:"DB_PATH" default:"" description:"SQLite database path (sqlite3 driver only)"`
}

// DSN renders the configuration as a driver connection string.
func (c Config) DSN() string {
	if c.Driver == "sqlite3" {
		if c.Path == "" {
			return "file::memory:?cache=shared"
		}
		return c.Path
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Name)
}

// Catalog wraps the relational store of record.
type Catalog struct {
	*Queries
	db *sql.DB
}

// Queries bundles every catalog operation over either a *sql.DB or an
// open transaction, so multi-row updates can run atomically via WithTx.
type Queries struct {
	r runner
}

type runner interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Catalog, error) {
	var db, err = sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening catalog database: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to catalog database: %w", err)
	}
	if cfg.Driver == "sqlite3" {
		// SQLite misbehaves under concurrent writers from multiple pooled
		// connections against the same handle.
		db.SetMaxOpenConns(1)
	}

	log.WithFields(log.Fields{"driver": cfg.Driver, "name": cfg.Name}).Info("catalog database connected")
	return &Catalog{Queries: &Queries{r: db}, db: db}, nil
}

// Close releases the underlying connection pool.
func (c *Catalog) Close() error { return c.db.Close() }

// WithTx invokes |fn| within a transaction scope that commits when fn
// returns nil, and rolls back otherwise.
func (c *Catalog) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	var tx, err = c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err = fn(&Queries{r: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.WithField("err", rbErr).Error("failed to rollback transaction")
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
