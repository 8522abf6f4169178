// Package postgres implements the driver.Driver capability set against
// PostgreSQL, grounded on the connection-pool and Config/DSN conventions of
// the teacher's internal/storage/postgres store but retargeted from
// schema-registry CRUD onto catalog introspection, sampling, and bulk
// insertion.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/dbsubsetter/subsetter/internal/subsetter/dbmodel"
	"github.com/dbsubsetter/subsetter/internal/subsetter/driver"
)

func init() {
	driver.Register(driver.KindPostgres, func(ctx context.Context, url string) (driver.Driver, error) {
		return Open(ctx, url)
	})
}

// Config holds PostgreSQL connection configuration, mirroring the teacher's
// postgres store Config shape.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns sane pooling defaults for a batch subsetting job:
// a handful of connections, since the engine issues one query at a time.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 10 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Store implements driver.Driver using database/sql + lib/pq.
type Store struct {
	db     *sql.DB
	config Config
}

// Open opens a PostgreSQL connection using the given DSN-style URL (a
// postgres:// URL, as lib/pq accepts).
func Open(ctx context.Context, dsn string) (*Store, error) {
	return OpenWithConfig(ctx, dsn, DefaultConfig())
}

// OpenWithConfig opens a connection with explicit pool tuning.
func OpenWithConfig(ctx context.Context, dsn string, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Store{db: db, config: cfg}, nil
}

// QuoteIdentifier double-quotes a (possibly schema-qualified) identifier.
func (s *Store) QuoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) qualified(table dbmodel.TableKey) string {
	if table.Schema == "" {
		return s.QuoteIdentifier(table.Name)
	}
	return s.QuoteIdentifier(table.Schema) + "." + s.QuoteIdentifier(table.Name)
}
