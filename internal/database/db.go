package database

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/recall/recall-backend/internal/config"
)

// connMaxLifetime bounds how long a pooled connection is reused before being
// replaced, so long-lived processes survive database failovers.
const connMaxLifetime = 5 * time.Minute

// DB wraps the sqlx pool.
type DB struct {
	*sqlx.DB
}

// NewConnection opens the Postgres pool, sized from config, and verifies the
// connection. sqlx.Connect pings as part of connecting.
func NewConnection(cfg config.DatabaseConfig) (*DB, error) {
	db, err := sqlx.Connect("postgres", GetDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(connMaxLifetime)

	return &DB{db}, nil
}

// Close closes the pool.
func (db *DB) Close() error {
	return db.DB.Close()
}

// GetDSN returns the connection URL. The migration runner uses the same DSN,
// so both always target the same database.
func GetDSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)
}
