// Package database opens the relational store that holds OAuth token history.
// SQLite (mattn/go-sqlite3) serves single-instance deployments and tests;
// PostgreSQL goes through the pgx stdlib driver.
package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
	"x-auto-post-tool/internal/common/errors"
)

// Dialect identifies the SQL flavour behind a DB.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Config selects and locates the database.
type Config struct {
	Type string // sqlite | postgres
	Path string // SQLite file path, ":memory:" for tests
	URL  string // PostgreSQL connection URL
}

// DB is a *sql.DB that knows its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects to the configured database and applies migrations.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	var (
		db      *sql.DB
		dialect Dialect
	)

	switch strings.ToLower(cfg.Type) {
	case "", "sqlite", "sqlite3":
		if cfg.Path == "" {
			return nil, errors.ConfigError("database path is required for sqlite")
		}
		var err error
		db, err = sql.Open("sqlite3", cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
		// one writer; also keeps ":memory:" databases on a single connection
		db.SetMaxOpenConns(1)
		dialect = SQLite

	case "postgres", "postgresql":
		if cfg.URL == "" {
			return nil, errors.ConfigError("database url is required for postgres")
		}
		pgCfg, err := pgx.ParseConfig(cfg.URL)
		if err != nil {
			return nil, errors.ConfigError(fmt.Sprintf("invalid postgres url: %v", err))
		}
		db = stdlib.OpenDB(*pgCfg)
		db.SetMaxOpenConns(20)
		db.SetConnMaxIdleTime(5 * time.Minute)
		dialect = Postgres

	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", cfg.Type))
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.ConnectionError("failed to ping database", err)
	}

	wrapped := &DB{DB: db, Dialect: dialect}
	if err := wrapped.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return wrapped, nil
}

// Health pings the database with a bounded wait.
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Rebind rewrites ? placeholders into the dialect's form.
func (db *DB) Rebind(query string) string {
	if db.Dialect != Postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsUniqueViolation reports whether err is a unique constraint failure.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if stderrors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	return false
}

func (db *DB) migrate(ctx context.Context) error {
	queries := sqliteSchema
	if db.Dialect == Postgres {
		queries = postgresSchema
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS oauth_tokens (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		access_token_cipher TEXT NOT NULL DEFAULT '',
		refresh_token_cipher TEXT NOT NULL DEFAULT '',
		token_type TEXT NOT NULL DEFAULT 'Bearer',
		expires_at DATETIME,
		scope TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_oauth_tokens_user_provider ON oauth_tokens(user_id, provider)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_oauth_tokens_one_active ON oauth_tokens(user_id, provider) WHERE is_active`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS oauth_tokens (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		provider VARCHAR(64) NOT NULL,
		access_token_cipher TEXT NOT NULL DEFAULT '',
		refresh_token_cipher TEXT NOT NULL DEFAULT '',
		token_type VARCHAR(32) NOT NULL DEFAULT 'Bearer',
		expires_at TIMESTAMPTZ,
		scope TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_oauth_tokens_user_provider ON oauth_tokens(user_id, provider)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_oauth_tokens_one_active ON oauth_tokens(user_id, provider) WHERE is_active`,
}
