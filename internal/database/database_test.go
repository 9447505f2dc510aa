package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"x-auto-post-tool/internal/common/errors"
)

func TestOpen_SQLiteMigrates(t *testing.T) {
	db, err := Open(context.Background(), Config{Type: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, SQLite, db.Dialect)

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='oauth_tokens'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "oauth_tokens", name)
}

func TestOpen_OneActiveRowIndex(t *testing.T) {
	db, err := Open(context.Background(), Config{Path: ":memory:"})
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	insert := `INSERT INTO oauth_tokens (id, user_id, provider, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`

	_, err = db.Exec(insert, "a", "u1", "twitter", true, now, now)
	require.NoError(t, err)

	// inactive history rows are unconstrained
	_, err = db.Exec(insert, "b", "u1", "twitter", false, now, now)
	require.NoError(t, err)
	_, err = db.Exec(insert, "c", "u1", "twitter", false, now, now)
	require.NoError(t, err)

	_, err = db.Exec(insert, "d", "u1", "twitter", true, now, now)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	_, err = db.Exec(insert, "e", "u2", "twitter", true, now, now)
	assert.NoError(t, err)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), Config{Type: "oracle"})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	_, err = Open(context.Background(), Config{Type: "postgres"})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	_, err = Open(context.Background(), Config{Type: "sqlite"})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestHealth(t *testing.T) {
	db, err := Open(context.Background(), Config{Type: "sqlite", Path: ":memory:"})
	require.NoError(t, err)

	assert.NoError(t, db.Health(context.Background()))

	require.NoError(t, db.Close())
	assert.Error(t, db.Health(context.Background()))
}

func TestRebind(t *testing.T) {
	pg := &DB{Dialect: Postgres}
	assert.Equal(t, "UPDATE t SET a = $1 WHERE b = $2 AND c = $3", pg.Rebind("UPDATE t SET a = ? WHERE b = ? AND c = ?"))

	lite := &DB{Dialect: SQLite}
	assert.Equal(t, "SELECT ? FROM t", lite.Rebind("SELECT ? FROM t"))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(assert.AnError))
}
