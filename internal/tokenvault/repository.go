package tokenvault

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"x-auto-post-tool/internal/database"
)

// Repository persists token rows. Implementations must keep at most one
// active row per (user, provider).
type Repository interface {
	// Replace deactivates the pair's active rows and inserts token as the new
	// active row, atomically.
	Replace(ctx context.Context, token *OAuthToken) error
	// FindActive returns the active row, or nil when there is none.
	FindActive(ctx context.Context, userID, provider string) (*OAuthToken, error)
	// Deactivate flags a single row inactive.
	Deactivate(ctx context.Context, id string) error
	// DeactivateAll flags every active row of the pair inactive and returns how many changed.
	DeactivateAll(ctx context.Context, userID, provider string) (int64, error)
	// History lists all rows of the pair, newest first.
	History(ctx context.Context, userID, provider string) ([]*OAuthToken, error)
}

const tokenColumns = `id, user_id, provider, access_token_cipher, refresh_token_cipher,
	token_type, expires_at, scope, is_active, created_at, updated_at`

// SQLRepository is the database/sql Repository for SQLite and PostgreSQL.
type SQLRepository struct {
	db *database.DB
}

// NewSQLRepository creates a repository over an opened database.
func NewSQLRepository(db *database.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// Replace implements Repository.
func (r *SQLRepository) Replace(ctx context.Context, token *OAuthToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.db.Rebind(
		`UPDATE oauth_tokens SET is_active = ?, updated_at = ?
		 WHERE user_id = ? AND provider = ? AND is_active = ?`),
		false, token.UpdatedAt, token.UserID, token.Provider, true)
	if err != nil {
		return fmt.Errorf("failed to deactivate tokens: %w", err)
	}

	_, err = tx.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO oauth_tokens (`+tokenColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		token.ID, token.UserID, token.Provider, token.AccessTokenCipher, token.RefreshTokenCipher,
		token.TokenType, nullTime(token.ExpiresAt), token.Scope, token.IsActive, token.CreatedAt, token.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit token: %w", err)
	}
	return nil
}

// FindActive implements Repository.
func (r *SQLRepository) FindActive(ctx context.Context, userID, provider string) (*OAuthToken, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(
		`SELECT `+tokenColumns+` FROM oauth_tokens
		 WHERE user_id = ? AND provider = ? AND is_active = ?
		 ORDER BY created_at DESC LIMIT 1`),
		userID, provider, true)

	token, err := scanToken(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active token: %w", err)
	}
	return token, nil
}

// Deactivate implements Repository.
func (r *SQLRepository) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE oauth_tokens SET is_active = ?, updated_at = ? WHERE id = ?`),
		false, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate token: %w", err)
	}
	return nil
}

// DeactivateAll implements Repository.
func (r *SQLRepository) DeactivateAll(ctx context.Context, userID, provider string) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE oauth_tokens SET is_active = ?, updated_at = ?
		 WHERE user_id = ? AND provider = ? AND is_active = ?`),
		false, time.Now().UTC(), userID, provider, true)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate tokens: %w", err)
	}
	return res.RowsAffected()
}

// History implements Repository.
func (r *SQLRepository) History(ctx context.Context, userID, provider string) ([]*OAuthToken, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(
		`SELECT `+tokenColumns+` FROM oauth_tokens
		 WHERE user_id = ? AND provider = ?
		 ORDER BY created_at DESC`),
		userID, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*OAuthToken
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanToken(s scanner) (*OAuthToken, error) {
	var (
		t         OAuthToken
		expiresAt sql.NullTime
	)
	err := s.Scan(&t.ID, &t.UserID, &t.Provider, &t.AccessTokenCipher, &t.RefreshTokenCipher,
		&t.TokenType, &expiresAt, &t.Scope, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		at := expiresAt.Time.UTC()
		t.ExpiresAt = &at
	}
	return &t, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
