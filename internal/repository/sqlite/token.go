package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/goal-tracker/internal/apperror"
	"github.com/sakif/goal-tracker/internal/model"
	"github.com/sakif/goal-tracker/internal/repository"
)

var _ repository.TokenRepository = (*TokenDB)(nil)

// TokenDB is the auth_tokens table repository.
//
// expires_at is stored as unix seconds so "expired" comparisons in SQL are
// plain integer comparisons.
type TokenDB struct {
	conn *sql.DB
}

// Create stores a token record. The caller chooses the ID (the JWT "jti")
// and ExpiresAt; CreatedAt is filled in if unset.
func (t *TokenDB) Create(ctx context.Context, token *model.AuthToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	_, err := t.conn.ExecContext(ctx,
		`INSERT INTO auth_tokens (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token.ID,
		token.UserID,
		token.CreatedAt,
		token.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating auth token for user %s: %w", token.UserID, err)
	}
	return nil
}

// GetByID returns the token record, or apperror.ErrNotFound once it has been revoked.
func (t *TokenDB) GetByID(ctx context.Context, id string) (*model.AuthToken, error) {
	var (
		token     model.AuthToken
		expiresAt int64
	)
	err := t.conn.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, expires_at FROM auth_tokens WHERE id = ?`, id,
	).Scan(&token.ID, &token.UserID, &token.CreatedAt, &expiresAt)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("auth token", id)
		}
		return nil, fmt.Errorf("sqlite: getting auth token: %w", err)
	}
	token.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return &token, nil
}

// DeleteAllForUser revokes every token belonging to userID and reports how
// many were removed. Zero is not an error: logout is idempotent.
func (t *TokenDB) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	result, err := t.conn.ExecContext(ctx, `DELETE FROM auth_tokens WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting auth tokens for user %s: %w", userID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}

// DeleteExpired removes tokens whose expiry is at or before now.
func (t *TokenDB) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := t.conn.ExecContext(ctx, `DELETE FROM auth_tokens WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting expired auth tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}
