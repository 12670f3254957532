package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/goal-tracker/internal/apperror"
	"github.com/sakif/goal-tracker/internal/model"
	"github.com/sakif/goal-tracker/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the users table repository.
type UserDB struct {
	conn *sql.DB
}

const userColumns = `id, name, email, password_hash, github_id, created_at, updated_at`

// Create inserts a new user, filling in ID and timestamps on the caller's struct.
//
// The UNIQUE constraints on email and github_id are the source of truth for
// "already taken": checking first and inserting second would race with a
// concurrent registration, so we insert and translate the constraint error.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	var githubID sql.NullInt64
	if user.GitHubID != nil {
		githubID = sql.NullInt64{Int64: *user.GitHubID, Valid: true}
	}

	_, err := u.conn.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, github_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		githubID,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Email)
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Email, err)
	}

	return nil
}

// GetByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (u *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	row := u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	user, err := scanUser(row)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email. The caller normalizes the address.
func (u *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	row := u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)

	user, err := scanUser(row)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return user, nil
}

// GetByGitHubID retrieves the user linked to a GitHub account.
func (u *UserDB) GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	row := u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE github_id = ?`, githubID)

	user, err := scanUser(row)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("user", fmt.Sprintf("github:%d", githubID))
		}
		return nil, fmt.Errorf("sqlite: getting user by github_id %d: %w", githubID, err)
	}
	return user, nil
}

// LinkGitHub records the GitHub account ID on an existing user.
func (u *UserDB) LinkGitHub(ctx context.Context, userID string, githubID int64) error {
	result, err := u.conn.ExecContext(ctx,
		`UPDATE users SET github_id = ?, updated_at = ? WHERE id = ?`,
		githubID, time.Now().UTC(), userID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", fmt.Sprintf("github:%d", githubID))
		}
		return fmt.Errorf("sqlite: linking github account to user %s: %w", userID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// scanUser reads one users row in userColumns order.
func scanUser(row *sql.Row) (*model.User, error) {
	var (
		user     model.User
		githubID sql.NullInt64
	)
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&githubID,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if githubID.Valid {
		id := githubID.Int64
		user.GitHubID = &id
	}
	return &user, nil
}
