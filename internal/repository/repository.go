// Package repository declares the storage contracts the service layer depends on.
//
// Services receive these interfaces, never a concrete database type, so the
// SQLite implementation can be swapped for an in-memory fake in tests.
package repository

import (
	"context"
	"time"

	"github.com/sakif/goal-tracker/internal/model"
)

// UserRepository stores user accounts.
//
// Create returns an apperror.ErrConflict error when the email (or GitHub ID)
// is already taken. Lookups return apperror.ErrNotFound when nothing matches.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
	LinkGitHub(ctx context.Context, userID string, githubID int64) error
}

// GoalRepository stores goals. It knows nothing about ownership rules:
// the service checks Goal.UserID before calling Update or Delete.
type GoalRepository interface {
	Create(ctx context.Context, goal *model.Goal) error
	GetByID(ctx context.Context, id string) (*model.Goal, error)
	ListByUser(ctx context.Context, userID string) ([]model.Goal, error)
	Update(ctx context.Context, goal *model.Goal) error
	Delete(ctx context.Context, id string) error
}

// TokenRepository stores the server-side half of issued bearer tokens.
type TokenRepository interface {
	Create(ctx context.Context, token *model.AuthToken) error
	GetByID(ctx context.Context, id string) (*model.AuthToken, error)
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
