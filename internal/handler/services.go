package handler

import (
	"context"

	"github.com/sakif/goal-tracker/internal/auth"
	"github.com/sakif/goal-tracker/internal/model"
	"github.com/sakif/goal-tracker/internal/service"
)

// The handlers depend on these interfaces, not on *service.AuthService and
// *service.GoalService directly. The JSON and HTML handlers share them.

// AuthService is the account and session logic the handlers need.
type AuthService interface {
	Register(ctx context.Context, name, email, password string) (*model.User, error)
	Login(ctx context.Context, email, password string) (*service.LoginResult, error)
	LoginWithGitHub(ctx context.Context, gh *auth.GitHubUser) (*service.LoginResult, error)
	LinkGitHub(ctx context.Context, callerID string, gh *auth.GitHubUser) (*service.LoginResult, error)
	Logout(ctx context.Context, rawToken string) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// GoalService is the owner-scoped goal CRUD the handlers need.
type GoalService interface {
	List(ctx context.Context, callerID string) ([]model.Goal, error)
	Create(ctx context.Context, callerID string, in service.GoalInput) (*model.Goal, error)
	Get(ctx context.Context, callerID, goalID string) (*model.Goal, error)
	Update(ctx context.Context, callerID, goalID string, patch service.GoalPatch) (*model.Goal, error)
	Delete(ctx context.Context, callerID, goalID string) error
}

var (
	_ AuthService = (*service.AuthService)(nil)
	_ GoalService = (*service.GoalService)(nil)
)
