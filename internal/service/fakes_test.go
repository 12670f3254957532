package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sakif/goal-tracker/internal/apperror"
	"github.com/sakif/goal-tracker/internal/model"
	"github.com/sakif/goal-tracker/internal/repository"
)

// =========================================================================
// FAKE REPOSITORIES
// =========================================================================
//
// In-memory implementations of the repository interfaces. They store copies,
// not the caller's pointers, so a test can't pass by accident because the
// service mutated a shared struct. Each fake has an err field to simulate a
// database failure.

var (
	_ repository.UserRepository  = (*fakeUserRepo)(nil)
	_ repository.GoalRepository  = (*fakeGoalRepo)(nil)
	_ repository.TokenRepository = (*fakeTokenRepo)(nil)
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]model.User
	nextID int
	err    error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]model.User)}
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, u := range f.users {
		if u.Email == user.Email {
			return apperror.Conflict("user", user.Email)
		}
		if user.GitHubID != nil && u.GitHubID != nil && *u.GitHubID == *user.GitHubID {
			return apperror.Conflict("user", fmt.Sprintf("github:%d", *user.GitHubID))
		}
	}
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	f.users[user.ID] = *user
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	return &u, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeUserRepo) GetByGitHubID(_ context.Context, githubID int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if u.GitHubID != nil && *u.GitHubID == githubID {
			return &u, nil
		}
	}
	return nil, apperror.NotFound("user", fmt.Sprintf("github:%d", githubID))
}

func (f *fakeUserRepo) LinkGitHub(_ context.Context, userID string, githubID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	u, ok := f.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	u.GitHubID = &githubID
	f.users[userID] = u
	return nil
}

// fakeGoalRepo keeps insertion order in a slice, like ORDER BY rowid.
type fakeGoalRepo struct {
	mu     sync.Mutex
	goals  []model.Goal
	nextID int
	err    error
}

func newFakeGoalRepo() *fakeGoalRepo {
	return &fakeGoalRepo{}
}

func (f *fakeGoalRepo) Create(_ context.Context, goal *model.Goal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.nextID++
	goal.ID = fmt.Sprintf("goal-%d", f.nextID)
	goal.CreatedAt = time.Now().UTC()
	goal.UpdatedAt = goal.CreatedAt
	f.goals = append(f.goals, *goal)
	return nil
}

func (f *fakeGoalRepo) GetByID(_ context.Context, id string) (*model.Goal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, g := range f.goals {
		if g.ID == id {
			return &g, nil
		}
	}
	return nil, apperror.NotFound("goal", id)
}

func (f *fakeGoalRepo) ListByUser(_ context.Context, userID string) ([]model.Goal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Goal, 0)
	for _, g := range f.goals {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeGoalRepo) Update(_ context.Context, goal *model.Goal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for i, g := range f.goals {
		if g.ID == goal.ID {
			goal.UpdatedAt = time.Now().UTC()
			f.goals[i] = *goal
			return nil
		}
	}
	return apperror.NotFound("goal", goal.ID)
}

func (f *fakeGoalRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for i, g := range f.goals {
		if g.ID == id {
			f.goals = append(f.goals[:i], f.goals[i+1:]...)
			return nil
		}
	}
	return apperror.NotFound("goal", id)
}

type fakeTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]model.AuthToken
	err    error
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]model.AuthToken)}
}

func (f *fakeTokenRepo) Create(_ context.Context, token *model.AuthToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	f.tokens[token.ID] = *token
	return nil
}

func (f *fakeTokenRepo) GetByID(_ context.Context, id string) (*model.AuthToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.tokens[id]
	if !ok {
		return nil, apperror.NotFound("auth token", id)
	}
	return &t, nil
}

func (f *fakeTokenRepo) DeleteAllForUser(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for id, t := range f.tokens {
		if t.UserID == userID {
			delete(f.tokens, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeTokenRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for id, t := range f.tokens {
		if t.Expired(now) {
			delete(f.tokens, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeTokenRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

// ptr returns a pointer to s; handy for optional fields.
func ptr(s string) *string { return &s }

// long returns a string of n 'a' characters.
func long(n int) string { return strings.Repeat("a", n) }
