// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// Services accept plain Go values and return domain errors from apperror.
// They never see an *http.Request, so the JSON API and the HTML pages share
// exactly the same rules.
//
// DEPENDENCY INJECTION:
// GoalService takes a repository.GoalRepository (interface), NOT a
// *sqlite.GoalDB. Tests pass an in-memory fake (see goal_test.go).
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/goal-tracker/internal/apperror"
	"github.com/sakif/goal-tracker/internal/model"
	"github.com/sakif/goal-tracker/internal/repository"
)

// Validation limits for goal fields, counted in characters.
const (
	MaxTitleLength       = 255
	MaxDescriptionLength = 5000
)

// GoalInput is the data needed to create a goal.
// Description and DueDate are optional; nil or "" means "not set".
type GoalInput struct {
	Title       string
	Description *string
	DueDate     *string // YYYY-MM-DD
}

// GoalPatch is a partial update. A nil field is left unchanged.
// An empty Description or DueDate clears the stored value.
type GoalPatch struct {
	Title       *string
	Description *string
	DueDate     *string
}

// GoalService handles business logic for goals.
//
// Every method takes the caller's user ID as an explicit parameter. The
// service never reads identity from the context, so a handler that forgets
// to pass the caller cannot silently act as someone else.
type GoalService struct {
	repo   repository.GoalRepository
	logger *slog.Logger
}

// NewGoalService creates a new GoalService.
func NewGoalService(repo repository.GoalRepository, logger *slog.Logger) *GoalService {
	return &GoalService{
		repo:   repo,
		logger: logger,
	}
}

// List returns the caller's goals in creation order. Other users' goals
// are never included.
func (s *GoalService) List(ctx context.Context, callerID string) ([]model.Goal, error) {
	if err := requireCaller(callerID); err != nil {
		return nil, err
	}

	goals, err := s.repo.ListByUser(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("service/goal: listing goals: %w", err)
	}
	return goals, nil
}

// Create validates input and stores a new goal owned by the caller.
func (s *GoalService) Create(ctx context.Context, callerID string, in GoalInput) (*model.Goal, error) {
	if err := requireCaller(callerID); err != nil {
		return nil, err
	}

	// === VALIDATION ===
	title, err := validateTitle(in.Title)
	if err != nil {
		return nil, err
	}
	description, err := normalizeDescription(in.Description)
	if err != nil {
		return nil, err
	}
	dueDate, err := normalizeDueDate(in.DueDate)
	if err != nil {
		return nil, err
	}

	// === CREATE THE MODEL ===
	// The owner always comes from the caller, never from the request body.
	goal := &model.Goal{
		UserID:      callerID,
		Title:       title,
		Description: description,
		DueDate:     dueDate,
	}

	if err := s.repo.Create(ctx, goal); err != nil {
		return nil, fmt.Errorf("service/goal: creating goal: %w", err)
	}

	s.logger.Info("goal created",
		slog.String("goalID", goal.ID),
		slog.String("userID", callerID),
	)

	return goal, nil
}

// Get returns one goal if the caller owns it.
//
// Errors: apperror.ErrNotFound when no goal has that ID,
// apperror.ErrForbidden when it belongs to someone else.
func (s *GoalService) Get(ctx context.Context, callerID, goalID string) (*model.Goal, error) {
	if err := requireCaller(callerID); err != nil {
		return nil, err
	}
	return s.ownedGoal(ctx, callerID, goalID, "read")
}

// Update applies a partial update to a goal the caller owns.
// Only the fields present in the patch are validated and changed.
func (s *GoalService) Update(ctx context.Context, callerID, goalID string, patch GoalPatch) (*model.Goal, error) {
	if err := requireCaller(callerID); err != nil {
		return nil, err
	}

	goal, err := s.ownedGoal(ctx, callerID, goalID, "update")
	if err != nil {
		return nil, err
	}

	// === MERGE ===
	if patch.Title != nil {
		title, err := validateTitle(*patch.Title)
		if err != nil {
			return nil, err
		}
		goal.Title = title
	}
	if patch.Description != nil {
		description, err := normalizeDescription(patch.Description)
		if err != nil {
			return nil, err
		}
		goal.Description = description
	}
	if patch.DueDate != nil {
		dueDate, err := normalizeDueDate(patch.DueDate)
		if err != nil {
			return nil, err
		}
		goal.DueDate = dueDate
	}

	if err := s.repo.Update(ctx, goal); err != nil {
		return nil, fmt.Errorf("service/goal: updating goal %s: %w", goalID, err)
	}

	s.logger.Info("goal updated",
		slog.String("goalID", goalID),
		slog.String("userID", callerID),
	)

	return goal, nil
}

// Delete removes a goal the caller owns. Existence is checked before
// ownership, so deleting an already deleted ID reports not found.
func (s *GoalService) Delete(ctx context.Context, callerID, goalID string) error {
	if err := requireCaller(callerID); err != nil {
		return err
	}

	if _, err := s.ownedGoal(ctx, callerID, goalID, "delete"); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, goalID); err != nil {
		return fmt.Errorf("service/goal: deleting goal %s: %w", goalID, err)
	}

	s.logger.Info("goal deleted",
		slog.String("goalID", goalID),
		slog.String("userID", callerID),
	)

	return nil
}

// ownedGoal loads a goal and checks the caller owns it.
// Cross-user attempts are logged at WARN for auditing.
func (s *GoalService) ownedGoal(ctx context.Context, callerID, goalID, action string) (*model.Goal, error) {
	goal, err := s.repo.GetByID(ctx, goalID)
	if err != nil {
		return nil, fmt.Errorf("service/goal: getting goal %s: %w", goalID, err)
	}

	if !goal.OwnedBy(callerID) {
		s.logger.Warn("goal access denied",
			slog.String("action", action),
			slog.String("goalID", goalID),
			slog.String("callerID", callerID),
		)
		return nil, apperror.Forbidden("you do not have access to this goal")
	}

	return goal, nil
}

func requireCaller(callerID string) error {
	if callerID == "" {
		return apperror.Unauthorized("authentication required")
	}
	return nil
}

func validateTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", apperror.ValidationFailed("title", "title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	}
	return title, nil
}

// normalizeDescription trims the value and turns "" into nil.
func normalizeDescription(raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	d := strings.TrimSpace(*raw)
	if d == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(d) > MaxDescriptionLength {
		return nil, apperror.ValidationFailed("description",
			fmt.Sprintf("description must be %d characters or less", MaxDescriptionLength))
	}
	return &d, nil
}

// normalizeDueDate checks the value is a real calendar date in YYYY-MM-DD
// form and turns "" into nil. "2024-02-30" is rejected, not rolled over.
func normalizeDueDate(raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	d := strings.TrimSpace(*raw)
	if d == "" {
		return nil, nil
	}
	if _, err := time.Parse(model.DateLayout, d); err != nil {
		return nil, apperror.ValidationFailed("due_date", "due_date must be a valid date in YYYY-MM-DD format")
	}
	return &d, nil
}
