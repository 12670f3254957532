package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/goal-tracker/internal/apperror"
	"github.com/sakif/goal-tracker/internal/model"
)

func strPtr(s string) *string { return &s }

// createTestGoal inserts a goal for userID and fails the test on error.
func createTestGoal(t *testing.T, g *GoalDB, userID, title string) *model.Goal {
	t.Helper()
	goal := &model.Goal{UserID: userID, Title: title}
	if err := g.Create(context.Background(), goal); err != nil {
		t.Fatalf("failed to create test goal: %v", err)
	}
	return goal
}

// =========================================================================
// CREATE / GET
// =========================================================================

func TestGoalCreateAndGet(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db.Users(), "Owner", "owner@example.com")
	g := db.Goals()
	ctx := context.Background()

	goal := &model.Goal{
		UserID:      owner.ID,
		Title:       "Run a marathon",
		Description: strPtr("42km"),
		DueDate:     strPtr("2026-12-31"),
	}
	if err := g.Create(ctx, goal); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if goal.ID == "" {
		t.Fatal("Create() did not set goal.ID")
	}

	got, err := g.GetByID(ctx, goal.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Title != "Run a marathon" {
		t.Errorf("Title = %q, want %q", got.Title, "Run a marathon")
	}
	if got.UserID != owner.ID {
		t.Errorf("UserID = %q, want %q", got.UserID, owner.ID)
	}
	if got.Description == nil || *got.Description != "42km" {
		t.Errorf("Description = %v, want 42km", got.Description)
	}
	if got.DueDate == nil || *got.DueDate != "2026-12-31" {
		t.Errorf("DueDate = %v, want 2026-12-31", got.DueDate)
	}
}

func TestGoalCreate_NullOptionalFields(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db.Users(), "Owner", "owner@example.com")
	goal := createTestGoal(t, db.Goals(), owner.ID, "Read more")

	got, err := db.Goals().GetByID(context.Background(), goal.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Description != nil {
		t.Errorf("Description = %q, want nil", *got.Description)
	}
	if got.DueDate != nil {
		t.Errorf("DueDate = %q, want nil", *got.DueDate)
	}
}

func TestGoalCreate_UnknownUserViolatesForeignKey(t *testing.T) {
	db := newTestDB(t)

	err := db.Goals().Create(context.Background(), &model.Goal{UserID: "ghost", Title: "x"})
	if err == nil {
		t.Fatal("Create() should fail when user_id references no user")
	}
}

func TestGoalGetByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Goals().GetByID(context.Background(), "nonexistent")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

// =========================================================================
// LIST
// =========================================================================

func TestGoalListByUser_InsertionOrderAndIsolation(t *testing.T) {
	db := newTestDB(t)
	alice := createTestUser(t, db.Users(), "Alice", "alice@example.com")
	bob := createTestUser(t, db.Users(), "Bob", "bob@example.com")
	g := db.Goals()

	createTestGoal(t, g, alice.ID, "first")
	createTestGoal(t, g, bob.ID, "bob's goal")
	createTestGoal(t, g, alice.ID, "second")
	createTestGoal(t, g, alice.ID, "third")

	goals, err := g.ListByUser(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}

	want := []string{"first", "second", "third"}
	if len(goals) != len(want) {
		t.Fatalf("ListByUser() returned %d goals, want %d", len(goals), len(want))
	}
	for i, title := range want {
		if goals[i].Title != title {
			t.Errorf("goals[%d].Title = %q, want %q", i, goals[i].Title, title)
		}
		if goals[i].UserID != alice.ID {
			t.Errorf("goals[%d] belongs to %q, want %q", i, goals[i].UserID, alice.ID)
		}
	}
}

func TestGoalListByUser_Empty(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db.Users(), "Empty", "empty@example.com")

	goals, err := db.Goals().ListByUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	// Must be an empty slice, not nil, so it serializes as [] rather than null.
	if goals == nil {
		t.Error("ListByUser() returned nil, want empty slice")
	}
	if len(goals) != 0 {
		t.Errorf("ListByUser() returned %d goals, want 0", len(goals))
	}
}

// =========================================================================
// UPDATE / DELETE
// =========================================================================

func TestGoalUpdate(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db.Users(), "Owner", "owner@example.com")
	g := db.Goals()
	ctx := context.Background()

	goal := &model.Goal{UserID: owner.ID, Title: "old", Description: strPtr("desc")}
	if err := g.Create(ctx, goal); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	createdAt := goal.CreatedAt

	goal.Title = "new"
	goal.Description = nil
	goal.DueDate = strPtr("2027-01-01")
	if err := g.Update(ctx, goal); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := g.GetByID(ctx, goal.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Title != "new" {
		t.Errorf("Title = %q, want %q", got.Title, "new")
	}
	if got.Description != nil {
		t.Errorf("Description = %q, want nil after clearing", *got.Description)
	}
	if got.DueDate == nil || *got.DueDate != "2027-01-01" {
		t.Errorf("DueDate = %v, want 2027-01-01", got.DueDate)
	}
	if !got.CreatedAt.Equal(createdAt) {
		t.Errorf("CreatedAt changed: %v -> %v", createdAt, got.CreatedAt)
	}
	if got.UpdatedAt.Before(createdAt) {
		t.Errorf("UpdatedAt %v is before CreatedAt %v", got.UpdatedAt, createdAt)
	}
}

func TestGoalUpdate_NotFound(t *testing.T) {
	db := newTestDB(t)

	err := db.Goals().Update(context.Background(), &model.Goal{ID: "nonexistent", Title: "x"})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestGoalDelete(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db.Users(), "Owner", "owner@example.com")
	g := db.Goals()
	ctx := context.Background()
	goal := createTestGoal(t, g, owner.ID, "temporary")

	if err := g.Delete(ctx, goal.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := g.GetByID(ctx, goal.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() after delete: expected ErrNotFound, got: %v", err)
	}

	// Deleting again reports not found.
	if err := g.Delete(ctx, goal.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second Delete(): expected ErrNotFound, got: %v", err)
	}
}
