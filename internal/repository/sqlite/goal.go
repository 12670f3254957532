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

var _ repository.GoalRepository = (*GoalDB)(nil)

// GoalDB is the goals table repository.
type GoalDB struct {
	conn *sql.DB
}

const goalColumns = `id, user_id, title, description, due_date, created_at, updated_at`

// Create inserts a new goal.
//
// KEY CONCEPTS:
//
//  1. ID GENERATION WITH xid:
//     xid IDs are 20 URL-safe characters, sortable by creation time,
//     e.g. "cv37rs3pp9olc6atsptg".
//
//  2. POINTER RECEIVER (*model.Goal):
//     After Create(), the caller's goal has the generated ID and timestamps.
//
//  3. NULLABLE COLUMNS:
//     description and due_date are *string in the model. database/sql
//     writes a nil pointer as SQL NULL, so no conversion is needed on insert.
func (g *GoalDB) Create(ctx context.Context, goal *model.Goal) error {
	now := time.Now().UTC()
	goal.ID = xid.New().String()
	goal.CreatedAt = now
	goal.UpdatedAt = now

	_, err := g.conn.ExecContext(ctx,
		`INSERT INTO goals (id, user_id, title, description, due_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		goal.ID,
		goal.UserID,
		goal.Title,
		goal.Description,
		goal.DueDate,
		goal.CreatedAt,
		goal.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating goal: %w", err)
	}

	return nil
}

// GetByID retrieves a single goal by its ID, regardless of owner.
// Returns apperror.ErrNotFound if no goal has that ID.
func (g *GoalDB) GetByID(ctx context.Context, id string) (*model.Goal, error) {
	var (
		goal        model.Goal
		description sql.NullString
		dueDate     sql.NullString
	)

	err := g.conn.QueryRowContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE id = ?`,
		id,
	).Scan(
		&goal.ID,
		&goal.UserID,
		&goal.Title,
		&description,
		&dueDate,
		&goal.CreatedAt,
		&goal.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("goal", id)
		}
		return nil, fmt.Errorf("sqlite: getting goal %s: %w", id, err)
	}

	goal.Description = nullableString(description)
	goal.DueDate = nullableString(dueDate)
	return &goal, nil
}

// ListByUser returns every goal owned by userID in insertion order.
//
// ORDER BY rowid: SQLite assigns each row an increasing rowid on insert, so
// this is insertion order even when two goals share a created_at timestamp.
func (g *GoalDB) ListByUser(ctx context.Context, userID string) ([]model.Goal, error) {
	rows, err := g.conn.QueryContext(ctx,
		`SELECT `+goalColumns+`
		 FROM goals
		 WHERE user_id = ?
		 ORDER BY rowid ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing goals for user %s: %w", userID, err)
	}
	// CRITICAL: always close rows, or the connection never returns to the pool.
	defer rows.Close()

	goals := make([]model.Goal, 0)
	for rows.Next() {
		var (
			goal        model.Goal
			description sql.NullString
			dueDate     sql.NullString
		)
		if err := rows.Scan(
			&goal.ID, &goal.UserID, &goal.Title, &description, &dueDate,
			&goal.CreatedAt, &goal.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning goal row: %w", err)
		}
		goal.Description = nullableString(description)
		goal.DueDate = nullableString(dueDate)
		goals = append(goals, goal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating goals: %w", err)
	}

	return goals, nil
}

// Update writes the goal's mutable fields (title, description, due_date).
// id, user_id and created_at are never changed.
func (g *GoalDB) Update(ctx context.Context, goal *model.Goal) error {
	goal.UpdatedAt = time.Now().UTC()

	result, err := g.conn.ExecContext(ctx,
		`UPDATE goals
		 SET title = ?, description = ?, due_date = ?, updated_at = ?
		 WHERE id = ?`,
		goal.Title,
		goal.Description,
		goal.DueDate,
		goal.UpdatedAt,
		goal.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating goal %s: %w", goal.ID, err)
	}

	// If 0 rows were affected, the WHERE clause matched nothing → not found.
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("goal", goal.ID)
	}

	return nil
}

// Delete removes a goal by its ID. Same RowsAffected pattern as Update.
func (g *GoalDB) Delete(ctx context.Context, id string) error {
	result, err := g.conn.ExecContext(ctx, `DELETE FROM goals WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting goal %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("goal", id)
	}

	return nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
