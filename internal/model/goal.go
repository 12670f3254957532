package model

import "time"

// DateLayout is the calendar-date format used for Goal.DueDate on the wire
// and in the database (ISO 8601, no time component).
const DateLayout = "2006-01-02"

// Goal is a tracked objective owned by exactly one user.
//
// Optional fields are pointers: nil means "not set" and serializes as JSON
// null, which is different from an empty string.
type Goal struct {
	ID          string    `json:"id"          db:"id"`
	UserID      string    `json:"user_id"     db:"user_id"`
	Title       string    `json:"title"       db:"title"`
	Description *string   `json:"description" db:"description"`
	DueDate     *string   `json:"due_date"    db:"due_date"` // YYYY-MM-DD
	CreatedAt   time.Time `json:"created_at"  db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"  db:"updated_at"`
}

// OwnedBy reports whether userID is the goal's owner.
func (g *Goal) OwnedBy(userID string) bool {
	return g.UserID != "" && g.UserID == userID
}
