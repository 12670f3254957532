// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data: plain values with no behaviour
// attached beyond a few helpers.
package model

import "time"

// User represents a registered account.
//
// PasswordHash carries the `json:"-"` tag so encoding/json never writes it,
// no matter which handler serializes the user. An account created through
// GitHub sign-in has an empty PasswordHash and cannot log in with a password.
type User struct {
	ID           string    `json:"id"         db:"id"`
	Name         string    `json:"name"       db:"name"`
	Email        string    `json:"email"      db:"email"`
	PasswordHash string    `json:"-"          db:"password_hash"`
	GitHubID     *int64    `json:"-"          db:"github_id"` // nil unless linked to GitHub
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// HasPassword reports whether the account can authenticate with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}
