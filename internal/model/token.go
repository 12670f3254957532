package model

import "time"

// AuthToken is the server-side record behind an issued bearer token.
// Its ID is the token's "jti" claim; deleting the row revokes the token.
type AuthToken struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
}

// Expired reports whether the token is past its expiry at time now.
func (t *AuthToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
