package domain

import "time"

// User is the public part of an account.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Author returns the chat author for the user.
func (u User) Author() Author {
	return Author{ID: u.ID, DisplayName: u.DisplayName}
}

// Session binds a bearer token to a user.
type Session struct {
	Token     string    `json:"token"`
	User      User      `json:"user"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
