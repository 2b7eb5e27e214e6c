package domain

import (
	"time"
)

// SessionDuration is the lifetime granted to a session at creation and on
// every extension.
const SessionDuration = time.Hour

// Session binds one Person to one in-progress visit.
type Session struct {
	ID        string    `json:"id"`
	PersonID  string    `json:"personId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IsExpired reports whether the session expired strictly before now.
func (s *Session) IsExpired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// SessionExpiry returns the expiry for a session created or extended at now.
func SessionExpiry(now time.Time) time.Time {
	return now.Add(SessionDuration)
}
