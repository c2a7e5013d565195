package domain

import "time"

// Session binds one embedded mini-app instance to a user, app and origin.
// It authorizes ticket requests until ExpiresAt and is never mutated after creation.
type Session struct {
	ID        string
	UserID    string
	AppID     string
	NonceHash string // SHA-256 hex of the session nonce; the raw nonce is never stored
	AppOrigin string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ExpiredAt reports whether the session is no longer valid at now.
func (s *Session) ExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
