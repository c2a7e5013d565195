package domain

import "time"

// LedgerEntry is the server-side record of one issued ticket, keyed by its jti.
// Used goes from false to true at most once.
type LedgerEntry struct {
	ID        string
	JTI       string
	UserID    string
	AppID     string
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}

// ExpiredAt reports whether the ticket can no longer be consumed at now.
func (e *LedgerEntry) ExpiredAt(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}
