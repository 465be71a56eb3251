package model

import "time"

// SessionRecord persists the restore token of an authenticated portal
// session, keyed per credential set. One row per credential; the token is
// overwritten on every successful login.
type SessionRecord struct {
	CredentialKey string    `gorm:"primaryKey;size:128"`
	Token         []byte    `gorm:"type:bytes"`
	ExpiresAt     time.Time `gorm:"not null"`
	LastUsedAt    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Restorable reports whether the token is still worth trying.
func (s *SessionRecord) Restorable(now time.Time) bool {
	return len(s.Token) > 0 && now.Before(s.ExpiresAt)
}
