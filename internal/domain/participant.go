package domain

import "time"

// SessionParticipant relates a user to a session together with its moderation
// flags. One row per (session, username) pair, created lazily on first join.
//
// Online is a denormalized mirror of the in-memory presence registry; the
// registry is authoritative while the process is up, this flag survives it.
// Kicked and Muted are authoritative here and rechecked on every reconnect.
type SessionParticipant struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	SessionID string    `gorm:"uniqueIndex:idx_session_username;size:191;not null" json:"sessionId"`
	Username  string    `gorm:"uniqueIndex:idx_session_username;size:191;not null" json:"username"`
	UserID    uint      `gorm:"index;not null" json:"userId"`
	Online    bool      `gorm:"default:false" json:"online"`
	Kicked    bool      `gorm:"default:false" json:"kicked"`
	Muted     bool      `gorm:"default:false" json:"muted"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"-"`
}
