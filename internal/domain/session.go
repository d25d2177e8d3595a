package domain

import "time"

// Session represents a named collaborative coding session. SessionID is the
// short opaque identifier clients use everywhere; the numeric primary key
// stays internal to the database.
type Session struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	SessionID string    `gorm:"uniqueIndex;size:191;not null" json:"sessionId"`
	Name      string    `gorm:"size:191;not null" json:"name"`
	CreatorID uint      `gorm:"index;not null" json:"-"`
	IsLocked  bool      `gorm:"default:false" json:"isLocked"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	Creator      User                 `gorm:"foreignKey:CreatorID" json:"creator"`
	Participants []SessionParticipant `gorm:"foreignKey:SessionID;references:SessionID" json:"participants"`
	Code         *CodeRecord          `gorm:"foreignKey:SessionID;references:SessionID" json:"code,omitempty"`
}
