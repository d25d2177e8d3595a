package domain

import "time"

// CodeRecord is the persisted code buffer of a session, one record per
// session. It only changes on explicit saves; the live buffer lives in the
// gateway's in-memory cache until then.
type CodeRecord struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	SessionID string    `gorm:"uniqueIndex;size:191;not null" json:"sessionId"`
	Code      string    `gorm:"type:text" json:"code"`
	Result    string    `gorm:"type:text" json:"result,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}
