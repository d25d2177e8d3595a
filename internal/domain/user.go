// Package domain defines the persisted data structures of the application.
package domain

import "time"

// User represents a registered account.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"uniqueIndex;size:191;not null" json:"username"`
	Password  string    `gorm:"not null" json:"-"` // bcrypt hash, never serialized
	Email     string    `gorm:"uniqueIndex;size:191" json:"email,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}
