package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a connected Gmail account
type User struct {
	gorm.Model

	// Identity from Google userinfo
	Email    string  `gorm:"uniqueIndex;not null" json:"email"`
	GoogleID string  `gorm:"uniqueIndex;not null" json:"google_id"`
	Name     *string `json:"name,omitempty"`
	Picture  *string `json:"picture,omitempty"`

	// OAuth credentials, encrypted in the application layer
	AccessToken  string     `gorm:"not null" json:"-"`
	RefreshToken string     `json:"-"`
	TokenExpiry  *time.Time `json:"token_expiry,omitempty"`

	// Incremental sync state. HistoryID is the opaque change cursor issued
	// by Gmail; WatchExpiration is when the push subscription lapses.
	HistoryID       string     `json:"history_id"`
	WatchExpiration *time.Time `json:"watch_expiration,omitempty"`

	// Relations
	Emails []Email `gorm:"foreignKey:UserID" json:"emails,omitempty"`
}
