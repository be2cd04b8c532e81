package models

import "gorm.io/gorm"

// ProcessedNotification records every accepted push notification by its
// transport message id. Cursor equality alone cannot catch concurrent
// duplicates, so the unique index here is the idempotency gate: the second
// insert of the same id fails and the notification is dropped.
type ProcessedNotification struct {
	gorm.Model
	NotificationID string `gorm:"uniqueIndex;not null" json:"notification_id"`
	UserID         uint   `gorm:"not null;index" json:"user_id"`
	HistoryID      string `gorm:"not null" json:"history_id"`
}
