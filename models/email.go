package models

import (
	"time"

	"gorm.io/gorm"
)

// AI annotation enums. The analyzer is prompted to answer with exactly these
// values; anything else is stored as-is and treated as uncategorized by filters.
const (
	CategoryWork       = "work"
	CategoryPersonal   = "personal"
	CategoryNewsletter = "newsletter"
	CategorySpam       = "spam"

	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"

	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
	SentimentUrgent   = "urgent"
)

// Email represents a single ingested message
type Email struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	// Provider identity. GmailID is immutable and globally unique in the
	// store; the unique index is what makes ingestion idempotent.
	GmailID  string `gorm:"uniqueIndex;not null" json:"gmail_id"`
	ThreadID string `gorm:"index" json:"thread_id"`

	// Headers and content
	Subject    string    `json:"subject"`
	From       string    `gorm:"column:from_address" json:"from"`
	To         string    `gorm:"column:to_address" json:"to"`
	Body       string    `gorm:"type:text" json:"body"`
	Snippet    string    `json:"snippet"`
	ReceivedAt time.Time `gorm:"not null;index" json:"received_at"`
	IsRead     bool      `gorm:"default:false" json:"is_read"`

	// AI annotation bundle. Nullable: messages ingested during an AI outage
	// carry null fields but still get the fallback suggested replies.
	AISummary          *string    `json:"ai_summary,omitempty"`
	AICategory         *string    `gorm:"index" json:"ai_category,omitempty"`
	AIPriority         *string    `gorm:"column:ai_priority;index" json:"ai_priority,omitempty"`
	AISentiment        *string    `json:"ai_sentiment,omitempty"`
	AIActionItems      []string   `gorm:"serializer:json;type:text" json:"ai_action_items"`
	AISuggestedReplies []string   `gorm:"serializer:json;type:text" json:"ai_suggested_replies"`
	AIAnalyzedAt       *time.Time `json:"ai_analyzed_at,omitempty"`

	// Relations
	User User `json:"-"`
}
