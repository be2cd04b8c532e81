package utils

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"inboxpilot/models"
)

// Ingestor turns provider message IDs into stored, AI-annotated Email rows.
type Ingestor struct {
	db       *gorm.DB
	provider MailProvider
	analyzer Analyzer
	hub      *EventHub
	logger   *logrus.Logger
}

func NewIngestor(db *gorm.DB, provider MailProvider, analyzer Analyzer, hub *EventHub, logger *logrus.Logger) *Ingestor {
	return &Ingestor{
		db:       db,
		provider: provider,
		analyzer: analyzer,
		hub:      hub,
		logger:   logger,
	}
}

// Ingest fetches, annotates and stores one message. The bool reports whether a
// new row was created; re-ingesting a known message returns the existing row
// untouched. Safe to call concurrently for the same message: the unique index
// on gmail_id plus insert-if-absent makes exactly one caller win.
func (i *Ingestor) Ingest(ctx context.Context, user *models.User, creds Credentials, messageID string) (*models.Email, bool, error) {
	var existing models.Email
	err := i.db.Where("gmail_id = ?", messageID).First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, false, err
	}

	msg, err := i.provider.GetMessage(ctx, creds, messageID)
	if err != nil {
		return nil, false, err
	}

	email := models.Email{
		UserID:   user.ID,
		GmailID:  msg.Id,
		ThreadID: msg.ThreadId,
		Subject:  HeaderValue(msg.Payload, "Subject"),
		From:     HeaderValue(msg.Payload, "From"),
		To:       HeaderValue(msg.Payload, "To"),
		Body:     ExtractBody(msg.Payload),
		Snippet:  msg.Snippet,
		IsRead:   true,
	}
	if email.Subject == "" {
		email.Subject = "(No Subject)"
	}
	if email.From == "" {
		email.From = "Unknown Sender"
	}
	email.ReceivedAt = ParseReceivedAt(msg.Payload)
	for _, label := range msg.LabelIds {
		if label == "UNREAD" {
			email.IsRead = false
			break
		}
	}

	i.annotate(ctx, &email)

	// Insert-if-absent: a concurrent ingest of the same message leaves
	// RowsAffected at zero, in which case the winner's row is returned.
	result := i.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gmail_id"}},
		DoNothing: true,
	}).Create(&email)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 0 {
		var winner models.Email
		if err := i.db.Where("gmail_id = ?", messageID).First(&winner).Error; err != nil {
			return nil, false, err
		}
		return &winner, false, nil
	}

	if i.hub != nil {
		i.hub.Publish(EmailEvent{Type: "email.new", Email: &email})
	}
	return &email, true, nil
}

// annotate runs AI analysis on the message. Analyzer failures are absorbed:
// the email is stored with null AI fields and fallback suggested replies, so
// an AI outage never blocks ingestion.
func (i *Ingestor) annotate(ctx context.Context, email *models.Email) {
	analysis, err := i.analyzer.AnalyzeEmail(ctx, EmailInput{
		Subject: email.Subject,
		From:    email.From,
		Body:    email.Body,
	})
	if err != nil {
		i.logger.WithFields(logrus.Fields{
			"gmail_id": email.GmailID,
			"user_id":  email.UserID,
			"error":    err.Error(),
		}).Warn("AI analysis failed, storing email without annotations")
		sentry.CaptureException(err)

		email.AIActionItems = []string{}
		email.AISuggestedReplies = FallbackAnalysis().SuggestedReplies
		return
	}

	now := time.Now()
	email.AISummary = &analysis.Summary
	email.AICategory = &analysis.Category
	email.AIPriority = &analysis.Priority
	email.AISentiment = &analysis.Sentiment
	email.AIActionItems = analysis.ActionItems
	email.AISuggestedReplies = analysis.SuggestedReplies
	email.AIAnalyzedAt = &now
	if email.AIActionItems == nil {
		email.AIActionItems = []string{}
	}
	if email.AISuggestedReplies == nil {
		email.AISuggestedReplies = []string{}
	}
}
