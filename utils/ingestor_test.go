package utils

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	gmail "google.golang.org/api/gmail/v1"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"inboxpilot/config"
	"inboxpilot/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := config.MigrateDB(db); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db
}

type fakeProvider struct {
	messages    map[string]*gmail.Message
	fetchIDs    []string
	fetchErr    error
	recentIDs   []string
	getCalls    int
	sendErr     error
	sentRaw     []string
	sentThreads []string
}

func (f *fakeProvider) FetchNewMessageIDs(ctx context.Context, creds Credentials, startCursor string) ([]string, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.fetchIDs, nil
}

func (f *fakeProvider) ListRecentMessageIDs(ctx context.Context, creds Credentials, max int64) ([]string, error) {
	return f.recentIDs, nil
}

func (f *fakeProvider) GetMessage(ctx context.Context, creds Credentials, id string) (*gmail.Message, error) {
	f.getCalls++
	msg, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("no such message %s", id)
	}
	return msg, nil
}

func (f *fakeProvider) SendRaw(ctx context.Context, creds Credentials, raw, threadID string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sentRaw = append(f.sentRaw, raw)
	f.sentThreads = append(f.sentThreads, threadID)
	return fmt.Sprintf("sent-%d", len(f.sentRaw)), nil
}

func (f *fakeProvider) StartWatch(ctx context.Context, creds Credentials) (*WatchInfo, error) {
	return &WatchInfo{HistoryID: "1", Expiration: time.Now().Add(7 * 24 * time.Hour)}, nil
}

type fakeAnalyzer struct {
	analysis *EmailAnalysis
	err      error
}

func (f *fakeAnalyzer) AnalyzeEmail(ctx context.Context, input EmailInput) (*EmailAnalysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.analysis, nil
}

func (f *fakeAnalyzer) GenerateDraft(ctx context.Context, prompt, tone, extra string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "drafted text", nil
}

func testMessage(id, subject, from, body string, unread bool) *gmail.Message {
	labels := []string{"INBOX"}
	if unread {
		labels = append(labels, "UNREAD")
	}
	return &gmail.Message{
		Id:       id,
		ThreadId: "thread-" + id,
		Snippet:  body,
		LabelIds: labels,
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: subject},
				{Name: "From", Value: from},
				{Name: "To", Value: "me@example.com"},
				{Name: "Date", Value: "Mon, 02 Jan 2006 15:04:05 -0700"},
			},
			Body: &gmail.MessagePartBody{Data: b64(body)},
		},
	}
}

func seedUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	user := &models.User{
		Email:       "me@example.com",
		GoogleID:    "google-1",
		AccessToken: "enc",
		HistoryID:   "100",
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	return user
}

func quietLogrus() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestIngestStoresAnnotatedEmail(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db)

	provider := &fakeProvider{messages: map[string]*gmail.Message{
		"m1": testMessage("m1", "Budget review", "Alice <alice@example.com>", "Please review the budget.", true),
	}}
	analyzer := &fakeAnalyzer{analysis: &EmailAnalysis{
		Summary:          "Alice asks for a budget review",
		Category:         "work",
		Priority:         "high",
		Sentiment:        "neutral",
		ActionItems:      []string{"Review budget"},
		SuggestedReplies: []string{"Will do", "On it", "Reviewing now"},
	}}

	ingestor := NewIngestor(db, provider, analyzer, nil, quietLogrus())
	email, created, err := ingestor.Ingest(context.Background(), user, Credentials{}, "m1")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !created {
		t.Fatal("expected a new row")
	}

	if email.Subject != "Budget review" || email.From != "Alice <alice@example.com>" {
		t.Errorf("unexpected headers: %+v", email)
	}
	if email.IsRead {
		t.Error("message carrying UNREAD label stored as read")
	}
	if email.AISummary == nil || *email.AISummary != "Alice asks for a budget review" {
		t.Errorf("unexpected summary: %v", email.AISummary)
	}
	if email.AICategory == nil || *email.AICategory != "work" {
		t.Errorf("unexpected category: %v", email.AICategory)
	}
	if email.AIAnalyzedAt == nil {
		t.Error("AIAnalyzedAt not set")
	}
	if len(email.AISuggestedReplies) != 3 {
		t.Errorf("expected 3 suggested replies, got %v", email.AISuggestedReplies)
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db)

	provider := &fakeProvider{messages: map[string]*gmail.Message{
		"m1": testMessage("m1", "Hello", "alice@example.com", "hi", false),
	}}
	ingestor := NewIngestor(db, provider, &fakeAnalyzer{analysis: FallbackAnalysis()}, nil, quietLogrus())

	first, created, err := ingestor.Ingest(context.Background(), user, Credentials{}, "m1")
	if err != nil || !created {
		t.Fatalf("first ingest: created=%v err=%v", created, err)
	}

	second, created, err := ingestor.Ingest(context.Background(), user, Credentials{}, "m1")
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if created {
		t.Error("second ingest created a duplicate")
	}
	if second.ID != first.ID {
		t.Errorf("second ingest returned a different row: %d vs %d", second.ID, first.ID)
	}

	var count int64
	db.Model(&models.Email{}).Where("gmail_id = ?", "m1").Count(&count)
	if count != 1 {
		t.Errorf("expected 1 stored row, got %d", count)
	}
	// The short-circuit means the provider is not asked again.
	if provider.getCalls != 1 {
		t.Errorf("expected 1 provider fetch, got %d", provider.getCalls)
	}
}

func TestIngestSurvivesAnalyzerOutage(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db)

	provider := &fakeProvider{messages: map[string]*gmail.Message{
		"m1": testMessage("m1", "Outage test", "alice@example.com", "body", false),
	}}
	analyzer := &fakeAnalyzer{err: fmt.Errorf("model overloaded")}

	ingestor := NewIngestor(db, provider, analyzer, nil, quietLogrus())
	email, created, err := ingestor.Ingest(context.Background(), user, Credentials{}, "m1")
	if err != nil {
		t.Fatalf("Ingest should absorb analyzer failure, got: %v", err)
	}
	if !created {
		t.Fatal("expected a new row")
	}

	if email.AISummary != nil || email.AICategory != nil || email.AIPriority != nil || email.AISentiment != nil {
		t.Errorf("AI fields should stay null on outage: %+v", email)
	}
	if email.AIAnalyzedAt != nil {
		t.Error("AIAnalyzedAt should stay null on outage")
	}
	if len(email.AISuggestedReplies) != 3 {
		t.Errorf("expected fallback suggested replies, got %v", email.AISuggestedReplies)
	}
}

func TestIngestDefaultsMissingHeaders(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db)

	msg := &gmail.Message{
		Id:       "m1",
		ThreadId: "t1",
		Payload:  &gmail.MessagePart{},
	}
	provider := &fakeProvider{messages: map[string]*gmail.Message{"m1": msg}}

	ingestor := NewIngestor(db, provider, &fakeAnalyzer{analysis: FallbackAnalysis()}, nil, quietLogrus())
	email, _, err := ingestor.Ingest(context.Background(), user, Credentials{}, "m1")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if email.Subject != "(No Subject)" {
		t.Errorf("subject = %q", email.Subject)
	}
	if email.From != "Unknown Sender" {
		t.Errorf("from = %q", email.From)
	}
	if email.Body != "(No content)" {
		t.Errorf("body = %q", email.Body)
	}
	if email.ReceivedAt.IsZero() {
		t.Error("ReceivedAt should fall back to now")
	}
	if !email.IsRead {
		t.Error("message without UNREAD label should be read")
	}
}

func TestIngestPublishesEvent(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db)

	hub := NewEventHub()
	events := hub.Subscribe()
	defer hub.Unsubscribe(events)

	provider := &fakeProvider{messages: map[string]*gmail.Message{
		"m1": testMessage("m1", "Hello", "alice@example.com", "hi", true),
	}}
	ingestor := NewIngestor(db, provider, &fakeAnalyzer{analysis: FallbackAnalysis()}, hub, quietLogrus())

	if _, _, err := ingestor.Ingest(context.Background(), user, Credentials{}, "m1"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	select {
	case event := <-events:
		if event.Type != "email.new" || event.Email.GmailID != "m1" {
			t.Errorf("unexpected event: %+v", event)
		}
	default:
		t.Error("expected an event on the hub")
	}
}
