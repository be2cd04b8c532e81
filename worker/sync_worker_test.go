package worker

import (
	"context"
	"encoding/base64"
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
	"inboxpilot/utils"
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
	messages   map[string]*gmail.Message
	fetchIDs   []string
	fetchErr   error
	fetchCalls int
	recentIDs  []string
	failGet    map[string]bool
}

func (f *fakeProvider) FetchNewMessageIDs(ctx context.Context, creds utils.Credentials, startCursor string) ([]string, error) {
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.fetchIDs, nil
}

func (f *fakeProvider) ListRecentMessageIDs(ctx context.Context, creds utils.Credentials, max int64) ([]string, error) {
	return f.recentIDs, nil
}

func (f *fakeProvider) GetMessage(ctx context.Context, creds utils.Credentials, id string) (*gmail.Message, error) {
	if f.failGet[id] {
		return nil, fmt.Errorf("transient fetch failure for %s", id)
	}
	msg, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("no such message %s", id)
	}
	return msg, nil
}

func (f *fakeProvider) SendRaw(ctx context.Context, creds utils.Credentials, raw, threadID string) (string, error) {
	return "sent-1", nil
}

func (f *fakeProvider) StartWatch(ctx context.Context, creds utils.Credentials) (*utils.WatchInfo, error) {
	return &utils.WatchInfo{HistoryID: "1", Expiration: time.Now().Add(7 * 24 * time.Hour)}, nil
}

type fakeAnalyzer struct{}

func (fakeAnalyzer) AnalyzeEmail(ctx context.Context, input utils.EmailInput) (*utils.EmailAnalysis, error) {
	return utils.FallbackAnalysis(), nil
}

func (fakeAnalyzer) GenerateDraft(ctx context.Context, prompt, tone, extra string) (string, error) {
	return "draft", nil
}

func testMessage(id string) *gmail.Message {
	return &gmail.Message{
		Id:       id,
		ThreadId: "thread-" + id,
		Snippet:  "snippet",
		LabelIds: []string{"INBOX", "UNREAD"},
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Subject " + id},
				{Name: "From", Value: "alice@example.com"},
			},
			Body: &gmail.MessagePartBody{
				Data: base64.RawURLEncoding.EncodeToString([]byte("body " + id)),
			},
		},
	}
}

func seedUser(t *testing.T, db *gorm.DB, historyID string) *models.User {
	t.Helper()
	// Empty token fields decrypt to empty credentials, which the fake
	// provider does not inspect.
	user := &models.User{
		Email:     "me@example.com",
		GoogleID:  "google-1",
		HistoryID: historyID,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	return user
}

func newTestWorker(db *gorm.DB, provider *fakeProvider) *SyncWorker {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	ingestor := utils.NewIngestor(db, provider, fakeAnalyzer{}, nil, logger)
	return NewSyncWorker(db, provider, ingestor)
}

func storedCursor(t *testing.T, db *gorm.DB, userID uint) string {
	t.Helper()
	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		t.Fatalf("reloading user: %v", err)
	}
	return user.HistoryID
}

func emailCount(t *testing.T, db *gorm.DB, userID uint) int64 {
	t.Helper()
	var count int64
	db.Model(&models.Email{}).Where("user_id = ?", userID).Count(&count)
	return count
}

func TestProcessIngestsAndAdvancesCursor(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, "100")

	provider := &fakeProvider{
		fetchIDs: []string{"m1", "m2"},
		messages: map[string]*gmail.Message{
			"m1": testMessage("m1"),
			"m2": testMessage("m2"),
		},
	}
	w := newTestWorker(db, provider)

	w.Process(context.Background(), SyncJob{UserID: user.ID, NewHistoryID: "105"})

	if got := emailCount(t, db, user.ID); got != 2 {
		t.Errorf("expected 2 ingested emails, got %d", got)
	}
	if got := storedCursor(t, db, user.ID); got != "105" {
		t.Errorf("cursor = %q, want 105", got)
	}
}

func TestProcessSkipsEqualCursor(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, "100")

	provider := &fakeProvider{}
	w := newTestWorker(db, provider)

	w.Process(context.Background(), SyncJob{UserID: user.ID, NewHistoryID: "100"})

	if provider.fetchCalls != 0 {
		t.Errorf("expected no provider calls for an equal cursor, got %d", provider.fetchCalls)
	}
}

func TestProcessBaselinesEmptyCursor(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, "")

	provider := &fakeProvider{}
	w := newTestWorker(db, provider)

	w.Process(context.Background(), SyncJob{UserID: user.ID, NewHistoryID: "200"})

	if provider.fetchCalls != 0 {
		t.Errorf("baselining should not hit the provider, got %d calls", provider.fetchCalls)
	}
	if got := storedCursor(t, db, user.ID); got != "200" {
		t.Errorf("cursor = %q, want 200", got)
	}
}

func TestProcessKeepsCursorOnFetchFailure(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, "100")

	provider := &fakeProvider{fetchErr: fmt.Errorf("upstream unavailable")}
	w := newTestWorker(db, provider)

	w.Process(context.Background(), SyncJob{UserID: user.ID, NewHistoryID: "105"})

	if got := storedCursor(t, db, user.ID); got != "100" {
		t.Errorf("cursor advanced despite fetch failure: %q", got)
	}
}

func TestProcessKeepsCursorOnPartialIngestFailure(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, "100")

	provider := &fakeProvider{
		fetchIDs: []string{"m1", "m2"},
		messages: map[string]*gmail.Message{"m1": testMessage("m1")},
		failGet:  map[string]bool{"m2": true},
	}
	w := newTestWorker(db, provider)

	w.Process(context.Background(), SyncJob{UserID: user.ID, NewHistoryID: "105"})

	// m1 landed but m2 did not, so the window must stay replayable.
	if got := emailCount(t, db, user.ID); got != 1 {
		t.Errorf("expected 1 ingested email, got %d", got)
	}
	if got := storedCursor(t, db, user.ID); got != "100" {
		t.Errorf("cursor advanced despite partial failure: %q", got)
	}

	// The retry replays the whole window; the stored message dedupes.
	provider.failGet = nil
	provider.messages["m2"] = testMessage("m2")
	w.Process(context.Background(), SyncJob{UserID: user.ID, NewHistoryID: "105"})

	if got := emailCount(t, db, user.ID); got != 2 {
		t.Errorf("expected 2 emails after retry, got %d", got)
	}
	if got := storedCursor(t, db, user.ID); got != "105" {
		t.Errorf("cursor = %q after retry, want 105", got)
	}
}

func TestProcessResyncsOnExpiredCursor(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, "100")

	provider := &fakeProvider{
		fetchErr:  fmt.Errorf("window gone: %w", utils.ErrCursorExpired),
		recentIDs: []string{"m9"},
		messages:  map[string]*gmail.Message{"m9": testMessage("m9")},
	}
	w := newTestWorker(db, provider)

	w.Process(context.Background(), SyncJob{UserID: user.ID, NewHistoryID: "900"})

	if got := emailCount(t, db, user.ID); got != 1 {
		t.Errorf("expected 1 resynced email, got %d", got)
	}
	if got := storedCursor(t, db, user.ID); got != "900" {
		t.Errorf("cursor = %q after resync, want 900", got)
	}
}

func TestProcessIgnoresUnknownUser(t *testing.T) {
	db := openTestDB(t)

	provider := &fakeProvider{}
	w := newTestWorker(db, provider)

	w.Process(context.Background(), SyncJob{UserID: 12345, NewHistoryID: "100"})

	if provider.fetchCalls != 0 {
		t.Errorf("expected no provider calls for unknown user, got %d", provider.fetchCalls)
	}
}

func TestEnqueueReportsFullQueue(t *testing.T) {
	db := openTestDB(t)
	w := newTestWorker(db, &fakeProvider{})

	// Fill the queue without a running drain loop.
	filled := 0
	for w.Enqueue(SyncJob{UserID: 1, NewHistoryID: "1"}) {
		filled++
		if filled > 100000 {
			t.Fatal("queue never filled")
		}
	}
	if filled != cap(w.jobs) {
		t.Errorf("accepted %d jobs, want %d", filled, cap(w.jobs))
	}
}
