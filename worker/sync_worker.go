package worker

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"

	"github.com/getsentry/sentry-go"
	"gorm.io/gorm"

	"inboxpilot/models"
	"inboxpilot/utils"
)

// resyncWindow is how many recent messages are pulled when the stored cursor
// has fallen outside the provider's retention window.
const resyncWindow = 50

// SyncJob asks the worker to bring one user's mailbox up to a new cursor.
type SyncJob struct {
	UserID       uint
	NewHistoryID string
}

// SyncWorker drains mailbox sync jobs from a bounded queue. Jobs for the same
// user are serialized with a per-user lock so two notifications for one
// mailbox never race on the cursor.
type SyncWorker struct {
	db        *gorm.DB
	provider  utils.MailProvider
	ingestor  *utils.Ingestor
	logger    *log.Logger
	jobs      chan SyncJob
	userLocks sync.Map
}

func NewSyncWorker(db *gorm.DB, provider utils.MailProvider, ingestor *utils.Ingestor) *SyncWorker {
	return &SyncWorker{
		db:       db,
		provider: provider,
		ingestor: ingestor,
		logger:   log.New(os.Stdout, "SYNC-WORKER: ", log.Ldate|log.Ltime|log.Lshortfile),
		jobs:     make(chan SyncJob, 256),
	}
}

// Enqueue submits a job without blocking. Returns false when the queue is
// full; the dropped notification is recovered by the next one for the user.
func (w *SyncWorker) Enqueue(job SyncJob) bool {
	select {
	case w.jobs <- job:
		return true
	default:
		w.logger.Printf("Sync queue full, dropping job for user %d", job.UserID)
		return false
	}
}

// Start drains the queue until the context is cancelled.
func (w *SyncWorker) Start(ctx context.Context) {
	w.logger.Println("Starting mailbox sync worker...")
	for {
		select {
		case <-ctx.Done():
			w.logger.Println("Stopping mailbox sync worker...")
			return
		case job := <-w.jobs:
			w.Process(ctx, job)
		}
	}
}

func (w *SyncWorker) lockFor(userID uint) *sync.Mutex {
	mu, _ := w.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Process runs one sync job. The stored cursor only advances once every
// message in the window has been ingested, so a partial failure is retried
// from the same cursor by the next notification.
func (w *SyncWorker) Process(ctx context.Context, job SyncJob) {
	mu := w.lockFor(job.UserID)
	mu.Lock()
	defer mu.Unlock()

	var user models.User
	if err := w.db.First(&user, job.UserID).Error; err != nil {
		w.logger.Printf("Sync for unknown user %d: %v", job.UserID, err)
		return
	}

	if user.HistoryID == job.NewHistoryID {
		return
	}

	creds, err := utils.CredentialsFor(&user)
	if err != nil {
		w.logger.Printf("Failed to decrypt credentials for user %d: %v", user.ID, err)
		sentry.CaptureException(err)
		return
	}

	// First notification after connect: baseline the cursor, nothing to fetch.
	if user.HistoryID == "" {
		w.commitCursor(&user, job.NewHistoryID)
		return
	}

	ids, err := w.provider.FetchNewMessageIDs(ctx, creds, user.HistoryID)
	if errors.Is(err, utils.ErrCursorExpired) {
		w.logger.Printf("History cursor expired for user %d, resyncing recent messages", user.ID)
		ids, err = w.provider.ListRecentMessageIDs(ctx, creds, resyncWindow)
	}
	if err != nil {
		w.logger.Printf("Failed to list new messages for user %d: %v", user.ID, err)
		sentry.CaptureException(err)
		return
	}

	failures := 0
	created := 0
	for _, id := range ids {
		_, isNew, err := w.ingestor.Ingest(ctx, &user, creds, id)
		if err != nil {
			failures++
			w.logger.Printf("Failed to ingest message %s for user %d: %v", id, user.ID, err)
			sentry.CaptureException(err)
			continue
		}
		if isNew {
			created++
		}
	}

	if failures > 0 {
		w.logger.Printf("Sync for user %d kept cursor %s: %d of %d messages failed",
			user.ID, user.HistoryID, failures, len(ids))
		return
	}

	w.commitCursor(&user, job.NewHistoryID)
	if created > 0 {
		w.logger.Printf("Synced %d new messages for user %d", created, user.ID)
	}
}

func (w *SyncWorker) commitCursor(user *models.User, historyID string) {
	if err := w.db.Model(user).Update("history_id", historyID).Error; err != nil {
		w.logger.Printf("Failed to advance cursor for user %d: %v", user.ID, err)
		sentry.CaptureException(err)
	}
}
