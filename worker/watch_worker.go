package worker

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"gorm.io/gorm"

	"inboxpilot/models"
	"inboxpilot/utils"
)

// WatchWorker renews Gmail push subscriptions before they lapse. Gmail watches
// expire after seven days; this renews anything within the renewal window.
type WatchWorker struct {
	db       *gorm.DB
	provider utils.MailProvider
	logger   *log.Logger

	interval    time.Duration
	renewWithin time.Duration
}

func NewWatchWorker(db *gorm.DB, provider utils.MailProvider) *WatchWorker {
	return &WatchWorker{
		db:          db,
		provider:    provider,
		logger:      log.New(os.Stdout, "WATCH-WORKER: ", log.Ldate|log.Ltime|log.Lshortfile),
		interval:    1 * time.Hour,
		renewWithin: 12 * time.Hour,
	}
}

func (w *WatchWorker) Start(ctx context.Context) {
	w.logger.Println("Starting watch renewal worker...")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Println("Stopping watch renewal worker...")
			return
		case <-ticker.C:
			w.renewExpiring(ctx)
		}
	}
}

func (w *WatchWorker) renewExpiring(ctx context.Context) {
	deadline := time.Now().Add(w.renewWithin)

	var users []models.User
	err := w.db.Where("watch_expiration IS NULL OR watch_expiration < ?", deadline).
		Find(&users).Error
	if err != nil {
		w.logger.Printf("Failed to list users for watch renewal: %v", err)
		sentry.CaptureException(err)
		return
	}

	for _, user := range users {
		if err := w.renew(ctx, &user); err != nil {
			w.logger.Printf("Failed to renew watch for user %d: %v", user.ID, err)
			sentry.CaptureException(err)
		}
	}
}

func (w *WatchWorker) renew(ctx context.Context, user *models.User) error {
	creds, err := utils.CredentialsFor(user)
	if err != nil {
		return err
	}

	info, err := w.provider.StartWatch(ctx, creds)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"watch_expiration": info.Expiration,
	}
	// Baseline the cursor on first watch so the next notification has a
	// starting point.
	if user.HistoryID == "" {
		updates["history_id"] = info.HistoryID
	}
	if err := w.db.Model(user).Updates(updates).Error; err != nil {
		return err
	}

	w.logger.Printf("Renewed watch for user %d, expires %s", user.ID, info.Expiration.Format(time.RFC3339))
	return nil
}
