package db

import (
	"context"
	"time"

	"github.com/smith3v/wa-word-reminder/pkg/logger"
	"gorm.io/gorm"
)

const OutboxCleanupInterval = time.Hour

// CleanupDeliveredMessages removes terminal outbox rows and word history
// entries older than the retention window. Queued and sending rows are
// never touched.
func CleanupDeliveredMessages(gdb *gorm.DB, now time.Time, retention time.Duration) (int64, error) {
	if gdb == nil {
		return 0, nil
	}
	cutoff := now.Add(-retention)
	var deleted int64

	res := gdb.Where("status IN ? AND updated_at <= ?", []string{StatusSent, StatusFailed}, cutoff).
		Delete(&OutboxMessage{})
	if res.Error != nil {
		return deleted, res.Error
	}
	deleted += res.RowsAffected

	res = gdb.Where("sent_at <= ?", cutoff).Delete(&WordHistory{})
	if res.Error != nil {
		return deleted, res.Error
	}
	deleted += res.RowsAffected

	return deleted, nil
}

func StartOutboxCleanup(ctx context.Context, gdb *gorm.DB, interval, retention time.Duration) {
	if interval <= 0 {
		interval = OutboxCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := CleanupDeliveredMessages(gdb, time.Now().UTC(), retention)
			if err != nil {
				logger.Error("failed to cleanup delivered messages", "error", err)
				continue
			}
			if deleted > 0 {
				logger.Info("cleaned up delivered messages", "deleted", deleted)
			}
		}
	}
}
