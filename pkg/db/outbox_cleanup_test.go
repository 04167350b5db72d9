package db

import (
	"testing"
	"time"
)

func TestCleanupDeliveredMessages(t *testing.T) {
	gdb := openTestDB(t, "outbox_cleanup")

	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	old := now.Add(-40 * 24 * time.Hour)
	recent := now.Add(-24 * time.Hour)

	rows := []OutboxMessage{
		{Phone: "+100", UserID: "u1", TemplateName: "daily_word", Variables: []byte("{}"), ScheduledAt: old, Status: StatusSent, CreatedAt: old, UpdatedAt: old},
		{Phone: "+100", UserID: "u1", TemplateName: "daily_word", Variables: []byte("{}"), ScheduledAt: old, Status: StatusFailed, CreatedAt: old, UpdatedAt: old},
		{Phone: "+100", UserID: "u1", TemplateName: "daily_word", Variables: []byte("{}"), ScheduledAt: old, Status: StatusQueued, CreatedAt: old, UpdatedAt: old},
		{Phone: "+100", UserID: "u1", TemplateName: "daily_word", Variables: []byte("{}"), ScheduledAt: recent, Status: StatusSent, CreatedAt: recent, UpdatedAt: recent},
	}
	for i := range rows {
		if err := gdb.Create(&rows[i]).Error; err != nil {
			t.Fatalf("failed to seed outbox row: %v", err)
		}
	}
	history := []WordHistory{
		{UserID: "u1", Word: "old", SentAt: old},
		{UserID: "u1", Word: "recent", SentAt: recent},
	}
	for i := range history {
		if err := gdb.Create(&history[i]).Error; err != nil {
			t.Fatalf("failed to seed history: %v", err)
		}
	}

	deleted, err := CleanupDeliveredMessages(gdb, now, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deleted rows, got %d", deleted)
	}

	var remaining []OutboxMessage
	if err := gdb.Order("id").Find(&remaining).Error; err != nil {
		t.Fatalf("failed to load outbox rows: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 outbox rows remaining, got %d", len(remaining))
	}
	if remaining[0].Status != StatusQueued {
		t.Fatalf("expected old queued row to survive, got %s", remaining[0].Status)
	}

	var historyCount int64
	if err := gdb.Model(&WordHistory{}).Count(&historyCount).Error; err != nil {
		t.Fatalf("failed to count history: %v", err)
	}
	if historyCount != 1 {
		t.Fatalf("expected 1 history row remaining, got %d", historyCount)
	}
}

func TestCleanupDeliveredMessagesNilDB(t *testing.T) {
	deleted, err := CleanupDeliveredMessages(nil, time.Now(), time.Hour)
	if err != nil || deleted != 0 {
		t.Fatalf("expected no-op for nil db, got %d, %v", deleted, err)
	}
}
