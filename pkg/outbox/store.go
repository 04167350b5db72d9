// Package outbox stores scheduled deliveries and drains them to a sender.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smith3v/wa-word-reminder/pkg/db"
	"gorm.io/gorm"
)

// ErrNotClaimed means a conditional status update matched no row, usually
// because another run got there first.
var ErrNotClaimed = errors.New("outbox row not in expected status")

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(gdb *gorm.DB, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{db: gdb, now: now}
}

// DayBounds returns the UTC day [start, end) containing t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// Insert stores a queued row stamped with the store clock.
func (s *Store) Insert(ctx context.Context, msg *db.OutboxMessage) error {
	now := s.now().UTC()
	msg.Phone = db.NormalizePhone(msg.Phone)
	msg.ScheduledAt = msg.ScheduledAt.UTC()
	msg.Status = db.StatusQueued
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("insert outbox row: %w", err)
	}
	return nil
}

// ExistsForPhoneInDay reports whether any row for phone was created during
// the UTC day containing day.
func (s *Store) ExistsForPhoneInDay(ctx context.Context, phone string, day time.Time) (bool, error) {
	start, end := DayBounds(day)
	var count int64
	err := s.db.WithContext(ctx).
		Model(&db.OutboxMessage{}).
		Where("phone = ? AND created_at >= ? AND created_at < ?", db.NormalizePhone(phone), start, end).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check existing outbox rows: %w", err)
	}
	return count > 0, nil
}

// SelectDue returns queued rows whose send time and retry delay have passed,
// oldest first.
func (s *Store) SelectDue(ctx context.Context, limit int) ([]db.OutboxMessage, error) {
	now := s.now().UTC()
	var rows []db.OutboxMessage
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", db.StatusQueued, now).
		Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now).
		Order("scheduled_at").
		Order("id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("select due outbox rows: %w", err)
	}
	return rows, nil
}

// Claim moves a row from queued to sending. It returns ErrNotClaimed when
// the row was no longer queued.
func (s *Store) Claim(ctx context.Context, id uint) error {
	now := s.now().UTC()
	return s.transition(ctx, id, db.StatusQueued, map[string]any{
		"status":     db.StatusSending,
		"claimed_at": now,
		"updated_at": now,
	})
}

// FailQueued marks a queued row failed without sending it.
func (s *Store) FailQueued(ctx context.Context, id uint, reason string) error {
	return s.transition(ctx, id, db.StatusQueued, map[string]any{
		"status":     db.StatusFailed,
		"last_error": reason,
		"updated_at": s.now().UTC(),
	})
}

func (s *Store) MarkSent(ctx context.Context, id uint, providerMessageID string) error {
	now := s.now().UTC()
	return s.transition(ctx, id, db.StatusSending, map[string]any{
		"status":              db.StatusSent,
		"sent_at":             now,
		"provider_message_id": providerMessageID,
		"last_error":          "",
		"updated_at":          now,
	})
}

// MarkFailed records a terminal send failure.
func (s *Store) MarkFailed(ctx context.Context, id uint, retryCount int, reason string) error {
	return s.transition(ctx, id, db.StatusSending, map[string]any{
		"status":      db.StatusFailed,
		"retry_count": retryCount,
		"last_error":  reason,
		"updated_at":  s.now().UTC(),
	})
}

// Requeue returns a row that failed to send to the queue until nextAttempt.
func (s *Store) Requeue(ctx context.Context, id uint, retryCount int, nextAttempt time.Time, reason string) error {
	return s.transition(ctx, id, db.StatusSending, map[string]any{
		"status":          db.StatusQueued,
		"retry_count":     retryCount,
		"next_attempt_at": nextAttempt.UTC(),
		"claimed_at":      nil,
		"last_error":      reason,
		"updated_at":      s.now().UTC(),
	})
}

// ReclaimStale requeues rows left in sending for longer than staleAfter.
func (s *Store) ReclaimStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	now := s.now().UTC()
	result := s.db.WithContext(ctx).
		Model(&db.OutboxMessage{}).
		Where("status = ? AND claimed_at <= ?", db.StatusSending, now.Add(-staleAfter)).
		Updates(map[string]any{
			"status":     db.StatusQueued,
			"claimed_at": nil,
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("reclaim stale outbox rows: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Store) transition(ctx context.Context, id uint, from string, updates map[string]any) error {
	result := s.db.WithContext(ctx).
		Model(&db.OutboxMessage{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update outbox row %d: %w", id, result.Error)
	}
	if result.RowsAffected != 1 {
		return ErrNotClaimed
	}
	return nil
}
