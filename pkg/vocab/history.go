package vocab

import (
	"context"
	"fmt"
	"time"

	"github.com/smith3v/wa-word-reminder/pkg/db"
	"gorm.io/gorm"
)

type HistoryStore struct {
	db *gorm.DB
}

func NewHistoryStore(gdb *gorm.DB) *HistoryStore {
	return &HistoryStore{db: gdb}
}

// RecentWords lists the distinct words sent to the user in the category
// since the given instant.
func (h *HistoryStore) RecentWords(ctx context.Context, userID, category string, since time.Time) ([]string, error) {
	var words []string
	err := h.db.WithContext(ctx).
		Model(&db.WordHistory{}).
		Where("user_id = ? AND category = ? AND sent_at >= ?", userID, category, since).
		Distinct().
		Pluck("word", &words).Error
	if err != nil {
		return nil, fmt.Errorf("load word history: %w", err)
	}
	return words, nil
}

func (h *HistoryStore) Append(ctx context.Context, entry db.WordHistory) error {
	if err := h.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("append word history: %w", err)
	}
	return nil
}
