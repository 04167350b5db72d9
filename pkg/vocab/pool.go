package vocab

import (
	"context"
	"fmt"
	"strings"

	"github.com/smith3v/wa-word-reminder/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PoolStore reads and writes the shared vocabulary_words table.
type PoolStore struct {
	db *gorm.DB
}

func NewPoolStore(gdb *gorm.DB) *PoolStore {
	return &PoolStore{db: gdb}
}

// Random returns up to limit words of the category in random order, leaving
// out the given words.
func (p *PoolStore) Random(ctx context.Context, category string, exclude []string, limit int) ([]Word, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := p.db.WithContext(ctx).Where("category = ?", category)
	if len(exclude) > 0 {
		query = query.Where("word NOT IN ?", exclude)
	}
	var rows []db.VocabularyWord
	if err := query.Order("RANDOM()").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select vocabulary: %w", err)
	}
	words := make([]Word, 0, len(rows))
	for _, row := range rows {
		words = append(words, fromModel(row))
	}
	return words, nil
}

// SaveGenerated stores generated words in the pool. Words already present
// for the category are left untouched.
func (p *PoolStore) SaveGenerated(ctx context.Context, category string, words []Word) error {
	if len(words) == 0 {
		return nil
	}
	rows := make([]db.VocabularyWord, 0, len(words))
	for _, w := range words {
		rows = append(rows, w.model(category, db.WordSourceAI))
	}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// Upsert inserts new words and refreshes the content of existing ones,
// keyed by category and word.
func (p *PoolStore) Upsert(ctx context.Context, category string, words []Word) (int, int, error) {
	inserted := 0
	updated := 0

	if len(words) == 0 {
		return inserted, updated, nil
	}
	category = strings.TrimSpace(category)

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, w := range words {
			result := tx.Model(&db.VocabularyWord{}).
				Where("category = ? AND word = ?", category, w.Word).
				Updates(map[string]any{
					"pronunciation":  w.Pronunciation,
					"definition":     w.Definition,
					"example":        w.Example,
					"memory_aid":     w.MemoryAid,
					"part_of_speech": w.PartOfSpeech,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				updated++
				continue
			}

			row := w.model(category, db.WordSourceImport)
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	return inserted, updated, nil
}

func (p *PoolStore) Count(ctx context.Context, category string) (int64, error) {
	var count int64
	err := p.db.WithContext(ctx).Model(&db.VocabularyWord{}).Where("category = ?", category).Count(&count).Error
	return count, err
}
