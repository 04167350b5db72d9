package vocab

import (
	"context"
	"errors"
	"time"

	"github.com/smith3v/wa-word-reminder/pkg/logger"
)

const DefaultLookback = 30 * 24 * time.Hour

var ErrNoWords = errors.New("no vocabulary words available")

type Pool interface {
	Random(ctx context.Context, category string, exclude []string, limit int) ([]Word, error)
	SaveGenerated(ctx context.Context, category string, words []Word) error
}

type History interface {
	RecentWords(ctx context.Context, userID, category string, since time.Time) ([]string, error)
}

// Generator produces fresh words when the pool runs dry.
type Generator interface {
	Generate(ctx context.Context, category string, count int, exclude []string) ([]Word, error)
}

// Selection is the outcome of picking a day's words for one subscriber.
type Selection struct {
	Words     []Word
	Unseen    int
	Generated int
	Reused    int
}

type Selector struct {
	pool      Pool
	history   History
	generator Generator
	lookback  time.Duration
	now       func() time.Time
}

// NewSelector builds a selector; generator may be nil.
func NewSelector(pool Pool, history History, generator Generator, lookback time.Duration, now func() time.Time) *Selector {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if now == nil {
		now = time.Now
	}
	return &Selector{pool: pool, history: history, generator: generator, lookback: lookback, now: now}
}

// Select picks up to n words for the user. Unseen pool words come first, then
// generated words for the shortfall, then recently sent words as a last
// resort. Fewer than n words is not an error; zero words is.
func (s *Selector) Select(ctx context.Context, userID, category string, n int) (Selection, error) {
	var sel Selection
	if n <= 0 {
		return sel, nil
	}

	recent, err := s.history.RecentWords(ctx, userID, category, s.now().UTC().Add(-s.lookback))
	if err != nil {
		logger.Warn("word history unavailable, selecting without it", "user_id", userID, "error", err)
		recent = nil
	}

	var errs []error
	chosen := make(map[string]struct{}, n)
	add := func(words []Word) int {
		added := 0
		for _, w := range words {
			if len(sel.Words) >= n {
				break
			}
			key := normalizeWord(w.Word)
			if key == "" {
				continue
			}
			if _, dup := chosen[key]; dup {
				continue
			}
			chosen[key] = struct{}{}
			sel.Words = append(sel.Words, w)
			added++
		}
		return added
	}

	unseen, err := s.pool.Random(ctx, category, recent, n)
	if err != nil {
		errs = append(errs, err)
	}
	sel.Unseen = add(unseen)

	if short := n - len(sel.Words); short > 0 && s.generator != nil {
		exclude := append(append([]string{}, recent...), chosenWords(sel.Words)...)
		generated, err := s.generator.Generate(ctx, category, short, exclude)
		if err != nil {
			logger.Warn("word generation failed", "category", category, "requested", short, "error", err)
			errs = append(errs, err)
		}
		before := len(sel.Words)
		sel.Generated = add(generated)
		if sel.Generated > 0 {
			if err := s.pool.SaveGenerated(ctx, category, sel.Words[before:]); err != nil {
				logger.Warn("failed to save generated words", "category", category, "error", err)
			}
		}
	}

	if short := n - len(sel.Words); short > 0 && len(recent) > 0 {
		reused, err := s.pool.Random(ctx, category, chosenWords(sel.Words), short)
		if err != nil {
			errs = append(errs, err)
		}
		sel.Reused = add(reused)
	}

	if len(sel.Words) == 0 {
		if len(errs) > 0 {
			return sel, errors.Join(append([]error{ErrNoWords}, errs...)...)
		}
		return sel, ErrNoWords
	}
	return sel, nil
}

func chosenWords(words []Word) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, w.Word)
	}
	return out
}
