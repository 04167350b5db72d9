// Package scheduler builds each entitled subscriber's outbox rows for the day.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smith3v/wa-word-reminder/pkg/db"
	"github.com/smith3v/wa-word-reminder/pkg/logger"
	"github.com/smith3v/wa-word-reminder/pkg/metrics"
	"github.com/smith3v/wa-word-reminder/pkg/notify"
	"github.com/smith3v/wa-word-reminder/pkg/outbox"
	"github.com/smith3v/wa-word-reminder/pkg/slots"
	"github.com/smith3v/wa-word-reminder/pkg/subscription"
	"github.com/smith3v/wa-word-reminder/pkg/vocab"
)

const (
	DefaultTemplateName = "daily_word"

	// LowSuccessThreshold is the share of fully scheduled subscriptions
	// below which a run is flagged.
	LowSuccessThreshold = 0.8

	ReasonMissingUser      = "missing user id"
	ReasonAlreadyScheduled = "already scheduled"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

type Subscriptions interface {
	ListEntitled(ctx context.Context) ([]db.Subscription, error)
	LoadOrCreateSettings(ctx context.Context, userID string) (db.DeliverySettings, error)
}

type Outbox interface {
	ExistsForPhoneInDay(ctx context.Context, phone string, day time.Time) (bool, error)
	Insert(ctx context.Context, msg *db.OutboxMessage) error
}

type WordSelector interface {
	Select(ctx context.Context, userID, category string, n int) (vocab.Selection, error)
}

type Result struct {
	SubscriptionID uint   `json:"subscription_id"`
	Phone          string `json:"phone"`
	UserID         string `json:"user_id,omitempty"`
	Status         Status `json:"status"`
	Expected       int    `json:"expected"`
	Inserted       int    `json:"inserted"`
	Reason         string `json:"reason,omitempty"`
}

type Summary struct {
	RunID        string   `json:"run_id"`
	Day          string   `json:"day"`
	Considered   int      `json:"considered"`
	Scheduled    int      `json:"scheduled"`
	Partial      int      `json:"partial"`
	Failed       int      `json:"failed"`
	Skipped      int      `json:"skipped"`
	RowsInserted int      `json:"rows_inserted"`
	SuccessRate  float64  `json:"success_rate"`
	LowSuccess   bool     `json:"low_success"`
	Results      []Result `json:"results"`
}

func (s *Summary) add(r Result) {
	switch r.Status {
	case StatusScheduled:
		s.Scheduled++
	case StatusPartial:
		s.Partial++
	case StatusFailed:
		s.Failed++
	case StatusSkipped:
		s.Skipped++
	}
	s.RowsInserted += r.Inserted
	s.Results = append(s.Results, r)
	metrics.ScheduledSubscriptions.WithLabelValues(string(r.Status)).Inc()
}

// finish computes the success rate over subscriptions that were actually
// attempted. Skipped ones count neither way.
func (s *Summary) finish() {
	attempted := s.Scheduled + s.Partial + s.Failed
	if attempted == 0 {
		s.SuccessRate = 1
		return
	}
	s.SuccessRate = float64(s.Scheduled) / float64(attempted)
	s.LowSuccess = s.SuccessRate < LowSuccessThreshold
}

type Option func(*Scheduler)

func WithNotifier(n notify.Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithTemplateName(name string) Option {
	return func(s *Scheduler) {
		if name != "" {
			s.templateName = name
		}
	}
}

type Scheduler struct {
	subs         Subscriptions
	outbox       Outbox
	words        WordSelector
	notifier     notify.Notifier
	templateName string
	now          func() time.Time
}

func New(subs Subscriptions, box Outbox, words WordSelector, opts ...Option) *Scheduler {
	s := &Scheduler{
		subs:         subs,
		outbox:       box,
		words:        words,
		templateName: DefaultTemplateName,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run schedules today's words for every entitled subscription. Only failing
// to load the subscriptions is an error; everything else is reported per
// subscription in the summary.
func (s *Scheduler) Run(ctx context.Context) (*Summary, error) {
	now := s.now().UTC()
	dayStart, _ := outbox.DayBounds(now)
	summary := &Summary{
		RunID:   uuid.NewString(),
		Day:     dayStart.Format(time.DateOnly),
		Results: []Result{},
	}

	subs, err := s.subs.ListEntitled(ctx)
	if err != nil {
		return nil, fmt.Errorf("load entitled subscriptions: %w", err)
	}
	summary.Considered = len(subs)
	logger.Info("scheduling run started", "run_id", summary.RunID, "day", summary.Day, "subscriptions", len(subs))

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			logger.Warn("scheduling run interrupted", "run_id", summary.RunID, "remaining", len(subs)-len(summary.Results), "error", err)
			break
		}
		summary.add(s.scheduleOne(ctx, sub, now, summary.RunID))
	}
	summary.finish()
	metrics.OutboxRowsInserted.Add(float64(summary.RowsInserted))

	logger.Info("scheduling run finished",
		"run_id", summary.RunID,
		"considered", summary.Considered,
		"scheduled", summary.Scheduled,
		"partial", summary.Partial,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"rows", summary.RowsInserted,
		"low_success", summary.LowSuccess,
	)
	notify.Deliver(ctx, s.notifier, Report(summary))
	return summary, nil
}

func (s *Scheduler) scheduleOne(ctx context.Context, sub db.Subscription, now time.Time, runID string) Result {
	result := Result{SubscriptionID: sub.ID, Phone: sub.Phone}

	if !subscription.HasOwner(sub) {
		result.Status = StatusSkipped
		result.Reason = ReasonMissingUser
		return result
	}
	userID := *sub.UserID
	result.UserID = userID

	exists, err := s.outbox.ExistsForPhoneInDay(ctx, sub.Phone, now)
	if err != nil {
		return failed(result, err)
	}
	if exists {
		result.Status = StatusSkipped
		result.Reason = ReasonAlreadyScheduled
		return result
	}

	settings, err := s.subs.LoadOrCreateSettings(ctx, userID)
	if err != nil {
		return failed(result, err)
	}

	loc, err := slots.LoadLocation(settings.Timezone)
	if err != nil {
		logger.Warn("unknown timezone, using UTC", "user_id", userID, "timezone", settings.Timezone, "error", err)
		loc = time.UTC
	}
	plan := slots.Plan{
		WordsPerDay: settings.WordsPerDay,
		Mode:        settings.Mode,
		CustomTimes: settings.Times(),
	}
	if sub.PreferredTime != nil {
		plan.PreferredTime = *sub.PreferredTime
	}
	times, err := slots.Compute(plan, now, loc)
	if err != nil {
		return failed(result, err)
	}
	result.Expected = len(times)

	selection, err := s.words.Select(ctx, userID, sub.Category, len(times))
	if err != nil {
		return failed(result, err)
	}

	var insertErrs []error
	for i, word := range selection.Words {
		if i >= len(times) {
			break
		}
		vars, err := db.EncodeVariables(word.Variables(sub.Category, loc.String()))
		if err != nil {
			insertErrs = append(insertErrs, err)
			continue
		}
		msg := &db.OutboxMessage{
			Phone:        sub.Phone,
			UserID:       userID,
			TemplateName: s.templateName,
			Variables:    vars,
			ScheduledAt:  times[i],
			Source:       "scheduler:" + runID,
		}
		if err := s.outbox.Insert(ctx, msg); err != nil {
			logger.Warn("failed to insert outbox row", "run_id", runID, "phone", sub.Phone, "word", word.Word, "error", err)
			insertErrs = append(insertErrs, err)
			continue
		}
		result.Inserted++
	}

	switch {
	case result.Inserted == result.Expected:
		result.Status = StatusScheduled
	case result.Inserted > 0:
		result.Status = StatusPartial
		result.Reason = partialReason(result, insertErrs)
	default:
		return failed(result, errors.Join(insertErrs...))
	}
	return result
}

func failed(r Result, err error) Result {
	r.Status = StatusFailed
	if err != nil {
		r.Reason = err.Error()
	} else {
		r.Reason = "no rows inserted"
	}
	logger.Warn("failed to schedule subscription", "phone", r.Phone, "user_id", r.UserID, "reason", r.Reason)
	return r
}

func partialReason(r Result, errs []error) string {
	if len(errs) > 0 {
		return errors.Join(errs...).Error()
	}
	return fmt.Sprintf("only %d of %d words available", r.Inserted, r.Expected)
}
