package outbox_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smith3v/wa-word-reminder/pkg/db"
	"github.com/smith3v/wa-word-reminder/pkg/events"
	"github.com/smith3v/wa-word-reminder/pkg/internal/testutil"
	"github.com/smith3v/wa-word-reminder/pkg/messaging"
	"github.com/smith3v/wa-word-reminder/pkg/outbox"
	"github.com/smith3v/wa-word-reminder/pkg/subscription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

// mockSender is a test double for messaging.Sender
type mockSender struct {
	mu   sync.Mutex
	sent []messaging.Message
	errs []error
}

func (s *mockSender) Send(_ context.Context, msg messaging.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return "", err
		}
	}
	s.sent = append(s.sent, msg)
	return fmt.Sprintf("wamid.%d", len(s.sent)), nil
}

type mockHistory struct {
	entries []db.WordHistory
	err     error
}

func (h *mockHistory) Append(_ context.Context, entry db.WordHistory) error {
	if h.err != nil {
		return h.err
	}
	h.entries = append(h.entries, entry)
	return nil
}

type mockPublisher struct {
	keys []string
}

func (p *mockPublisher) Publish(_ context.Context, routingKey string, _ []byte) error {
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *mockPublisher) Close() error { return nil }

type fixture struct {
	gdb       *gorm.DB
	clock     *clock
	store     *outbox.Store
	subs      *subscription.Store
	sender    *mockSender
	history   *mockHistory
	publisher *mockPublisher
}

func newFixture(t *testing.T, start time.Time) *fixture {
	t.Helper()
	gdb := testutil.SetupTestDB(t)
	c := &clock{t: start}
	return &fixture{
		gdb:       gdb,
		clock:     c,
		store:     outbox.NewStore(gdb, c.Now),
		subs:      subscription.NewStore(gdb, c.Now),
		sender:    &mockSender{},
		history:   &mockHistory{},
		publisher: &mockPublisher{},
	}
}

func (f *fixture) processor(cfg outbox.ProcessorConfig) *outbox.Processor {
	return outbox.NewProcessor(f.store, f.subs, f.sender, cfg,
		outbox.WithHistory(f.history),
		outbox.WithPublisher(f.publisher),
		outbox.WithClock(f.clock.Now),
	)
}

func (f *fixture) subscribe(t *testing.T, phone string, trialEnds time.Time) {
	t.Helper()
	userID := "user-" + phone
	require.NoError(t, f.gdb.Create(&db.Subscription{
		Phone:       phone,
		UserID:      &userID,
		Plan:        db.PlanTrial,
		TrialEndsAt: &trialEnds,
		Category:    "general",
	}).Error)
}

func (f *fixture) enqueue(t *testing.T, phone, word string, at time.Time) db.OutboxMessage {
	t.Helper()
	vars, err := db.EncodeVariables(db.MessageVariables{Word: word, Definition: word + " def", Category: "general", Timezone: "UTC"})
	require.NoError(t, err)
	msg := db.OutboxMessage{
		Phone:        phone,
		UserID:       "user-" + phone,
		TemplateName: "daily_word",
		Variables:    vars,
		ScheduledAt:  at,
		Source:       "test",
	}
	require.NoError(t, f.store.Insert(context.Background(), &msg))
	return msg
}

func (f *fixture) row(t *testing.T, id uint) db.OutboxMessage {
	t.Helper()
	var row db.OutboxMessage
	require.NoError(t, f.gdb.First(&row, id).Error)
	return row
}

var day = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func TestProcessorSendsOnlyDueRows(t *testing.T) {
	f := newFixture(t, day.Add(5*time.Minute))
	f.subscribe(t, "+15550001111", day.AddDate(0, 0, 7))
	first := f.enqueue(t, "+15550001111", "alpha", day.Add(10*time.Hour))
	second := f.enqueue(t, "+15550001111", "beta", day.Add(14*time.Hour))
	third := f.enqueue(t, "+15550001111", "gamma", day.Add(18*time.Hour))

	f.clock.t = day.Add(10*time.Hour + time.Minute)
	summary, err := f.processor(outbox.DefaultProcessorConfig()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ProcessedMessages)
	assert.Equal(t, 1, summary.Sent)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "+15550001111", f.sender.sent[0].To)
	assert.Contains(t, f.sender.sent[0].Body, "*alpha*")
	assert.Contains(t, f.sender.sent[0].Body, messaging.GreetingMorning)

	sent := f.row(t, first.ID)
	assert.Equal(t, db.StatusSent, sent.Status)
	assert.Equal(t, "wamid.1", sent.ProviderMessageID)
	assert.Equal(t, db.StatusQueued, f.row(t, second.ID).Status)
	assert.Equal(t, db.StatusQueued, f.row(t, third.ID).Status)

	require.Len(t, f.history.entries, 1)
	assert.Equal(t, "alpha", f.history.entries[0].Word)
	assert.Equal(t, "user-+15550001111", f.history.entries[0].UserID)
	assert.Equal(t, []string{events.DeliverySent}, f.publisher.keys)
}

func TestProcessorExpiredTrialMidDay(t *testing.T) {
	f := newFixture(t, day.Add(5*time.Minute))
	f.subscribe(t, "+15550001111", day.Add(12*time.Hour))
	first := f.enqueue(t, "+15550001111", "alpha", day.Add(10*time.Hour))
	second := f.enqueue(t, "+15550001111", "beta", day.Add(14*time.Hour))
	third := f.enqueue(t, "+15550001111", "gamma", day.Add(18*time.Hour))
	p := f.processor(outbox.DefaultProcessorConfig())

	f.clock.t = day.Add(10*time.Hour + time.Minute)
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	f.clock.t = day.Add(14 * time.Hour)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ProcessedMessages)
	assert.Equal(t, 1, summary.Expired)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, outbox.OutcomeExpired, summary.Results[0].Outcome)
	assert.Len(t, f.sender.sent, 1, "expired row must not reach the sender")

	assert.Equal(t, db.StatusSent, f.row(t, first.ID).Status)
	expired := f.row(t, second.ID)
	assert.Equal(t, db.StatusFailed, expired.Status)
	assert.Equal(t, outbox.ReasonExpired, expired.LastError)
	assert.Equal(t, db.StatusQueued, f.row(t, third.ID).Status)
	assert.Contains(t, f.publisher.keys, events.DeliveryExpired)
}

func TestProcessorMissingSubscriptionExpires(t *testing.T) {
	f := newFixture(t, day.Add(10*time.Hour))
	msg := f.enqueue(t, "+19990000000", "alpha", day.Add(9*time.Hour))

	summary, err := f.processor(outbox.DefaultProcessorConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Expired)
	assert.Equal(t, db.StatusFailed, f.row(t, msg.ID).Status)
	assert.Empty(t, f.sender.sent)
}

func TestProcessorRerunWithNothingDue(t *testing.T) {
	f := newFixture(t, day.Add(11*time.Hour))
	f.subscribe(t, "+15550001111", day.AddDate(0, 0, 7))
	f.enqueue(t, "+15550001111", "alpha", day.Add(10*time.Hour))
	p := f.processor(outbox.DefaultProcessorConfig())

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.ProcessedMessages)
	assert.Empty(t, summary.Results)
	assert.Len(t, f.sender.sent, 1)
}

func TestProcessorRetriesWithBackoff(t *testing.T) {
	start := day.Add(10 * time.Hour)
	f := newFixture(t, start)
	f.subscribe(t, "+15550001111", day.AddDate(0, 0, 7))
	msg := f.enqueue(t, "+15550001111", "alpha", start)
	transient := errors.New("provider unavailable")
	f.sender.errs = []error{transient, transient, transient}

	p := f.processor(outbox.ProcessorConfig{
		BatchSize:        10,
		MaxRetries:       2,
		RetryBackoffBase: time.Minute,
		RetryBackoffMax:  90 * time.Second,
	})
	ctx := context.Background()

	summary, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Retrying)
	row := f.row(t, msg.ID)
	assert.Equal(t, db.StatusQueued, row.Status)
	assert.Equal(t, 1, row.RetryCount)
	require.NotNil(t, row.NextAttemptAt)
	assert.True(t, row.NextAttemptAt.Equal(start.Add(time.Minute)))
	assert.Equal(t, "provider unavailable", row.LastError)

	summary, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.ProcessedMessages, "row must wait for its backoff")

	f.clock.t = start.Add(time.Minute)
	summary, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Retrying)
	row = f.row(t, msg.ID)
	assert.Equal(t, 2, row.RetryCount)
	require.NotNil(t, row.NextAttemptAt)
	assert.True(t, row.NextAttemptAt.Equal(f.clock.t.Add(90*time.Second)), "backoff is capped")

	f.clock.t = f.clock.t.Add(90 * time.Second)
	summary, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	row = f.row(t, msg.ID)
	assert.Equal(t, db.StatusFailed, row.Status)
	assert.Equal(t, 3, row.RetryCount)
	assert.Empty(t, f.sender.sent)
	assert.Equal(t, []string{events.DeliveryRetrying, events.DeliveryRetrying, events.DeliveryFailed}, f.publisher.keys)
}

func TestProcessorZeroRetriesIsTerminal(t *testing.T) {
	f := newFixture(t, day.Add(10*time.Hour))
	f.subscribe(t, "+15550001111", day.AddDate(0, 0, 7))
	msg := f.enqueue(t, "+15550001111", "alpha", day.Add(10*time.Hour))
	f.sender.errs = []error{errors.New("timeout")}

	cfg := outbox.DefaultProcessorConfig()
	cfg.MaxRetries = 0
	summary, err := f.processor(cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	row := f.row(t, msg.ID)
	assert.Equal(t, db.StatusFailed, row.Status)
	assert.Equal(t, 1, row.RetryCount)
	assert.Equal(t, "timeout", row.LastError)
}

func TestProcessorPermanentErrorIsNotRetried(t *testing.T) {
	f := newFixture(t, day.Add(10*time.Hour))
	f.subscribe(t, "+15550001111", day.AddDate(0, 0, 7))
	msg := f.enqueue(t, "+15550001111", "alpha", day.Add(10*time.Hour))
	f.sender.errs = []error{fmt.Errorf("%w: invalid recipient", messaging.ErrPermanent)}

	summary, err := f.processor(outbox.DefaultProcessorConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, db.StatusFailed, f.row(t, msg.ID).Status)
}

func TestProcessorIsolatesRowFailures(t *testing.T) {
	f := newFixture(t, day.Add(10*time.Hour))
	f.subscribe(t, "+1", day.AddDate(0, 0, 7))
	f.subscribe(t, "+2", day.AddDate(0, 0, 7))
	bad := f.enqueue(t, "+1", "alpha", day.Add(9*time.Hour))
	good := f.enqueue(t, "+2", "beta", day.Add(9*time.Hour))
	f.sender.errs = []error{fmt.Errorf("%w: blocked", messaging.ErrPermanent), nil}
	f.history.err = errors.New("history down")

	summary, err := f.processor(outbox.DefaultProcessorConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ProcessedMessages)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, db.StatusFailed, f.row(t, bad.ID).Status)
	assert.Equal(t, db.StatusSent, f.row(t, good.ID).Status, "history failure must not undo the send")
}

func TestProcessorReclaimsStaleSendingRows(t *testing.T) {
	start := day.Add(10 * time.Hour)
	f := newFixture(t, start)
	f.subscribe(t, "+15550001111", day.AddDate(0, 0, 7))
	msg := f.enqueue(t, "+15550001111", "alpha", start)
	require.NoError(t, f.store.Claim(context.Background(), msg.ID))

	p := f.processor(outbox.DefaultProcessorConfig())
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.Reclaimed)
	assert.Equal(t, 0, summary.ProcessedMessages)

	f.clock.t = start.Add(11 * time.Minute)
	summary, err = p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Reclaimed)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, db.StatusSent, f.row(t, msg.ID).Status)
}

// racingEntitlements claims the row through the store before answering, as
// an overlapping run would.
type racingEntitlements struct {
	store *outbox.Store
	id    uint
}

func (r racingEntitlements) Entitled(ctx context.Context, _ string) (bool, error) {
	if err := r.store.Claim(ctx, r.id); err != nil {
		return false, err
	}
	return true, nil
}

func TestProcessorSkipsRowClaimedElsewhere(t *testing.T) {
	f := newFixture(t, day.Add(10*time.Hour))
	msg := f.enqueue(t, "+15550001111", "alpha", day.Add(10*time.Hour))

	p := outbox.NewProcessor(f.store, racingEntitlements{store: f.store, id: msg.ID}, f.sender,
		outbox.DefaultProcessorConfig(), outbox.WithClock(f.clock.Now))
	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, f.sender.sent)
	assert.Equal(t, db.StatusSending, f.row(t, msg.ID).Status)
}

type failingEntitlements struct{}

func (failingEntitlements) Entitled(context.Context, string) (bool, error) {
	return false, errors.New("db down")
}

func TestProcessorLeavesRowQueuedWhenEntitlementLookupFails(t *testing.T) {
	f := newFixture(t, day.Add(10*time.Hour))
	msg := f.enqueue(t, "+15550001111", "alpha", day.Add(10*time.Hour))

	p := outbox.NewProcessor(f.store, failingEntitlements{}, f.sender, outbox.DefaultProcessorConfig(), outbox.WithClock(f.clock.Now))
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, db.StatusQueued, f.row(t, msg.ID).Status)
}
