package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smith3v/wa-word-reminder/pkg/db"
	"github.com/smith3v/wa-word-reminder/pkg/events"
	"github.com/smith3v/wa-word-reminder/pkg/logger"
	"github.com/smith3v/wa-word-reminder/pkg/messaging"
	"github.com/smith3v/wa-word-reminder/pkg/metrics"
)

const ReasonExpired = "subscription expired"

type Outcome string

const (
	OutcomeSent     Outcome = "sent"
	OutcomeFailed   Outcome = "failed"
	OutcomeExpired  Outcome = "expired"
	OutcomeRetrying Outcome = "retrying"
	OutcomeSkipped  Outcome = "skipped"
)

// ProcessorConfig holds configuration for the outbox processor.
type ProcessorConfig struct {
	BatchSize        int
	MaxRetries       int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
	StaleAfter       time.Duration
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:        500,
		MaxRetries:       3,
		RetryBackoffBase: time.Minute,
		RetryBackoffMax:  time.Hour,
		StaleAfter:       10 * time.Minute,
	}
}

// Entitlements answers whether the subscription behind a phone may still
// receive messages.
type Entitlements interface {
	Entitled(ctx context.Context, phone string) (bool, error)
}

type HistoryWriter interface {
	Append(ctx context.Context, entry db.WordHistory) error
}

type Result struct {
	ID                uint       `json:"id"`
	Phone             string     `json:"phone"`
	Outcome           Outcome    `json:"outcome"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	Error             string     `json:"error,omitempty"`
	NextAttemptAt     *time.Time `json:"next_attempt_at,omitempty"`
}

type Summary struct {
	ProcessedMessages int      `json:"processedMessages"`
	Sent              int      `json:"sent"`
	Failed            int      `json:"failed"`
	Expired           int      `json:"expired"`
	Retrying          int      `json:"retrying"`
	Skipped           int      `json:"skipped"`
	Reclaimed         int64    `json:"reclaimed"`
	Results           []Result `json:"results"`
}

func (s *Summary) add(r Result) {
	switch r.Outcome {
	case OutcomeSent:
		s.Sent++
	case OutcomeFailed:
		s.Failed++
	case OutcomeExpired:
		s.Expired++
	case OutcomeRetrying:
		s.Retrying++
	case OutcomeSkipped:
		s.Skipped++
	}
	s.Results = append(s.Results, r)
	metrics.OutboxOutcomes.WithLabelValues(string(r.Outcome)).Inc()
}

type ProcessorOption func(*Processor)

func WithHistory(h HistoryWriter) ProcessorOption {
	return func(p *Processor) { p.history = h }
}

func WithPublisher(pub events.Publisher) ProcessorOption {
	return func(p *Processor) { p.publisher = pub }
}

func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// Processor drains due outbox rows to the sender.
type Processor struct {
	store        *Store
	entitlements Entitlements
	sender       messaging.Sender
	history      HistoryWriter
	publisher    events.Publisher
	config       ProcessorConfig
	now          func() time.Time
}

func NewProcessor(store *Store, entitlements Entitlements, sender messaging.Sender, config ProcessorConfig, opts ...ProcessorOption) *Processor {
	defaults := DefaultProcessorConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBackoffBase <= 0 {
		config.RetryBackoffBase = defaults.RetryBackoffBase
	}
	if config.RetryBackoffMax <= 0 {
		config.RetryBackoffMax = defaults.RetryBackoffMax
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	p := &Processor{
		store:        store,
		entitlements: entitlements,
		sender:       sender,
		publisher:    events.NoopPublisher{},
		config:       config,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes one batch of due rows. Only failing to load the batch is an
// error; per-row problems are reported in the summary.
func (p *Processor) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{Results: []Result{}}

	reclaimed, err := p.store.ReclaimStale(ctx, p.config.StaleAfter)
	if err != nil {
		logger.Error("failed to reclaim stale outbox rows", "error", err)
	} else if reclaimed > 0 {
		summary.Reclaimed = reclaimed
		metrics.OutboxReclaimed.Add(float64(reclaimed))
		logger.Warn("reclaimed stale outbox rows", "count", reclaimed, "stale_after", p.config.StaleAfter)
	}

	rows, err := p.store.SelectDue(ctx, p.config.BatchSize)
	if err != nil {
		return nil, err
	}
	summary.ProcessedMessages = len(rows)

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			logger.Warn("outbox run interrupted", "remaining", len(rows)-len(summary.Results), "error", err)
			break
		}
		summary.add(p.processRow(ctx, row))
	}

	logger.Info("outbox run finished",
		"processed", summary.ProcessedMessages,
		"sent", summary.Sent,
		"failed", summary.Failed,
		"expired", summary.Expired,
		"retrying", summary.Retrying,
		"skipped", summary.Skipped,
		"reclaimed", summary.Reclaimed,
	)
	return summary, nil
}

func (p *Processor) processRow(ctx context.Context, row db.OutboxMessage) Result {
	result := Result{ID: row.ID, Phone: row.Phone}

	entitled, err := p.entitlements.Entitled(ctx, row.Phone)
	if err != nil {
		logger.Error("entitlement lookup failed", "id", row.ID, "phone", row.Phone, "error", err)
		result.Outcome = OutcomeSkipped
		result.Error = fmt.Sprintf("entitlement lookup: %v", err)
		return result
	}
	if !entitled {
		if err := p.store.FailQueued(ctx, row.ID, ReasonExpired); err != nil {
			return p.skipped(result, row, "expire", err)
		}
		result.Outcome = OutcomeExpired
		result.Error = ReasonExpired
		p.publish(ctx, events.DeliveryExpired, row, result)
		return result
	}

	if err := p.store.Claim(ctx, row.ID); err != nil {
		return p.skipped(result, row, "claim", err)
	}

	vars, err := row.DecodeVariables()
	if err != nil {
		return p.fail(ctx, result, row, row.RetryCount, fmt.Errorf("%w: decode variables: %v", messaging.ErrPermanent, err))
	}

	providerID, err := p.sender.Send(ctx, messaging.Message{
		To:           row.Phone,
		Body:         messaging.Render(vars, p.now()),
		TemplateName: row.TemplateName,
	})
	if err != nil {
		return p.fail(ctx, result, row, row.RetryCount+1, err)
	}

	result.Outcome = OutcomeSent
	result.ProviderMessageID = providerID
	if err := p.store.MarkSent(ctx, row.ID, providerID); err != nil {
		// The message is out; the row stays in sending until reclaimed.
		logger.Error("failed to mark outbox row sent", "id", row.ID, "provider_message_id", providerID, "error", err)
		result.Error = fmt.Sprintf("record sent: %v", err)
	}
	p.appendHistory(ctx, row, vars)
	p.publish(ctx, events.DeliverySent, row, result)
	return result
}

func (p *Processor) fail(ctx context.Context, result Result, row db.OutboxMessage, retryCount int, sendErr error) Result {
	result.Error = sendErr.Error()

	if !messaging.IsPermanent(sendErr) && retryCount <= p.config.MaxRetries {
		next := p.now().UTC().Add(p.retryBackoff(retryCount))
		if err := p.store.Requeue(ctx, row.ID, retryCount, next, result.Error); err != nil {
			logger.Error("failed to requeue outbox row", "id", row.ID, "error", err)
			result.Error = fmt.Sprintf("%s; requeue: %v", result.Error, err)
		}
		logger.Warn("send failed, will retry", "id", row.ID, "phone", row.Phone, "retry_count", retryCount, "next_attempt_at", next, "error", sendErr)
		result.Outcome = OutcomeRetrying
		result.NextAttemptAt = &next
		row.RetryCount = retryCount
		p.publish(ctx, events.DeliveryRetrying, row, result)
		return result
	}

	if err := p.store.MarkFailed(ctx, row.ID, retryCount, result.Error); err != nil {
		logger.Error("failed to mark outbox row failed", "id", row.ID, "error", err)
		result.Error = fmt.Sprintf("%s; record failure: %v", result.Error, err)
	}
	logger.Warn("send failed", "id", row.ID, "phone", row.Phone, "retry_count", retryCount, "error", sendErr)
	result.Outcome = OutcomeFailed
	row.RetryCount = retryCount
	p.publish(ctx, events.DeliveryFailed, row, result)
	return result
}

func (p *Processor) skipped(result Result, row db.OutboxMessage, step string, err error) Result {
	if errors.Is(err, ErrNotClaimed) {
		logger.Debug("outbox row taken by another run", "id", row.ID, "step", step)
		result.Error = "already claimed"
	} else {
		logger.Error("outbox row update failed", "id", row.ID, "step", step, "error", err)
		result.Error = err.Error()
	}
	result.Outcome = OutcomeSkipped
	return result
}

// retryBackoff returns base * 2^(n-1), capped at the configured maximum.
func (p *Processor) retryBackoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	backoff := p.config.RetryBackoffBase
	for i := 1; i < n; i++ {
		backoff *= 2
		if backoff >= p.config.RetryBackoffMax {
			return p.config.RetryBackoffMax
		}
	}
	if backoff > p.config.RetryBackoffMax {
		return p.config.RetryBackoffMax
	}
	return backoff
}

func (p *Processor) appendHistory(ctx context.Context, row db.OutboxMessage, vars db.MessageVariables) {
	if p.history == nil || row.UserID == "" || vars.Word == "" {
		return
	}
	entry := db.WordHistory{
		UserID:   row.UserID,
		Word:     vars.Word,
		Category: vars.Category,
		SentAt:   p.now().UTC(),
		Source:   fmt.Sprintf("outbox:%d", row.ID),
	}
	if err := p.history.Append(ctx, entry); err != nil {
		logger.Warn("failed to append word history", "id", row.ID, "user_id", row.UserID, "error", err)
	}
}

func (p *Processor) publish(ctx context.Context, routingKey string, row db.OutboxMessage, result Result) {
	vars, _ := row.DecodeVariables()
	evt := events.Delivery{
		OutboxID:          row.ID,
		Phone:             row.Phone,
		UserID:            row.UserID,
		Word:              vars.Word,
		Status:            string(result.Outcome),
		RetryCount:        row.RetryCount,
		ProviderMessageID: result.ProviderMessageID,
		Error:             result.Error,
		NextAttemptAt:     result.NextAttemptAt,
		OccurredAt:        p.now().UTC(),
	}
	if err := events.PublishDelivery(ctx, p.publisher, routingKey, evt); err != nil {
		logger.Warn("failed to publish delivery event", "id", row.ID, "routing_key", routingKey, "error", err)
	}
}
