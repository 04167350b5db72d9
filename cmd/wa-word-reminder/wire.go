package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-telegram/bot"
	"github.com/smith3v/wa-word-reminder/pkg/config"
	"github.com/smith3v/wa-word-reminder/pkg/db"
	"github.com/smith3v/wa-word-reminder/pkg/events"
	"github.com/smith3v/wa-word-reminder/pkg/jobs"
	"github.com/smith3v/wa-word-reminder/pkg/logger"
	"github.com/smith3v/wa-word-reminder/pkg/messaging"
	"github.com/smith3v/wa-word-reminder/pkg/notify"
	"github.com/smith3v/wa-word-reminder/pkg/outbox"
	"github.com/smith3v/wa-word-reminder/pkg/scheduler"
	"github.com/smith3v/wa-word-reminder/pkg/subscription"
	"github.com/smith3v/wa-word-reminder/pkg/vocab"
)

// app holds everything the jobs need, built once per process.
type app struct {
	subs      *subscription.Store
	outbox    *outbox.Store
	pool      *vocab.PoolStore
	scheduler *scheduler.Scheduler
	processor *outbox.Processor
	runner    *jobs.Runner
	publisher events.Publisher
	closers   []func() error
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}
	now := time.Now

	a.subs = subscription.NewStore(db.DB, now)
	a.outbox = outbox.NewStore(db.DB, now)
	a.pool = vocab.NewPoolStore(db.DB)
	history := vocab.NewHistoryStore(db.DB)

	var generator vocab.Generator
	if cfg.OpenAI.APIKey != "" {
		g, err := vocab.NewOpenAIGenerator(vocab.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Timeout: cfg.OpenAI.Timeout(),
		}, nil)
		if err != nil {
			return nil, err
		}
		generator = g
	} else {
		logger.Info("openai api key not set, word generation disabled")
	}
	lookback := time.Duration(cfg.Scheduler.LookbackDays) * 24 * time.Hour
	selector := vocab.NewSelector(a.pool, history, generator, lookback, now)

	a.scheduler = scheduler.New(a.subs, a.outbox, selector,
		scheduler.WithNotifier(buildNotifier(cfg.Notify)),
		scheduler.WithTemplateName(cfg.Scheduler.TemplateName),
	)

	sender, err := buildSender(cfg.WhatsApp)
	if err != nil {
		return nil, err
	}

	a.publisher = events.NoopPublisher{}
	if cfg.RabbitMQ.URL != "" {
		pub, err := events.NewRabbitMQPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return nil, err
		}
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
	}

	a.processor = outbox.NewProcessor(a.outbox, a.subs, sender, outbox.ProcessorConfig{
		BatchSize:        cfg.Outbox.BatchSize,
		MaxRetries:       cfg.Outbox.Retries(),
		RetryBackoffBase: cfg.Outbox.RetryBackoffBase(),
		RetryBackoffMax:  cfg.Outbox.RetryBackoffMax(),
		StaleAfter:       cfg.Outbox.StaleAfter(),
	}, outbox.WithHistory(history), outbox.WithPublisher(a.publisher))

	var lock jobs.Lock = jobs.NewLocalLock()
	if cfg.Redis.URL != "" {
		client, err := jobs.ConnectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			a.close()
			return nil, err
		}
		lock = jobs.NewRedisLock(client)
		a.closers = append(a.closers, client.Close)
	}
	a.runner = jobs.NewRunner(lock, jobs.DefaultLockTTL)

	return a, nil
}

func buildSender(cfg config.WhatsAppConfig) (messaging.Sender, error) {
	if cfg.DryRun {
		logger.Warn("whatsapp dry run enabled, messages are only logged")
		return messaging.LogSender{}, nil
	}
	return messaging.NewWhatsAppSender(messaging.WhatsAppConfig{
		APIURL:        cfg.APIURL,
		PhoneNumberID: cfg.PhoneNumberID,
		Token:         cfg.Token,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		Timeout:       cfg.Timeout(),
	}, &http.Client{Timeout: cfg.Timeout()})
}

func buildNotifier(cfg config.NotifyConfig) notify.Notifier {
	var multi notify.Multi
	if cfg.Email.Host != "" {
		n, err := notify.NewEmailNotifier(notify.EmailConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
		})
		if err != nil {
			logger.Warn("email notifier disabled", "error", err)
		} else {
			multi = append(multi, n)
		}
	}
	if cfg.Telegram.Token != "" {
		n, err := notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, bot.WithSkipGetMe())
		if err != nil {
			logger.Warn("telegram notifier disabled", "error", err)
		} else {
			multi = append(multi, n)
		}
	}
	if len(multi) == 0 {
		return notify.LogNotifier{}
	}
	return multi
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("failed to close resource", "error", err)
		}
	}
}
