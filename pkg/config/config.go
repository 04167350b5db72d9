package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/smith3v/wa-word-reminder/pkg/logger"
)

type Config struct {
	Database     DatabaseConfig     `json:"database"`
	Logging      LoggingConfig      `json:"logging"`
	Server       ServerConfig       `json:"server"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	Outbox       OutboxConfig       `json:"outbox"`
	Subscription SubscriptionConfig `json:"subscription"`
	WhatsApp     WhatsAppConfig     `json:"whatsapp"`
	OpenAI       OpenAIConfig       `json:"openai"`
	Notify       NotifyConfig       `json:"notify"`
	Redis        RedisConfig        `json:"redis"`
	RabbitMQ     RabbitMQConfig     `json:"rabbitmq"`
}

type DatabaseConfig struct {
	Driver   string `json:"driver" validate:"oneof=postgres sqlite"`
	URL      string `json:"url"`
	Host     string `json:"host"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Port     int    `json:"port" validate:"gte=0,lte=65535"`
	SSLMode  string `json:"sslmode"`
	Path     string `json:"path"`
}

type LoggingConfig struct {
	Level     string `json:"level"`
	File      string `json:"file"`
	Format    string `json:"format" validate:"omitempty,oneof=text json"`
	GormLevel string `json:"gorm_level"`
}

type ServerConfig struct {
	Addr                   string `json:"addr" validate:"required"`
	CronSecret             string `json:"cron_secret"`
	WebhookSecret          string `json:"webhook_secret"`
	RateLimitRequests      int    `json:"rate_limit_requests" validate:"gte=1"`
	RateLimitWindowSeconds int    `json:"rate_limit_window_seconds" validate:"gte=1"`
	EnableCron             bool   `json:"enable_cron"`
}

type SchedulerConfig struct {
	RunAt        string `json:"run_at" validate:"datetime=15:04"`
	LookbackDays int    `json:"lookback_days" validate:"gte=1"`
	TemplateName string `json:"template_name" validate:"required"`
}

type OutboxConfig struct {
	BatchSize               int  `json:"batch_size" validate:"gte=1,lte=5000"`
	MaxRetries              *int `json:"max_retries" validate:"omitempty,gte=0,lte=10"`
	RetryBackoffBaseSeconds int  `json:"retry_backoff_base_seconds" validate:"gte=1"`
	RetryBackoffMaxSeconds  int  `json:"retry_backoff_max_seconds" validate:"gtefield=RetryBackoffBaseSeconds"`
	StaleAfterSeconds       int  `json:"stale_after_seconds" validate:"gte=60"`
	RetentionDays           int  `json:"retention_days" validate:"gte=1"`
}

type SubscriptionConfig struct {
	TrialDays int `json:"trial_days" validate:"gte=1"`
}

type WhatsAppConfig struct {
	APIURL         string  `json:"api_url" validate:"required,url"`
	PhoneNumberID  string  `json:"phone_number_id"`
	Token          string  `json:"token"`
	RatePerSecond  float64 `json:"rate_per_second" validate:"gt=0"`
	Burst          int     `json:"burst" validate:"gte=1"`
	TimeoutSeconds int     `json:"timeout_seconds" validate:"gte=1"`
	DryRun         bool    `json:"dry_run"`
}

type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	BaseURL        string `json:"base_url" validate:"required,url"`
	Model          string `json:"model" validate:"required"`
	TimeoutSeconds int    `json:"timeout_seconds" validate:"gte=1"`
}

type NotifyConfig struct {
	Email    EmailConfig    `json:"email"`
	Telegram TelegramConfig `json:"telegram"`
}

type EmailConfig struct {
	Host     string   `json:"host"`
	Port     int      `json:"port" validate:"gte=0,lte=65535"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	From     string   `json:"from" validate:"omitempty,email"`
	To       []string `json:"to" validate:"dive,email"`
}

type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type RabbitMQConfig struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
}

var AppConfig Config

var validate = validator.New(validator.WithRequiredStructEnabled())

func LoadConfig(filename string) error {
	loadDotEnv()

	file, err := os.Open(filename)
	if err != nil {
		logger.Error("failed to open config file", "error", err)
		return err
	}
	defer file.Close()

	var cfg Config
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		logger.Error("failed to decode config file", "error", err)
		return err
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		return err
	}

	AppConfig = cfg
	return nil
}

func (c *Config) Validate() error {
	return validate.Struct(c)
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to load .env file", "error", err)
	}
}

func (c *Config) applyDefaults() {
	setDefault(&c.Database.Driver, "postgres")
	setDefault(&c.Database.SSLMode, "disable")
	if c.Database.Port == 0 && c.Database.Driver == "postgres" {
		c.Database.Port = 5432
	}
	setDefault(&c.Database.Path, "wa-word-reminder.db")

	setDefault(&c.Server.Addr, ":8080")
	setDefaultInt(&c.Server.RateLimitRequests, 30)
	setDefaultInt(&c.Server.RateLimitWindowSeconds, 60)

	setDefault(&c.Scheduler.RunAt, "00:05")
	setDefaultInt(&c.Scheduler.LookbackDays, 30)
	setDefault(&c.Scheduler.TemplateName, "daily_word")

	setDefaultInt(&c.Outbox.BatchSize, 500)
	if c.Outbox.MaxRetries == nil {
		retries := 3
		c.Outbox.MaxRetries = &retries
	}
	setDefaultInt(&c.Outbox.RetryBackoffBaseSeconds, 60)
	setDefaultInt(&c.Outbox.RetryBackoffMaxSeconds, 3600)
	setDefaultInt(&c.Outbox.StaleAfterSeconds, 600)
	setDefaultInt(&c.Outbox.RetentionDays, 30)

	setDefaultInt(&c.Subscription.TrialDays, 7)

	setDefault(&c.WhatsApp.APIURL, "https://graph.facebook.com/v19.0")
	if c.WhatsApp.RatePerSecond == 0 {
		c.WhatsApp.RatePerSecond = 20
	}
	setDefaultInt(&c.WhatsApp.Burst, 5)
	setDefaultInt(&c.WhatsApp.TimeoutSeconds, 15)

	setDefault(&c.OpenAI.BaseURL, "https://api.openai.com/v1")
	setDefault(&c.OpenAI.Model, "gpt-4o-mini")
	setDefaultInt(&c.OpenAI.TimeoutSeconds, 30)

	setDefaultInt(&c.Notify.Email.Port, 587)
	setDefault(&c.RabbitMQ.Exchange, "word-delivery")
}

func (c *Config) applyEnv() {
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)
	c.Server.CronSecret = getEnv("CRON_SECRET", c.Server.CronSecret)
	c.Server.WebhookSecret = getEnv("WEBHOOK_SECRET", c.Server.WebhookSecret)
	c.WhatsApp.Token = getEnv("WHATSAPP_TOKEN", c.WhatsApp.Token)
	c.WhatsApp.PhoneNumberID = getEnv("WHATSAPP_PHONE_NUMBER_ID", c.WhatsApp.PhoneNumberID)
	c.OpenAI.APIKey = getEnv("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.Notify.Email.Password = getEnv("SMTP_PASSWORD", c.Notify.Email.Password)
	c.Notify.Telegram.Token = getEnv("TELEGRAM_TOKEN", c.Notify.Telegram.Token)
	c.Notify.Telegram.ChatID = getInt64Env("TELEGRAM_CHAT_ID", c.Notify.Telegram.ChatID)
	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.RabbitMQ.URL = getEnv("RABBITMQ_URL", c.RabbitMQ.URL)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func getInt64Env(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		logger.Warn("ignoring invalid integer env value", "key", key, "error", err)
		return fallback
	}
	return parsed
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}

func setDefaultInt(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}

func (c ServerConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

// Retries returns the configured retry ceiling; zero makes every send failure terminal.
func (c OutboxConfig) Retries() int {
	if c.MaxRetries == nil {
		return 0
	}
	return *c.MaxRetries
}

func (c OutboxConfig) RetryBackoffBase() time.Duration {
	return time.Duration(c.RetryBackoffBaseSeconds) * time.Second
}

func (c OutboxConfig) RetryBackoffMax() time.Duration {
	return time.Duration(c.RetryBackoffMaxSeconds) * time.Second
}

func (c OutboxConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSeconds) * time.Second
}

func (c OutboxConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func (c WhatsAppConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
