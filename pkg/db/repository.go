// pkg/db/repository.go
package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/smith3v/wa-word-reminder/pkg/config"
	"github.com/smith3v/wa-word-reminder/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Export DB variable
var DB *gorm.DB

func InitDB(cfg config.DatabaseConfig) error {
	dialector, err := openDialector(cfg)
	if err != nil {
		logger.Error("invalid database config", "error", err)
		return err
	}
	gormLogger, gormErr := newGormLogger(config.AppConfig.Logging.GormLevel)
	if gormErr != nil {
		logger.Error("invalid gorm log level", "value", config.AppConfig.Logging.GormLevel, "error", gormErr)
	}
	DB, err = gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		logger.Error("failed to connect to database", "driver", cfg.Driver, "error", err)
		return err
	}
	if err := Migrate(DB); err != nil {
		logger.Error("failed to migrate database", "error", err)
		return err
	}
	return nil
}

func openDialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sqlite":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("sqlite path is required")
		}
		return sqlite.Open(cfg.Path), nil
	case "", "postgres":
		return postgres.Open(postgresDSN(cfg)), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func postgresDSN(cfg config.DatabaseConfig) string {
	if strings.TrimSpace(cfg.URL) != "" {
		return cfg.URL
	}
	return "host=" + cfg.Host +
		" user=" + cfg.User +
		" password=" + cfg.Password +
		" dbname=" + cfg.DBName +
		" port=" + strconv.Itoa(cfg.Port) +
		" sslmode=" + cfg.SSLMode
}

func Migrate(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	if err := db.AutoMigrate(&Subscription{}, &DeliverySettings{}, &VocabularyWord{}, &WordHistory{}, &OutboxMessage{}); err != nil {
		return err
	}
	if err := migrateDueIndex(db); err != nil {
		return fmt.Errorf("migrate due index: %w", err)
	}
	if err := migrateStatusConstraint(db); err != nil {
		return fmt.Errorf("migrate status constraint: %w", err)
	}
	return nil
}

// migrateDueIndex adds a partial index over queued rows only.
func migrateDueIndex(db *gorm.DB) error {
	switch db.Dialector.Name() {
	case "sqlite", "postgres":
		return db.Exec(`
CREATE INDEX IF NOT EXISTS idx_outbox_due
ON outbox_messages (scheduled_at, id)
WHERE status = 'queued'
`).Error
	default:
		return nil
	}
}

func migrateStatusConstraint(db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	return db.Exec(`
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_constraint WHERE conname = 'outbox_messages_status_check'
  ) THEN
    ALTER TABLE outbox_messages
      ADD CONSTRAINT outbox_messages_status_check
      CHECK (status IN ('queued', 'sending', 'sent', 'failed'));
  END IF;
END $$;
`).Error
}

func Ping(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("database is not initialized")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
