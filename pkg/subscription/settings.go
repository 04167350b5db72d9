package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/smith3v/wa-word-reminder/pkg/db"
)

const (
	DefaultWordsPerDay = 3
	MinWordsPerDay     = 1
	MaxWordsPerDay     = 5
	DefaultTimezone    = "UTC"
)

var ErrInvalidSettings = errors.New("invalid delivery settings")

var validate = validator.New(validator.WithRequiredStructEnabled())

type SettingsInput struct {
	WordsPerDay int      `validate:"min=1,max=5"`
	Mode        string   `validate:"oneof=auto custom"`
	CustomTimes []string `validate:"max=5,dive,datetime=15:04"`
	Timezone    string   `validate:"required,timezone"`
}

// ValidateSettings checks field bounds and that custom times never outnumber
// the daily word count.
func ValidateSettings(in SettingsInput) error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if len(in.CustomTimes) > in.WordsPerDay {
		return fmt.Errorf("%w: %d custom times for %d words per day", ErrInvalidSettings, len(in.CustomTimes), in.WordsPerDay)
	}
	if in.Mode == db.DeliveryModeCustom && len(in.CustomTimes) == 0 {
		return fmt.Errorf("%w: custom mode needs at least one time", ErrInvalidSettings)
	}
	return nil
}

func DefaultSettings(userID string) db.DeliverySettings {
	return db.DeliverySettings{
		UserID:      userID,
		WordsPerDay: DefaultWordsPerDay,
		Mode:        db.DeliveryModeAuto,
		CustomTimes: db.EncodeTimes(nil),
		Timezone:    DefaultTimezone,
	}
}

// LoadOrCreateSettings returns the user's delivery settings, persisting the
// defaults the first time the user is seen.
func (s *Store) LoadOrCreateSettings(ctx context.Context, userID string) (db.DeliverySettings, error) {
	var settings db.DeliverySettings
	defaults := DefaultSettings(userID)
	err := s.db.WithContext(ctx).
		Where(db.DeliverySettings{UserID: userID}).
		Attrs(db.DeliverySettings{
			WordsPerDay: defaults.WordsPerDay,
			Mode:        defaults.Mode,
			CustomTimes: defaults.CustomTimes,
			Timezone:    defaults.Timezone,
		}).
		FirstOrCreate(&settings).Error
	if err != nil {
		return db.DeliverySettings{}, fmt.Errorf("load delivery settings: %w", err)
	}
	return settings, nil
}

// InputFrom returns the stored settings as an update input, so callers can
// change single fields and keep the rest.
func InputFrom(settings db.DeliverySettings) SettingsInput {
	return SettingsInput{
		WordsPerDay: settings.WordsPerDay,
		Mode:        settings.Mode,
		CustomTimes: settings.Times(),
		Timezone:    settings.Timezone,
	}
}

func (s *Store) UpdateSettings(ctx context.Context, userID string, in SettingsInput) (db.DeliverySettings, error) {
	in.Mode = strings.ToLower(strings.TrimSpace(in.Mode))
	if strings.TrimSpace(in.Timezone) == "" {
		in.Timezone = DefaultTimezone
	}
	if err := ValidateSettings(in); err != nil {
		return db.DeliverySettings{}, err
	}

	settings, err := s.LoadOrCreateSettings(ctx, userID)
	if err != nil {
		return db.DeliverySettings{}, err
	}
	settings.WordsPerDay = in.WordsPerDay
	settings.Mode = in.Mode
	settings.CustomTimes = db.EncodeTimes(in.CustomTimes)
	settings.Timezone = in.Timezone
	if err := s.db.WithContext(ctx).Save(&settings).Error; err != nil {
		return db.DeliverySettings{}, fmt.Errorf("save delivery settings: %w", err)
	}
	return settings, nil
}
