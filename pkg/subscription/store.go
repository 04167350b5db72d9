package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smith3v/wa-word-reminder/pkg/db"
	"gorm.io/gorm"
)

const RenewalPeriod = 30 * 24 * time.Hour

var (
	ErrNotFound        = errors.New("subscription not found")
	ErrRenewalCanceled = errors.New("subscription renewal canceled")
	ErrInvalidPhone    = errors.New("phone must be an E.164 number")
)

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(gdb *gorm.DB, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{db: gdb, now: now}
}

// ListEntitled returns every subscription entitled at the current instant,
// ordered by id.
func (s *Store) ListEntitled(ctx context.Context) ([]db.Subscription, error) {
	now := s.now().UTC()
	var subs []db.Subscription
	err := s.db.WithContext(ctx).
		Where("trial_ends_at > ?", now).
		Or("plan = ? AND (pro_ends_at IS NULL OR pro_ends_at > ?)", db.PlanPro, now).
		Order("id").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("list entitled subscriptions: %w", err)
	}
	return subs, nil
}

func (s *Store) FindByPhone(ctx context.Context, phone string) (*db.Subscription, error) {
	var sub db.Subscription
	err := s.db.WithContext(ctx).Where("phone = ?", normalizePhone(phone)).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return &sub, nil
}

// Entitled looks the subscription up by phone and applies IsEntitled.
// A missing subscription is reported as not entitled.
func (s *Store) Entitled(ctx context.Context, phone string) (bool, error) {
	sub, err := s.FindByPhone(ctx, phone)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return IsEntitled(*sub, s.now().UTC()), nil
}

type TrialParams struct {
	Phone         string
	UserID        *string
	Category      string
	PreferredTime *string
}

// StartTrial creates a trial subscription. An existing subscription for the
// phone is returned unchanged.
func (s *Store) StartTrial(ctx context.Context, params TrialParams, trialDays int) (*db.Subscription, error) {
	phone, err := ValidatePhone(params.Phone)
	if err != nil {
		return nil, err
	}
	if existing, err := s.FindByPhone(ctx, phone); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	trialEnds := s.now().UTC().Add(time.Duration(trialDays) * 24 * time.Hour)
	sub := db.Subscription{
		Phone:         phone,
		UserID:        params.UserID,
		Plan:          db.PlanTrial,
		TrialEndsAt:   &trialEnds,
		Category:      categoryOrDefault(params.Category),
		PreferredTime: params.PreferredTime,
	}
	if err := s.db.WithContext(ctx).Create(&sub).Error; err != nil {
		return nil, fmt.Errorf("create trial subscription: %w", err)
	}
	return &sub, nil
}

// ActivatePro moves the phone onto the pro plan until periodEnd, creating the
// subscription when payment arrives before signup. A nil periodEnd never
// expires.
func (s *Store) ActivatePro(ctx context.Context, phone string, periodEnd *time.Time) (*db.Subscription, error) {
	phone = normalizePhone(phone)
	var end *time.Time
	if periodEnd != nil {
		utc := periodEnd.UTC()
		end = &utc
	}

	sub, err := s.FindByPhone(ctx, phone)
	if errors.Is(err, ErrNotFound) {
		if phone, err = ValidatePhone(phone); err != nil {
			return nil, err
		}
		sub = &db.Subscription{Phone: phone, Category: categoryOrDefault("")}
	} else if err != nil {
		return nil, err
	}
	sub.Plan = db.PlanPro
	sub.ProEndsAt = end
	sub.RenewalCanceled = false
	if err := s.db.WithContext(ctx).Save(sub).Error; err != nil {
		return nil, fmt.Errorf("activate pro: %w", err)
	}
	return sub, nil
}

// Renew extends the pro period by RenewalPeriod from the later of now and the
// current expiry.
func (s *Store) Renew(ctx context.Context, phone string) (*db.Subscription, error) {
	sub, err := s.FindByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if sub.RenewalCanceled {
		return nil, ErrRenewalCanceled
	}
	now := s.now().UTC()
	indefinite := sub.Plan == db.PlanPro && sub.ProEndsAt == nil
	if !indefinite {
		base := now
		if sub.ProEndsAt != nil && sub.ProEndsAt.After(now) {
			base = *sub.ProEndsAt
		}
		end := base.Add(RenewalPeriod)
		sub.ProEndsAt = &end
	}
	sub.Plan = db.PlanPro
	if err := s.db.WithContext(ctx).Save(sub).Error; err != nil {
		return nil, fmt.Errorf("renew subscription: %w", err)
	}
	return sub, nil
}

// Cancel stops future renewals. The current period is kept.
func (s *Store) Cancel(ctx context.Context, phone string) (*db.Subscription, error) {
	sub, err := s.FindByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	sub.RenewalCanceled = true
	if err := s.db.WithContext(ctx).Save(sub).Error; err != nil {
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}
	return sub, nil
}

// AssignUser links a phone-only subscription to a user account.
func (s *Store) AssignUser(ctx context.Context, phone, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id is required")
	}
	res := s.db.WithContext(ctx).Model(&db.Subscription{}).
		Where("phone = ?", normalizePhone(phone)).
		Update("user_id", userID)
	if res.Error != nil {
		return fmt.Errorf("assign user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizePhone(phone string) string {
	return db.NormalizePhone(phone)
}

// ValidatePhone normalizes phone and checks that the result is E.164.
func ValidatePhone(phone string) (string, error) {
	phone = normalizePhone(phone)
	if err := validate.Var(phone, "required,e164"); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}
	return phone, nil
}

func categoryOrDefault(category string) string {
	if strings.TrimSpace(category) == "" {
		return "general"
	}
	return strings.TrimSpace(category)
}
