// pkg/db/models.go
package db

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	PlanTrial = "trial"
	PlanPro   = "pro"
)

const (
	DeliveryModeAuto   = "auto"
	DeliveryModeCustom = "custom"
)

const (
	StatusQueued  = "queued"
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

const (
	WordSourceImport = "import"
	WordSourceAI     = "ai"
)

type Subscription struct {
	ID              uint    `gorm:"primaryKey"`
	Phone           string  `gorm:"not null;uniqueIndex"`
	UserID          *string `gorm:"index"` // nil for phone-only signups
	Plan            string  `gorm:"not null;default:trial"`
	TrialEndsAt     *time.Time
	ProEndsAt       *time.Time // nil means the pro plan does not expire
	RenewalCanceled bool       `gorm:"not null;default:false"`
	Category        string     `gorm:"not null;default:general"`
	PreferredTime   *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type DeliverySettings struct {
	ID          uint           `gorm:"primaryKey"`
	UserID      string         `gorm:"not null;uniqueIndex"`
	WordsPerDay int            `gorm:"not null;default:3"`
	Mode        string         `gorm:"not null;default:auto"`
	CustomTimes datatypes.JSON `gorm:"not null"`
	Timezone    string         `gorm:"not null;default:UTC"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (DeliverySettings) TableName() string {
	return "delivery_settings"
}

// Times decodes the stored custom times. Invalid JSON yields no times.
func (s DeliverySettings) Times() []string {
	if len(s.CustomTimes) == 0 {
		return nil
	}
	var times []string
	if err := json.Unmarshal(s.CustomTimes, &times); err != nil {
		return nil
	}
	return times
}

func EncodeTimes(times []string) datatypes.JSON {
	if times == nil {
		times = []string{}
	}
	raw, _ := json.Marshal(times)
	return datatypes.JSON(raw)
}

type VocabularyWord struct {
	ID            uint   `gorm:"primaryKey"`
	Category      string `gorm:"not null;uniqueIndex:idx_vocab_category_word"`
	Word          string `gorm:"not null;uniqueIndex:idx_vocab_category_word"`
	Pronunciation string
	Definition    string
	Example       string
	MemoryAid     string
	PartOfSpeech  string
	Source        string `gorm:"not null;default:import"`
	CreatedAt     time.Time
}

type WordHistory struct {
	ID       uint      `gorm:"primaryKey"`
	UserID   string    `gorm:"not null;index:idx_history_user_sent,priority:1"`
	Word     string    `gorm:"not null"`
	Category string    `gorm:"not null;default:''"`
	SentAt   time.Time `gorm:"not null;index:idx_history_user_sent,priority:2"`
	Source   string
}

func (WordHistory) TableName() string {
	return "word_history"
}

type OutboxMessage struct {
	ID                uint           `gorm:"primaryKey"`
	Phone             string         `gorm:"not null;index:idx_outbox_phone_created,priority:1"`
	UserID            string         `gorm:"not null;index"`
	TemplateName      string         `gorm:"not null"`
	Variables         datatypes.JSON `gorm:"not null"`
	ScheduledAt       time.Time      `gorm:"not null;index:idx_outbox_status_scheduled,priority:2"`
	Status            string         `gorm:"not null;default:queued;index:idx_outbox_status_scheduled,priority:1"`
	RetryCount        int            `gorm:"not null;default:0"`
	NextAttemptAt     *time.Time
	ClaimedAt         *time.Time
	SentAt            *time.Time
	ProviderMessageID string
	LastError         string
	Source            string
	CreatedAt         time.Time `gorm:"index:idx_outbox_phone_created,priority:2"`
	UpdatedAt         time.Time
}

// MessageVariables is the rendered content carried by an outbox row.
type MessageVariables struct {
	Word          string `json:"word"`
	Pronunciation string `json:"pronunciation,omitempty"`
	Definition    string `json:"definition,omitempty"`
	Example       string `json:"example,omitempty"`
	MemoryAid     string `json:"memory_aid,omitempty"`
	PartOfSpeech  string `json:"part_of_speech,omitempty"`
	Category      string `json:"category,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

func EncodeVariables(v MessageVariables) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func (m OutboxMessage) DecodeVariables() (MessageVariables, error) {
	var v MessageVariables
	if len(m.Variables) == 0 {
		return v, nil
	}
	err := json.Unmarshal(m.Variables, &v)
	return v, err
}
