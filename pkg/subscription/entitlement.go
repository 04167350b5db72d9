package subscription

import (
	"time"

	"github.com/smith3v/wa-word-reminder/pkg/db"
)

// IsEntitled reports whether sub may receive messages at now. Expiry
// instants are exclusive: a subscription is not entitled at the exact moment
// it ends.
func IsEntitled(sub db.Subscription, now time.Time) bool {
	if sub.TrialEndsAt != nil && now.Before(*sub.TrialEndsAt) {
		return true
	}
	if sub.Plan != db.PlanPro {
		return false
	}
	return sub.ProEndsAt == nil || now.Before(*sub.ProEndsAt)
}

// HasOwner reports whether the subscription is linked to a user account.
func HasOwner(sub db.Subscription) bool {
	return sub.UserID != nil && *sub.UserID != ""
}
