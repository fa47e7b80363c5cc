package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billflow-backend/pkg/enums"
)

// Subscription persists one named subscription slot for a customer. Rows are
// never deleted; an ends_at in the past marks the subscription as ended. The
// current subscription for a (customer, name) pair is the most recently
// created row with that name.
type Subscription struct {
	ID           uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID   uuid.UUID  `gorm:"column:customer_id;type:uuid;not null;index"`
	Name         string     `gorm:"column:name;not null;index"`
	PaystackPlan string     `gorm:"column:paystack_plan;not null"`
	PaystackID   string     `gorm:"column:paystack_id;not null"`
	PaystackCode string     `gorm:"column:paystack_code;not null;index"`
	Quantity     int        `gorm:"column:quantity;not null;default:1"`
	TrialEndsAt  *time.Time `gorm:"column:trial_ends_at"`
	EndsAt       *time.Time `gorm:"column:ends_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// Active reports whether the subscription grants access at the given instant.
// A scheduled termination still counts as active until ends_at passes.
func (s *Subscription) Active(now time.Time) bool {
	return s.EndsAt == nil || s.EndsAt.After(now)
}

// OnTrial reports whether the trial window is still open.
func (s *Subscription) OnTrial(now time.Time) bool {
	return s.TrialEndsAt != nil && s.TrialEndsAt.After(now)
}

// OnGracePeriod reports whether a cancellation is scheduled but access remains.
func (s *Subscription) OnGracePeriod(now time.Time) bool {
	return s.EndsAt != nil && s.EndsAt.After(now)
}

// Cancelled reports whether a termination has been requested, elapsed or not.
func (s *Subscription) Cancelled() bool {
	return s.EndsAt != nil
}

// Ended reports whether the subscription is cancelled and past its grace period.
func (s *Subscription) Ended(now time.Time) bool {
	return s.Cancelled() && !s.OnGracePeriod(now)
}

// Valid reports whether the subscription grants access for any reason.
func (s *Subscription) Valid(now time.Time) bool {
	return s.Active(now) || s.OnTrial(now) || s.OnGracePeriod(now)
}

// Recurring reports whether the subscription is billing normally, outside of
// any trial and with no cancellation scheduled.
func (s *Subscription) Recurring(now time.Time) bool {
	return !s.OnTrial(now) && !s.Cancelled()
}

// Status derives the display state from the timestamp pair.
func (s *Subscription) Status(now time.Time) enums.SubscriptionStatus {
	switch {
	case s.Ended(now):
		return enums.SubscriptionStatusEnded
	case s.OnGracePeriod(now):
		return enums.SubscriptionStatusGracePeriod
	case s.OnTrial(now):
		return enums.SubscriptionStatusTrialing
	default:
		return enums.SubscriptionStatusActive
	}
}
