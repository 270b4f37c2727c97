package domain

import (
	"time"

	"github.com/google/uuid"
)

// PlanLevel is the tier of a recurring subscription.
type PlanLevel string

const (
	PlanLevelPremium  PlanLevel = "premium"
	PlanLevelStandard PlanLevel = "standard"
)

// Covers reports whether a plan of this level grants access to articles of
// the given access level. Premium covers everything, Standard covers
// standard and free articles.
func (p PlanLevel) Covers(level AccessLevel) bool {
	switch p {
	case PlanLevelPremium:
		return true
	case PlanLevelStandard:
		return level != AccessLevelPremium
	}
	return false
}

// MetadataLevelKey is the Stripe metadata key carrying the plan tag on price
// objects. The processor echoes it back verbatim in webhook payloads.
const MetadataLevelKey = "level"

// PlanLevelFromMetadata maps the "level" tag of a Stripe metadata map to a
// plan level. The mapping is strict: anything but "Premium" or "Standard",
// including an absent or empty tag, is ErrInvalidMetadata.
func PlanLevelFromMetadata(metadata map[string]string) (PlanLevel, error) {
	switch metadata[MetadataLevelKey] {
	case "Premium":
		return PlanLevelPremium, nil
	case "Standard":
		return PlanLevelStandard, nil
	default:
		return "", ErrInvalidMetadata
	}
}

// SubscriptionStatus mirrors the Stripe subscription status values the
// platform cares about.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid   SubscriptionStatus = "unpaid"
)

// Entitled reports whether the status still grants access.
func (s SubscriptionStatus) Entitled() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// Subscription is the local mirror of a Stripe subscription, one per user.
// It is created and updated exclusively by webhook reconciliation.
type Subscription struct {
	ID                   uuid.UUID          `json:"id"`
	UserID               uuid.UUID          `json:"user_id"`
	StripeSubscriptionID string             `json:"stripe_subscription_id"`
	PriceID              string             `json:"price_id"`
	Level                PlanLevel          `json:"level"`
	Status               SubscriptionStatus `json:"status"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}
