package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the root entity of the platform. StripeCustomerID is assigned
// lazily on the first billing operation and never changes afterwards.
type User struct {
	ID               uuid.UUID `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name,omitempty"`
	Image            string    `json:"image,omitempty"`
	PasswordHash     string    `json:"-"`
	StripeCustomerID *string   `json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasCustomer reports whether the user already has a provisioned Stripe customer.
func (u *User) HasCustomer() bool {
	return u.StripeCustomerID != nil && *u.StripeCustomerID != ""
}
