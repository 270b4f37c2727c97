package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the state of a one-off purchase payment. Checkout uses
// manual capture, so a purchase passes through "authorized" before funds are
// settled.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusSucceeded  PaymentStatus = "succeeded"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCanceled   PaymentStatus = "canceled"
)

// Entitled reports whether the payment state grants access to the article.
// An authorized payment counts: the funds are guaranteed, capture is a
// settlement detail.
func (s PaymentStatus) Entitled() bool {
	return s == PaymentStatusAuthorized || s == PaymentStatusSucceeded
}

// Purchase records a one-off article purchase. A user buys a given article at
// most once; rows are written by webhook reconciliation keyed by the Stripe
// payment intent id.
type Purchase struct {
	ID                    uuid.UUID     `json:"id"`
	UserID                uuid.UUID     `json:"user_id"`
	ArticleID             uuid.UUID     `json:"article_id"`
	StripePaymentIntentID string        `json:"stripe_payment_intent_id"`
	Status                PaymentStatus `json:"status"`
	Amount                int64         `json:"amount"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}
