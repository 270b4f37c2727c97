package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/paywall-labs/paywall-service/internal/domain"
	"github.com/paywall-labs/paywall-service/pkg/logger"
)

// PurchaseRepository provides access to one-off purchase rows. Writes are
// idempotent upserts keyed by the Stripe payment intent id.
type PurchaseRepository interface {
	GetByUserAndArticle(ctx context.Context, userID, articleID uuid.UUID) (domain.Purchase, error)
	Upsert(ctx context.Context, purchase domain.Purchase) (domain.Purchase, error)
	UpdateStatusByPaymentIntentID(ctx context.Context, paymentIntentID string, status domain.PaymentStatus) error
	DeleteByPaymentIntentID(ctx context.Context, paymentIntentID string) error
}

// PostgresPurchaseRepository implements PurchaseRepository.
type PostgresPurchaseRepository struct {
	db  PgxPool
	log *logger.Logger
}

// NewPostgresPurchaseRepository creates a new Postgres-backed purchase repository.
func NewPostgresPurchaseRepository(db PgxPool, log *logger.Logger) *PostgresPurchaseRepository {
	return &PostgresPurchaseRepository{db: db, log: log}
}

// GetByUserAndArticle returns the purchase of the given article by the given user.
func (r *PostgresPurchaseRepository) GetByUserAndArticle(ctx context.Context, userID, articleID uuid.UUID) (domain.Purchase, error) {
	query := `
		SELECT id, user_id, article_id, stripe_payment_intent_id, status, amount,
		       created_at, updated_at
		FROM purchases
		WHERE user_id = $1 AND article_id = $2
	`

	var purchase domain.Purchase
	err := r.db.QueryRow(ctx, query, userID, articleID).Scan(
		&purchase.ID,
		&purchase.UserID,
		&purchase.ArticleID,
		&purchase.StripePaymentIntentID,
		&purchase.Status,
		&purchase.Amount,
		&purchase.CreatedAt,
		&purchase.UpdatedAt,
	)
	if err != nil {
		if err = translateError(err); err == ErrNotFound {
			return domain.Purchase{}, ErrNotFound
		}
		return domain.Purchase{}, fmt.Errorf("failed to get purchase: %w", err)
	}

	return purchase, nil
}

// Upsert inserts or updates the row for the given Stripe payment intent id.
func (r *PostgresPurchaseRepository) Upsert(ctx context.Context, purchase domain.Purchase) (domain.Purchase, error) {
	query := `
		INSERT INTO purchases
			(id, user_id, article_id, stripe_payment_intent_id, status, amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (stripe_payment_intent_id) DO UPDATE SET
			status = EXCLUDED.status,
			amount = EXCLUDED.amount,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx,
		query,
		purchase.ID,
		purchase.UserID,
		purchase.ArticleID,
		purchase.StripePaymentIntentID,
		purchase.Status,
		purchase.Amount,
	).Scan(&purchase.ID, &purchase.CreatedAt, &purchase.UpdatedAt)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("failed to upsert purchase: %w", translateError(err))
	}

	return purchase, nil
}

// UpdateStatusByPaymentIntentID sets the payment status of the purchase
// correlated with the given payment intent.
func (r *PostgresPurchaseRepository) UpdateStatusByPaymentIntentID(ctx context.Context, paymentIntentID string, status domain.PaymentStatus) error {
	query := `
		UPDATE purchases
		SET status = $2, updated_at = now()
		WHERE stripe_payment_intent_id = $1
	`

	result, err := r.db.Exec(ctx, query, paymentIntentID, status)
	if err != nil {
		return fmt.Errorf("failed to update purchase status: %w", err)
	}

	if result.RowsAffected() == 0 {
		r.log.Warnw("No purchase row for payment intent", "paymentIntentID", paymentIntentID, "status", status)
		return ErrNotFound
	}

	return nil
}

// DeleteByPaymentIntentID removes the purchase row correlated with the given
// payment intent.
func (r *PostgresPurchaseRepository) DeleteByPaymentIntentID(ctx context.Context, paymentIntentID string) error {
	query := `DELETE FROM purchases WHERE stripe_payment_intent_id = $1`

	result, err := r.db.Exec(ctx, query, paymentIntentID)
	if err != nil {
		return fmt.Errorf("failed to delete purchase: %w", err)
	}

	if result.RowsAffected() == 0 {
		r.log.Debugw("No purchase row to delete", "paymentIntentID", paymentIntentID)
	}

	return nil
}
