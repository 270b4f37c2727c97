package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/paywall-labs/paywall-service/internal/domain"
	"github.com/paywall-labs/paywall-service/pkg/logger"
)

// SubscriptionRepository provides access to the local mirror of Stripe
// subscriptions. Writes are idempotent upserts keyed by the Stripe
// subscription id so replayed webhook events converge.
type SubscriptionRepository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (domain.Subscription, error)
	Upsert(ctx context.Context, subscription domain.Subscription) (domain.Subscription, error)
	DeleteByStripeID(ctx context.Context, stripeSubscriptionID string) error
}

// PostgresSubscriptionRepository implements SubscriptionRepository.
type PostgresSubscriptionRepository struct {
	db  PgxPool
	log *logger.Logger
}

// NewPostgresSubscriptionRepository creates a new Postgres-backed subscription repository.
func NewPostgresSubscriptionRepository(db PgxPool, log *logger.Logger) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{db: db, log: log}
}

// GetByUserID returns the subscription owned by the given user.
func (r *PostgresSubscriptionRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (domain.Subscription, error) {
	query := `
		SELECT id, user_id, stripe_subscription_id, price_id, level, status,
		       current_period_end, cancel_at_period_end, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1
	`

	var sub domain.Subscription
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&sub.ID,
		&sub.UserID,
		&sub.StripeSubscriptionID,
		&sub.PriceID,
		&sub.Level,
		&sub.Status,
		&sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if err = translateError(err); err == ErrNotFound {
			return domain.Subscription{}, ErrNotFound
		}
		return domain.Subscription{}, fmt.Errorf("failed to get subscription: %w", err)
	}

	return sub, nil
}

// Upsert inserts or updates the row for the given Stripe subscription id.
func (r *PostgresSubscriptionRepository) Upsert(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	query := `
		INSERT INTO subscriptions
			(id, user_id, stripe_subscription_id, price_id, level, status,
			 current_period_end, cancel_at_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			price_id = EXCLUDED.price_id,
			level = EXCLUDED.level,
			status = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx,
		query,
		sub.ID,
		sub.UserID,
		sub.StripeSubscriptionID,
		sub.PriceID,
		sub.Level,
		sub.Status,
		sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("failed to upsert subscription: %w", translateError(err))
	}

	return sub, nil
}

// DeleteByStripeID removes the row for the given Stripe subscription id.
// Deleting a row that is already gone is not an error: deletion events may
// be replayed.
func (r *PostgresSubscriptionRepository) DeleteByStripeID(ctx context.Context, stripeSubscriptionID string) error {
	query := `DELETE FROM subscriptions WHERE stripe_subscription_id = $1`

	result, err := r.db.Exec(ctx, query, stripeSubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	if result.RowsAffected() == 0 {
		r.log.Debugw("No subscription row to delete", "stripeSubscriptionID", stripeSubscriptionID)
	}

	return nil
}
