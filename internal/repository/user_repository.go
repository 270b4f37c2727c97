package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/paywall-labs/paywall-service/internal/domain"
	"github.com/paywall-labs/paywall-service/pkg/logger"
)

// UserRepository provides access to user rows.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.User, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)

	// SetStripeCustomerID persists the customer id only when none is set yet.
	// Returns true when this call won the write; false when another call
	// already provisioned the user.
	SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) (bool, error)
}

// PostgresUserRepository implements UserRepository on top of pgxpool.
type PostgresUserRepository struct {
	db  PgxPool
	log *logger.Logger
}

// NewPostgresUserRepository creates a new Postgres-backed user repository.
func NewPostgresUserRepository(db PgxPool, log *logger.Logger) *PostgresUserRepository {
	return &PostgresUserRepository{db: db, log: log}
}

const userColumns = `id, email, name, image, password_hash, stripe_customer_id, created_at, updated_at`

// GetByID returns the user with the given id.
func (r *PostgresUserRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	var user domain.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Image,
		&user.PasswordHash,
		&user.StripeCustomerID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if err = translateError(err); err == ErrNotFound {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetByStripeCustomerID returns the user owning the given Stripe customer.
func (r *PostgresUserRepository) GetByStripeCustomerID(ctx context.Context, customerID string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE stripe_customer_id = $1`

	var user domain.User
	err := r.db.QueryRow(ctx, query, customerID).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Image,
		&user.PasswordHash,
		&user.StripeCustomerID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if err = translateError(err); err == ErrNotFound {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, fmt.Errorf("failed to get user by customer id: %w", err)
	}

	return user, nil
}

// Create inserts a new user row.
func (r *PostgresUserRepository) Create(ctx context.Context, user domain.User) (domain.User, error) {
	query := `
		INSERT INTO users (id, email, name, image, password_hash, stripe_customer_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx,
		query,
		user.ID,
		user.Email,
		user.Name,
		user.Image,
		user.PasswordHash,
		user.StripeCustomerID,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err = translateError(err); err == ErrDuplicate {
			return domain.User{}, ErrDuplicate
		}
		return domain.User{}, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// SetStripeCustomerID runs a conditional update so two concurrent
// provisioning calls cannot both persist a customer id.
func (r *PostgresUserRepository) SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) (bool, error) {
	query := `
		UPDATE users
		SET stripe_customer_id = $2, updated_at = now()
		WHERE id = $1 AND stripe_customer_id IS NULL
	`

	result, err := r.db.Exec(ctx, query, id, customerID)
	if err != nil {
		return false, fmt.Errorf("failed to set customer id: %w", translateError(err))
	}

	return result.RowsAffected() == 1, nil
}
