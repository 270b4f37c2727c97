package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/paywall-labs/paywall-service/internal/domain"
)

// Sentinel errors returned by repositories. They alias the domain errors so
// callers can match with errors.Is at either level.
var (
	ErrNotFound    = domain.ErrNotFound
	ErrDuplicate   = domain.ErrDuplicate
	ErrInvalidData = domain.ErrInvalidInput
)

// uniqueViolation is the SQLSTATE for unique-constraint violations.
const uniqueViolation = "23505"

// translateError maps driver-level errors to repository sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}
