package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrNotFound record not found
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate duplicate record
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidInput invalid input data
	ErrInvalidInput = errors.New("invalid input data")

	// ErrMissingCustomer the operation requires a provisioned Stripe customer
	ErrMissingCustomer = errors.New("user has no billing customer")

	// ErrInvalidMetadata the plan tag in Stripe metadata is missing or unknown
	ErrInvalidMetadata = errors.New("invalid plan metadata")

	// ErrCustomerDeleted the customer was deleted on the processor side
	ErrCustomerDeleted = errors.New("stripe customer deleted")

	// ErrArticleNotPurchasable the article has no purchasable price tier
	ErrArticleNotPurchasable = errors.New("article is not purchasable")

	// ErrAlreadyPurchased the user already holds an entitled purchase of the article
	ErrAlreadyPurchased = errors.New("article already purchased")

	// ErrWebhookValidationFailed the webhook signature did not verify
	ErrWebhookValidationFailed = errors.New("webhook validation failed")
)

// NotFoundError carries the entity name and id of a missing record.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// Is matches against ErrNotFound
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// ExternalServiceError wraps a failure of an external collaborator with
// enough detail to log and classify it.
type ExternalServiceError struct {
	Service     string
	Code        string
	Message     string
	OriginalErr error
}

// Error implements the error interface
func (e *ExternalServiceError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s service error [%s]: %s: %v", e.Service, e.Code, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("%s service error [%s]: %s", e.Service, e.Code, e.Message)
}

// Unwrap returns the original error
func (e *ExternalServiceError) Unwrap() error {
	return e.OriginalErr
}

// NewExternalServiceError creates a new ExternalServiceError
func NewExternalServiceError(service, code, message string, err error) *ExternalServiceError {
	return &ExternalServiceError{
		Service:     service,
		Code:        code,
		Message:     message,
		OriginalErr: err,
	}
}
