package core

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching across the typed errors below.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrUninitialized      = errors.New("account not initialized")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// ValidationError reports rejected input. Nothing has been written when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a *ValidationError for field.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AuthorizationError is returned when a user acts on a transaction owned by someone else.
type AuthorizationError struct {
	UserID        int64
	TransactionID int64
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %d is not allowed to modify transaction %d", e.UserID, e.TransactionID)
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrForbidden }

// UninitializedAccountError signals that the caller must record an initial
// balance before anything else. It is flow control, not a failure.
type UninitializedAccountError struct {
	UserID int64
}

func (e *UninitializedAccountError) Error() string {
	return fmt.Sprintf("user %d has no initial balance", e.UserID)
}

func (e *UninitializedAccountError) Is(target error) bool { return target == ErrUninitialized }
