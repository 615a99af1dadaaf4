package domain

import "errors"

// Sentinel errors for the domain layer. These provide consistent, checkable
// errors for common business logic failures.
var (
	ErrNotFound        = errors.New("requested resource not found")
	ErrUnauthenticated = errors.New("authentication required")
	ErrInvalidRoom     = errors.New("room does not belong to the authenticated user")
	ErrValidation      = errors.New("validation failed")
	ErrUserExists      = errors.New("user with this username already exists")
)
