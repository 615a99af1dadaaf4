package handlers

import (
	"github.com/go-playground/validator/v10"
)

// CustomValidator wraps the go-playground/validator library to implement Echo's Validator interface.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new CustomValidator.
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate implements the echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// ConversationRequest binds GET /api/conversations/:userID.
type ConversationRequest struct {
	UserID int64 `param:"userID" validate:"required,gt=0"`
	Limit  int   `query:"limit" validate:"gte=0,lte=500"`
}

// UnreadRequest binds GET /api/unread/:senderID.
type UnreadRequest struct {
	SenderID int64 `param:"senderID" validate:"required,gt=0"`
}

// UserRequest binds GET /api/presence/:userID.
type UserRequest struct {
	UserID int64 `param:"userID" validate:"required,gt=0"`
}
