package domain

import (
	"context"
	"time"
)

// User represents a chat participant as known to the user directory.
type User struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// UserDirectory is the identity lookup consumed by the chat engine.
// It lives in the domain because it's a requirement OF the domain, not
// of the database implementation.
type UserDirectory interface {
	// GetUser returns ErrNotFound when no user has the given id.
	GetUser(ctx context.Context, id int64) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	CreateUser(ctx context.Context, username string) (*User, error)
	// SetOnline flips the online flag. When online is false, LastSeen is set to at.
	SetOnline(ctx context.Context, id int64, online bool, at time.Time) error
}
