// Package repository defines the storage interfaces consumed by the service
// and gateway layers, together with the sentinel errors implementations must
// return.
package repository

import (
	"context"

	"github.com/ibachev/codeeditor/internal/domain"
)

// UserRepository stores and retrieves user accounts.
type UserRepository interface {
	// FindByUsername returns the user with the given username, or
	// ErrUserNotFound.
	FindByUsername(ctx context.Context, username string) (*domain.User, error)

	// FindByID returns the user with the given id, or ErrUserNotFound.
	FindByID(ctx context.Context, id uint) (*domain.User, error)

	// Save creates the user when its ID is zero, updates it otherwise.
	// Returns ErrDuplicateEntry when username or email is already taken.
	Save(ctx context.Context, user *domain.User) error
}
