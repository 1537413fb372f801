package repositories

import (
	"context"

	"github.com/lensfolio/backend/internal/models"
)

// UserRepository defines the data access contract for photographer accounts.
type UserRepository interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
}
