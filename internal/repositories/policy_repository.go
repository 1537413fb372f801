package repositories

import (
	"context"

	"github.com/lensfolio/backend/internal/models"
)

// PolicyRepository defines the data access contract for download policies.
type PolicyRepository interface {
	FindBySession(ctx context.Context, sessionID string) (models.DownloadPolicy, error)
	Upsert(ctx context.Context, policy models.DownloadPolicy) error
}
