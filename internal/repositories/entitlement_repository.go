package repositories

import (
	"context"
	"time"

	"github.com/lensfolio/backend/internal/models"
)

// EntitlementRepository defines the data access contract for download
// entitlements. Entitlements are immutable once created.
type EntitlementRepository interface {
	Create(ctx context.Context, entitlement models.DownloadEntitlement) error
	ActiveForClient(ctx context.Context, sessionID, clientID string, now time.Time) ([]models.DownloadEntitlement, error)
}
