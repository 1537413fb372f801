package download

import (
	"context"
	"time"

	"github.com/lensfolio/backend/internal/models"
)

// SessionStore captures the session lookups required by the pipeline.
type SessionStore interface {
	FindByID(ctx context.Context, sessionID string) (models.GallerySession, error)
}

// PolicyStore captures the policy lookups required by the pipeline.
type PolicyStore interface {
	FindBySession(ctx context.Context, sessionID string) (models.DownloadPolicy, error)
}

// FileStore captures the file lookups required by the pipeline.
type FileStore interface {
	FindByPhotoID(ctx context.Context, sessionID, photoID string) (models.FileRecord, error)
	FindByFilename(ctx context.Context, sessionID, filename string) (models.FileRecord, error)
}

// EntitlementStore captures the entitlement lookups required by the pipeline.
type EntitlementStore interface {
	ActiveForClient(ctx context.Context, sessionID, clientID string, now time.Time) ([]models.DownloadEntitlement, error)
}

// DownloadStore captures the download accounting operations required by the
// pipeline. Reserve methods must be atomic: concurrent calls against the same
// allowance may never admit more downloads than the limit permits.
type DownloadStore interface {
	// ReserveWithinQuota inserts the reserved row only if the client's count
	// of reserved and completed downloads is below limit. It returns
	// repositories.ErrQuotaExhausted when the allowance is already consumed.
	ReserveWithinQuota(ctx context.Context, row models.GalleryDownload, limit int) error
	// ReserveEntitled inserts the reserved row against its entitlement,
	// enforcing the entitlement's download cap and expiry in the same
	// transaction. It returns repositories.ErrEntitlementExhausted or
	// repositories.ErrEntitlementExpired when the entitlement cannot cover
	// another download.
	ReserveEntitled(ctx context.Context, row models.GalleryDownload, now time.Time) error
	// Create inserts a reserved row with no quota condition, used for
	// free-policy sessions and owner access.
	Create(ctx context.Context, row models.GalleryDownload) error
	// MintToken stores a single-use token bound to a download record.
	MintToken(ctx context.Context, token models.DownloadToken) error
	// Complete redeems a token and moves its download to completed in one
	// transaction. Redeeming a spent token returns repositories.ErrTokenUsed.
	Complete(ctx context.Context, token string, now time.Time) (models.GalleryDownload, error)
	// Fail marks a reserved download as failed. The reservation stays on the
	// books; quota is not returned.
	Fail(ctx context.Context, downloadID string) error
}

// ObjectStorage captures the presigning operation required by delivery.
type ObjectStorage interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// PreviewRenderer produces a watermarked derivative for a stored file and
// returns the storage key it was saved under.
type PreviewRenderer interface {
	Render(ctx context.Context, file models.FileRecord, settings models.WatermarkSettings) (string, error)
}
