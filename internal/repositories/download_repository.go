package repositories

import (
	"context"
	"time"

	"github.com/lensfolio/backend/internal/models"
)

// DownloadRepository defines the accounting contract for gallery downloads.
// The reserve operations are the quota enforcement point and must stay
// atomic: a check-then-insert split across statements reintroduces the race
// they exist to close.
type DownloadRepository interface {
	ReserveWithinQuota(ctx context.Context, row models.GalleryDownload, limit int) error
	ReserveEntitled(ctx context.Context, row models.GalleryDownload, now time.Time) error
	Create(ctx context.Context, row models.GalleryDownload) error
	MintToken(ctx context.Context, token models.DownloadToken) error
	Complete(ctx context.Context, token string, now time.Time) (models.GalleryDownload, error)
	Fail(ctx context.Context, downloadID string) error
	FailStale(ctx context.Context, cutoff time.Time) (int64, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]models.GalleryDownload, error)
}
