package repositories

import (
	"context"

	"github.com/lensfolio/backend/internal/models"
)

// GallerySessionRepository defines read access to gallery sessions. Session
// lifecycle is owned by the scheduling subsystem; this package only reads.
type GallerySessionRepository interface {
	FindByID(ctx context.Context, sessionID string) (models.GallerySession, error)
}
