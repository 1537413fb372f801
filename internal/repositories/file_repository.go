package repositories

import (
	"context"

	"github.com/lensfolio/backend/internal/models"
)

// FileRepository defines the data access contract for session files. Rows are
// written by the upload subsystem; lookups are always session-scoped.
type FileRepository interface {
	FindByPhotoID(ctx context.Context, sessionID, photoID string) (models.FileRecord, error)
	FindByFilename(ctx context.Context, sessionID, filename string) (models.FileRecord, error)
}
