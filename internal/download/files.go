package download

import (
	"context"
	"errors"

	"github.com/lensfolio/backend/internal/models"
	"github.com/lensfolio/backend/internal/repositories"
)

// PhotoRef identifies the requested file by photo id, filename, or both.
// Photo id wins when both are present.
type PhotoRef struct {
	PhotoID  string
	Filename string
}

// Empty reports whether the reference carries no identifier at all.
func (r PhotoRef) Empty() bool { return r.PhotoID == "" && r.Filename == "" }

// FileResolver maps a photo reference to its stored file record. Lookups are
// always scoped to one session; a filename that exists in another gallery is
// still a miss here.
type FileResolver struct {
	files FileStore
}

// NewFileResolver wires a resolver to its file store.
func NewFileResolver(files FileStore) *FileResolver {
	return &FileResolver{files: files}
}

// Resolve returns the file record for ref. The miss code depends on which
// identifier space failed: PHOTO_NOT_FOUND for ids, FILE_NOT_FOUND for
// filenames, so clients know which reference was wrong.
func (f *FileResolver) Resolve(ctx context.Context, sessionID string, ref PhotoRef) (models.FileRecord, error) {
	switch {
	case ref.PhotoID != "":
		record, err := f.files.FindByPhotoID(ctx, sessionID, ref.PhotoID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return models.FileRecord{}, PhotoNotFound(sessionID, ref.PhotoID)
			}
			return models.FileRecord{}, DatabaseError(StageFileResolving, err)
		}
		return record, nil

	case ref.Filename != "":
		record, err := f.files.FindByFilename(ctx, sessionID, ref.Filename)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return models.FileRecord{}, FileNotFound(sessionID, ref.Filename)
			}
			return models.FileRecord{}, DatabaseError(StageFileResolving, err)
		}
		return record, nil

	default:
		return models.FileRecord{}, ValidationError("a photo id or filename is required")
	}
}
