package handlers

import (
	"context"
	"time"

	"github.com/lensfolio/backend/internal/download"
	"github.com/lensfolio/backend/internal/models"
)

// UserStore captures the persistence operations required by the auth handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
}

// SessionManager issues, verifies, and refreshes owner bearer tokens.
type SessionManager interface {
	Issue(ctx context.Context, userID string) (models.SessionTokens, error)
	Verify(ctx context.Context, accessToken string) (string, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
	Revoke(ctx context.Context, refreshToken string)
}

// DownloadPipeline runs one download request through the orchestrated stages.
type DownloadPipeline interface {
	Process(ctx context.Context, rc download.RequestContext, req download.Request) (download.Descriptor, error)
}

// GalleryStore captures the session lookups required by owner endpoints.
type GalleryStore interface {
	FindByID(ctx context.Context, sessionID string) (models.GallerySession, error)
}

// PolicyStore captures policy reads and writes for the owner surface.
type PolicyStore interface {
	FindBySession(ctx context.Context, sessionID string) (models.DownloadPolicy, error)
	Upsert(ctx context.Context, policy models.DownloadPolicy) error
}

// EntitlementStore captures entitlement creation for the order webhook.
type EntitlementStore interface {
	Create(ctx context.Context, entitlement models.DownloadEntitlement) error
}

// DownloadStore captures the audit listing required by owner endpoints.
type DownloadStore interface {
	ListBySession(ctx context.Context, sessionID string, limit int) ([]models.GalleryDownload, error)
}

// nowOrDefault resolves an overridable clock, falling back to UTC wall time.
func nowOrDefault(nowFunc func() time.Time) time.Time {
	if nowFunc != nil {
		return nowFunc()
	}
	return time.Now().UTC()
}
