package models

import "time"

// User represents a photographer account that owns gallery sessions.
type User struct {
	ID        string
	Email     string
	Password  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GallerySession identifies a client gallery. The session lifecycle is owned
// by the scheduling subsystem; the download pipeline only reads it.
type GallerySession struct {
	ID               string
	OwnerID          string
	Title            string
	GalleryToken     string
	GalleryExpiresAt time.Time
	CreatedAt        time.Time
}

// TokenValid reports whether the anonymous gallery token grants access at
// the provided instant.
func (s GallerySession) TokenValid(token string, now time.Time) bool {
	if token == "" || s.GalleryToken == "" {
		return false
	}
	return token == s.GalleryToken && now.Before(s.GalleryExpiresAt)
}

// FileRecord describes one physical asset inside a gallery session. Rows are
// written by the upload subsystem; the pipeline resolves and reads them.
type FileRecord struct {
	ID           string
	SessionID    string
	Filename     string
	OriginalName string
	FolderType   string
	StorageKey   string
	SizeBytes    int64
	ContentType  string
	CreatedAt    time.Time
}

// DownloadEntitlement grants an accessor the right to download a bounded set
// of photos. Rows are immutable after creation; consumption is tracked
// through GalleryDownload rows that reference the entitlement.
type DownloadEntitlement struct {
	ID           string
	SessionID    string
	ClientID     string
	PhotoIDs     []string
	MaxDownloads int
	ExpiresAt    time.Time
	OrderRef     string
	CreatedAt    time.Time
}

// Covers reports whether the entitlement's photo set includes the requested
// photo. An empty set is a session-wide grant and covers every photo.
// Storefront links and entitlement writes share one identifier space, so
// membership accepts either the photo id or the filename.
func (e DownloadEntitlement) Covers(photoID, filename string) bool {
	if len(e.PhotoIDs) == 0 {
		return true
	}
	for _, id := range e.PhotoIDs {
		if photoID != "" && id == photoID {
			return true
		}
		if filename != "" && id == filename {
			return true
		}
	}
	return false
}

// Expired reports whether the entitlement can no longer be consumed.
func (e DownloadEntitlement) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// GalleryDownload records a single download attempt. The quota invariant is
// enforced at insert time: the count of reserved+completed rows for a
// (session, client) pair never exceeds the policy-derived limit.
type GalleryDownload struct {
	ID            string
	SessionID     string
	ClientID      string
	Filename      string
	PhotoID       string
	EntitlementID string
	Status        string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

const (
	DownloadStatusReserved  = "reserved"
	DownloadStatusCompleted = "completed"
	DownloadStatusFailed    = "failed"
)

// DownloadToken is a single-use credential bound 1:1 to a GalleryDownload
// row. IsUsed must always equal (download.Status == completed).
type DownloadToken struct {
	Token      string
	DownloadID string
	SessionID  string
	Filename   string
	ExpiresAt  time.Time
	IsUsed     bool
}

// SessionTokens groups the bearer credentials issued to authenticated owners.
type SessionTokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}
