package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/lensfolio/backend/internal/logging"
	"github.com/lensfolio/backend/internal/models"
)

type downloadRecord struct {
	ID            string     `json:"id"`
	ClientID      string     `json:"clientId"`
	Filename      string     `json:"filename,omitempty"`
	PhotoID       string     `json:"photoId,omitempty"`
	EntitlementID string     `json:"entitlementId,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

type downloadListResponse struct {
	SessionID string           `json:"sessionId"`
	Downloads []downloadRecord `json:"downloads"`
}

// AuditHandler exposes the session's download ledger to its owner.
type AuditHandler struct {
	Sessions  SessionManager
	Galleries GalleryStore
	Downloads DownloadStore
}

// List handles GET /api/v1/sessions/{sessionId}/downloads. Rows come back
// newest first; `limit` caps the page size.
func (h AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := authenticatedUser(ctx, w, h.Sessions, r)
	if !ok {
		return
	}

	sessionID := r.PathValue("sessionId")
	if _, ok := loadOwnedSession(ctx, w, h.Galleries, sessionID, userID); !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	rows, err := h.Downloads.ListBySession(ctx, sessionID, limit)
	if err != nil {
		logging.FromContext(ctx).Error("download listing failed", "sessionId", sessionID, "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to list downloads"})
		return
	}

	records := make([]downloadRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, downloadRecordFromModel(row))
	}
	respondJSON(ctx, w, http.StatusOK, downloadListResponse{SessionID: sessionID, Downloads: records})
}

func downloadRecordFromModel(row models.GalleryDownload) downloadRecord {
	return downloadRecord{
		ID:            row.ID,
		ClientID:      row.ClientID,
		Filename:      row.Filename,
		PhotoID:       row.PhotoID,
		EntitlementID: row.EntitlementID,
		Status:        row.Status,
		CreatedAt:     row.CreatedAt,
		CompletedAt:   row.CompletedAt,
	}
}
