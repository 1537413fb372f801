package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lensfolio/backend/internal/logging"
	"github.com/lensfolio/backend/internal/models"
	"github.com/lensfolio/backend/internal/repositories"
)

// policyPayload is the wire form of a download policy. Fields irrelevant to
// the declared mode must be absent; the typed constructor rejects mixtures.
type policyPayload struct {
	Mode                 string                    `json:"mode"`
	PricePerPhoto        *int64                    `json:"pricePerPhoto,omitempty"`
	FreeCount            *int                      `json:"freeCount,omitempty"`
	BulkTiers            []models.BulkTier         `json:"bulkTiers,omitempty"`
	Currency             string                    `json:"currency,omitempty"`
	Watermark            *models.WatermarkSettings `json:"watermark,omitempty"`
	ScreenshotProtection bool                      `json:"screenshotProtection"`
}

func policyToPayload(policy models.DownloadPolicy) policyPayload {
	fields := policy.Fields()
	return policyPayload{
		Mode:                 fields.Mode,
		PricePerPhoto:        fields.PricePerPhoto,
		FreeCount:            fields.FreeCount,
		BulkTiers:            fields.BulkTiers,
		Currency:             fields.Currency,
		Watermark:            fields.Watermark,
		ScreenshotProtection: fields.ScreenshotProt,
	}
}

// PolicyHandler lets the session owner read and write the download policy.
type PolicyHandler struct {
	Sessions  SessionManager
	Galleries GalleryStore
	Policies  PolicyStore
	NowFunc   func() time.Time
}

// Get handles GET /api/v1/sessions/{sessionId}/policy. Sessions that never
// configured commerce report the effective default rather than a miss.
func (h PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	userID, ok := authenticatedUser(ctx, w, h.Sessions, r)
	if !ok {
		return
	}

	sessionID := r.PathValue("sessionId")
	if _, ok := loadOwnedSession(ctx, w, h.Galleries, sessionID, userID); !ok {
		return
	}

	policy, err := h.Policies.FindBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondJSON(ctx, w, http.StatusOK, policyToPayload(models.DefaultPolicy(sessionID)))
			return
		}
		logger.Error("policy lookup failed", "sessionId", sessionID, "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to load policy"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, policyToPayload(policy))
}

// Put handles PUT /api/v1/sessions/{sessionId}/policy.
func (h PolicyHandler) Put(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	userID, ok := authenticatedUser(ctx, w, h.Sessions, r)
	if !ok {
		return
	}

	sessionID := r.PathValue("sessionId")
	if _, ok := loadOwnedSession(ctx, w, h.Galleries, sessionID, userID); !ok {
		return
	}

	var payload policyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		logger.Warn("invalid policy payload", "sessionId", sessionID, "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	mode, err := models.NewPricingMode(models.PolicyFields{
		Mode:          strings.TrimSpace(payload.Mode),
		PricePerPhoto: payload.PricePerPhoto,
		FreeCount:     payload.FreeCount,
		BulkTiers:     payload.BulkTiers,
	})
	if err != nil {
		logger.Warn("rejected policy write", "sessionId", sessionID, "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	currency := strings.ToUpper(strings.TrimSpace(payload.Currency))
	if currency == "" {
		currency = "USD"
	}

	now := nowOrDefault(h.NowFunc)
	policy := models.DownloadPolicy{
		SessionID:            sessionID,
		Mode:                 mode,
		Currency:             currency,
		Watermark:            payload.Watermark,
		ScreenshotProtection: payload.ScreenshotProtection,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := h.Policies.Upsert(ctx, policy); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		logger.Error("policy write failed", "sessionId", sessionID, "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to save policy"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, policyToPayload(policy))
}

// authenticatedUser resolves the bearer identity for owner endpoints, writing
// the 401 response itself on failure.
func authenticatedUser(ctx context.Context, w http.ResponseWriter, sessions SessionManager, r *http.Request) (string, bool) {
	if sessions == nil {
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "session service unavailable"})
		return "", false
	}

	token := bearerToken(r)
	if token == "" {
		respondJSON(ctx, w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return "", false
	}

	userID, err := sessions.Verify(ctx, token)
	if err != nil {
		respondJSON(ctx, w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired access token"})
		return "", false
	}
	return userID, true
}

// loadOwnedSession fetches the gallery session and enforces ownership,
// writing the 404 or 403 response itself on failure.
func loadOwnedSession(ctx context.Context, w http.ResponseWriter, galleries GalleryStore, sessionID, userID string) (models.GallerySession, bool) {
	if sessionID == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "a session id is required"})
		return models.GallerySession{}, false
	}

	session, err := galleries.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return models.GallerySession{}, false
		}
		logging.FromContext(ctx).Error("session lookup failed", "sessionId", sessionID, "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to load session"})
		return models.GallerySession{}, false
	}

	if session.OwnerID != userID {
		respondJSON(ctx, w, http.StatusForbidden, map[string]string{"error": "you do not own this session"})
		return models.GallerySession{}, false
	}
	return session, true
}
