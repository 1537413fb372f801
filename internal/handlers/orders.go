package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lensfolio/backend/internal/download"
	"github.com/lensfolio/backend/internal/logging"
	"github.com/lensfolio/backend/internal/models"
	"github.com/lensfolio/backend/internal/repositories"
)

// WebhookSecretHeader authenticates payment-processor callbacks.
const WebhookSecretHeader = "X-Webhook-Secret"

type orderCompleteRequest struct {
	SessionID    string   `json:"sessionId"`
	GalleryToken string   `json:"galleryToken"`
	PhotoIDs     []string `json:"photoIds"`
	MaxDownloads int      `json:"maxDownloads"`
	ExpiresAt    string   `json:"expiresAt"`
	OrderRef     string   `json:"orderRef"`
}

// OrderHandler turns completed purchases into download entitlements. It is
// the single checkout-adjacent write; building the checkout session itself
// belongs to the payment processor.
type OrderHandler struct {
	Entitlements EntitlementStore
	Secret       string
	NowFunc      func() time.Time
}

// Complete handles POST /api/v1/orders/complete. Replays of an already
// processed order ref are acknowledged so the processor stops retrying.
func (h OrderHandler) Complete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Secret == "" {
		logger.Error("order webhook called without a configured secret")
		respondJSON(ctx, w, http.StatusServiceUnavailable, map[string]string{"error": "order webhook is not configured"})
		return
	}
	provided := r.Header.Get(WebhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.Secret)) != 1 {
		logger.Warn("order webhook secret mismatch")
		respondJSON(ctx, w, http.StatusUnauthorized, map[string]string{"error": "invalid webhook secret"})
		return
	}

	var req orderCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid order payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	req.SessionID = strings.TrimSpace(req.SessionID)
	req.GalleryToken = strings.TrimSpace(req.GalleryToken)
	req.OrderRef = strings.TrimSpace(req.OrderRef)
	switch {
	case req.SessionID == "":
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "a session id is required"})
		return
	case req.GalleryToken == "":
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "a gallery token is required"})
		return
	case req.OrderRef == "":
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "an order ref is required"})
		return
	case req.MaxDownloads < 0:
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "max downloads cannot be negative"})
		return
	}

	var expiresAt time.Time
	if req.ExpiresAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "expiresAt must be RFC 3339"})
			return
		}
		expiresAt = parsed.UTC()
	}

	entitlement := models.DownloadEntitlement{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		// Entitlements are keyed by the same client identity the pipeline
		// derives from the gallery token.
		ClientID:     download.ClientAccessor(req.GalleryToken).ClientID,
		PhotoIDs:     req.PhotoIDs,
		MaxDownloads: req.MaxDownloads,
		ExpiresAt:    expiresAt,
		OrderRef:     req.OrderRef,
		CreatedAt:    nowOrDefault(h.NowFunc),
	}

	if err := h.Entitlements.Create(ctx, entitlement); err != nil {
		switch {
		case errors.Is(err, repositories.ErrConflict):
			logger.Info("order already processed", "orderRef", req.OrderRef)
			respondJSON(ctx, w, http.StatusOK, map[string]string{"status": "already processed"})
		case errors.Is(err, repositories.ErrNotFound):
			logger.Warn("order references unknown session", "sessionId", req.SessionID, "orderRef", req.OrderRef)
			respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "session not found"})
		default:
			logger.Error("order entitlement write failed", "orderRef", req.OrderRef, "error", err)
			respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to record entitlement"})
		}
		return
	}

	logger.Info("entitlement created",
		"sessionId", req.SessionID,
		"orderRef", req.OrderRef,
		"photos", len(req.PhotoIDs),
		"maxDownloads", req.MaxDownloads,
	)
	respondJSON(ctx, w, http.StatusCreated, map[string]string{"entitlementId": entitlement.ID})
}
