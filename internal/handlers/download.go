package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/lensfolio/backend/internal/download"
	"github.com/lensfolio/backend/internal/logging"
)

type ctxKey string

const ownerIDKey ctxKey = "ownerUserID"

func withOwnerID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerIDKey, userID)
}

// OwnerIDFromContext returns the verified owner identity injected by
// RequireUser, or empty for anonymous requests.
func OwnerIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if userID, ok := ctx.Value(ownerIDKey).(string); ok {
		return userID
	}
	return ""
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// RequireUser guards owner-only download routes. The bearer token is verified
// before the handler runs and the owner identity is injected into the request
// context; failures answer with the standard error envelope.
func RequireUser(sessions SessionManager, includeDebug bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token := bearerToken(r)
		if token == "" {
			writePipelineError(ctx, w, download.InvalidAccessToken(), includeDebug)
			return
		}
		userID, err := sessions.Verify(ctx, token)
		if err != nil {
			writePipelineError(ctx, w, download.InvalidAccessToken(), includeDebug)
			return
		}
		next(w, r.WithContext(withOwnerID(ctx, userID)))
	}
}

// OptionalUser verifies a bearer token when one is presented and passes
// anonymous requests through untouched. An explicit but invalid token is
// still rejected.
func OptionalUser(sessions SessionManager, includeDebug bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token := bearerToken(r)
		if token == "" {
			next(w, r)
			return
		}
		userID, err := sessions.Verify(ctx, token)
		if err != nil {
			writePipelineError(ctx, w, download.InvalidAccessToken(), includeDebug)
			return
		}
		next(w, r.WithContext(withOwnerID(ctx, userID)))
	}
}

// downloadResponse is the success half of the download wire contract,
// mirroring the error envelope's success flag.
type downloadResponse struct {
	Success  bool                `json:"success"`
	Download download.Descriptor `json:"download"`
}

// DownloadHandler exposes the pipeline over HTTP. Every response is JSON: a
// descriptor on success, the taxonomy envelope on failure.
type DownloadHandler struct {
	Pipeline     DownloadPipeline
	Limiter      RateLimiter
	IncludeDebug bool
	// Timeout bounds one pipeline run. Zero disables the deadline.
	Timeout time.Duration
	NowFunc func() time.Time
}

// ByFile handles GET /download/session/{sessionId}/file/{filename}.
func (h DownloadHandler) ByFile(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, download.Request{
		SessionID:    r.PathValue("sessionId"),
		Ref:          download.PhotoRef{Filename: r.PathValue("filename")},
		GalleryToken: r.URL.Query().Get("token"),
	})
}

// ByPhoto handles GET /download/session/{sessionId}/photo/{photoId}.
func (h DownloadHandler) ByPhoto(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, download.Request{
		SessionID:    r.PathValue("sessionId"),
		Ref:          download.PhotoRef{PhotoID: r.PathValue("photoId")},
		GalleryToken: r.URL.Query().Get("token"),
	})
}

// OwnerByFile handles GET /download/auth/session/{sessionId}/file/{filename}.
// RequireUser has already verified the bearer token.
func (h DownloadHandler) OwnerByFile(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, download.Request{
		SessionID:   r.PathValue("sessionId"),
		Ref:         download.PhotoRef{Filename: r.PathValue("filename")},
		OwnerUserID: OwnerIDFromContext(r.Context()),
	})
}

type processRequest struct {
	SessionID string `json:"sessionId"`
	PhotoID   string `json:"photoId"`
	Filename  string `json:"filename"`
	Token     string `json:"token"`
}

// Process handles POST /download/process, the body-parameter entry for
// clients that cannot use path or query parameters.
func (h DownloadHandler) Process(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePipelineError(ctx, w, download.ValidationError("invalid request body"), h.IncludeDebug)
		return
	}

	h.run(w, r, download.Request{
		SessionID:    strings.TrimSpace(req.SessionID),
		Ref:          download.PhotoRef{PhotoID: strings.TrimSpace(req.PhotoID), Filename: strings.TrimSpace(req.Filename)},
		GalleryToken: req.Token,
		OwnerUserID:  OwnerIDFromContext(ctx),
	})
}

func (h DownloadHandler) run(w http.ResponseWriter, r *http.Request, req download.Request) {
	ctx := r.Context()

	if !allowRequest(h.Limiter, r, "download") {
		writePipelineError(ctx, w, download.RateLimitExceeded(), h.IncludeDebug)
		return
	}

	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	rc := download.NewRequestContext(logging.CorrelationIDFromContext(ctx), nowOrDefault(h.NowFunc))
	descriptor, err := h.Pipeline.Process(ctx, rc, req)
	if err != nil {
		writePipelineError(ctx, w, err, h.IncludeDebug)
		return
	}

	respondJSON(ctx, w, http.StatusOK, downloadResponse{Success: true, Download: descriptor})
}

// writePipelineError serializes any pipeline failure as the stable envelope.
// The correlation id from the request scope is attached when the error does
// not already carry one.
func writePipelineError(ctx context.Context, w http.ResponseWriter, err error, includeDebug bool) {
	terr := download.AsError(err)
	if terr.Context.CorrelationID == "" {
		terr = terr.WithContext(download.ErrorContext{CorrelationID: logging.CorrelationIDFromContext(ctx)})
	}
	respondJSON(ctx, w, terr.HTTPStatus(), terr.Envelope(time.Now().UTC(), includeDebug))
}
