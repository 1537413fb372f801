package handlers

import (
	"net/http"
	"time"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Pipeline     DownloadPipeline
	Users        UserStore
	Sessions     SessionManager
	Galleries    GalleryStore
	Policies     PolicyStore
	Entitlements EntitlementStore
	Downloads    DownloadStore
	Limiter      RateLimiter
	OrderSecret  string
	// PipelineTimeout bounds one download request end to end.
	PipelineTimeout time.Duration
	// IncludeDebug attaches internal error context to envelopes. Never set
	// in production.
	IncludeDebug bool
}

// RegisterRoutes wires HTTP handlers into the provided ServeMux. Method
// matching is done by the mux patterns.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{}
	authHandler := AuthHandler{Users: deps.Users, Sessions: deps.Sessions}
	downloads := DownloadHandler{Pipeline: deps.Pipeline, Limiter: deps.Limiter, Timeout: deps.PipelineTimeout, IncludeDebug: deps.IncludeDebug}
	policies := PolicyHandler{Sessions: deps.Sessions, Galleries: deps.Galleries, Policies: deps.Policies}
	orders := OrderHandler{Entitlements: deps.Entitlements, Secret: deps.OrderSecret}
	audit := AuditHandler{Sessions: deps.Sessions, Galleries: deps.Galleries, Downloads: deps.Downloads}

	mux.HandleFunc("GET /healthz", health.Handle)
	mux.HandleFunc("GET /download/health", health.Handle)

	mux.HandleFunc("GET /download/session/{sessionId}/file/{filename}", downloads.ByFile)
	mux.HandleFunc("GET /download/session/{sessionId}/photo/{photoId}", downloads.ByPhoto)
	mux.HandleFunc("GET /download/auth/session/{sessionId}/file/{filename}",
		RequireUser(deps.Sessions, deps.IncludeDebug, downloads.OwnerByFile))
	mux.HandleFunc("POST /download/process",
		OptionalUser(deps.Sessions, deps.IncludeDebug, downloads.Process))

	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.HandleFunc("POST /api/v1/auth/signup", authHandler.SignUp)
	mux.HandleFunc("POST /api/v1/auth/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /api/v1/auth/logout", authHandler.Logout)
	mux.HandleFunc("POST /api/v1/auth/password-reset", authHandler.RequestPasswordReset)

	mux.HandleFunc("GET /api/v1/sessions/{sessionId}/policy", policies.Get)
	mux.HandleFunc("PUT /api/v1/sessions/{sessionId}/policy", policies.Put)
	mux.HandleFunc("GET /api/v1/sessions/{sessionId}/downloads", audit.List)

	mux.HandleFunc("POST /api/v1/orders/complete", orders.Complete)
}
