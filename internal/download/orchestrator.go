package download

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lensfolio/backend/internal/logging"
	"github.com/lensfolio/backend/internal/models"
	"github.com/lensfolio/backend/internal/repositories"
)

// Request is the normalized input of one pipeline run, assembled by the
// transport layer from path, query, or body parameters.
type Request struct {
	SessionID string
	Ref       PhotoRef
	// GalleryToken authenticates anonymous visitors.
	GalleryToken string
	// OwnerUserID is injected by the auth middleware on owner routes. When
	// set it takes precedence over the gallery token.
	OwnerUserID string
}

// Orchestrator drives one download request through the pipeline stages in
// fixed order: authenticating, policy_resolving, entitlement_checking,
// file_resolving, delivering. Transitions are strictly forward. A stage
// failure aborts the run; the typed error is caught exactly once, here, and
// handed back for serialization. There is no partial success.
type Orchestrator struct {
	sessions  SessionStore
	policy    *PolicyResolver
	engine    *EntitlementEngine
	files     *FileResolver
	delivery  *DeliveryStage
	downloads DownloadStore
	now       func() time.Time
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(sessions SessionStore, policy *PolicyResolver, engine *EntitlementEngine, files *FileResolver, delivery *DeliveryStage, downloads DownloadStore) *Orchestrator {
	return &Orchestrator{
		sessions:  sessions,
		policy:    policy,
		engine:    engine,
		files:     files,
		delivery:  delivery,
		downloads: downloads,
		now:       time.Now,
	}
}

// WithNowFunc overrides the time source. Intended for tests.
func (o *Orchestrator) WithNowFunc(now func() time.Time) {
	if now != nil {
		o.now = now
	}
}

// Process runs the full pipeline for one request and returns the delivery
// descriptor or a taxonomy error enriched with the request's identifiers.
func (o *Orchestrator) Process(ctx context.Context, rc RequestContext, req Request) (Descriptor, error) {
	now := o.now().UTC()
	base := ErrorContext{
		SessionID:     req.SessionID,
		PhotoID:       req.Ref.PhotoID,
		Filename:      req.Ref.Filename,
		CorrelationID: rc.CorrelationID,
	}

	if req.SessionID == "" {
		return Descriptor{}, o.fail(ctx, base, Decision{}, ValidationError("a session id is required"))
	}
	if req.Ref.Empty() {
		return Descriptor{}, o.fail(ctx, base, Decision{}, ValidationError("a photo id or filename is required"))
	}

	stageCtx, span := logging.StartSpan(ctx, "download."+string(StageAuthenticating))
	accessor, err := o.authenticate(stageCtx, req, now)
	span.End()
	if err != nil {
		return Descriptor{}, o.fail(ctx, base, Decision{}, err)
	}
	base.UserID = accessor.UserID

	stageCtx, span = logging.StartSpan(ctx, "download."+string(StagePolicyResolving))
	resolved, err := o.policy.Resolve(stageCtx, req.SessionID)
	span.End()
	if err != nil {
		return Descriptor{}, o.fail(ctx, base, Decision{}, err)
	}

	stageCtx, span = logging.StartSpan(ctx, "download."+string(StageEntitlementChecking))
	decision, err := o.engine.Check(stageCtx, accessor, resolved, req.Ref, now)
	span.End()
	if err != nil {
		return Descriptor{}, o.fail(ctx, base, Decision{}, err)
	}

	stageCtx, span = logging.StartSpan(ctx, "download."+string(StageFileResolving))
	file, err := o.files.Resolve(stageCtx, req.SessionID, req.Ref)
	span.End()
	if err != nil {
		return Descriptor{}, o.fail(ctx, base, decision, err)
	}

	stageCtx, span = logging.StartSpan(ctx, "download."+string(StageDelivering))
	descriptor, err := o.delivery.Deliver(stageCtx, accessor, decision, resolved, file, now)
	span.End()
	if err != nil {
		return Descriptor{}, o.fail(ctx, base, decision, err)
	}

	logging.FromContext(ctx).Info("download delivered",
		slog.String("session_id", req.SessionID),
		slog.String("filename", file.Filename),
		slog.String("client_id", accessor.ClientID),
		slog.Bool("watermarked", descriptor.Watermarked),
		slog.Duration("elapsed", rc.Elapsed(o.now())),
	)
	return descriptor, nil
}

// authenticate resolves the accessor identity for the request. Owner claims
// are checked against the session's owner; everyone else needs a live
// gallery token.
func (o *Orchestrator) authenticate(ctx context.Context, req Request, now time.Time) (Accessor, error) {
	session, err := o.sessions.FindByID(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return Accessor{}, SessionNotFound(req.SessionID)
		}
		return Accessor{}, DatabaseError(StageAuthenticating, err)
	}

	if req.OwnerUserID != "" {
		if session.OwnerID != req.OwnerUserID {
			return Accessor{}, EntitlementDenied(req.SessionID, req.OwnerUserID)
		}
		return OwnerAccessor(req.OwnerUserID), nil
	}

	if !session.TokenValid(req.GalleryToken, now) {
		return Accessor{}, InvalidToken(req.SessionID)
	}
	return ClientAccessor(req.GalleryToken), nil
}

// fail is the single boundary catch: it coerces err into a taxonomy error,
// attaches the request context, marks any consumed reservation failed, and
// emits the outcome log. Quota consumed at reservation time is not refunded;
// a failed delivery still counts, so retry loops cannot farm free
// downloads.
func (o *Orchestrator) fail(ctx context.Context, base ErrorContext, decision Decision, err error) *Error {
	terr := AsError(err).WithContext(base)

	if decision.Reservation.ID != "" && decision.Reservation.Status == models.DownloadStatusReserved {
		if failErr := o.downloads.Fail(ctx, decision.Reservation.ID); failErr != nil {
			logging.FromContext(ctx).Warn("could not mark download failed",
				slog.String("download_id", decision.Reservation.ID),
				slog.Any("error", failErr),
			)
		}
	}

	logger := logging.FromContext(ctx).With(
		slog.String("code", string(terr.Code)),
		slog.String("stage", string(terr.Stage)),
		slog.String("session_id", base.SessionID),
		slog.String("correlation_id", base.CorrelationID),
	)
	if terr.ShouldAlert() {
		logger.Error("download pipeline failed", slog.Any("error", terr))
	} else {
		logger.Info("download request rejected", slog.String("reason", terr.Message))
	}
	return terr
}

// AsError coerces any error into a taxonomy error. Unknown errors become
// PROCESSING_ERROR so nothing escapes the envelope untyped. Context
// cancellation surfaces as TIMEOUT_ERROR.
func AsError(err error) *Error {
	var terr *Error
	if errors.As(err, &terr) {
		return terr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return TimeoutError(StageTransport, err)
	}
	return ProcessingError(err)
}
