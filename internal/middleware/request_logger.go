package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lensfolio/backend/internal/download"
	"github.com/lensfolio/backend/internal/logging"
)

// CorrelationHeader carries the correlation identifier between services.
// Inbound values are trusted so storefront activity and webhook retries can
// be traced across hops; a fresh identifier is minted when absent.
const CorrelationHeader = "X-Correlation-ID"

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Status() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

// RequestLogger decorates requests with structured logging metadata and
// propagates the correlation identifier to downstream stages.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			correlationID := r.Header.Get(CorrelationHeader)
			if correlationID == "" {
				correlationID = uuid.NewString()
			}

			reqLogger := base.With(
				slog.String("correlation_id", correlationID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)

			ctx := logging.WithLogger(r.Context(), reqLogger)
			ctx = logging.WithCorrelationID(ctx, correlationID)

			wrapped := &responseWriter{ResponseWriter: w}
			wrapped.Header().Set(CorrelationHeader, correlationID)

			defer func() {
				if rec := recover(); rec != nil {
					reqLogger.Error("panic recovered", "panic", rec)
					writePanicResponse(reqLogger, wrapped, correlationID, rec)
				}
				reqLogger.Info("request completed",
					slog.Int("status", wrapped.Status()),
					slog.Duration("duration", time.Since(start)),
				)
			}()

			next.ServeHTTP(wrapped, r.WithContext(ctx))
		})
	}
}

// writePanicResponse turns a recovered panic into the standard JSON error
// envelope. Every response on this server is JSON, the recovery path
// included. The response is left alone when the handler already wrote a
// status.
func writePanicResponse(logger *slog.Logger, rw *responseWriter, correlationID string, rec any) {
	if rw.status != 0 {
		return
	}

	terr := download.ProcessingError(fmt.Errorf("panic: %v", rec))
	terr.Stage = download.StageTransport
	terr = terr.WithContext(download.ErrorContext{CorrelationID: correlationID})

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(terr.HTTPStatus())
	if err := json.NewEncoder(rw).Encode(terr.Envelope(time.Now().UTC(), false)); err != nil {
		logger.Error("encode panic envelope", "error", err)
	}
}
