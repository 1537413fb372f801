package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lensfolio/backend/internal/download"
	"github.com/lensfolio/backend/internal/logging"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestRequestLoggerPropagatesCorrelationID(t *testing.T) {
	var seen string
	handler := RequestLogger(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.CorrelationIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(CorrelationHeader, "corr-55")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 got %d", rec.Code)
	}
	if seen != "corr-55" {
		t.Fatalf("expected correlation id in request context, got %q", seen)
	}
	if got := rec.Header().Get(CorrelationHeader); got != "corr-55" {
		t.Fatalf("expected correlation header echoed, got %q", got)
	}
}

func TestRequestLoggerPanicRespondsJSON(t *testing.T) {
	handler := RequestLogger(discardLogger())(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodPost, "/download/process", nil)
	req.Header.Set(CorrelationHeader, "corr-99")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON content type, got %q", ct)
	}

	var envelope download.ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Success {
		t.Fatal("expected success=false")
	}
	if envelope.Error.Code != download.CodeProcessingError {
		t.Fatalf("expected %s got %s", download.CodeProcessingError, envelope.Error.Code)
	}
	if envelope.Error.CorrelationID != "corr-99" {
		t.Fatalf("expected correlation id in envelope, got %q", envelope.Error.CorrelationID)
	}
	if envelope.Error.Debug != nil {
		t.Fatalf("panic detail must not reach the client: %+v", envelope.Error.Debug)
	}
}

func TestRequestLoggerPanicAfterWriteKeepsResponse(t *testing.T) {
	handler := RequestLogger(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		panic("late")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected original status kept, got %d", rec.Code)
	}
}
