package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lensfolio/backend/internal/auth"
	"github.com/lensfolio/backend/internal/models"
)

type stubDownloadStore struct {
	rows      []models.GalleryDownload
	err       error
	lastLimit int
}

func (s *stubDownloadStore) ListBySession(_ context.Context, _ string, limit int) ([]models.GalleryDownload, error) {
	s.lastLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	return s.rows, nil
}

func auditRequest(sessionID, bearer, query string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+sessionID+"/downloads"+query, nil)
	req.SetPathValue("sessionId", sessionID)
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	return req
}

func TestAuditHandlerList(t *testing.T) {
	manager := auth.NewManager(time.Minute, time.Hour, auth.NewInMemorySessionStore())
	galleries := newStubGalleryStore(models.GallerySession{ID: "sess-1", OwnerID: "user-1"})

	completedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &stubDownloadStore{rows: []models.GalleryDownload{
		{ID: "dl-2", SessionID: "sess-1", ClientID: "client:tok-1", Filename: "b.jpg", Status: models.DownloadStatusCompleted, CompletedAt: &completedAt},
		{ID: "dl-1", SessionID: "sess-1", ClientID: "client:tok-1", PhotoID: "photo-1", Status: models.DownloadStatusFailed},
	}}
	handler := AuditHandler{Sessions: manager, Galleries: galleries, Downloads: store}

	rec := httptest.NewRecorder()
	handler.List(rec, auditRequest("sess-1", ownerBearer(t, manager, "user-1"), "?limit=25"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if store.lastLimit != 25 {
		t.Fatalf("expected limit forwarded, got %d", store.lastLimit)
	}

	var resp downloadListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID != "sess-1" || len(resp.Downloads) != 2 {
		t.Fatalf("unexpected listing %+v", resp)
	}
	if resp.Downloads[0].ID != "dl-2" || resp.Downloads[0].Status != models.DownloadStatusCompleted {
		t.Fatalf("unexpected first record %+v", resp.Downloads[0])
	}
	if resp.Downloads[0].CompletedAt == nil || !resp.Downloads[0].CompletedAt.Equal(completedAt) {
		t.Fatalf("completed at did not carry over: %+v", resp.Downloads[0].CompletedAt)
	}
	if resp.Downloads[1].PhotoID != "photo-1" || resp.Downloads[1].CompletedAt != nil {
		t.Fatalf("unexpected second record %+v", resp.Downloads[1])
	}
}

func TestAuditHandlerRejectsBadLimit(t *testing.T) {
	manager := auth.NewManager(time.Minute, time.Hour, auth.NewInMemorySessionStore())
	galleries := newStubGalleryStore(models.GallerySession{ID: "sess-1", OwnerID: "user-1"})
	handler := AuditHandler{Sessions: manager, Galleries: galleries, Downloads: &stubDownloadStore{}}

	for _, query := range []string{"?limit=abc", "?limit=0", "?limit=-3"} {
		rec := httptest.NewRecorder()
		handler.List(rec, auditRequest("sess-1", ownerBearer(t, manager, "user-1"), query))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("query %q: expected status 400 got %d", query, rec.Code)
		}
	}
}

func TestAuditHandlerAuthorization(t *testing.T) {
	manager := auth.NewManager(time.Minute, time.Hour, auth.NewInMemorySessionStore())
	galleries := newStubGalleryStore(models.GallerySession{ID: "sess-1", OwnerID: "user-1"})
	handler := AuditHandler{Sessions: manager, Galleries: galleries, Downloads: &stubDownloadStore{}}

	rec := httptest.NewRecorder()
	handler.List(rec, auditRequest("sess-1", "", ""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without bearer, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.List(rec, auditRequest("sess-1", ownerBearer(t, manager, "user-2"), ""))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for non-owner, got %d", rec.Code)
	}
}
