package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lensfolio/backend/internal/models"
	"github.com/lensfolio/backend/internal/repositories"
)

type stubEntitlementStore struct {
	created []models.DownloadEntitlement
	err     error
}

func (s *stubEntitlementStore) Create(_ context.Context, entitlement models.DownloadEntitlement) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, entitlement)
	return nil
}

func orderRequest(secret, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/complete", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(WebhookSecretHeader, secret)
	}
	return req
}

func TestOrderHandlerComplete(t *testing.T) {
	store := &stubEntitlementStore{}
	handler := OrderHandler{Entitlements: store, Secret: "s3cret"}

	body := `{
		"sessionId": "sess-1",
		"galleryToken": "tok-9",
		"photoIds": ["photo-1", "photo-2"],
		"maxDownloads": 2,
		"expiresAt": "2030-01-02T15:04:05Z",
		"orderRef": "order-500"
	}`
	rec := httptest.NewRecorder()
	handler.Complete(rec, orderRequest("s3cret", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}

	if len(store.created) != 1 {
		t.Fatalf("expected one entitlement, got %d", len(store.created))
	}
	ent := store.created[0]
	if ent.ID == "" {
		t.Fatal("expected a minted entitlement id")
	}
	if ent.SessionID != "sess-1" || ent.OrderRef != "order-500" {
		t.Fatalf("unexpected entitlement %+v", ent)
	}
	if ent.ClientID != "client:tok-9" {
		t.Fatalf("expected pipeline client identity, got %q", ent.ClientID)
	}
	if len(ent.PhotoIDs) != 2 || ent.MaxDownloads != 2 {
		t.Fatalf("grant fields did not carry over: %+v", ent)
	}
	want := time.Date(2030, 1, 2, 15, 4, 5, 0, time.UTC)
	if !ent.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, ent.ExpiresAt)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["entitlementId"] != ent.ID {
		t.Fatalf("expected entitlement id in response, got %+v", resp)
	}
}

func TestOrderHandlerReplayAcknowledged(t *testing.T) {
	store := &stubEntitlementStore{err: repositories.ErrConflict}
	handler := OrderHandler{Entitlements: store, Secret: "s3cret"}

	body := `{"sessionId":"sess-1","galleryToken":"tok-9","orderRef":"order-500"}`
	rec := httptest.NewRecorder()
	handler.Complete(rec, orderRequest("s3cret", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for replay got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "already processed" {
		t.Fatalf("expected replay acknowledgement, got %+v", resp)
	}
}

func TestOrderHandlerUnknownSession(t *testing.T) {
	store := &stubEntitlementStore{err: repositories.ErrNotFound}
	handler := OrderHandler{Entitlements: store, Secret: "s3cret"}

	body := `{"sessionId":"sess-404","galleryToken":"tok-9","orderRef":"order-1"}`
	rec := httptest.NewRecorder()
	handler.Complete(rec, orderRequest("s3cret", body))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}
}

func TestOrderHandlerRejections(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		header string
		body   string
		want   int
	}{
		{name: "unconfigured secret", secret: "", header: "anything", body: `{}`, want: http.StatusServiceUnavailable},
		{name: "missing header", secret: "s3cret", header: "", body: `{}`, want: http.StatusUnauthorized},
		{name: "wrong secret", secret: "s3cret", header: "guess", body: `{}`, want: http.StatusUnauthorized},
		{name: "bad body", secret: "s3cret", header: "s3cret", body: `{nope`, want: http.StatusBadRequest},
		{name: "missing session", secret: "s3cret", header: "s3cret", body: `{"galleryToken":"tok","orderRef":"o-1"}`, want: http.StatusBadRequest},
		{name: "missing token", secret: "s3cret", header: "s3cret", body: `{"sessionId":"sess-1","orderRef":"o-1"}`, want: http.StatusBadRequest},
		{name: "missing order ref", secret: "s3cret", header: "s3cret", body: `{"sessionId":"sess-1","galleryToken":"tok"}`, want: http.StatusBadRequest},
		{name: "negative max", secret: "s3cret", header: "s3cret", body: `{"sessionId":"sess-1","galleryToken":"tok","orderRef":"o-1","maxDownloads":-1}`, want: http.StatusBadRequest},
		{name: "bad expiry", secret: "s3cret", header: "s3cret", body: `{"sessionId":"sess-1","galleryToken":"tok","orderRef":"o-1","expiresAt":"tomorrow"}`, want: http.StatusBadRequest},
	}

	for _, tc := range cases {
		store := &stubEntitlementStore{}
		handler := OrderHandler{Entitlements: store, Secret: tc.secret}

		rec := httptest.NewRecorder()
		handler.Complete(rec, orderRequest(tc.header, tc.body))

		if rec.Code != tc.want {
			t.Fatalf("%s: expected status %d got %d: %s", tc.name, tc.want, rec.Code, rec.Body.String())
		}
		if len(store.created) != 0 {
			t.Fatalf("%s: rejected order must not create entitlements", tc.name)
		}
	}
}
