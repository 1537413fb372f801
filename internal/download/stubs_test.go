package download

import (
	"context"
	"sync"
	"time"

	"github.com/lensfolio/backend/internal/models"
	"github.com/lensfolio/backend/internal/repositories"
)

type memSessionStore struct {
	sessions map[string]models.GallerySession
	err      error
}

func newMemSessionStore(sessions ...models.GallerySession) *memSessionStore {
	s := &memSessionStore{sessions: make(map[string]models.GallerySession)}
	for _, session := range sessions {
		s.sessions[session.ID] = session
	}
	return s
}

func (s *memSessionStore) FindByID(_ context.Context, sessionID string) (models.GallerySession, error) {
	if s.err != nil {
		return models.GallerySession{}, s.err
	}
	session, ok := s.sessions[sessionID]
	if !ok {
		return models.GallerySession{}, repositories.ErrNotFound
	}
	return session, nil
}

type memPolicyStore struct {
	policies map[string]models.DownloadPolicy
	err      error
	calls    int
}

func newMemPolicyStore(policies ...models.DownloadPolicy) *memPolicyStore {
	s := &memPolicyStore{policies: make(map[string]models.DownloadPolicy)}
	for _, policy := range policies {
		s.policies[policy.SessionID] = policy
	}
	return s
}

func (s *memPolicyStore) FindBySession(_ context.Context, sessionID string) (models.DownloadPolicy, error) {
	s.calls++
	if s.err != nil {
		return models.DownloadPolicy{}, s.err
	}
	policy, ok := s.policies[sessionID]
	if !ok {
		return models.DownloadPolicy{}, repositories.ErrNotFound
	}
	return policy, nil
}

type memFileStore struct {
	files []models.FileRecord
	calls int
}

func (s *memFileStore) FindByPhotoID(_ context.Context, sessionID, photoID string) (models.FileRecord, error) {
	s.calls++
	for _, file := range s.files {
		if file.SessionID == sessionID && file.ID == photoID {
			return file, nil
		}
	}
	return models.FileRecord{}, repositories.ErrNotFound
}

func (s *memFileStore) FindByFilename(_ context.Context, sessionID, filename string) (models.FileRecord, error) {
	s.calls++
	for _, file := range s.files {
		if file.SessionID == sessionID && file.Filename == filename {
			return file, nil
		}
	}
	return models.FileRecord{}, repositories.ErrNotFound
}

type memEntitlementStore struct {
	entitlements []models.DownloadEntitlement
	err          error
}

func (s *memEntitlementStore) ActiveForClient(_ context.Context, sessionID, clientID string, now time.Time) ([]models.DownloadEntitlement, error) {
	if s.err != nil {
		return nil, s.err
	}
	var active []models.DownloadEntitlement
	for _, ent := range s.entitlements {
		if ent.SessionID == sessionID && ent.ClientID == clientID && !ent.Expired(now) {
			active = append(active, ent)
		}
	}
	return active, nil
}

// memDownloadStore mirrors the atomic semantics of the postgres store under a
// mutex so concurrency tests exercise real contention.
type memDownloadStore struct {
	mu           sync.Mutex
	downloads    map[string]*models.GalleryDownload
	tokens       map[string]*models.DownloadToken
	entitlements *memEntitlementStore

	reserveErr  error
	mintErr     error
	completeErr error
}

func newMemDownloadStore(entitlements *memEntitlementStore) *memDownloadStore {
	if entitlements == nil {
		entitlements = &memEntitlementStore{}
	}
	return &memDownloadStore{
		downloads:    make(map[string]*models.GalleryDownload),
		tokens:       make(map[string]*models.DownloadToken),
		entitlements: entitlements,
	}
}

// countLocked counts every attempt row, failed ones included, matching the
// fail-closed accounting in PostgresDownloadRepository.
func (s *memDownloadStore) countLocked(match func(*models.GalleryDownload) bool) int {
	count := 0
	for _, row := range s.downloads {
		if match(row) {
			count++
		}
	}
	return count
}

func (s *memDownloadStore) ReserveWithinQuota(_ context.Context, row models.GalleryDownload, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserveErr != nil {
		return s.reserveErr
	}
	used := s.countLocked(func(existing *models.GalleryDownload) bool {
		return existing.SessionID == row.SessionID && existing.ClientID == row.ClientID
	})
	if used >= limit {
		return repositories.ErrQuotaExhausted
	}
	stored := row
	s.downloads[row.ID] = &stored
	return nil
}

func (s *memDownloadStore) ReserveEntitled(_ context.Context, row models.GalleryDownload, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserveErr != nil {
		return s.reserveErr
	}
	var ent *models.DownloadEntitlement
	for i := range s.entitlements.entitlements {
		if s.entitlements.entitlements[i].ID == row.EntitlementID {
			ent = &s.entitlements.entitlements[i]
			break
		}
	}
	if ent == nil {
		return repositories.ErrNotFound
	}
	if ent.Expired(now) {
		return repositories.ErrEntitlementExpired
	}
	used := s.countLocked(func(existing *models.GalleryDownload) bool {
		return existing.EntitlementID == ent.ID
	})
	if ent.MaxDownloads > 0 && used >= ent.MaxDownloads {
		return repositories.ErrEntitlementExhausted
	}
	stored := row
	s.downloads[row.ID] = &stored
	return nil
}

func (s *memDownloadStore) Create(_ context.Context, row models.GalleryDownload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserveErr != nil {
		return s.reserveErr
	}
	stored := row
	s.downloads[row.ID] = &stored
	return nil
}

func (s *memDownloadStore) MintToken(_ context.Context, token models.DownloadToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mintErr != nil {
		return s.mintErr
	}
	if _, ok := s.downloads[token.DownloadID]; !ok {
		return repositories.ErrNotFound
	}
	if _, ok := s.tokens[token.Token]; ok {
		return repositories.ErrConflict
	}
	// One token per download row, matching the unique index.
	for _, existing := range s.tokens {
		if existing.DownloadID == token.DownloadID {
			return repositories.ErrConflict
		}
	}
	stored := token
	s.tokens[token.Token] = &stored
	return nil
}

func (s *memDownloadStore) Complete(_ context.Context, token string, now time.Time) (models.GalleryDownload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return models.GalleryDownload{}, s.completeErr
	}
	tok, ok := s.tokens[token]
	if !ok {
		return models.GalleryDownload{}, repositories.ErrNotFound
	}
	if tok.IsUsed {
		return models.GalleryDownload{}, repositories.ErrTokenUsed
	}
	row, ok := s.downloads[tok.DownloadID]
	if !ok || row.Status != models.DownloadStatusReserved {
		return models.GalleryDownload{}, repositories.ErrNotFound
	}
	completed := now.UTC()
	row.Status = models.DownloadStatusCompleted
	row.CompletedAt = &completed
	tok.IsUsed = true
	return *row, nil
}

func (s *memDownloadStore) Fail(_ context.Context, downloadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.downloads[downloadID]
	if !ok {
		return repositories.ErrNotFound
	}
	if row.Status == models.DownloadStatusReserved {
		row.Status = models.DownloadStatusFailed
	}
	return nil
}

func (s *memDownloadStore) FailStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var swept int64
	for _, row := range s.downloads {
		if row.Status == models.DownloadStatusReserved && row.CreatedAt.Before(cutoff) {
			row.Status = models.DownloadStatusFailed
			swept++
		}
	}
	return swept, nil
}

func (s *memDownloadStore) byID(id string) models.GalleryDownload {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.downloads[id]
	if !ok {
		return models.GalleryDownload{}
	}
	return *row
}

func (s *memDownloadStore) tokenForDownload(downloadID string) models.DownloadToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tok := range s.tokens {
		if tok.DownloadID == downloadID {
			return *tok
		}
	}
	return models.DownloadToken{}
}

func (s *memDownloadStore) tokenByValue(token string) models.DownloadToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[token]
	if !ok {
		return models.DownloadToken{}
	}
	return *tok
}

func (s *memDownloadStore) countByStatus(status string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, row := range s.downloads {
		if row.Status == status {
			count++
		}
	}
	return count
}

type stubStorage struct {
	presignErr error
	keys       []string
}

func (s *stubStorage) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	if s.presignErr != nil {
		return "", s.presignErr
	}
	s.keys = append(s.keys, key)
	return "https://files.test/" + key + "?signature=abc", nil
}

type stubRenderer struct {
	err   error
	calls int
}

func (r *stubRenderer) Render(_ context.Context, file models.FileRecord, _ models.WatermarkSettings) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return "previews/" + file.StorageKey, nil
}
