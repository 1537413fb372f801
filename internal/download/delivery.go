package download

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lensfolio/backend/internal/models"
)

// Descriptor is the success payload of the pipeline: everything a client
// needs to fetch the bytes.
type Descriptor struct {
	DownloadURL          string    `json:"downloadUrl"`
	Token                string    `json:"token"`
	ExpiresAt            time.Time `json:"expiresAt"`
	Filename             string    `json:"filename"`
	SizeBytes            int64     `json:"sizeBytes"`
	ContentType          string    `json:"contentType"`
	Watermarked          bool      `json:"watermarked"`
	ScreenshotProtection bool      `json:"screenshotProtection"`
}

// DeliveryStage turns an approved file into a fetchable descriptor. It picks
// the asset variant (original or watermarked preview), mints the download
// token, presigns the URL, and finalizes the accounting row. Originals are
// only delivered once payment or ownership is fully resolved.
type DeliveryStage struct {
	downloads DownloadStore
	storage   ObjectStorage
	renderer  PreviewRenderer
	tokenTTL  time.Duration
	urlTTL    time.Duration
}

// NewDeliveryStage wires the stage to its collaborators.
func NewDeliveryStage(downloads DownloadStore, storage ObjectStorage, renderer PreviewRenderer, tokenTTL, urlTTL time.Duration) *DeliveryStage {
	return &DeliveryStage{
		downloads: downloads,
		storage:   storage,
		renderer:  renderer,
		tokenTTL:  tokenTTL,
		urlTTL:    urlTTL,
	}
}

// needsPreview reports whether the accessor gets a watermarked derivative
// instead of the original.
func (d *DeliveryStage) needsPreview(accessor Accessor, decision Decision, resolved ResolvedPolicy) bool {
	settings := resolved.Watermark()
	if settings == nil || !settings.PreviewOnly {
		return false
	}
	if accessor.Can(CapabilityDownloadOriginals) {
		return false
	}
	return !decision.Paid
}

// Deliver produces the descriptor for an approved download. On success the
// accounting row moves reserved to completed and the token is marked used in
// the same transaction, so the two never disagree.
func (d *DeliveryStage) Deliver(ctx context.Context, accessor Accessor, decision Decision, resolved ResolvedPolicy, file models.FileRecord, now time.Time) (Descriptor, error) {
	key := file.StorageKey
	watermarked := false
	if d.needsPreview(accessor, decision, resolved) {
		derived, err := d.renderer.Render(ctx, file, *resolved.Watermark())
		if err != nil {
			return Descriptor{}, ProcessingError(err)
		}
		key = derived
		watermarked = true
	}

	token := models.DownloadToken{
		Token:      uuid.NewString(),
		DownloadID: decision.Reservation.ID,
		SessionID:  file.SessionID,
		Filename:   file.Filename,
		ExpiresAt:  now.Add(d.tokenTTL),
	}
	if err := d.downloads.MintToken(ctx, token); err != nil {
		return Descriptor{}, DatabaseError(StageDelivering, err)
	}

	url, err := d.storage.PresignGet(ctx, key, d.urlTTL)
	if err != nil {
		return Descriptor{}, StorageError(err)
	}

	if _, err := d.downloads.Complete(ctx, token.Token, now); err != nil {
		return Descriptor{}, DatabaseError(StageDelivering, err)
	}

	return Descriptor{
		DownloadURL:          url,
		Token:                token.Token,
		ExpiresAt:            now.Add(d.urlTTL),
		Filename:             file.OriginalName,
		SizeBytes:            file.SizeBytes,
		ContentType:          file.ContentType,
		Watermarked:          watermarked,
		ScreenshotProtection: resolved.Policy.ScreenshotProtection,
	}, nil
}
