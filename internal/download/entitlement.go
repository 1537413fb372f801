package download

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lensfolio/backend/internal/models"
	"github.com/lensfolio/backend/internal/repositories"
)

// Decision is the outcome of the entitlement stage.
type Decision struct {
	Granted bool
	// Paid is true when the grant is backed by a purchased entitlement.
	// Delivery uses it to decide between original and watermarked preview.
	Paid bool
	// Entitlement is the grant that covered the download, if any.
	Entitlement *models.DownloadEntitlement
	// Reservation is the accounting row consumed by this grant.
	Reservation models.GalleryDownload
}

// EntitlementEngine decides whether an accessor may download a photo and, if
// so, consumes one unit of the relevant allowance. Consumption is delegated
// to the download store, whose reserve operations are atomic: two concurrent
// requests for the last slot never both succeed.
type EntitlementEngine struct {
	entitlements EntitlementStore
	downloads    DownloadStore
}

// NewEntitlementEngine wires the engine to its stores.
func NewEntitlementEngine(entitlements EntitlementStore, downloads DownloadStore) *EntitlementEngine {
	return &EntitlementEngine{entitlements: entitlements, downloads: downloads}
}

func newReservation(sessionID string, accessor Accessor, ref PhotoRef, entitlementID string, now time.Time) models.GalleryDownload {
	return models.GalleryDownload{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		ClientID:      accessor.ClientID,
		PhotoID:       ref.PhotoID,
		Filename:      ref.Filename,
		EntitlementID: entitlementID,
		Status:        models.DownloadStatusReserved,
		CreatedAt:     now,
	}
}

// Check runs the pricing-mode algorithm for one requested file. The file
// reference may carry a photo id, a filename, or both; entitlement coverage
// accepts either.
func (e *EntitlementEngine) Check(ctx context.Context, accessor Accessor, resolved ResolvedPolicy, ref PhotoRef, now time.Time) (Decision, error) {
	sessionID := resolved.Policy.SessionID

	// Owners are never metered against their own galleries.
	if accessor.Can(CapabilityBypassQuota) {
		row := newReservation(sessionID, accessor, ref, "", now)
		if err := e.downloads.Create(ctx, row); err != nil {
			return Decision{}, DatabaseError(StageEntitlementChecking, err)
		}
		return Decision{Granted: true, Paid: true, Reservation: row}, nil
	}

	switch mode := resolved.Policy.Mode.(type) {
	case models.FreeMode:
		row := newReservation(sessionID, accessor, ref, "", now)
		if err := e.downloads.Create(ctx, row); err != nil {
			return Decision{}, DatabaseError(StageEntitlementChecking, err)
		}
		return Decision{Granted: true, Reservation: row}, nil

	case models.FixedMode, models.PerPhotoMode:
		return e.grantEntitled(ctx, accessor, sessionID, ref, false, now)

	case models.BulkMode:
		// Bulk purchases are tied to an explicit photo set; a grant with no
		// set does not cover anything.
		return e.grantEntitled(ctx, accessor, sessionID, ref, true, now)

	case models.FreemiumMode:
		row := newReservation(sessionID, accessor, ref, "", now)
		err := e.downloads.ReserveWithinQuota(ctx, row, mode.FreeCount)
		if err == nil {
			return Decision{Granted: true, Reservation: row}, nil
		}
		if !errors.Is(err, repositories.ErrQuotaExhausted) {
			return Decision{}, DatabaseError(StageEntitlementChecking, err)
		}
		// Free allowance is gone; a paid entitlement may still cover it.
		return e.grantEntitled(ctx, accessor, sessionID, ref, false, now)

	default:
		return Decision{}, DatabaseError(StageEntitlementChecking, models.ErrUnknownPricingMode)
	}
}

// grantEntitled finds a purchased entitlement covering ref and consumes one
// download from it. requireExplicitSet demands set membership rather than
// accepting session-wide grants (bulk mode).
func (e *EntitlementEngine) grantEntitled(ctx context.Context, accessor Accessor, sessionID string, ref PhotoRef, requireExplicitSet bool, now time.Time) (Decision, error) {
	active, err := e.entitlements.ActiveForClient(ctx, sessionID, accessor.ClientID, now)
	if err != nil {
		return Decision{}, DatabaseError(StageEntitlementChecking, err)
	}

	var match *models.DownloadEntitlement
	for i := range active {
		ent := &active[i]
		if requireExplicitSet && len(ent.PhotoIDs) == 0 {
			continue
		}
		if ent.Covers(ref.PhotoID, ref.Filename) {
			match = ent
			break
		}
	}
	if match == nil {
		return Decision{}, PaymentRequired(sessionID, ref.PhotoID, ref.Filename)
	}

	row := newReservation(sessionID, accessor, ref, match.ID, now)
	err = e.downloads.ReserveEntitled(ctx, row, now)
	switch {
	case err == nil:
		return Decision{Granted: true, Paid: true, Entitlement: match, Reservation: row}, nil
	case errors.Is(err, repositories.ErrEntitlementExhausted):
		return Decision{}, QuotaExceeded(sessionID, ref.PhotoID, ref.Filename)
	case errors.Is(err, repositories.ErrEntitlementExpired):
		// An entitlement that lapsed between lookup and consumption behaves
		// as if it never existed.
		return Decision{}, PaymentRequired(sessionID, ref.PhotoID, ref.Filename)
	default:
		return Decision{}, DatabaseError(StageEntitlementChecking, err)
	}
}
