package models

import (
	"errors"
	"fmt"
	"time"
)

// Pricing mode names as stored in download_policies.mode.
const (
	PricingFree     = "free"
	PricingFixed    = "fixed"
	PricingPerPhoto = "per_photo"
	PricingFreemium = "freemium"
	PricingBulk     = "bulk"
)

// PricingMode is the sealed set of pricing algorithms a session can be
// configured with. Each variant carries exactly the fields its entitlement
// algorithm needs, so a type switch over PricingMode is checked at compile
// time instead of comparing mode strings.
type PricingMode interface {
	// Name returns the stable wire/storage name of the mode.
	Name() string
	// RequiresPayment reports whether the mode can demand payment. For
	// freemium this is conditional: the entitlement stage resolves it
	// against the client's remaining free count.
	RequiresPayment() bool

	pricingMode()
}

// FreeMode grants every download unconditionally.
type FreeMode struct{}

// FixedMode charges a single gallery-wide price; any prior entitlement for
// the session unlocks every photo in it.
type FixedMode struct {
	PriceCents int64
}

// PerPhotoMode charges per photo; an entitlement unlocks only the photos it
// names.
type PerPhotoMode struct {
	PriceCents int64
}

// FreemiumMode grants FreeCount downloads per client, then charges per photo.
type FreemiumMode struct {
	FreeCount  int
	PriceCents int64
}

// BulkMode sells photo bundles in tiers; an entitlement names the purchased
// set.
type BulkMode struct {
	Tiers []BulkTier
}

// BulkTier is one {quantity, price} step of a bulk pricing ladder, ordered by
// ascending quantity.
type BulkTier struct {
	Quantity   int   `json:"quantity"`
	PriceCents int64 `json:"priceCents"`
}

func (FreeMode) Name() string     { return PricingFree }
func (FixedMode) Name() string    { return PricingFixed }
func (PerPhotoMode) Name() string { return PricingPerPhoto }
func (FreemiumMode) Name() string { return PricingFreemium }
func (BulkMode) Name() string     { return PricingBulk }

func (FreeMode) RequiresPayment() bool     { return false }
func (FixedMode) RequiresPayment() bool    { return true }
func (PerPhotoMode) RequiresPayment() bool { return true }
func (FreemiumMode) RequiresPayment() bool { return true }
func (BulkMode) RequiresPayment() bool     { return true }

func (FreeMode) pricingMode()     {}
func (FixedMode) pricingMode()    {}
func (PerPhotoMode) pricingMode() {}
func (FreemiumMode) pricingMode() {}
func (BulkMode) pricingMode()     {}

// WatermarkSettings controls preview-only delivery. When PreviewOnly is set,
// clients without a paid entitlement receive a scaled, watermarked
// derivative instead of the original asset.
type WatermarkSettings struct {
	PreviewOnly  bool   `json:"previewOnly"`
	Text         string `json:"text"`
	MaxDimension int    `json:"maxDimension"`
}

// DownloadPolicy is the per-session commerce configuration. Prices are kept
// in integer minor units (cents) to stay exact.
type DownloadPolicy struct {
	SessionID            string
	Mode                 PricingMode
	Currency             string
	Watermark            *WatermarkSettings
	ScreenshotProtection bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DefaultPolicy is the policy applied to sessions that never configured
// commerce: everything downloads for free. It is a named constructor so
// callers and tests can assert on the degraded path explicitly.
func DefaultPolicy(sessionID string) DownloadPolicy {
	return DownloadPolicy{
		SessionID: sessionID,
		Mode:      FreeMode{},
		Currency:  "USD",
	}
}

var (
	// ErrUnknownPricingMode indicates a mode name outside the sealed set.
	ErrUnknownPricingMode = errors.New("unknown pricing mode")
	// ErrInvalidPolicy indicates mode-irrelevant or missing policy fields.
	ErrInvalidPolicy = errors.New("invalid download policy")
)

// PolicyFields is the nullable column set of a download_policies row. It is
// the exchange shape between storage/API layers and the typed PricingMode.
type PolicyFields struct {
	Mode           string
	PricePerPhoto  *int64
	FreeCount      *int
	BulkTiers      []BulkTier
	Currency       string
	Watermark      *WatermarkSettings
	ScreenshotProt bool
}

// NewPricingMode builds the typed mode from raw fields, enforcing the
// invariant that exactly the fields relevant to the mode are present.
func NewPricingMode(f PolicyFields) (PricingMode, error) {
	switch f.Mode {
	case PricingFree:
		if f.PricePerPhoto != nil || f.FreeCount != nil || len(f.BulkTiers) > 0 {
			return nil, fmt.Errorf("%w: free mode carries no pricing fields", ErrInvalidPolicy)
		}
		return FreeMode{}, nil
	case PricingFixed:
		if f.PricePerPhoto == nil || *f.PricePerPhoto <= 0 {
			return nil, fmt.Errorf("%w: fixed mode requires a positive price", ErrInvalidPolicy)
		}
		if f.FreeCount != nil || len(f.BulkTiers) > 0 {
			return nil, fmt.Errorf("%w: fixed mode carries only a price", ErrInvalidPolicy)
		}
		return FixedMode{PriceCents: *f.PricePerPhoto}, nil
	case PricingPerPhoto:
		if f.PricePerPhoto == nil || *f.PricePerPhoto <= 0 {
			return nil, fmt.Errorf("%w: per_photo mode requires a positive price", ErrInvalidPolicy)
		}
		if f.FreeCount != nil || len(f.BulkTiers) > 0 {
			return nil, fmt.Errorf("%w: per_photo mode carries only a price", ErrInvalidPolicy)
		}
		return PerPhotoMode{PriceCents: *f.PricePerPhoto}, nil
	case PricingFreemium:
		if f.FreeCount == nil || *f.FreeCount < 0 {
			return nil, fmt.Errorf("%w: freemium mode requires a free count", ErrInvalidPolicy)
		}
		if f.PricePerPhoto == nil || *f.PricePerPhoto <= 0 {
			return nil, fmt.Errorf("%w: freemium mode requires a positive price", ErrInvalidPolicy)
		}
		if len(f.BulkTiers) > 0 {
			return nil, fmt.Errorf("%w: freemium mode carries no bulk tiers", ErrInvalidPolicy)
		}
		return FreemiumMode{FreeCount: *f.FreeCount, PriceCents: *f.PricePerPhoto}, nil
	case PricingBulk:
		if len(f.BulkTiers) == 0 {
			return nil, fmt.Errorf("%w: bulk mode requires at least one tier", ErrInvalidPolicy)
		}
		if f.PricePerPhoto != nil || f.FreeCount != nil {
			return nil, fmt.Errorf("%w: bulk mode carries only tiers", ErrInvalidPolicy)
		}
		prevQty := 0
		for _, tier := range f.BulkTiers {
			if tier.Quantity <= prevQty {
				return nil, fmt.Errorf("%w: bulk tiers must have ascending quantities", ErrInvalidPolicy)
			}
			if tier.PriceCents <= 0 {
				return nil, fmt.Errorf("%w: bulk tier price must be positive", ErrInvalidPolicy)
			}
			prevQty = tier.Quantity
		}
		return BulkMode{Tiers: f.BulkTiers}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPricingMode, f.Mode)
	}
}

// Fields flattens the policy back into its nullable column set.
func (p DownloadPolicy) Fields() PolicyFields {
	f := PolicyFields{
		Mode:           p.Mode.Name(),
		Currency:       p.Currency,
		Watermark:      p.Watermark,
		ScreenshotProt: p.ScreenshotProtection,
	}
	switch mode := p.Mode.(type) {
	case FreeMode:
	case FixedMode:
		price := mode.PriceCents
		f.PricePerPhoto = &price
	case PerPhotoMode:
		price := mode.PriceCents
		f.PricePerPhoto = &price
	case FreemiumMode:
		price := mode.PriceCents
		count := mode.FreeCount
		f.PricePerPhoto = &price
		f.FreeCount = &count
	case BulkMode:
		f.BulkTiers = mode.Tiers
	}
	return f
}
