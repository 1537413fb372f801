package models

import (
	"errors"
	"reflect"
	"testing"
)

func cents(v int64) *int64 { return &v }

func grants(v int) *int { return &v }

func TestNewPricingModeValidation(t *testing.T) {
	cases := []struct {
		name    string
		fields  PolicyFields
		want    PricingMode
		wantErr error
	}{
		{
			name:   "free",
			fields: PolicyFields{Mode: PricingFree},
			want:   FreeMode{},
		},
		{
			name:    "free rejects stray price",
			fields:  PolicyFields{Mode: PricingFree, PricePerPhoto: cents(500)},
			wantErr: ErrInvalidPolicy,
		},
		{
			name:   "fixed",
			fields: PolicyFields{Mode: PricingFixed, PricePerPhoto: cents(2500)},
			want:   FixedMode{PriceCents: 2500},
		},
		{
			name:    "fixed requires a price",
			fields:  PolicyFields{Mode: PricingFixed},
			wantErr: ErrInvalidPolicy,
		},
		{
			name:    "fixed rejects zero price",
			fields:  PolicyFields{Mode: PricingFixed, PricePerPhoto: cents(0)},
			wantErr: ErrInvalidPolicy,
		},
		{
			name:   "per photo",
			fields: PolicyFields{Mode: PricingPerPhoto, PricePerPhoto: cents(500)},
			want:   PerPhotoMode{PriceCents: 500},
		},
		{
			name:    "per photo rejects stray free count",
			fields:  PolicyFields{Mode: PricingPerPhoto, PricePerPhoto: cents(500), FreeCount: grants(3)},
			wantErr: ErrInvalidPolicy,
		},
		{
			name:   "freemium",
			fields: PolicyFields{Mode: PricingFreemium, PricePerPhoto: cents(500), FreeCount: grants(3)},
			want:   FreemiumMode{FreeCount: 3, PriceCents: 500},
		},
		{
			name:    "freemium requires a free count",
			fields:  PolicyFields{Mode: PricingFreemium, PricePerPhoto: cents(500)},
			wantErr: ErrInvalidPolicy,
		},
		{
			name: "bulk",
			fields: PolicyFields{Mode: PricingBulk, BulkTiers: []BulkTier{
				{Quantity: 5, PriceCents: 2000},
				{Quantity: 10, PriceCents: 3500},
			}},
			want: BulkMode{Tiers: []BulkTier{
				{Quantity: 5, PriceCents: 2000},
				{Quantity: 10, PriceCents: 3500},
			}},
		},
		{
			name: "bulk rejects unordered tiers",
			fields: PolicyFields{Mode: PricingBulk, BulkTiers: []BulkTier{
				{Quantity: 10, PriceCents: 3500},
				{Quantity: 5, PriceCents: 2000},
			}},
			wantErr: ErrInvalidPolicy,
		},
		{
			name: "bulk rejects stray price",
			fields: PolicyFields{Mode: PricingBulk, PricePerPhoto: cents(100),
				BulkTiers: []BulkTier{{Quantity: 5, PriceCents: 2000}}},
			wantErr: ErrInvalidPolicy,
		},
		{
			name:    "unknown mode",
			fields:  PolicyFields{Mode: "pay_what_you_want"},
			wantErr: ErrUnknownPricingMode,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mode, err := NewPricingMode(tc.fields)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(mode, tc.want) {
				t.Fatalf("expected %#v got %#v", tc.want, mode)
			}
		})
	}
}

func TestPolicyRoundTripThroughFields(t *testing.T) {
	policies := []DownloadPolicy{
		{SessionID: "sess-1", Mode: FreemiumMode{FreeCount: 3, PriceCents: 500}, Currency: "USD"},
		{SessionID: "sess-2", Mode: BulkMode{Tiers: []BulkTier{{Quantity: 5, PriceCents: 2000}}}, Currency: "EUR"},
	}

	for _, policy := range policies {
		mode, err := NewPricingMode(policy.Fields())
		if err != nil {
			t.Fatalf("%s: flattened fields did not validate: %v", policy.Mode.Name(), err)
		}
		if !reflect.DeepEqual(mode, policy.Mode) {
			t.Fatalf("%s: round trip changed the mode: %#v", policy.Mode.Name(), mode)
		}
	}
}

func TestDefaultPolicyIsFree(t *testing.T) {
	policy := DefaultPolicy("sess-9")

	if policy.SessionID != "sess-9" {
		t.Fatalf("expected session id carried, got %q", policy.SessionID)
	}
	if _, ok := policy.Mode.(FreeMode); !ok {
		t.Fatalf("expected free mode, got %s", policy.Mode.Name())
	}
	if policy.Mode.RequiresPayment() {
		t.Fatal("default policy must not require payment")
	}
	if policy.Currency != "USD" {
		t.Fatalf("expected USD default, got %q", policy.Currency)
	}
}
