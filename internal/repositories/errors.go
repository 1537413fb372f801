package repositories

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates the attempted write would violate a uniqueness constraint.
	ErrConflict = errors.New("record conflict")
	// ErrQuotaExhausted indicates a reservation was refused because the
	// client's download allowance is already fully consumed.
	ErrQuotaExhausted = errors.New("download quota exhausted")
	// ErrEntitlementExhausted indicates the entitlement has no remaining
	// downloads.
	ErrEntitlementExhausted = errors.New("entitlement exhausted")
	// ErrEntitlementExpired indicates the entitlement's validity window has
	// passed.
	ErrEntitlementExpired = errors.New("entitlement expired")
	// ErrTokenUsed indicates the download token was already redeemed.
	ErrTokenUsed = errors.New("download token already used")
)
