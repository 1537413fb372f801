package download

import (
	"time"

	"github.com/google/uuid"
)

// Capability is a single permission carried by an accessor identity.
// Stages test capabilities rather than comparing identity kinds so that new
// accessor types get the right behavior by declaring their capability set.
type Capability string

const (
	// CapabilityDownloadOriginals bypasses payment and watermark rules.
	CapabilityDownloadOriginals Capability = "download_originals"
	// CapabilityManagePolicy allows reading and writing the session policy.
	CapabilityManagePolicy Capability = "manage_policy"
	// CapabilityBypassQuota exempts the accessor from quota accounting.
	CapabilityBypassQuota Capability = "bypass_quota"
)

// AccessorKind labels how the accessor authenticated.
type AccessorKind string

const (
	// AccessorClient is a gallery visitor holding a session token.
	AccessorClient AccessorKind = "client"
	// AccessorOwner is the photographer who owns the session.
	AccessorOwner AccessorKind = "owner"
)

// Accessor identifies who is asking for a download and what they may do.
type Accessor struct {
	Kind AccessorKind
	// ClientID is the stable quota-accounting identity. Anonymous gallery
	// visitors are keyed by their token, owners by user id.
	ClientID string
	// UserID is set only for authenticated owners.
	UserID       string
	capabilities map[Capability]bool
}

// ClientAccessor builds the identity for a gallery visitor authenticated by
// session token.
func ClientAccessor(galleryToken string) Accessor {
	return Accessor{
		Kind:     AccessorClient,
		ClientID: "client:" + galleryToken,
	}
}

// OwnerAccessor builds the identity for the session's photographer.
func OwnerAccessor(userID string) Accessor {
	return Accessor{
		Kind:     AccessorOwner,
		ClientID: "owner:" + userID,
		UserID:   userID,
		capabilities: map[Capability]bool{
			CapabilityDownloadOriginals: true,
			CapabilityManagePolicy:      true,
			CapabilityBypassQuota:       true,
		},
	}
}

// Can reports whether the accessor holds the capability.
func (a Accessor) Can(c Capability) bool { return a.capabilities[c] }

// RequestContext threads correlation data through every pipeline stage.
type RequestContext struct {
	CorrelationID string
	StartedAt     time.Time
}

// NewRequestContext starts a fresh correlation scope. A caller-provided id
// (for example from an X-Correlation-ID header) is honored, otherwise a new
// one is minted.
func NewRequestContext(correlationID string, now time.Time) RequestContext {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return RequestContext{CorrelationID: correlationID, StartedAt: now}
}

// Elapsed returns the time spent in the pipeline so far.
func (rc RequestContext) Elapsed(now time.Time) time.Duration {
	return now.Sub(rc.StartedAt)
}
