package download

import (
	"context"
	"errors"

	"github.com/lensfolio/backend/internal/models"
	"github.com/lensfolio/backend/internal/repositories"
)

// ResolvedPolicy is the pricing decision input for the entitlement stage.
type ResolvedPolicy struct {
	Policy models.DownloadPolicy
	// RequiresPayment mirrors the pricing mode so later stages do not
	// re-derive it.
	RequiresPayment bool
}

// Watermark returns the watermark settings, or nil when previews are not
// configured.
func (r ResolvedPolicy) Watermark() *models.WatermarkSettings {
	return r.Policy.Watermark
}

// PolicyResolver loads the download policy governing a session.
type PolicyResolver struct {
	policies PolicyStore
}

// NewPolicyResolver wires a resolver to its policy store.
func NewPolicyResolver(policies PolicyStore) *PolicyResolver {
	return &PolicyResolver{policies: policies}
}

// Resolve fetches the session's policy. Sessions without a configured policy
// fall back to the free default so unconfigured galleries stay downloadable.
func (p *PolicyResolver) Resolve(ctx context.Context, sessionID string) (ResolvedPolicy, error) {
	policy, err := p.policies.FindBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			policy = models.DefaultPolicy(sessionID)
		} else {
			return ResolvedPolicy{}, DatabaseError(StagePolicyResolving, err)
		}
	}
	if policy.Mode == nil {
		return ResolvedPolicy{}, DatabaseError(StagePolicyResolving, models.ErrUnknownPricingMode)
	}
	return ResolvedPolicy{
		Policy:          policy,
		RequiresPayment: policy.Mode.RequiresPayment(),
	}, nil
}
