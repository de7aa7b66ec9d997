// Package router decides whether an identified card needs secondary
// verification. Routing is a pure function of the primary result, the tier
// policy, and the context flags; the only nondeterminism is the QA sampling
// draw, which comes from an injected source so tests can fix the seed.
package router

import (
	"math/rand/v2"

	"github.com/cardmint/scan-cli/internal/model"
	"github.com/cardmint/scan-cli/internal/policy"
)

// Options holds the routing knobs that are global rather than per-tier.
type Options struct {
	// AutoApproveEnabled gates the bypass branch; when false nothing routes
	// straight to auto_approved.
	AutoApproveEnabled bool
	// BypassEnabled allows very-high-confidence commons to skip
	// verification entirely.
	BypassEnabled bool
	// BypassMargin is added to the tier accept threshold for the bypass
	// check. Default 0.03.
	BypassMargin float64
	// SampleRate is the QA sampling probability for confident results under
	// the verify threshold. Default 0.10.
	SampleRate float64
}

// DefaultOptions returns the shipped routing options.
func DefaultOptions() Options {
	return Options{
		AutoApproveEnabled: true,
		BypassEnabled:      true,
		BypassMargin:       0.03,
		SampleRate:         0.10,
	}
}

// Context carries per-item flags that override the standard policy.
type Context struct {
	// ForceVerification overrides every branch and routes to
	// verify_required.
	ForceVerification bool
}

// Router maps primary results to routing decisions.
type Router struct {
	tiers policy.Policy
	opts  Options
	rng   *rand.Rand
}

// New creates a Router. A nil rng draws from a fixed-seed source; callers
// wanting varied sampling pass their own.
func New(tiers policy.Policy, opts Options, rng *rand.Rand) *Router {
	if opts.BypassMargin <= 0 {
		opts.BypassMargin = 0.03
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 0.10
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(1, 2))
	}
	return &Router{tiers: tiers, opts: opts, rng: rng}
}

// Route evaluates the routing policy in order:
//  1. common-tier bypass (auto_approved, short-circuits verification)
//  2. always_verify tiers
//  3. below accept threshold
//  4. QA sampling under the verify threshold
//  5. skip
//
// ForceVerification overrides all of the above.
func (r *Router) Route(primary *model.PrimaryResult, tier model.Tier, rctx Context) model.RoutingDecision {
	tp := r.tiers.For(tier)

	if rctx.ForceVerification {
		return decision(model.RouteVerifyRequired, primary, tier, tp)
	}

	if tier == model.TierCommon &&
		r.opts.AutoApproveEnabled && r.opts.BypassEnabled &&
		primary.Confidence >= tp.AcceptThreshold+r.opts.BypassMargin {
		return decision(model.RouteAutoApproved, primary, tier, tp)
	}

	if tp.AlwaysVerify {
		return decision(model.RouteVerifyRequired, primary, tier, tp)
	}

	if primary.Confidence < tp.AcceptThreshold {
		return decision(model.RouteVerifyRequired, primary, tier, tp)
	}

	if primary.Confidence < tp.VerifyThreshold && r.rng.Float64() < r.opts.SampleRate {
		return decision(model.RouteVerifyOptional, primary, tier, tp)
	}

	return decision(model.RouteSkipVerify, primary, tier, tp)
}

// tierWeights order verification work: the most valuable cards first.
var tierWeights = map[model.Tier]float64{
	model.TierCommon:    0.2,
	model.TierRare:      0.5,
	model.TierHolo:      0.8,
	model.TierVintage:   0.9,
	model.TierHighValue: 1.0,
}

// reviewGap is how far below the accept threshold confidence must fall
// before the decision is also flagged for human attention.
const reviewGap = 0.15

func decision(action model.RouteAction, primary *model.PrimaryResult, tier model.Tier, tp policy.TierPolicy) model.RoutingDecision {
	gap := tp.AcceptThreshold - primary.Confidence
	if gap < 0 {
		gap = 0
	}
	return model.RoutingDecision{
		Action:        action,
		Priority:      tierWeights[tier] + gap,
		FlagForReview: primary.Confidence < tp.AcceptThreshold-reviewGap,
	}
}
