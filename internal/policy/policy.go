// Package policy holds the per-tier routing and approval thresholds. The
// numeric values are deployment configuration: defaults live here, overrides
// come from a YAML file.
package policy

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/cardmint/scan-cli/internal/model"
)

// TierPolicy configures routing and approval for a single tier.
type TierPolicy struct {
	// AcceptThreshold is the minimum final confidence for auto-approval.
	AcceptThreshold float64 `yaml:"accept_threshold"`
	// VerifyThreshold is the confidence below which QA sampling may route
	// the item to optional verification. Must be >= AcceptThreshold.
	VerifyThreshold float64 `yaml:"verify_threshold"`
	// AlwaysVerify forces required verification regardless of confidence.
	AlwaysVerify bool `yaml:"always_verify"`
}

// Policy maps tiers to their thresholds.
type Policy map[model.Tier]TierPolicy

// DefaultTiers returns the shipped tier thresholds.
func DefaultTiers() Policy {
	return Policy{
		model.TierCommon:    {AcceptThreshold: 0.92, VerifyThreshold: 0.95},
		model.TierRare:      {AcceptThreshold: 0.95, VerifyThreshold: 0.97},
		model.TierHolo:      {AcceptThreshold: 0.98, VerifyThreshold: 0.99, AlwaysVerify: true},
		model.TierVintage:   {AcceptThreshold: 0.98, VerifyThreshold: 0.99, AlwaysVerify: true},
		model.TierHighValue: {AcceptThreshold: 0.99, VerifyThreshold: 0.99, AlwaysVerify: true},
	}
}

// For returns the policy for a tier, falling back to the most conservative
// shipped tier for unknown values.
func (p Policy) For(tier model.Tier) TierPolicy {
	if tp, ok := p[tier]; ok {
		return tp
	}
	return DefaultTiers()[model.TierHighValue]
}

// Load reads tier overrides from a YAML file and merges them over the
// defaults. An empty path returns the defaults unchanged.
func Load(path string) (Policy, error) {
	p := DefaultTiers()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "policy: read %s", path)
	}

	var overrides map[model.Tier]TierPolicy
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, eris.Wrapf(err, "policy: parse %s", path)
	}

	for tier, tp := range overrides {
		if !tier.Valid() {
			return nil, eris.Errorf("policy: unknown tier %q", tier)
		}
		p[tier] = tp
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks threshold sanity for every tier.
func (p Policy) Validate() error {
	for tier, tp := range p {
		if tp.AcceptThreshold < 0 || tp.AcceptThreshold > 1 {
			return eris.Errorf("policy: tier %s accept_threshold %.2f out of [0,1]", tier, tp.AcceptThreshold)
		}
		if tp.VerifyThreshold < 0 || tp.VerifyThreshold > 1 {
			return eris.Errorf("policy: tier %s verify_threshold %.2f out of [0,1]", tier, tp.VerifyThreshold)
		}
		if tp.VerifyThreshold < tp.AcceptThreshold {
			return eris.Errorf("policy: tier %s verify_threshold %.2f below accept_threshold %.2f",
				tier, tp.VerifyThreshold, tp.AcceptThreshold)
		}
	}
	return nil
}
