package policy

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/nexus-gateway/nexus/config"
)

// PrivacyConstraint mirrors registry.PrivacyZone but as an Option — a
// TrafficPolicy may leave it unset.
type PrivacyConstraint int

const (
	NoConstraint PrivacyConstraint = iota
	ConstraintRestricted
	ConstraintOpen
)

// TrafficPolicy is the compiled, in-memory form of config.TrafficPolicyConfig.
type TrafficPolicy struct {
	ModelPattern      string
	PrivacyConstraint PrivacyConstraint
	MinTier           int // 0 means unset
	compiled          glob.Glob
}

// HasPrivacyConstraint reports whether the policy sets privacy_constraint.
func (p TrafficPolicy) HasPrivacyConstraint() bool {
	return p.PrivacyConstraint != NoConstraint
}

// HasMinTier reports whether the policy sets min_tier.
func (p TrafficPolicy) HasMinTier() bool {
	return p.MinTier > 0
}

// Matcher compiles TrafficPolicy globs and resolves the first match for a
// given model name, preserving declaration order.
type Matcher struct {
	policies []TrafficPolicy
}

// Compile builds a Matcher from TOML-sourced policy configs. Preserves
// declaration order. Returns an error — rejecting the entire config — on
// the first glob compilation failure.
func Compile(configs []config.TrafficPolicyConfig) (*Matcher, error) {
	policies := make([]TrafficPolicy, 0, len(configs))
	for _, c := range configs {
		g, err := glob.Compile(c.ModelPattern)
		if err != nil {
			return nil, fmt.Errorf("traffic policy %q: invalid model_pattern: %w", c.ModelPattern, err)
		}
		constraint := NoConstraint
		switch c.PrivacyConstraint {
		case "restricted":
			constraint = ConstraintRestricted
		case "open":
			constraint = ConstraintOpen
		case "":
			constraint = NoConstraint
		default:
			return nil, fmt.Errorf("traffic policy %q: invalid privacy_constraint %q", c.ModelPattern, c.PrivacyConstraint)
		}
		policies = append(policies, TrafficPolicy{
			ModelPattern:      c.ModelPattern,
			PrivacyConstraint: constraint,
			MinTier:           c.MinTier,
			compiled:          g,
		})
	}
	return &Matcher{policies: policies}, nil
}

// IsEmpty lets reconcilers short-circuit.
func (m *Matcher) IsEmpty() bool {
	return m == nil || len(m.policies) == 0
}

// Find returns the first policy (declaration order) whose model_pattern
// matches modelName, or false if none match. Case-sensitive by default.
func (m *Matcher) Find(modelName string) (TrafficPolicy, bool) {
	if m == nil {
		return TrafficPolicy{}, false
	}
	for _, p := range m.policies {
		if p.compiled.Match(modelName) {
			return p, true
		}
	}
	return TrafficPolicy{}, false
}
