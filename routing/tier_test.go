package routing

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nexus-gateway/nexus/config"
	"github.com/nexus-gateway/nexus/policy"
	"github.com/nexus-gateway/nexus/registry"
)

func discardLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func tierRegistryAndMatcher(t *testing.T) (*registry.Registry, *policy.Matcher) {
	t.Helper()
	reg := registry.NewRegistry()
	tier1 := &registry.Backend{ID: "low", Name: "low", Profile: registry.AgentProfile{CapabilityTier: 1}, Models: []registry.ModelCapability{{Name: "m"}}}
	tier5 := &registry.Backend{ID: "high", Name: "high", Profile: registry.AgentProfile{CapabilityTier: 5}, Models: []registry.ModelCapability{{Name: "m"}}}
	if err := reg.Register(tier1, nil); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(tier5, nil); err != nil {
		t.Fatal(err)
	}

	m, err := policy.Compile([]config.TrafficPolicyConfig{
		{ModelPattern: "m", MinTier: 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg, m
}

func TestTierStrictExcludesBelowMinimum(t *testing.T) {
	reg, matcher := tierRegistryAndMatcher(t)
	tr := &TierReconciler{registry: reg, matcher: matcher, logger: discardLogger()}

	intent := NewIntent("m")
	intent.ResolvedModel = "m"
	intent.CandidateAgents = []string{"low", "high"}
	intent.TierEnforcementMode = Strict

	if err := tr.Reconcile(context.Background(), intent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !intent.IsCandidate("high") {
		t.Fatal("expected tier-5 backend to remain a candidate")
	}
	if intent.IsCandidate("low") {
		t.Fatal("expected tier-1 backend to be excluded under Strict mode")
	}
}

func TestTierFlexibleNeverDowngradesWhenNoneMeetBar(t *testing.T) {
	reg := registry.NewRegistry()
	onlyLow := &registry.Backend{ID: "low", Name: "low", Profile: registry.AgentProfile{CapabilityTier: 1}, Models: []registry.ModelCapability{{Name: "m"}}}
	if err := reg.Register(onlyLow, nil); err != nil {
		t.Fatal(err)
	}
	matcher, err := policy.Compile([]config.TrafficPolicyConfig{{ModelPattern: "m", MinTier: 3}})
	if err != nil {
		t.Fatal(err)
	}
	tr := &TierReconciler{registry: reg, matcher: matcher, logger: discardLogger()}

	intent := NewIntent("m")
	intent.ResolvedModel = "m"
	intent.CandidateAgents = []string{"low"}
	intent.TierEnforcementMode = Flexible

	if err := tr.Reconcile(context.Background(), intent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !intent.IsCandidate("low") {
		t.Fatal("flexible mode must not exclude the only candidate when none meets min_tier")
	}
}

func TestTierFlexibleStillExcludesWhenSomeMeetBar(t *testing.T) {
	reg, matcher := tierRegistryAndMatcher(t)
	tr := &TierReconciler{registry: reg, matcher: matcher, logger: discardLogger()}

	intent := NewIntent("m")
	intent.ResolvedModel = "m"
	intent.CandidateAgents = []string{"low", "high"}
	intent.TierEnforcementMode = Flexible

	if err := tr.Reconcile(context.Background(), intent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.IsCandidate("low") {
		t.Fatal("flexible mode must still exclude sub-bar candidates once one candidate clears the bar")
	}
	if !intent.IsCandidate("high") {
		t.Fatal("expected tier-5 backend to remain a candidate")
	}
}

func TestTierNoOpWhenPolicyHasNoMinTier(t *testing.T) {
	reg := registry.NewRegistry()
	b := &registry.Backend{ID: "any", Name: "any", Models: []registry.ModelCapability{{Name: "m"}}}
	if err := reg.Register(b, nil); err != nil {
		t.Fatal(err)
	}
	matcher, err := policy.Compile([]config.TrafficPolicyConfig{{ModelPattern: "m"}})
	if err != nil {
		t.Fatal(err)
	}
	tr := &TierReconciler{registry: reg, matcher: matcher, logger: discardLogger()}

	intent := NewIntent("m")
	intent.ResolvedModel = "m"
	intent.CandidateAgents = []string{"any"}

	if err := tr.Reconcile(context.Background(), intent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !intent.IsCandidate("any") {
		t.Fatal("expected candidate to survive when policy sets no min_tier")
	}
}
