package routing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nexus-gateway/nexus/policy"
	"github.com/nexus-gateway/nexus/registry"
)

type TierReconciler struct {
	registry *registry.Registry
	matcher  *policy.Matcher
	logger   zerolog.Logger
}

func (t *TierReconciler) Name() string { return "TierReconciler" }

func (t *TierReconciler) Reconcile(ctx context.Context, intent *RoutingIntent) error {
	if t.matcher.IsEmpty() {
		return nil
	}
	matched, ok := t.matcher.Find(intent.ResolvedModel)
	if !ok || !matched.HasMinTier() {
		return nil
	}
	intent.MinCapabilityTier = matched.MinTier

	tiers := make(map[string]int, len(intent.CandidateAgents))
	for _, id := range intent.CandidateAgents {
		tiers[id] = t.tierOf(id)
	}

	switch intent.TierEnforcementMode {
	case Strict:
		for _, id := range append([]string(nil), intent.CandidateAgents...) {
			if tiers[id] < matched.MinTier {
				t.exclude(intent, id, tiers[id], matched.MinTier)
			}
		}
	case Flexible:
		anyMeets := false
		for _, tier := range tiers {
			if tier >= matched.MinTier {
				anyMeets = true
				break
			}
		}
		if !anyMeets {
			t.logger.Warn().Str("model", intent.ResolvedModel).Int("min_tier", matched.MinTier).
				Msg("flexible mode: no candidate meets min_tier, leaving candidates intact")
			return nil
		}
		for _, id := range append([]string(nil), intent.CandidateAgents...) {
			if tiers[id] < matched.MinTier {
				t.exclude(intent, id, tiers[id], matched.MinTier)
			}
		}
	}
	return nil
}

func (t *TierReconciler) exclude(intent *RoutingIntent, id string, tier, minTier int) {
	intent.Exclude(id, t.Name(),
		fmt.Sprintf("Backend tier %d below required minimum tier %d", tier, minTier),
		"retry with the X-Nexus-Flexible header or lower the traffic policy's min_tier")
}

func (t *TierReconciler) tierOf(id string) int {
	if agent, ok := t.registry.GetAgent(id); ok && agent != nil {
		return agent.Profile().Tier()
	}
	if b, ok := t.registry.GetBackend(id); ok {
		if b.Profile.CapabilityTier > 0 {
			return b.Profile.CapabilityTier
		}
	}
	return 1
}
