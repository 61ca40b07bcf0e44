package routing

import (
	"github.com/google/uuid"

	"github.com/nexus-gateway/nexus/registry"
)

// TierEnforcementMode controls how TierReconciler treats a minimum-tier
// constraint when no candidate meets it. Default is Strict.
type TierEnforcementMode int

const (
	Strict TierEnforcementMode = iota
	Flexible
)

// RejectionReason is appended exactly once per exclusion; suggested_action
// must never be empty.
type RejectionReason struct {
	AgentID        string
	ReconcilerName string
	Reason         string
	SuggestedAction string
}

// RoutingIntent is created per request and mutated in place by each
// pipeline stage. Invariant: candidate_agents ∩ excluded_agents = ∅ and
// candidate_agents ∪ excluded_agents ⊆ initial candidates.
type RoutingIntent struct {
	RequestID      string
	RequestedModel string
	ResolvedModel  string

	PrivacyConstraintSet bool
	PrivacyConstraint    registry.PrivacyZone

	MinCapabilityTier   int // 0 = unset
	TierEnforcementMode TierEnforcementMode

	CandidateAgents []string
	ExcludedAgents  []string
	RejectionReasons []RejectionReason

	Scores map[string]float64
}

// NewIntent seeds a fresh intent with a generated request id and the
// default (Strict) tier enforcement mode.
func NewIntent(requestedModel string) *RoutingIntent {
	return &RoutingIntent{
		RequestID:           uuid.NewString(),
		RequestedModel:      requestedModel,
		TierEnforcementMode: Strict,
		Scores:              make(map[string]float64),
	}
}

// IsCandidate reports whether id is currently in the candidate set.
func (i *RoutingIntent) IsCandidate(id string) bool {
	for _, c := range i.CandidateAgents {
		if c == id {
			return true
		}
	}
	return false
}

// Exclude moves id from candidates to excluded and appends a rejection
// reason. An id that is no longer a candidate is not added to excluded a
// second time, but its new rejection reason is still appended.
func (i *RoutingIntent) Exclude(id, reconciler, reason, suggestedAction string) {
	if suggestedAction == "" {
		suggestedAction = "contact an operator to review backend configuration"
	}
	kept := i.CandidateAgents[:0]
	removed := false
	for _, c := range i.CandidateAgents {
		if c == id {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	i.CandidateAgents = kept
	if removed {
		i.ExcludedAgents = append(i.ExcludedAgents, id)
	}
	i.RejectionReasons = append(i.RejectionReasons, RejectionReason{
		AgentID:         id,
		ReconcilerName:  reconciler,
		Reason:          reason,
		SuggestedAction: suggestedAction,
	})
}

// DecisionKind is the three-way terminal result of the pipeline.
type DecisionKind int

const (
	DecisionRoute DecisionKind = iota
	DecisionQueue
	DecisionReject
)

// RoutingDecision is the pipeline's terminal output.
type RoutingDecision struct {
	Kind DecisionKind

	// Route fields.
	AgentID      string
	Model        string
	Reason       string
	CostEstimate float64
	CostKnown    bool

	// Queue fields.
	EstimatedWaitMs int64
	FallbackAgent   string

	// Reject fields. The required-tier and privacy-zone context the 503
	// envelope needs is read off the intent that produced this decision,
	// not stored redundantly here.
	RejectionReasons []RejectionReason
}
