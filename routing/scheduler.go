package routing

import (
	"context"
	"sort"
	"sync"

	"github.com/nexus-gateway/nexus/metering"
	"github.com/nexus-gateway/nexus/registry"
)

// SchedulingStrategy selects how a fully-tied candidate group resolves.
type SchedulingStrategy int

const (
	// BestFit always picks the first candidate after the deterministic sort.
	BestFit SchedulingStrategy = iota
	// RoundRobin advances a monotonic per-model counter across ties.
	RoundRobin
)

const (
	defaultCloudPendingLimit = 1
	defaultLocalPendingLimit = 1 << 30 // effectively unbounded unless overridden
)

// rrState is the round-robin cursor shared by every WithEstimate copy of a
// scheduler, keyed by resolved model.
type rrState struct {
	mu  sync.Mutex
	pos map[string]int
}

// SchedulerReconciler is the terminal pipeline stage.
type SchedulerReconciler struct {
	registry       *registry.Registry
	queueEnabled   bool
	maxWaitSeconds uint64
	strategy       SchedulingStrategy
	costEngine     *metering.CostEngine

	rr *rrState

	projectedInputTokens  int
	projectedOutputTokens int
}

func NewSchedulerReconciler(reg *registry.Registry, queueEnabled bool, maxWaitSeconds uint64, strategy SchedulingStrategy, costEngine *metering.CostEngine) *SchedulerReconciler {
	return &SchedulerReconciler{
		registry:       reg,
		queueEnabled:   queueEnabled,
		maxWaitSeconds: maxWaitSeconds,
		strategy:       strategy,
		costEngine:     costEngine,
		rr:             &rrState{pos: make(map[string]int)},
	}
}

// WithEstimate scopes cost projection to this request's token estimate.
func (s *SchedulerReconciler) WithEstimate(inputTokens, outputTokens int) *SchedulerReconciler {
	cp := *s
	cp.projectedInputTokens = inputTokens
	cp.projectedOutputTokens = outputTokens
	return &cp
}

func (s *SchedulerReconciler) Name() string { return "SchedulerReconciler" }

type schedCandidate struct {
	id         string
	backend    *registry.Backend
	pending    int64
	priority   int
	atCapacity bool
	order      int
}

func (s *SchedulerReconciler) Reconcile(ctx context.Context, intent *RoutingIntent) error {
	if len(intent.CandidateAgents) == 0 {
		return &terminalDecision{decision: RoutingDecision{Kind: DecisionReject, RejectionReasons: intent.RejectionReasons}}
	}

	candidates := make([]schedCandidate, 0, len(intent.CandidateAgents))
	for idx, id := range append([]string(nil), intent.CandidateAgents...) {
		b, ok := s.registry.GetBackend(id)
		if !ok {
			continue
		}
		if b.Status() == registry.Unhealthy {
			intent.Exclude(id, s.Name(), "backend is unhealthy", "wait for the backend to recover or remove it from the model's rotation")
			continue
		}
		limit := b.PendingLimit
		if limit <= 0 {
			limit = defaultPendingLimit(b.BackendType)
		}
		pending := b.Pending()
		candidates = append(candidates, schedCandidate{
			id:         id,
			backend:    b,
			pending:    pending,
			priority:   b.Priority,
			atCapacity: pending >= limit,
			order:      idx,
		})
	}

	if len(candidates) == 0 {
		return &terminalDecision{decision: RoutingDecision{Kind: DecisionReject, RejectionReasons: intent.RejectionReasons}}
	}

	allAtCapacity := true
	for _, c := range candidates {
		if !c.atCapacity {
			allAtCapacity = false
			break
		}
	}
	if allAtCapacity {
		if s.queueEnabled {
			return &terminalDecision{decision: RoutingDecision{
				Kind:            DecisionQueue,
				Reason:          "all candidates at capacity",
				EstimatedWaitMs: int64(s.maxWaitSeconds) * 1000,
				FallbackAgent:   candidates[0].id,
			}}
		}
		return &terminalDecision{decision: RoutingDecision{
			Kind:             DecisionReject,
			Reason:           "all backends at capacity",
			RejectionReasons: intent.RejectionReasons,
		}}
	}

	eligible := make([]schedCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.atCapacity {
			eligible = append(eligible, c)
		}
	}

	// Deterministic tie-break: lower pending wins; ties by higher priority;
	// ties by insertion order.
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].pending != eligible[j].pending {
			return eligible[i].pending < eligible[j].pending
		}
		if eligible[i].priority != eligible[j].priority {
			return eligible[i].priority > eligible[j].priority
		}
		return eligible[i].order < eligible[j].order
	})

	tieCount := 1
	for tieCount < len(eligible) &&
		eligible[tieCount].pending == eligible[0].pending &&
		eligible[tieCount].priority == eligible[0].priority {
		tieCount++
	}

	winner := eligible[0]
	if s.strategy == RoundRobin && tieCount > 1 {
		s.rr.mu.Lock()
		pos := s.rr.pos[intent.ResolvedModel]
		s.rr.pos[intent.ResolvedModel] = pos + 1
		s.rr.mu.Unlock()
		winner = eligible[pos%tieCount]
	}

	intent.Scores[winner.id] = float64(winner.priority) - float64(winner.pending)

	reason := s.routeReason(intent, len(eligible) < len(candidates))
	cost, known := 0.0, false
	if s.costEngine != nil && winner.backend.BackendType.IsCloud() {
		cost = s.costEngine.Estimate(intent.ResolvedModel, s.projectedInputTokens, s.projectedOutputTokens)
		known = cost > 0
	}

	return &terminalDecision{decision: RoutingDecision{
		Kind:         DecisionRoute,
		AgentID:      winner.id,
		Model:        intent.ResolvedModel,
		Reason:       reason,
		CostEstimate: cost,
		CostKnown:    known,
	}}
}

func defaultPendingLimit(bt registry.BackendType) int64 {
	if bt.IsCloud() {
		return defaultCloudPendingLimit
	}
	return defaultLocalPendingLimit
}

// routeReason classifies why this particular route happened, for the
// X-Nexus-Route-Reason transparency header.
func (s *SchedulerReconciler) routeReason(intent *RoutingIntent, filteredCapacity bool) string {
	sawUnhealthy, sawPrivacy := false, false
	for _, r := range intent.RejectionReasons {
		switch r.ReconcilerName {
		case "SchedulerReconciler":
			sawUnhealthy = true
		case "PrivacyReconciler":
			sawPrivacy = true
		}
	}
	if sawUnhealthy {
		return "backend-failover"
	}
	if sawPrivacy {
		return "privacy-requirement"
	}
	if filteredCapacity {
		return "capacity-overflow"
	}
	return "capability-match"
}
