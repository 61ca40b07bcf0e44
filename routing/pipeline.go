package routing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nexus-gateway/nexus/policy"
	"github.com/nexus-gateway/nexus/registry"
)

// Reconciler is a single named pipeline stage. It mutates intent in place
// and either continues (nil error) or short-circuits the pipeline by
// returning a *terminalDecision (currently only SchedulerReconciler does).
type Reconciler interface {
	Name() string
	Reconcile(ctx context.Context, intent *RoutingIntent) error
}

// terminalDecision short-circuits Pipeline.Run with a final RoutingDecision.
type terminalDecision struct {
	decision RoutingDecision
}

func (t *terminalDecision) Error() string {
	return fmt.Sprintf("terminal routing decision: kind=%d", t.decision.Kind)
}

// Pipeline runs its reconcilers in fixed order for one request.
type Pipeline struct {
	stages []Reconciler
	logger zerolog.Logger
}

// NewPipeline builds the fixed six-stage pipeline. A new Pipeline per
// request is fine — stages are stateless except for shared registry/
// policy/tracker references. aliases maps a requested model name to the
// canonical name the registry indexes against; nil or empty means no
// request ever aliases.
func NewPipeline(reg *registry.Registry, matcher *policy.Matcher, budget *BudgetReconciler, sched *SchedulerReconciler, aliases map[string]string, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With().Str("component", "pipeline").Logger(),
		stages: []Reconciler{
			&RequestAnalyzer{registry: reg, aliases: aliases},
			&PrivacyReconciler{registry: reg, matcher: matcher, logger: logger},
			budget,
			&TierReconciler{registry: reg, matcher: matcher, logger: logger},
			&QualityReconciler{},
			sched,
		},
	}
}

// Run executes every stage in order against intent and returns the
// terminal decision the scheduler produces.
func (p *Pipeline) Run(ctx context.Context, intent *RoutingIntent) RoutingDecision {
	for _, stage := range p.stages {
		if err := stage.Reconcile(ctx, intent); err != nil {
			if td, ok := err.(*terminalDecision); ok {
				return td.decision
			}
			// Non-terminal errors are not part of the current scope (only
			// the scheduler emits terminal errors); log and reject safely.
			p.logger.Error().Err(err).Str("reconciler", stage.Name()).Msg("unexpected reconciler error")
			return RoutingDecision{Kind: DecisionReject, RejectionReasons: intent.RejectionReasons}
		}
	}
	// Unreachable in the current scope: SchedulerReconciler always
	// terminates the pipeline.
	return RoutingDecision{Kind: DecisionReject, RejectionReasons: intent.RejectionReasons}
}

// RequestAnalyzer resolves aliases and seeds the candidate set.
type RequestAnalyzer struct {
	registry *registry.Registry
	aliases  map[string]string
}

func (a *RequestAnalyzer) Name() string { return "RequestAnalyzer" }

func (a *RequestAnalyzer) Reconcile(ctx context.Context, intent *RoutingIntent) error {
	resolved := intent.RequestedModel
	if a.aliases != nil {
		if target, ok := a.aliases[intent.RequestedModel]; ok {
			resolved = target
		}
	}
	intent.ResolvedModel = resolved
	intent.CandidateAgents = a.registry.AgentsForModel(resolved)
	return nil
}

// PrivacyReconciler enforces structural privacy zone constraints.
type PrivacyReconciler struct {
	registry *registry.Registry
	matcher  *policy.Matcher
	logger   zerolog.Logger
}

func (p *PrivacyReconciler) Name() string { return "PrivacyReconciler" }

func (p *PrivacyReconciler) Reconcile(ctx context.Context, intent *RoutingIntent) error {
	if p.matcher.IsEmpty() {
		return nil
	}
	matched, ok := p.matcher.Find(intent.ResolvedModel)
	if !ok || !matched.HasPrivacyConstraint() {
		return nil
	}

	constraint := registry.Restricted
	if matched.PrivacyConstraint == policy.ConstraintOpen {
		constraint = registry.Open
	}
	intent.PrivacyConstraintSet = true
	intent.PrivacyConstraint = constraint

	candidates := append([]string(nil), intent.CandidateAgents...)
	for _, id := range candidates {
		zone := p.effectiveZone(id)
		if zone != constraint {
			p.logger.Debug().Str("agent", id).Str("zone", zone.String()).Str("required", constraint.String()).Msg("excluding agent on privacy mismatch")
			intent.Exclude(id, p.Name(),
				fmt.Sprintf("backend privacy zone %q does not satisfy required zone %q", zone, constraint),
				"configure a backend with the required zone or modify the traffic policy")
		}
	}
	return nil
}

// effectiveZone reads the agent's own profile, falling back to the
// backend record, falling back to Open for an unknown id — the permissive
// default is deliberate and logged.
func (p *PrivacyReconciler) effectiveZone(id string) registry.PrivacyZone {
	if agent, ok := p.registry.GetAgent(id); ok && agent != nil {
		return agent.Profile().PrivacyZone
	}
	if b, ok := p.registry.GetBackend(id); ok {
		return b.Profile.PrivacyZone
	}
	p.logger.Warn().Str("agent", id).Msg("unknown agent id during privacy check; defaulting to open")
	return registry.Open
}

// QualityReconciler is out of core scope; pass-through.
type QualityReconciler struct{}

func (q *QualityReconciler) Name() string { return "QualityReconciler" }

func (q *QualityReconciler) Reconcile(ctx context.Context, intent *RoutingIntent) error {
	return nil
}
