package routing

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/nexus-gateway/nexus/registry"
)

// ErrNoBackend is returned when no agent has ever registered for the
// requested model — distinct from Reject, which means candidates existed
// but none survived the pipeline.
var ErrNoBackend = errors.New("no backend registered for model")

// ErrRejected is returned when the pipeline's terminal decision is Reject.
var ErrRejected = errors.New("request rejected by routing pipeline")

// RoutingResult is what Router.SelectBackend returns on success (Route or
// Queue; Queue is surfaced as a result, not an error, since it is not a
// failure — the caller enqueues and waits). It is also returned alongside
// ErrRejected so the caller can read the terminal intent.
type RoutingResult struct {
	Decision RoutingDecision
	Intent   *RoutingIntent
}

// Router is the façade handlers call per request.
type Router struct {
	registry     *registry.Registry
	pipelineFunc func(inputTokens, outputTokens int) *Pipeline
	aliases      map[string]string
	logger       zerolog.Logger
}

// NewRouter builds a Router. pipelineFunc builds a fresh pipeline per
// request whose budget and scheduler stages are scoped via WithEstimate, so
// cost projection reflects this request's own token estimate rather than a
// stale shared value. aliases is the same
// model alias map handed to the pipeline's RequestAnalyzer, so the
// no-backend precheck below agrees with what the pipeline will resolve.
func NewRouter(reg *registry.Registry, pipelineFunc func(inputTokens, outputTokens int) *Pipeline, aliases map[string]string, logger zerolog.Logger) *Router {
	return &Router{registry: reg, pipelineFunc: pipelineFunc, aliases: aliases, logger: logger.With().Str("component", "router").Logger()}
}

func (r *Router) resolveAlias(model string) string {
	if target, ok := r.aliases[model]; ok {
		return target
	}
	return model
}

// SelectBackend resolves requestedModel to a routing decision. strict
// controls the intent's TierEnforcementMode; inputTokens/maxOutputTokens
// drive budget and cost-estimate projection for this request. Queue
// priority is a caller concern applied after a Queue decision,
// not a pipeline input.
func (r *Router) SelectBackend(ctx context.Context, requestedModel string, strict bool, inputTokens, maxOutputTokens int) (*RoutingResult, error) {
	resolvedModel := r.resolveAlias(requestedModel)
	if len(r.registry.AgentsForModel(resolvedModel)) == 0 {
		r.logger.Warn().Str("model", requestedModel).Str("resolved_model", resolvedModel).Msg("no backend registered for model")
		return nil, ErrNoBackend
	}

	intent := NewIntent(requestedModel)
	if !strict {
		intent.TierEnforcementMode = Flexible
	}

	pipeline := r.pipelineFunc(inputTokens, maxOutputTokens)
	decision := pipeline.Run(ctx, intent)

	result := &RoutingResult{Decision: decision, Intent: intent}
	if decision.Kind == DecisionReject {
		return result, ErrRejected
	}
	return result, nil
}
