package routing

import (
	"context"
	"fmt"

	"github.com/nexus-gateway/nexus/metering"
)

// BudgetReconciler excludes agents whose projected cost for this request
// would breach their configured spend cap. When no model pricing or cap is
// known, it is a no-op pass-through.
type BudgetReconciler struct {
	tracker    *metering.BudgetTracker
	costEngine *metering.CostEngine
	// The projected token counts are supplied per request via WithEstimate (estimated
	// input + max-output tokens); zero means "unknown", in which case the
	// projected cost is 0 and the stage never excludes on budget grounds.
	projectedInputTokens  int
	projectedOutputTokens int
}

func NewBudgetReconciler(tracker *metering.BudgetTracker, costEngine *metering.CostEngine) *BudgetReconciler {
	return &BudgetReconciler{tracker: tracker, costEngine: costEngine}
}

// WithEstimate returns a shallow copy of the reconciler scoped to this
// request's token estimate, so concurrent requests don't race on shared
// mutable fields.
func (b *BudgetReconciler) WithEstimate(inputTokens, outputTokens int) *BudgetReconciler {
	cp := *b
	cp.projectedInputTokens = inputTokens
	cp.projectedOutputTokens = outputTokens
	return &cp
}

func (b *BudgetReconciler) Name() string { return "BudgetReconciler" }

func (b *BudgetReconciler) Reconcile(ctx context.Context, intent *RoutingIntent) error {
	if b.tracker == nil || b.costEngine == nil {
		return nil
	}
	for _, id := range append([]string(nil), intent.CandidateAgents...) {
		projected := b.costEngine.Estimate(intent.ResolvedModel, b.projectedInputTokens, b.projectedOutputTokens)
		if projected <= 0 {
			continue
		}
		if b.tracker.WouldBreach(id, projected) {
			intent.Exclude(id, b.Name(),
				fmt.Sprintf("projected cost $%.4f would breach configured spend cap", projected),
				"raise the backend's spend cap or route to a lower-cost backend")
		}
	}
	return nil
}
