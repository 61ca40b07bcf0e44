package routing

import (
	"context"
	"testing"

	"github.com/nexus-gateway/nexus/config"
	"github.com/nexus-gateway/nexus/metering"
	"github.com/nexus-gateway/nexus/policy"
	"github.com/nexus-gateway/nexus/registry"
)

func TestRequestAnalyzerSeedsCandidates(t *testing.T) {
	reg := registry.NewRegistry()
	b := &registry.Backend{ID: "a", Name: "a", Models: []registry.ModelCapability{{Name: "llama3"}}}
	if err := reg.Register(b, nil); err != nil {
		t.Fatal(err)
	}
	analyzer := &RequestAnalyzer{registry: reg}

	intent := NewIntent("llama3")
	if err := analyzer.Reconcile(context.Background(), intent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.ResolvedModel != "llama3" {
		t.Fatalf("expected resolved model llama3, got %s", intent.ResolvedModel)
	}
	if len(intent.CandidateAgents) != 1 || intent.CandidateAgents[0] != "a" {
		t.Fatalf("expected candidates [a], got %v", intent.CandidateAgents)
	}
}

func TestRequestAnalyzerResolvesAlias(t *testing.T) {
	reg := registry.NewRegistry()
	b := &registry.Backend{ID: "a", Name: "a", Models: []registry.ModelCapability{{Name: "gpt-4-turbo"}}}
	if err := reg.Register(b, nil); err != nil {
		t.Fatal(err)
	}
	analyzer := &RequestAnalyzer{registry: reg, aliases: map[string]string{"gpt-4": "gpt-4-turbo"}}

	intent := NewIntent("gpt-4")
	if err := analyzer.Reconcile(context.Background(), intent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.ResolvedModel != "gpt-4-turbo" {
		t.Fatalf("expected alias to resolve to gpt-4-turbo, got %s", intent.ResolvedModel)
	}
	if len(intent.CandidateAgents) != 1 || intent.CandidateAgents[0] != "a" {
		t.Fatalf("expected candidates [a] under the resolved model, got %v", intent.CandidateAgents)
	}
}

func TestPrivacyReconcilerExcludesOnZoneMismatch(t *testing.T) {
	reg := registry.NewRegistry()
	open := &registry.Backend{
		ID: "open1", Name: "open1",
		Profile: registry.AgentProfile{PrivacyZone: registry.Open},
		Models:  []registry.ModelCapability{{Name: "m"}},
	}
	restricted := &registry.Backend{
		ID: "restricted1", Name: "restricted1",
		Profile: registry.AgentProfile{PrivacyZone: registry.Restricted},
		Models:  []registry.ModelCapability{{Name: "m"}},
	}
	if err := reg.Register(open, nil); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(restricted, nil); err != nil {
		t.Fatal(err)
	}

	matcher, err := policy.Compile([]config.TrafficPolicyConfig{
		{ModelPattern: "m", PrivacyConstraint: "restricted"},
	})
	if err != nil {
		t.Fatal(err)
	}
	pr := &PrivacyReconciler{registry: reg, matcher: matcher, logger: discardLogger()}

	intent := NewIntent("m")
	intent.ResolvedModel = "m"
	intent.CandidateAgents = []string{"open1", "restricted1"}

	if err := pr.Reconcile(context.Background(), intent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.IsCandidate("open1") {
		t.Fatal("expected open-zone backend to be excluded when policy requires restricted")
	}
	if !intent.IsCandidate("restricted1") {
		t.Fatal("expected restricted-zone backend to remain a candidate")
	}
}

func TestPrivacyReconcilerNoOpWithoutConstraint(t *testing.T) {
	reg := registry.NewRegistry()
	b := &registry.Backend{ID: "a", Name: "a", Models: []registry.ModelCapability{{Name: "m"}}}
	if err := reg.Register(b, nil); err != nil {
		t.Fatal(err)
	}
	matcher, err := policy.Compile(nil)
	if err != nil {
		t.Fatal(err)
	}
	pr := &PrivacyReconciler{registry: reg, matcher: matcher, logger: discardLogger()}

	intent := NewIntent("m")
	intent.ResolvedModel = "m"
	intent.CandidateAgents = []string{"a"}

	if err := pr.Reconcile(context.Background(), intent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !intent.IsCandidate("a") {
		t.Fatal("expected candidate to survive when no traffic policy matches")
	}
}

func TestPipelineRunEndToEndRoutesToEligibleBackend(t *testing.T) {
	reg := registry.NewRegistry()
	b := &registry.Backend{
		ID: "local1", Name: "local1", BackendType: registry.Ollama,
		Profile: registry.AgentProfile{PrivacyZone: registry.Open, CapabilityTier: 2},
		Models:  []registry.ModelCapability{{Name: "llama3"}},
	}
	b.SetStatus(registry.Healthy)
	if err := reg.Register(b, nil); err != nil {
		t.Fatal(err)
	}

	matcher, err := policy.Compile(nil)
	if err != nil {
		t.Fatal(err)
	}
	budget := NewBudgetReconciler(metering.NewBudgetTracker(), metering.NewCostEngine())
	sched := NewSchedulerReconciler(reg, false, 30, BestFit, metering.NewCostEngine())

	pipeline := NewPipeline(reg, matcher, budget, sched, nil, discardLogger())

	intent := NewIntent("llama3")
	decision := pipeline.Run(context.Background(), intent)

	if decision.Kind != DecisionRoute {
		t.Fatalf("expected Route decision, got %v (reasons: %+v)", decision.Kind, decision.RejectionReasons)
	}
	if decision.AgentID != "local1" {
		t.Fatalf("expected local1 to be selected, got %s", decision.AgentID)
	}
}

func TestPipelineRunEndToEndRejectsUnknownModel(t *testing.T) {
	reg := registry.NewRegistry()
	matcher, err := policy.Compile(nil)
	if err != nil {
		t.Fatal(err)
	}
	budget := NewBudgetReconciler(metering.NewBudgetTracker(), metering.NewCostEngine())
	sched := NewSchedulerReconciler(reg, false, 30, BestFit, metering.NewCostEngine())
	pipeline := NewPipeline(reg, matcher, budget, sched, nil, discardLogger())

	intent := NewIntent("no-such-model")
	decision := pipeline.Run(context.Background(), intent)

	if decision.Kind != DecisionReject {
		t.Fatalf("expected Reject decision for an unregistered model, got %v", decision.Kind)
	}
}
