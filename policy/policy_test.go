package policy

import (
	"testing"

	"github.com/nexus-gateway/nexus/config"
)

func TestCompileRejectsInvalidGlob(t *testing.T) {
	_, err := Compile([]config.TrafficPolicyConfig{
		{ModelPattern: "["},
	})
	if err == nil {
		t.Fatal("expected error compiling an invalid glob pattern")
	}
}

func TestCompileRejectsInvalidPrivacyConstraint(t *testing.T) {
	_, err := Compile([]config.TrafficPolicyConfig{
		{ModelPattern: "gpt-4*", PrivacyConstraint: "classified"},
	})
	if err == nil {
		t.Fatal("expected error on unrecognized privacy_constraint")
	}
}

func TestFindFirstMatchWins(t *testing.T) {
	m, err := Compile([]config.TrafficPolicyConfig{
		{ModelPattern: "gpt-4*", PrivacyConstraint: "open", MinTier: 2},
		{ModelPattern: "gpt-*", PrivacyConstraint: "restricted", MinTier: 5},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	p, ok := m.Find("gpt-4o")
	if !ok {
		t.Fatal("expected a match for gpt-4o")
	}
	if p.MinTier != 2 {
		t.Fatalf("expected first-declared policy (min_tier=2) to win, got %d", p.MinTier)
	}
}

func TestFindNoMatch(t *testing.T) {
	m, err := Compile([]config.TrafficPolicyConfig{
		{ModelPattern: "claude-*"},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, ok := m.Find("gpt-4o"); ok {
		t.Fatal("expected no match for an unrelated pattern")
	}
}

func TestIsEmpty(t *testing.T) {
	var nilMatcher *Matcher
	if !nilMatcher.IsEmpty() {
		t.Fatal("nil matcher should report empty")
	}

	m, err := Compile(nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !m.IsEmpty() {
		t.Fatal("matcher compiled from no policies should report empty")
	}

	m, err = Compile([]config.TrafficPolicyConfig{{ModelPattern: "*"}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if m.IsEmpty() {
		t.Fatal("matcher with a policy should not report empty")
	}
}

func TestHasPrivacyConstraintAndHasMinTier(t *testing.T) {
	m, err := Compile([]config.TrafficPolicyConfig{
		{ModelPattern: "plain-*"},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	p, ok := m.Find("plain-model")
	if !ok {
		t.Fatal("expected a match")
	}
	if p.HasPrivacyConstraint() {
		t.Fatal("expected no privacy constraint set")
	}
	if p.HasMinTier() {
		t.Fatal("expected no min_tier set")
	}
}
