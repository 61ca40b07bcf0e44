package registry

import "testing"

func TestParseBackendType(t *testing.T) {
	cases := []struct {
		in     string
		want   BackendType
		wantOk bool
	}{
		{"ollama", Ollama, true},
		{"llamacpp", LlamaCpp, true},
		{"lmstudio", LMStudio, true},
		{"openai", OpenAI, true},
		{"anthropic", Anthropic, true},
		{"google", Google, true},
		{"generic", Generic, true},
		{"made-up", Generic, false},
	}
	for _, c := range cases {
		got, ok := ParseBackendType(c.in)
		if got != c.want || ok != c.wantOk {
			t.Errorf("ParseBackendType(%q) = (%v, %v), want (%v, %v)", c.in, got, ok, c.want, c.wantOk)
		}
	}
}

func TestBackendTypeIsCloud(t *testing.T) {
	cloud := []BackendType{OpenAI, Anthropic, Google}
	for _, bt := range cloud {
		if !bt.IsCloud() {
			t.Errorf("%v should be cloud", bt)
		}
	}
	local := []BackendType{Ollama, LlamaCpp, LMStudio, Generic}
	for _, bt := range local {
		if bt.IsCloud() {
			t.Errorf("%v should not be cloud", bt)
		}
	}
}

func TestBackendTypeKind(t *testing.T) {
	if OpenAI.Kind() != "cloud" {
		t.Errorf("expected openai kind cloud, got %s", OpenAI.Kind())
	}
	if Ollama.Kind() != "local" {
		t.Errorf("expected ollama kind local, got %s", Ollama.Kind())
	}
}

func TestPrivacyZoneString(t *testing.T) {
	if Open.String() != "open" {
		t.Errorf("expected open, got %s", Open.String())
	}
	if Restricted.String() != "restricted" {
		t.Errorf("expected restricted, got %s", Restricted.String())
	}
}

func TestAgentProfileTierDefaultsToOne(t *testing.T) {
	p := AgentProfile{}
	if p.Tier() != 1 {
		t.Errorf("expected default tier 1, got %d", p.Tier())
	}
	p.CapabilityTier = 4
	if p.Tier() != 4 {
		t.Errorf("expected tier 4, got %d", p.Tier())
	}
}
