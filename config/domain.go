package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// BackendConfig is the persisted, immutable-at-runtime form of one backend.
type BackendConfig struct {
	Name        string   `toml:"name"`
	URL         string   `toml:"url"`
	Type        string   `toml:"type"`
	Priority    int      `toml:"priority"`
	APIKeyEnv   string   `toml:"api_key_env"`
	Zone        string   `toml:"zone"`
	Tier        int      `toml:"tier"`
	Models      []string `toml:"models"`
	// PendingLimit is not part of the source TOML table in the config schema but is
	// exposed here as an optional override for the default AtCapacity threshold;
	// zero means "use the type default".
	PendingLimit int64 `toml:"pending_limit"`

	// BudgetCapUSD is an optional per-backend spend ceiling enforced by
	// BudgetReconciler; zero disables enforcement for this backend.
	BudgetCapUSD float64 `toml:"budget_cap_usd"`
}

// TrafficPolicyConfig is the TOML form of a TrafficPolicy.
type TrafficPolicyConfig struct {
	ModelPattern      string `toml:"model_pattern"`
	PrivacyConstraint string `toml:"privacy_constraint"`
	MinTier           int    `toml:"min_tier"`
}

// QueueConfig mirrors the config schema's QueueConfig.
type QueueConfig struct {
	Enabled        bool   `toml:"enabled"`
	MaxSize        uint32 `toml:"max_size"`
	MaxWaitSeconds uint64 `toml:"max_wait_seconds"`
}

// IsEnabled is the effective-enablement rule from the config schema.
func (q QueueConfig) IsEnabled() bool {
	return q.Enabled && q.MaxSize > 0
}

// DomainConfig is the full routing-core configuration document.
type DomainConfig struct {
	Backends        []BackendConfig       `toml:"backends"`
	TrafficPolicies []TrafficPolicyConfig `toml:"traffic_policies"`
	Queue           QueueConfig           `toml:"queue"`
	// ModelAliases maps a requested model name to the canonical name the
	// registry indexes backends under, e.g. `gpt-4 = "gpt-4-turbo"`.
	ModelAliases map[string]string `toml:"model_aliases"`
}

func defaultQueueConfig() QueueConfig {
	return QueueConfig{Enabled: true, MaxSize: 100, MaxWaitSeconds: 30}
}

// LoadDomain parses the TOML document at path and validates it per
// the config schema. A zero-value Queue table in the source yields the defaults.
func LoadDomain(path string) (*DomainConfig, error) {
	cfg := &DomainConfig{Queue: defaultQueueConfig()}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode domain config: %w", err)
	}
	if !meta.IsDefined("queue", "enabled") {
		cfg.Queue.Enabled = true
	}
	if !meta.IsDefined("queue", "max_size") || cfg.Queue.MaxSize == 0 {
		cfg.Queue.MaxSize = 100
	}
	if !meta.IsDefined("queue", "max_wait_seconds") || cfg.Queue.MaxWaitSeconds == 0 {
		cfg.Queue.MaxWaitSeconds = 30
	}
	for i := range cfg.Backends {
		if cfg.Backends[i].Priority == 0 {
			cfg.Backends[i].Priority = 50
		}
		if cfg.Backends[i].Tier == 0 {
			cfg.Backends[i].Tier = 1
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// cloudTypes mirrors the closed backend_type set's cloud members.
var cloudTypes = map[string]bool{"openai": true, "anthropic": true, "google": true}

// Validate enforces the config schema's startup validation rules, rejecting the
// entire config on the first violation (glob compilation errors are
// validated separately by the policy matcher at startup).
func (d *DomainConfig) Validate() error {
	seen := make(map[string]bool, len(d.Backends))
	for _, b := range d.Backends {
		if b.Name == "" {
			return fmt.Errorf("backend config: name is required")
		}
		if seen[b.Name] {
			return fmt.Errorf("backend config: duplicate name %q", b.Name)
		}
		seen[b.Name] = true

		if b.URL == "" {
			return fmt.Errorf("backend %q: url is required", b.Name)
		}
		if b.Type == "" {
			return fmt.Errorf("backend %q: type is required", b.Name)
		}
		if cloudTypes[b.Type] && b.APIKeyEnv == "" {
			return fmt.Errorf("backend %q: api_key_env is required for cloud type %q", b.Name, b.Type)
		}
		if b.Tier != 0 && (b.Tier < 1 || b.Tier > 5) {
			return fmt.Errorf("backend %q: tier %d out of range 1..5", b.Name, b.Tier)
		}
	}
	for _, p := range d.TrafficPolicies {
		if p.ModelPattern == "" {
			return fmt.Errorf("traffic policy: model_pattern is required")
		}
		if p.MinTier != 0 && (p.MinTier < 1 || p.MinTier > 5) {
			return fmt.Errorf("traffic policy %q: min_tier %d out of range 1..5", p.ModelPattern, p.MinTier)
		}
	}
	for alias, target := range d.ModelAliases {
		if alias == "" {
			return fmt.Errorf("model_aliases: alias name must not be empty")
		}
		if target == "" {
			return fmt.Errorf("model_aliases: alias %q has an empty target", alias)
		}
	}
	return nil
}
