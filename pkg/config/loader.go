package config

import (
	"fmt"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load parses raw YAML (after env-var expansion) into a Pack, merging it
// over DefaultPack so a tenant document only needs to specify overrides —
// the same builtin-plus-override shape tarsy's loader.go uses for
// tarsy.yaml, generalized from agents/chains to policies/playbooks.
func Load(raw []byte) (*Pack, error) {
	expanded := ExpandEnv(raw)

	var user Pack
	if err := yaml.Unmarshal(expanded, &user); err != nil {
		return nil, &LoadError{Source: "pack", Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
	}

	merged := DefaultPack()
	if err := mergo.Merge(merged, &user, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
		return nil, &LoadError{Source: "pack", Err: fmt.Errorf("merge defaults: %w", err)}
	}
	return merged, nil
}

// DefaultPack is the built-in pack every tenant pack merges over: an
// empty domain with the platform's baseline SLA rule (24h default
// deadline) and no policies or playbooks — a tenant with zero config
// still gets an SLA clock, but no playbook ever auto-matches.
func DefaultPack() *Pack {
	return &Pack{
		SLARules: []SLARuleYAML{
			{RuleID: "default", When: "true", DeadlineMins: 24 * 60, Priority: -1},
		},
	}
}
