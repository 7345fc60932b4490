package safety

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type ruleSetFile struct {
	Version   string                       `yaml:"version"`
	Overrides map[string]map[string]string `yaml:"overrides,omitempty"`
	Groups    []groupSpec                  `yaml:"groups"`
}

// ParseRuleSet decodes a YAML rule set.
//
//	version: "2025-06"
//	overrides:
//	  critical:
//	    mental_health: "..."
//	groups:
//	  - name: self_harm
//	    domain: mental_health
//	    level: critical
//	    patterns: ["kill myself"]
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var f ruleSetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode rule set: %w", err)
	}
	if len(f.Groups) == 0 {
		return nil, fmt.Errorf("rule set %q has no groups", f.Version)
	}
	overrides := make(map[RiskLevel]map[Domain]string, len(f.Overrides))
	for levelName, byDomain := range f.Overrides {
		level, err := ParseRiskLevel(levelName)
		if err != nil {
			return nil, fmt.Errorf("overrides: %w", err)
		}
		if !level.Blocks() {
			return nil, fmt.Errorf("overrides: level %s does not block", level)
		}
		overrides[level] = make(map[Domain]string, len(byDomain))
		for d, text := range byDomain {
			overrides[level][Domain(d)] = text
		}
	}
	return build(f.Version, f.Groups, overrides)
}

// LoadRuleSet reads a YAML rule set from path.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule set: %w", err)
	}
	return ParseRuleSet(data)
}

// Select returns the rule set for version: the compiled-in set when path is
// empty, otherwise the file at path, which must declare the same version.
func Select(version, path string) (*RuleSet, error) {
	if path == "" {
		rs := DefaultRuleSet()
		if version != "" && version != rs.Version {
			return nil, fmt.Errorf("rule set version %q is not built in; set a rule set path", version)
		}
		return rs, nil
	}
	rs, err := LoadRuleSet(path)
	if err != nil {
		return nil, err
	}
	if version != "" && rs.Version != version {
		return nil, fmt.Errorf("rule set %s declares version %q, want %q", path, rs.Version, version)
	}
	return rs, nil
}
