package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jpayne/fleetwatch/pkg/alerting"
	"github.com/jpayne/fleetwatch/pkg/scaling"
)

// RulesFile is the on-disk rule catalog loaded at startup.
type RulesFile struct {
	AlertRules   []alerting.AlertRule  `yaml:"alert_rules"`
	ScalingRules []scaling.ScalingRule `yaml:"scaling_rules"`
}

// LoadRules reads and validates a rule catalog. A missing file is not an
// error; the daemon starts with an empty rule set and rules can be added at
// runtime.
func LoadRules(path string) ([]alerting.AlertRule, []scaling.ScalingRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

func ParseRules(data []byte) ([]alerting.AlertRule, []scaling.ScalingRule, error) {
	var file RulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("decode rules YAML: %w", err)
	}

	for i, rule := range file.AlertRules {
		if err := rule.Validate(); err != nil {
			return nil, nil, fmt.Errorf("alert rule %d (%s): %w", i, rule.MetricName, err)
		}
	}
	for i, rule := range file.ScalingRules {
		if err := rule.Validate(); err != nil {
			return nil, nil, fmt.Errorf("scaling rule %d (%s): %w", i, rule.ID, err)
		}
	}

	return file.AlertRules, file.ScalingRules, nil
}
