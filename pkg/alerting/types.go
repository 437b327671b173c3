package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpayne/fleetwatch/pkg/monitor"
)

var (
	ErrUnknownMetric   = errors.New("rule references unknown metric")
	ErrInvalidOperator = errors.New("invalid operator")
	ErrInvalidSeverity = errors.New("invalid severity")
	ErrInvalidCooldown = errors.New("cooldown must be positive")
	ErrRuleNotFound    = errors.New("rule not found")
	ErrRuleExists      = errors.New("rule already registered")
)

// Operator compares a metric value against a rule threshold.
type Operator string

const (
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorEquals      Operator = "equals"
)

// Compare evaluates value against threshold under the operator.
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OperatorGreaterThan:
		return value > threshold
	case OperatorLessThan:
		return value < threshold
	case OperatorEquals:
		return value == threshold
	default:
		return false
	}
}

func (o Operator) Valid() bool {
	switch o {
	case OperatorGreaterThan, OperatorLessThan, OperatorEquals:
		return true
	default:
		return false
	}
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// EscalationLevel is one delayed follow-up notification. Its delay is
// anchored to the original fire time, not to the previous level.
type EscalationLevel struct {
	DelayMinutes int      `json:"delay_minutes" yaml:"delay_minutes"`
	Recipients   []string `json:"recipients" yaml:"recipients"`
	Action       string   `json:"action,omitempty" yaml:"action,omitempty"`
}

func (l EscalationLevel) Delay() time.Duration {
	return time.Duration(l.DelayMinutes) * time.Minute
}

// Escalation configures the follow-up timeline of a rule.
type Escalation struct {
	Levels     []EscalationLevel `json:"levels" yaml:"levels"`
	MaxRetries int               `json:"max_retries" yaml:"max_retries"`
}

// AlertRule is static configuration evaluated against each snapshot.
// (MetricName, Threshold) is the rule's identity and cooldown key; a live
// rule is never partially edited, only appended or removed.
type AlertRule struct {
	MetricName      string      `json:"metric_name" yaml:"metric"`
	Threshold       float64     `json:"threshold" yaml:"threshold"`
	Operator        Operator    `json:"operator" yaml:"operator"`
	Severity        Severity    `json:"severity" yaml:"severity"`
	CooldownMinutes int         `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	Recipients      []string    `json:"recipients" yaml:"recipients"`
	Escalation      *Escalation `json:"escalation,omitempty" yaml:"escalation,omitempty"`
}

// Key returns the rule's identity used for cooldown tracking.
func (r AlertRule) Key() string {
	return fmt.Sprintf("%s|%g", r.MetricName, r.Threshold)
}

func (r AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// Validate checks the rule at registration time.
func (r AlertRule) Validate() error {
	if !monitor.IsMetricName(r.MetricName) {
		return fmt.Errorf("%w: %q", ErrUnknownMetric, r.MetricName)
	}
	if !r.Operator.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOperator, r.Operator)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSeverity, r.Severity)
	}
	// Cooldown is the anti-flood mechanism; a rule without one would fire
	// on every evaluation tick while its condition holds.
	if r.CooldownMinutes < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidCooldown, r.CooldownMinutes)
	}
	if r.Escalation != nil {
		for i, level := range r.Escalation.Levels {
			if level.DelayMinutes <= 0 {
				return fmt.Errorf("escalation level %d: delay must be positive", i)
			}
		}
	}
	return nil
}

// Notification is the message handed to the Notifier for both initial
// fires and escalation follow-ups.
type Notification struct {
	RuleKey    string    `json:"rule_key"`
	Metric     string    `json:"metric"`
	Operator   Operator  `json:"operator"`
	Threshold  float64   `json:"threshold"`
	Value      float64   `json:"value"`
	Severity   Severity  `json:"severity"`
	FiredAt    time.Time `json:"fired_at"`
	Escalation bool      `json:"escalation"`
	Level      int       `json:"level,omitempty"`
	Action     string    `json:"action,omitempty"`
}

func (n Notification) Message() string {
	if n.Escalation {
		return fmt.Sprintf("ESCALATION L%d %s %s=%.2f (threshold %s %.2f, fired %s)",
			n.Level, n.Severity, n.Metric, n.Value, n.Operator, n.Threshold,
			n.FiredAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("ALERT %s %s=%.2f (threshold %s %.2f)",
		n.Severity, n.Metric, n.Value, n.Operator, n.Threshold)
}

// Notifier delivers one notification to one recipient. A recipient is an
// opaque address whose meaning belongs to the implementation (webhook URL,
// email, chat handle). Failures are per-recipient and non-fatal.
type Notifier interface {
	Send(ctx context.Context, recipient string, n Notification) error
}

// SuppressedAlert describes a rule currently inside its cooldown window.
type SuppressedAlert struct {
	RuleKey  string    `json:"rule_key"`
	Metric   string    `json:"metric"`
	Severity Severity  `json:"severity"`
	FiredAt  time.Time `json:"fired_at"`
	Until    time.Time `json:"until"`
}
