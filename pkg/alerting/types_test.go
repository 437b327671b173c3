package alerting

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jpayne/fleetwatch/pkg/monitor"
)

func TestOperator_Compare(t *testing.T) {
	tests := []struct {
		name      string
		op        Operator
		value     float64
		threshold float64
		want      bool
	}{
		{"greater above", OperatorGreaterThan, 90, 85, true},
		{"greater equal", OperatorGreaterThan, 85, 85, false},
		{"greater below", OperatorGreaterThan, 80, 85, false},
		{"less below", OperatorLessThan, 10, 20, true},
		{"less equal", OperatorLessThan, 20, 20, false},
		{"equals match", OperatorEquals, 42, 42, true},
		{"equals mismatch", OperatorEquals, 42, 43, false},
		{"unknown operator", Operator("between"), 1, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.op.Compare(tt.value, tt.threshold); got != tt.want {
				t.Errorf("Compare(%v, %v) = %v, want %v", tt.value, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestAlertRule_Validate(t *testing.T) {
	valid := AlertRule{
		MetricName:      monitor.MetricCPUUsage,
		Threshold:       85,
		Operator:        OperatorGreaterThan,
		Severity:        SeverityHigh,
		CooldownMinutes: 15,
	}

	tests := []struct {
		name    string
		mutate  func(r *AlertRule)
		wantErr error
	}{
		{"valid rule", func(r *AlertRule) {}, nil},
		{"zero cooldown", func(r *AlertRule) { r.CooldownMinutes = 0 }, ErrInvalidCooldown},
		{"unknown metric", func(r *AlertRule) { r.MetricName = "load_average" }, ErrUnknownMetric},
		{"bad operator", func(r *AlertRule) { r.Operator = "gte" }, ErrInvalidOperator},
		{"bad severity", func(r *AlertRule) { r.Severity = "urgent" }, ErrInvalidSeverity},
		{"negative cooldown", func(r *AlertRule) { r.CooldownMinutes = -1 }, ErrInvalidCooldown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := valid
			tt.mutate(&rule)
			err := rule.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAlertRule_Validate_EscalationDelay(t *testing.T) {
	rule := AlertRule{
		MetricName:      monitor.MetricErrorRatePct,
		Threshold:       5,
		Operator:        OperatorGreaterThan,
		Severity:        SeverityCritical,
		CooldownMinutes: 10,
		Escalation: &Escalation{
			Levels: []EscalationLevel{{DelayMinutes: 0, Recipients: []string{"oncall"}}},
		},
	}
	if err := rule.Validate(); err == nil {
		t.Fatal("expected error for non-positive escalation delay")
	}
}

func TestAlertRule_Key(t *testing.T) {
	a := AlertRule{MetricName: monitor.MetricCPUUsage, Threshold: 85}
	b := AlertRule{MetricName: monitor.MetricCPUUsage, Threshold: 90}
	c := AlertRule{MetricName: monitor.MetricCPUUsage, Threshold: 85, Severity: SeverityLow}

	if a.Key() == b.Key() {
		t.Error("different thresholds must have different keys")
	}
	if a.Key() != c.Key() {
		t.Error("severity must not contribute to the key")
	}
}

func TestNotification_Message(t *testing.T) {
	n := Notification{
		Metric:    monitor.MetricCPUUsage,
		Operator:  OperatorGreaterThan,
		Threshold: 85,
		Value:     92.5,
		Severity:  SeverityHigh,
	}
	msg := n.Message()
	for _, want := range []string{"ALERT", "high", "cpu_usage", "92.50", "85.00"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}

	n.Escalation = true
	n.Level = 2
	n.FiredAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg = n.Message()
	if !strings.Contains(msg, "ESCALATION L2") {
		t.Errorf("escalation message %q missing level marker", msg)
	}
}
