package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jpayne/fleetwatch/pkg/alerting"
	"github.com/jpayne/fleetwatch/pkg/config"
	"github.com/jpayne/fleetwatch/pkg/health"
	"github.com/jpayne/fleetwatch/pkg/infra/eventbus"
	"github.com/jpayne/fleetwatch/pkg/monitor"
	"github.com/jpayne/fleetwatch/pkg/scaling"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.General.DataDir = dir
	cfg.Storage.Backend = "memory"
	cfg.Autoscale.Provider = "static"
	cfg.Autoscale.InitialInstances = 3
	cfg.Alerting.Notifier = "log"
	cfg.Alerting.RulesFile = filepath.Join(dir, "rules.yaml")
	return cfg
}

func TestNewDaemon(t *testing.T) {
	d, err := NewDaemon(testConfig(t))
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}
	defer d.Stop()

	if got := len(d.AlertRules()); got != 0 {
		t.Errorf("got %d alert rules with no rules file, want 0", got)
	}
	if got := len(d.ScalingRules()); got != 0 {
		t.Errorf("got %d scaling rules with no rules file, want 0", got)
	}
}

func TestNewDaemon_LoadsRulesFile(t *testing.T) {
	cfg := testConfig(t)
	rules := `
alert_rules:
  - metric: cpu_usage
    threshold: 85
    operator: greater_than
    severity: high
    cooldown_minutes: 15
scaling_rules:
  - id: api-cpu
    metric: cpu_usage
    scale_up_threshold: 80
    scale_down_threshold: 30
    min_instances: 1
    max_instances: 5
    cooldown_minutes: 5
    enabled: true
`
	if err := os.WriteFile(cfg.Alerting.RulesFile, []byte(rules), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := NewDaemon(cfg)
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}
	defer d.Stop()

	if got := len(d.AlertRules()); got != 1 {
		t.Errorf("got %d alert rules, want 1", got)
	}
	if got := len(d.ScalingRules()); got != 1 {
		t.Errorf("got %d scaling rules, want 1", got)
	}
}

func TestNewDaemon_RejectsInvalidRulesFile(t *testing.T) {
	cfg := testConfig(t)
	bad := `
scaling_rules:
  - id: inverted
    metric: cpu_usage
    scale_up_threshold: 30
    scale_down_threshold: 80
    min_instances: 1
    max_instances: 5
`
	if err := os.WriteFile(cfg.Alerting.RulesFile, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewDaemon(cfg); err == nil {
		t.Fatal("invalid rules file must fail daemon construction")
	}
}

func TestDaemon_HealthBeforeFirstSnapshot(t *testing.T) {
	d, err := NewDaemon(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	h := d.Health(context.Background())
	if h.Status != health.StatusStarting {
		t.Fatalf("Status = %s before any tick, want starting", h.Status)
	}
	if h.InstanceCount != 3 {
		t.Errorf("InstanceCount = %d, want the static provider's 3", h.InstanceCount)
	}
}

func TestDaemon_AddRules(t *testing.T) {
	d, err := NewDaemon(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	if err := d.AddAlertRule(alerting.AlertRule{
		MetricName:      monitor.MetricErrorRatePct,
		Threshold:       5,
		Operator:        alerting.OperatorGreaterThan,
		Severity:        alerting.SeverityCritical,
		CooldownMinutes: 10,
	}); err != nil {
		t.Fatalf("AddAlertRule: %v", err)
	}

	if err := d.AddScalingRule(scaling.ScalingRule{
		ID:                 "api-cpu",
		MetricName:         monitor.MetricCPUUsage,
		ScaleUpThreshold:   80,
		ScaleDownThreshold: 30,
		MinInstances:       1,
		MaxInstances:       5,
		CooldownMinutes:    5,
		Enabled:            true,
	}); err != nil {
		t.Fatalf("AddScalingRule: %v", err)
	}

	if got := len(d.AlertRules()); got != 1 {
		t.Errorf("alert rules = %d", got)
	}
	if got := len(d.ScalingRules()); got != 1 {
		t.Errorf("scaling rules = %d", got)
	}
}

func TestDaemon_HistoryWriterRecordsBusEvents(t *testing.T) {
	d, err := NewDaemon(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	err = d.bus.Publish(eventbus.NewEvent(eventbus.DomainAlert, alerting.EventAlertFired,
		alerting.FiredAlert{
			RuleKey:  "cpu_usage|85",
			Metric:   monitor.MetricCPUUsage,
			Severity: alerting.SeverityHigh,
			Value:    92,
			FiredAt:  time.Now(),
		}))
	if err != nil {
		t.Fatal(err)
	}
	err = d.bus.Publish(eventbus.NewEvent(eventbus.DomainScaling, scaling.EventScaledUp,
		scaling.ScaleEvent{
			RuleID:        "api-cpu",
			Direction:     scaling.ScaleUp,
			Metric:        monitor.MetricCPUUsage,
			FromInstances: 3,
			ToInstances:   4,
			OccurredAt:    time.Now(),
		}))
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		alerts, _ := d.RecentAlerts(context.Background(), 10)
		scalings, _ := d.RecentScalings(context.Background(), 10)
		if len(alerts) == 1 && len(scalings) == 1 {
			if alerts[0].RuleKey != "cpu_usage|85" {
				t.Fatalf("alert record = %+v", alerts[0])
			}
			if scalings[0].ToInstances != 4 {
				t.Fatalf("scaling record = %+v", scalings[0])
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("bus events were not persisted in time")
}

func TestDaemon_StartStop(t *testing.T) {
	d, err := NewDaemon(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	d.Stop()
}
