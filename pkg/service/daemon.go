package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jpayne/fleetwatch/pkg/alerting"
	"github.com/jpayne/fleetwatch/pkg/config"
	"github.com/jpayne/fleetwatch/pkg/health"
	"github.com/jpayne/fleetwatch/pkg/infra/docker"
	"github.com/jpayne/fleetwatch/pkg/infra/eventbus"
	"github.com/jpayne/fleetwatch/pkg/infra/logger"
	"github.com/jpayne/fleetwatch/pkg/infra/notify"
	"github.com/jpayne/fleetwatch/pkg/infra/store"
	"github.com/jpayne/fleetwatch/pkg/infra/sysmetrics"
	"github.com/jpayne/fleetwatch/pkg/maintenance"
	"github.com/jpayne/fleetwatch/pkg/monitor"
	"github.com/jpayne/fleetwatch/pkg/scaling"
)

// Daemon wires the collector, evaluator, engine and maintenance scheduler
// together and owns their shared infrastructure.
type Daemon struct {
	cfg       *config.Config
	bus       *eventbus.InMemoryBus
	store     store.HistoryStore
	collector *monitor.Collector
	evaluator *alerting.Evaluator
	engine    *scaling.Engine
	scheduler *maintenance.Scheduler
	health    *health.Service

	cancel context.CancelFunc
	log    *slog.Logger
}

func NewDaemon(cfg *config.Config) (*Daemon, error) {
	log := logger.Default().With("component", "daemon")

	bus := eventbus.NewInMemoryBus()

	hist, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	collector := monitor.NewCollector(sysmetrics.NewHostSource(), monitor.CollectorConfig{
		Interval:      cfg.Collector.IntervalD,
		Retention:     cfg.Collector.RetentionD,
		SourceTimeout: cfg.Collector.SourceTimeoutD,
	}, bus)

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return nil, err
	}

	evaluator := alerting.NewEvaluator(collector, notifier, alerting.EvaluatorConfig{
		Interval:      cfg.Alerting.IntervalD,
		NotifyTimeout: cfg.Alerting.NotifyTimeoutD,
	}, bus)

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	engine := scaling.NewEngine(collector, provider, scaling.EngineConfig{
		Interval:        cfg.Autoscale.IntervalD,
		ProviderTimeout: cfg.Autoscale.ProviderTimeoutD,
	}, bus)

	scheduler := maintenance.NewScheduler()
	tasks := []maintenance.Task{
		maintenance.HistoryRetentionTask(hist, cfg.Maintenance.HistoryMaxAgeD, cfg.Maintenance.RetentionSweepD),
		maintenance.StoreOptimizeTask(hist, cfg.Maintenance.StoreOptimizeD),
		maintenance.SlowResponseScanTask(collector, cfg.Collector.RetentionD,
			cfg.Maintenance.SlowThresholdMs, cfg.Maintenance.SlowScanD),
	}
	for _, task := range tasks {
		if err := scheduler.Register(task); err != nil {
			return nil, fmt.Errorf("register task %s: %w", task.Name, err)
		}
	}

	d := &Daemon{
		cfg:       cfg,
		bus:       bus,
		store:     hist,
		collector: collector,
		evaluator: evaluator,
		engine:    engine,
		scheduler: scheduler,
		health:    health.NewService(collector, evaluator, engine),
		log:       log,
	}

	if err := d.loadRules(); err != nil {
		return nil, err
	}
	if err := d.subscribeHistoryWriter(); err != nil {
		return nil, fmt.Errorf("subscribe history writer: %w", err)
	}

	return d, nil
}

func openStore(cfg *config.Config) (store.HistoryStore, error) {
	if cfg.Storage.Backend == "memory" {
		return store.NewMemoryStore(), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	hist, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		logger.Warn("sqlite store unavailable, falling back to in-memory history",
			"path", cfg.Storage.Path, "error", err)
		return store.NewMemoryStore(), nil
	}
	return hist, nil
}

func buildNotifier(cfg *config.Config) (alerting.Notifier, error) {
	switch cfg.Alerting.Notifier {
	case "webhook":
		return notify.NewWebhookNotifier(cfg.Alerting.NotifyTimeoutD), nil
	case "log":
		return notify.NewLogNotifier(), nil
	default:
		return nil, fmt.Errorf("unknown notifier: %s", cfg.Alerting.Notifier)
	}
}

func buildProvider(cfg *config.Config) (scaling.Provider, error) {
	switch cfg.Autoscale.Provider {
	case "docker":
		return docker.NewProvider(docker.ProviderConfig{
			Image:         cfg.Autoscale.Image,
			Fleet:         cfg.General.Fleet,
			ContainerPort: cfg.Autoscale.ContainerPort,
		})
	case "static":
		return scaling.NewStaticProvider(cfg.Autoscale.InitialInstances), nil
	default:
		return nil, fmt.Errorf("unknown scaling provider: %s", cfg.Autoscale.Provider)
	}
}

func (d *Daemon) loadRules() error {
	alertRules, scalingRules, err := config.LoadRules(d.cfg.Alerting.RulesFile)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	for _, rule := range alertRules {
		if err := d.evaluator.AddRule(rule); err != nil {
			return fmt.Errorf("add alert rule %s: %w", rule.Key(), err)
		}
	}
	for _, rule := range scalingRules {
		if err := d.engine.AddRule(rule); err != nil {
			return fmt.Errorf("add scaling rule %s: %w", rule.ID, err)
		}
	}
	d.log.Info("rules loaded",
		"alert_rules", len(alertRules), "scaling_rules", len(scalingRules))
	return nil
}

// subscribeHistoryWriter persists fired alerts and scaling actions as they
// cross the bus, keeping the store out of the evaluation paths.
func (d *Daemon) subscribeHistoryWriter() error {
	_, err := d.bus.Subscribe(func(event eventbus.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		switch payload := event.Payload().(type) {
		case alerting.FiredAlert:
			return d.store.RecordAlert(ctx, &store.AlertRecord{
				RuleKey:    payload.RuleKey,
				Metric:     payload.Metric,
				Severity:   string(payload.Severity),
				Value:      payload.Value,
				Threshold:  payload.Threshold,
				Escalation: payload.Escalation,
				Level:      payload.Level,
				FiredAt:    payload.FiredAt,
			})
		case scaling.ScaleEvent:
			return d.store.RecordScaling(ctx, &store.ScalingRecord{
				RuleID:        payload.RuleID,
				RuleName:      payload.RuleName,
				Direction:     string(payload.Direction),
				Metric:        payload.Metric,
				Value:         payload.Value,
				FromInstances: payload.FromInstances,
				ToInstances:   payload.ToInstances,
				Err:           payload.Err,
				OccurredAt:    payload.OccurredAt,
			})
		}
		return nil
	})
	return err
}

// Start launches all loops. It returns immediately; use Stop to shut down.
func (d *Daemon) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	d.collector.Start(ctx)
	d.evaluator.Start(ctx)
	d.engine.Start(ctx)
	d.scheduler.Start(ctx)

	d.log.Info("daemon started",
		"collect_interval", d.cfg.Collector.IntervalD.String(),
		"evaluate_interval", d.cfg.Alerting.IntervalD.String(),
		"scale_interval", d.cfg.Autoscale.IntervalD.String())
}

// Stop cancels the loops, waits for maintenance tasks to drain, and closes
// shared infrastructure. Pending escalation timers are dropped.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.scheduler.Wait()
	d.bus.Close()
	if err := d.store.Close(); err != nil {
		d.log.Warn("close history store", "error", err)
	}
	d.log.Info("daemon stopped")
}

func (d *Daemon) Health(ctx context.Context) health.SystemHealth {
	return d.health.GetSystemHealth(ctx)
}

func (d *Daemon) AddAlertRule(rule alerting.AlertRule) error {
	return d.evaluator.AddRule(rule)
}

func (d *Daemon) AddScalingRule(rule scaling.ScalingRule) error {
	return d.engine.AddRule(rule)
}

func (d *Daemon) AlertRules() []alerting.AlertRule { return d.evaluator.Rules() }

func (d *Daemon) ScalingRules() []scaling.ScalingRule { return d.engine.Rules() }

func (d *Daemon) RecentAlerts(ctx context.Context, limit int) ([]store.AlertRecord, error) {
	return d.store.RecentAlerts(ctx, limit)
}

func (d *Daemon) RecentScalings(ctx context.Context, limit int) ([]store.ScalingRecord, error) {
	return d.store.RecentScalings(ctx, limit)
}

func (d *Daemon) History(window time.Duration) []monitor.MetricSnapshot {
	return d.collector.History(window)
}

func (d *Daemon) LatestSnapshot() (monitor.MetricSnapshot, error) {
	return d.collector.LatestSnapshot()
}
