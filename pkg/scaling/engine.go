package scaling

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jpayne/fleetwatch/pkg/infra/eventbus"
	"github.com/jpayne/fleetwatch/pkg/infra/logger"
	"github.com/jpayne/fleetwatch/pkg/monitor"
)

// Event types published on the bus.
const (
	EventScaledUp   = "scaling.scaled_up"
	EventScaledDown = "scaling.scaled_down"
)

const (
	DefaultInterval        = 60 * time.Second
	DefaultProviderTimeout = 10 * time.Second
)

// ScaleEvent is the bus payload for scaling directives, including failed
// ones (Err non-empty).
type ScaleEvent struct {
	RuleID        string    `json:"rule_id"`
	RuleName      string    `json:"rule_name"`
	Direction     Direction `json:"direction"`
	Metric        string    `json:"metric"`
	Value         float64   `json:"value"`
	FromInstances int       `json:"from_instances"`
	ToInstances   int       `json:"to_instances"`
	Err           string    `json:"error,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// SnapshotSource supplies the latest metric snapshot. Satisfied by
// *monitor.Collector.
type SnapshotSource interface {
	LatestSnapshot() (monitor.MetricSnapshot, error)
}

// EngineConfig configures the autoscaling loop.
type EngineConfig struct {
	// Interval between evaluation ticks.
	Interval time.Duration
	// ProviderTimeout bounds each provider call.
	ProviderTimeout time.Duration
}

func (c *EngineConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = DefaultProviderTimeout
	}
}

// Engine evaluates scaling rules against the latest snapshot and issues
// one-instance scale directives within each rule's bounds.
//
// Per rule the lifecycle is Idle -> ScalingUp|ScalingDown -> Cooldown ->
// Idle. The cooldown map is private to this loop; the alert evaluator keeps
// its own, so the two loops never contend on shared state.
type Engine struct {
	config    EngineConfig
	snapshots SnapshotSource
	provider  Provider
	bus       eventbus.Bus
	log       *slog.Logger

	mu         sync.Mutex
	rules      []ScalingRule
	lastAction map[string]time.Time

	failMu    sync.Mutex
	lastErr   error
	lastErrAt time.Time

	now func() time.Time
}

func NewEngine(snapshots SnapshotSource, provider Provider, config EngineConfig, bus eventbus.Bus) *Engine {
	config.applyDefaults()
	return &Engine{
		config:     config,
		snapshots:  snapshots,
		provider:   provider,
		bus:        bus,
		log:        logger.Default().With("component", "engine"),
		lastAction: make(map[string]time.Time),
		now:        time.Now,
	}
}

// AddRule validates and appends a rule. Invalid rules are rejected at
// registration time, never silently accepted.
func (e *Engine) AddRule(rule ScalingRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.rules {
		if r.ID == rule.ID {
			return ErrRuleExists
		}
	}
	e.rules = append(e.rules, rule)
	return nil
}

// RemoveRule removes the rule with the given id.
func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.rules {
		if r.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return nil
		}
	}
	return ErrRuleNotFound
}

// Rules returns a copy of the registered rules.
func (e *Engine) Rules() []ScalingRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ScalingRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Start runs the evaluation loop until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.EvaluateNow(ctx)
			}
		}
	}()
}

// EvaluateNow evaluates every enabled rule once.
func (e *Engine) EvaluateNow(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("scaling tick panicked", "panic", r)
		}
	}()

	snap, err := e.snapshots.LatestSnapshot()
	if err != nil {
		e.log.Debug("no snapshot available yet")
		return
	}

	for _, rule := range e.snapshotRules() {
		if !rule.Enabled {
			continue
		}
		e.evaluateRule(ctx, rule, snap)
	}
}

func (e *Engine) snapshotRules() []ScalingRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ScalingRule, len(e.rules))
	copy(out, e.rules)
	return out
}

func (e *Engine) evaluateRule(ctx context.Context, rule ScalingRule, snap monitor.MetricSnapshot) {
	value, ok := snap.Field(rule.MetricName)
	if !ok {
		return
	}

	count, err := e.instanceCount(ctx)
	if err != nil {
		e.recordFailure(err)
		e.log.Warn("read instance count", "rule", rule.ID, "error", err)
		return
	}

	switch {
	case value > rule.ScaleUpThreshold && count < rule.MaxInstances:
		e.issue(ctx, rule, ScaleUp, value, count)
	case value < rule.ScaleDownThreshold && count > rule.MinInstances:
		e.issue(ctx, rule, ScaleDown, value, count)
	}
}

// issue performs one scaling directive after the cooldown and bounds
// checks. The bounds are re-checked against the live count here, not only
// assumed from configuration; the engine never requests a count outside
// [min, max].
func (e *Engine) issue(ctx context.Context, rule ScalingRule, dir Direction, value float64, count int) {
	target := count + 1
	if dir == ScaleDown {
		target = count - 1
	}
	// Direction-specific so a fleet pushed outside the bounds by an
	// operator can still be stepped back toward them.
	if dir == ScaleUp && target > rule.MaxInstances {
		return
	}
	if dir == ScaleDown && target < rule.MinInstances {
		return
	}

	now := e.now()
	if !e.claimAction(rule, now) {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.ProviderTimeout)
	defer cancel()

	var err error
	if dir == ScaleUp {
		err = e.provider.ScaleUp(callCtx, rule)
	} else {
		err = e.provider.ScaleDown(callCtx, rule)
	}

	event := ScaleEvent{
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		Direction:     dir,
		Metric:        rule.MetricName,
		Value:         value,
		FromInstances: count,
		ToInstances:   target,
		OccurredAt:    now,
	}

	if err != nil {
		// The cooldown has already started; a failing adapter is not
		// hammered again next tick.
		e.recordFailure(err)
		event.Err = err.Error()
		e.log.Warn("scaling directive failed",
			"rule", rule.ID, "direction", dir, "error", err)
	} else {
		e.log.Info("scaling directive issued",
			"rule", rule.ID, "direction", dir,
			"from", count, "to", target, "value", value)
	}

	e.publish(dir, event)
}

// claimAction starts the rule's cooldown unless it is already inside one.
func (e *Engine) claimAction(rule ScalingRule, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if last, ok := e.lastAction[rule.ID]; ok {
		if now.Before(last.Add(rule.Cooldown())) {
			return false
		}
	}
	e.lastAction[rule.ID] = now
	return true
}

func (e *Engine) instanceCount(ctx context.Context) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.ProviderTimeout)
	defer cancel()
	return e.provider.GetInstanceCount(callCtx)
}

// InstanceCount reads the current fleet size from the provider, for health
// reporting.
func (e *Engine) InstanceCount(ctx context.Context) (int, error) {
	return e.instanceCount(ctx)
}

// LastFailure reports the most recent provider failure, if any.
func (e *Engine) LastFailure() (time.Time, error) {
	e.failMu.Lock()
	defer e.failMu.Unlock()
	return e.lastErrAt, e.lastErr
}

func (e *Engine) recordFailure(err error) {
	e.failMu.Lock()
	defer e.failMu.Unlock()
	e.lastErr = err
	e.lastErrAt = e.now()
}

func (e *Engine) publish(dir Direction, event ScaleEvent) {
	if e.bus == nil {
		return
	}
	eventType := EventScaledUp
	if dir == ScaleDown {
		eventType = EventScaledDown
	}
	if err := e.bus.Publish(eventbus.NewEvent(eventbus.DomainScaling, eventType, event)); err != nil {
		e.log.Warn("publish scaling event", "error", err)
	}
}
