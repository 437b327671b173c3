package alerting

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
	EventAlertFired          = "alert.fired"
	EventEscalationDelivered = "alert.escalation_delivered"
)

const (
	DefaultInterval        = 30 * time.Second
	DefaultNotifyTimeout   = 5 * time.Second
	DefaultEscalationRetry = 30 * time.Second
)

// FiredAlert is the bus payload for EventAlertFired and
// EventEscalationDelivered.
type FiredAlert struct {
	RuleKey    string    `json:"rule_key"`
	Metric     string    `json:"metric"`
	Severity   Severity  `json:"severity"`
	Value      float64   `json:"value"`
	Threshold  float64   `json:"threshold"`
	Escalation bool      `json:"escalation"`
	Level      int       `json:"level,omitempty"`
	FiredAt    time.Time `json:"fired_at"`
}

// SnapshotSource supplies the latest metric snapshot. Satisfied by
// *monitor.Collector.
type SnapshotSource interface {
	LatestSnapshot() (monitor.MetricSnapshot, error)
}

// EvaluatorConfig configures the evaluation loop.
type EvaluatorConfig struct {
	// Interval between evaluation ticks.
	Interval time.Duration
	// NotifyTimeout bounds each notifier call.
	NotifyTimeout time.Duration
	// EscalationRetry is the delay between escalation delivery attempts.
	EscalationRetry time.Duration
}

func (c *EvaluatorConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = DefaultNotifyTimeout
	}
	if c.EscalationRetry <= 0 {
		c.EscalationRetry = DefaultEscalationRetry
	}
}

// Evaluator ticks over the registered alert rules, fires notifications with
// cooldown suppression, and schedules escalation follow-ups.
//
// Per rule the lifecycle is Idle -> Firing -> Cooldown -> Idle; escalation
// runs as a parallel timeline anchored to the fire, unaffected by cooldown.
type Evaluator struct {
	config    EvaluatorConfig
	snapshots SnapshotSource
	notifier  Notifier
	bus       eventbus.Bus
	log       *slog.Logger

	mu        sync.Mutex
	rules     []AlertRule
	lastFired map[string]time.Time

	timerMu sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool

	// Seams for tests; default to time.Now and time.AfterFunc.
	now       func() time.Time
	afterFunc func(d time.Duration, f func()) *time.Timer
}

func NewEvaluator(snapshots SnapshotSource, notifier Notifier, config EvaluatorConfig, bus eventbus.Bus) *Evaluator {
	config.applyDefaults()
	return &Evaluator{
		config:    config,
		snapshots: snapshots,
		notifier:  notifier,
		bus:       bus,
		log:       logger.Default().With("component", "evaluator"),
		lastFired: make(map[string]time.Time),
		timers:    make(map[*time.Timer]struct{}),
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

// AddRule validates and appends a rule. The (metric, threshold) identity
// must be unique among registered rules.
func (e *Evaluator) AddRule(rule AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.rules {
		if r.Key() == rule.Key() {
			return ErrRuleExists
		}
	}
	e.rules = append(e.rules, rule)
	return nil
}

// RemoveRule removes the rule with the given identity key. Its cooldown
// entry is retained; stale entries are harmless.
func (e *Evaluator) RemoveRule(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.rules {
		if r.Key() == key {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return nil
		}
	}
	return ErrRuleNotFound
}

// Rules returns a copy of the registered rules.
func (e *Evaluator) Rules() []AlertRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AlertRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Start runs the evaluation loop until ctx is cancelled, then stops any
// escalation timers still pending. Escalations scheduled before shutdown
// are best-effort in-memory and do not survive it.
func (e *Evaluator) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.stopTimers()
				return
			case <-ticker.C:
				e.EvaluateNow(ctx)
			}
		}
	}()
}

// EvaluateNow evaluates every rule against the latest snapshot once. It is
// the manual-trigger entry point and shares cooldown state with the loop.
func (e *Evaluator) EvaluateNow(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("evaluation tick panicked", "panic", r)
		}
	}()

	snap, err := e.snapshots.LatestSnapshot()
	if err != nil {
		e.log.Debug("no snapshot available yet")
		return
	}

	for _, rule := range e.snapshotRules() {
		e.evaluateRule(ctx, rule, snap)
	}
}

func (e *Evaluator) snapshotRules() []AlertRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AlertRule, len(e.rules))
	copy(out, e.rules)
	return out
}

func (e *Evaluator) evaluateRule(ctx context.Context, rule AlertRule, snap monitor.MetricSnapshot) {
	value, ok := snap.Field(rule.MetricName)
	if !ok {
		// Missing field skips the rule; it is not an error.
		return
	}

	if !rule.Operator.Compare(value, rule.Threshold) {
		return
	}

	now := e.now()
	if !e.claimFire(rule, now) {
		// In cooldown: a condition that stays true fires exactly once per
		// window, not once per tick.
		return
	}

	e.fire(ctx, rule, value, now)
}

// claimFire records the fire time unless the rule is inside its cooldown
// window. Check and record are one critical section so a concurrent manual
// trigger cannot double-fire.
func (e *Evaluator) claimFire(rule AlertRule, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if last, ok := e.lastFired[rule.Key()]; ok {
		if now.Before(last.Add(rule.Cooldown())) {
			return false
		}
	}
	e.lastFired[rule.Key()] = now
	return true
}

func (e *Evaluator) fire(ctx context.Context, rule AlertRule, value float64, firedAt time.Time) {
	n := Notification{
		RuleKey:   rule.Key(),
		Metric:    rule.MetricName,
		Operator:  rule.Operator,
		Threshold: rule.Threshold,
		Value:     value,
		Severity:  rule.Severity,
		FiredAt:   firedAt,
	}

	e.log.Info("alert fired",
		"rule", rule.Key(), "severity", rule.Severity, "value", value)

	e.dispatch(ctx, rule.Recipients, n)
	e.publish(EventAlertFired, FiredAlert{
		RuleKey:   rule.Key(),
		Metric:    rule.MetricName,
		Severity:  rule.Severity,
		Value:     value,
		Threshold: rule.Threshold,
		FiredAt:   firedAt,
	})

	if rule.Escalation != nil {
		e.scheduleEscalations(rule, value, firedAt)
	}
}

// dispatch attempts delivery to every recipient; one recipient failing
// never blocks the rest.
func (e *Evaluator) dispatch(ctx context.Context, recipients []string, n Notification) {
	for _, recipient := range recipients {
		if err := e.send(ctx, recipient, n); err != nil {
			e.log.Warn("notification failed",
				"rule", n.RuleKey, "recipient", recipient, "error", err)
		}
	}
}

func (e *Evaluator) send(ctx context.Context, recipient string, n Notification) error {
	sendCtx, cancel := context.WithTimeout(ctx, e.config.NotifyTimeout)
	defer cancel()
	return e.notifier.Send(sendCtx, recipient, n)
}

// scheduleEscalations arms one timer per level, each delayed from the
// original fire time. Once armed a level is fire-and-forget: later fires or
// cooldown expiry of the rule do not cancel it.
func (e *Evaluator) scheduleEscalations(rule AlertRule, value float64, firedAt time.Time) {
	maxAttempts := rule.Escalation.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for i, level := range rule.Escalation.Levels {
		level := level
		levelNum := i + 1
		e.schedule(level.Delay(), func() {
			e.deliverEscalation(rule, level, levelNum, value, firedAt, 1, maxAttempts)
		})
	}
}

func (e *Evaluator) deliverEscalation(rule AlertRule, level EscalationLevel, levelNum int, value float64, firedAt time.Time, attempt, maxAttempts int) {
	n := Notification{
		RuleKey:    rule.Key(),
		Metric:     rule.MetricName,
		Operator:   rule.Operator,
		Threshold:  rule.Threshold,
		Value:      value,
		Severity:   rule.Severity,
		FiredAt:    firedAt,
		Escalation: true,
		Level:      levelNum,
		Action:     level.Action,
	}

	var failed bool
	for _, recipient := range level.Recipients {
		if err := e.send(context.Background(), recipient, n); err != nil {
			failed = true
			e.log.Warn("escalation delivery failed",
				"rule", n.RuleKey, "level", levelNum,
				"recipient", recipient, "attempt", attempt, "error", err)
		}
	}

	if failed && attempt < maxAttempts {
		e.schedule(e.config.EscalationRetry, func() {
			e.deliverEscalation(rule, level, levelNum, value, firedAt, attempt+1, maxAttempts)
		})
		return
	}

	e.publish(EventEscalationDelivered, FiredAlert{
		RuleKey:    rule.Key(),
		Metric:     rule.MetricName,
		Severity:   rule.Severity,
		Value:      value,
		Threshold:  rule.Threshold,
		Escalation: true,
		Level:      levelNum,
		FiredAt:    firedAt,
	})
}

// schedule arms a tracked timer unless the evaluator has been stopped.
func (e *Evaluator) schedule(d time.Duration, f func()) {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	if e.stopped {
		return
	}

	var t *time.Timer
	t = e.afterFunc(d, func() {
		e.timerMu.Lock()
		delete(e.timers, t)
		e.timerMu.Unlock()
		f()
	})
	e.timers[t] = struct{}{}
}

func (e *Evaluator) stopTimers() {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	e.stopped = true
	for t := range e.timers {
		t.Stop()
	}
	e.timers = make(map[*time.Timer]struct{})
}

// Suppressed returns the rules currently inside their cooldown window.
func (e *Evaluator) Suppressed() []SuppressedAlert {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	var out []SuppressedAlert
	for _, rule := range e.rules {
		last, ok := e.lastFired[rule.Key()]
		if !ok {
			continue
		}
		until := last.Add(rule.Cooldown())
		if now.Before(until) {
			out = append(out, SuppressedAlert{
				RuleKey:  rule.Key(),
				Metric:   rule.MetricName,
				Severity: rule.Severity,
				FiredAt:  last,
				Until:    until,
			})
		}
	}
	return out
}

func (e *Evaluator) publish(eventType string, payload FiredAlert) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(eventbus.NewEvent(eventbus.DomainAlert, eventType, payload)); err != nil {
		e.log.Warn("publish alert event", "error", err)
	}
}
