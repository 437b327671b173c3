package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jpayne/fleetwatch/pkg/infra/eventbus"
	"github.com/jpayne/fleetwatch/pkg/infra/logger"
)

// EventSnapshotCollected is published on the bus after every tick.
const EventSnapshotCollected = "monitor.snapshot_collected"

const (
	DefaultInterval      = 10 * time.Second
	DefaultRetention     = time.Hour
	DefaultSourceTimeout = 3 * time.Second
)

// CollectorConfig configures the sampling loop.
type CollectorConfig struct {
	// Interval between collection ticks.
	Interval time.Duration
	// Retention bounds the history window; snapshots older than this are
	// evicted.
	Retention time.Duration
	// SourceTimeout bounds each individual MetricSource read so a hung
	// source cannot stall a tick.
	SourceTimeout time.Duration
}

func (c *CollectorConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = DefaultSourceTimeout
	}
}

// Collector samples the MetricSource on a fixed interval, assembles a
// timestamped MetricSnapshot per tick, keeps a bounded time-ordered history
// and publishes each snapshot on the event bus.
//
// Single writer: only the collection loop appends to history. Readers go
// through LatestSnapshot and History.
type Collector struct {
	config CollectorConfig
	source MetricSource
	bus    eventbus.Bus
	log    *slog.Logger

	mu       sync.RWMutex
	history  []MetricSnapshot
	capacity int
	lastErr  error
	errAt    time.Time

	now func() time.Time
}

func NewCollector(source MetricSource, config CollectorConfig, bus eventbus.Bus) *Collector {
	config.applyDefaults()
	capacity := int(config.Retention / config.Interval)
	if capacity < 1 {
		capacity = 1
	}
	return &Collector{
		config:   config,
		source:   source,
		bus:      bus,
		log:      logger.Default().With("component", "collector"),
		history:  make([]MetricSnapshot, 0, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Start runs the collection loop until ctx is cancelled. The first tick
// happens immediately so consumers do not wait a full interval for data.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		c.tick(ctx)

		ticker := time.NewTicker(c.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.tick(ctx)
			}
		}
	}()
}

// tick reads every metric field, falling back to the last known value for
// fields the source fails to provide. A single bad reading never aborts the
// tick; the snapshot is always completed and appended.
func (c *Collector) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("collection tick panicked", "panic", r)
		}
	}()

	prev, hasPrev := c.latest()

	snap := MetricSnapshot{Timestamp: c.now()}
	var readErr error
	for _, name := range MetricNames() {
		value, err := c.readMetric(ctx, name)
		if err != nil {
			readErr = err
			if hasPrev {
				value, _ = prev.Field(name)
			} else {
				value = 0
			}
			c.log.Warn("metric read failed, using last known value",
				"metric", name, "error", err)
		}
		snap.setField(name, value)
	}

	c.append(snap, readErr)
	c.publish(snap)
}

func (c *Collector) readMetric(ctx context.Context, name string) (float64, error) {
	readCtx, cancel := context.WithTimeout(ctx, c.config.SourceTimeout)
	defer cancel()
	return c.source.ReadMetric(readCtx, name)
}

func (c *Collector) append(snap MetricSnapshot, readErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, snap)
	if len(c.history) > c.capacity {
		c.history = c.history[len(c.history)-c.capacity:]
	}
	c.lastErr = readErr
	if readErr != nil {
		c.errAt = snap.Timestamp
	}
}

func (c *Collector) publish(snap MetricSnapshot) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(eventbus.NewEvent(eventbus.DomainMonitor, EventSnapshotCollected, snap)); err != nil {
		c.log.Warn("publish snapshot", "error", err)
	}
}

func (c *Collector) latest() (MetricSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.history) == 0 {
		return MetricSnapshot{}, false
	}
	return c.history[len(c.history)-1], true
}

// LatestSnapshot returns the most recent snapshot, or ErrNoSnapshot before
// the first tick completes.
func (c *Collector) LatestSnapshot() (MetricSnapshot, error) {
	snap, ok := c.latest()
	if !ok {
		return MetricSnapshot{}, ErrNoSnapshot
	}
	return snap, nil
}

// History returns all retained snapshots newer than now minus d, in
// ascending time order.
func (c *Collector) History(d time.Duration) []MetricSnapshot {
	cutoff := c.now().Add(-d)

	c.mu.RLock()
	defer c.mu.RUnlock()

	// History is appended in time order; find the first retained entry.
	start := len(c.history)
	for i, snap := range c.history {
		if !snap.Timestamp.Before(cutoff) {
			start = i
			break
		}
	}
	out := make([]MetricSnapshot, len(c.history)-start)
	copy(out, c.history[start:])
	return out
}

// LastReadFailure reports the most recent source read failure, if any.
// Health reporting uses this to flag a degraded source.
func (c *Collector) LastReadFailure() (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errAt, c.lastErr
}
