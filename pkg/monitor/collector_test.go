package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mapSource serves metric values from a map; missing names fail the read.
type mapSource struct {
	mu     sync.Mutex
	values map[string]float64
	fail   map[string]error
}

func newMapSource() *mapSource {
	return &mapSource{
		values: map[string]float64{
			MetricCPUUsage:          40,
			MetricMemoryUsage:       55,
			MetricResponseTimeMs:    120,
			MetricThroughputPerMin:  3000,
			MetricActiveConnections: 25,
			MetricDBConnections:     8,
			MetricErrorRatePct:      0.5,
			MetricUptimeSeconds:     86400,
		},
		fail: map[string]error{},
	}
}

func (s *mapSource) ReadMetric(ctx context.Context, name string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.fail[name]; ok {
		return 0, err
	}
	v, ok := s.values[name]
	if !ok {
		return 0, ErrMetricUnavailable
	}
	return v, nil
}

func (s *mapSource) set(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

func (s *mapSource) failWith(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[name] = err
}

func TestCollector_LatestSnapshotBeforeFirstTick(t *testing.T) {
	c := NewCollector(newMapSource(), CollectorConfig{}, nil)
	if _, err := c.LatestSnapshot(); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("LatestSnapshot before tick = %v, want ErrNoSnapshot", err)
	}
}

func TestCollector_TickAssemblesSnapshot(t *testing.T) {
	source := newMapSource()
	c := NewCollector(source, CollectorConfig{}, nil)

	stamp := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return stamp }

	c.tick(context.Background())

	snap, err := c.LatestSnapshot()
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if !snap.Timestamp.Equal(stamp) {
		t.Errorf("Timestamp = %v, want %v", snap.Timestamp, stamp)
	}
	if snap.CPUUsage != 40 || snap.MemoryUsage != 55 || snap.ErrorRatePct != 0.5 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestCollector_FallsBackToLastKnownValue(t *testing.T) {
	source := newMapSource()
	c := NewCollector(source, CollectorConfig{}, nil)

	c.tick(context.Background())

	source.failWith(MetricCPUUsage, errors.New("source hung"))
	source.set(MetricMemoryUsage, 70)
	c.tick(context.Background())

	snap, err := c.LatestSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if snap.CPUUsage != 40 {
		t.Errorf("CPUUsage = %v, want last known 40", snap.CPUUsage)
	}
	if snap.MemoryUsage != 70 {
		t.Errorf("MemoryUsage = %v, want fresh 70", snap.MemoryUsage)
	}

	at, readErr := c.LastReadFailure()
	if readErr == nil {
		t.Fatal("LastReadFailure should report the failed read")
	}
	if !at.Equal(snap.Timestamp) {
		t.Errorf("failure time = %v, want %v", at, snap.Timestamp)
	}
}

func TestCollector_FirstTickFailureReadsZero(t *testing.T) {
	source := newMapSource()
	source.failWith(MetricCPUUsage, ErrMetricUnavailable)
	c := NewCollector(source, CollectorConfig{}, nil)

	c.tick(context.Background())

	snap, err := c.LatestSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if snap.CPUUsage != 0 {
		t.Errorf("CPUUsage = %v, want 0 with no prior value", snap.CPUUsage)
	}
	if snap.MemoryUsage != 55 {
		t.Errorf("MemoryUsage = %v, other fields must still be read", snap.MemoryUsage)
	}
}

func TestCollector_HistoryEviction(t *testing.T) {
	source := newMapSource()
	// Retention of 5 intervals.
	c := NewCollector(source, CollectorConfig{
		Interval:  10 * time.Second,
		Retention: 50 * time.Second,
	}, nil)

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := start
	c.now = func() time.Time { return clock }

	for i := 0; i < 8; i++ {
		clock = start.Add(time.Duration(i) * 10 * time.Second)
		c.tick(context.Background())
	}

	history := c.History(time.Hour)
	if len(history) != 5 {
		t.Fatalf("got %d retained snapshots, want 5", len(history))
	}
	// Oldest retained is tick 3 of 0..7.
	if want := start.Add(30 * time.Second); !history[0].Timestamp.Equal(want) {
		t.Errorf("oldest = %v, want %v", history[0].Timestamp, want)
	}
	for i := 1; i < len(history); i++ {
		if !history[i].Timestamp.After(history[i-1].Timestamp) {
			t.Fatal("history must be in ascending time order")
		}
	}
}

func TestCollector_HistoryWindow(t *testing.T) {
	source := newMapSource()
	c := NewCollector(source, CollectorConfig{
		Interval:  10 * time.Second,
		Retention: time.Hour,
	}, nil)

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := start
	c.now = func() time.Time { return clock }

	for i := 0; i < 6; i++ {
		clock = start.Add(time.Duration(i) * 10 * time.Second)
		c.tick(context.Background())
	}

	// Window covering the last two ticks (inclusive cutoff).
	got := c.History(10 * time.Second)
	if len(got) != 2 {
		t.Fatalf("got %d snapshots in window, want 2", len(got))
	}
	if all := c.History(time.Hour); len(all) != 6 {
		t.Fatalf("got %d snapshots in full window, want 6", len(all))
	}
}

func TestCollector_StartTicksImmediately(t *testing.T) {
	source := newMapSource()
	c := NewCollector(source, CollectorConfig{Interval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := c.LatestSnapshot(); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("first snapshot not collected immediately after Start")
}

func TestMetricSnapshot_Field(t *testing.T) {
	snap := MetricSnapshot{CPUUsage: 12, DBConnections: 3}

	if v, ok := snap.Field(MetricCPUUsage); !ok || v != 12 {
		t.Errorf("Field(cpu_usage) = %v, %v", v, ok)
	}
	if v, ok := snap.Field(MetricDBConnections); !ok || v != 3 {
		t.Errorf("Field(db_connections) = %v, %v", v, ok)
	}
	if _, ok := snap.Field("load_average"); ok {
		t.Error("unknown field must report ok=false")
	}
}
