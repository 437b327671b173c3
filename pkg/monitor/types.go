package monitor

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoSnapshot        = errors.New("no snapshot collected yet")
	ErrUnknownMetric     = errors.New("unknown metric name")
	ErrMetricUnavailable = errors.New("metric not available from source")
)

// Canonical metric names. Every MetricSnapshot field is addressable by one
// of these; alert and scaling rules reference metrics by these names.
const (
	MetricCPUUsage          = "cpu_usage"
	MetricMemoryUsage       = "memory_usage"
	MetricResponseTimeMs    = "response_time_ms"
	MetricThroughputPerMin  = "throughput_per_min"
	MetricActiveConnections = "active_connections"
	MetricDBConnections     = "db_connections"
	MetricErrorRatePct      = "error_rate_pct"
	MetricUptimeSeconds     = "uptime_seconds"
)

// MetricNames returns the fixed set of metric names in collection order.
func MetricNames() []string {
	return []string{
		MetricCPUUsage,
		MetricMemoryUsage,
		MetricResponseTimeMs,
		MetricThroughputPerMin,
		MetricActiveConnections,
		MetricDBConnections,
		MetricErrorRatePct,
		MetricUptimeSeconds,
	}
}

// IsMetricName reports whether name addresses a MetricSnapshot field.
func IsMetricName(name string) bool {
	switch name {
	case MetricCPUUsage, MetricMemoryUsage, MetricResponseTimeMs,
		MetricThroughputPerMin, MetricActiveConnections,
		MetricDBConnections, MetricErrorRatePct, MetricUptimeSeconds:
		return true
	default:
		return false
	}
}

// MetricSource supplies raw numeric readings. Implementations must be safe
// to call once per field per collection tick and should return
// ErrMetricUnavailable (possibly wrapped) for metrics they cannot provide.
type MetricSource interface {
	ReadMetric(ctx context.Context, name string) (float64, error)
}

// MetricSnapshot is one immutable, timestamped reading of all tracked
// metrics. Created once per collection tick and never mutated.
type MetricSnapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	CPUUsage          float64   `json:"cpu_usage"`
	MemoryUsage       float64   `json:"memory_usage"`
	ResponseTimeMs    float64   `json:"response_time_ms"`
	ThroughputPerMin  float64   `json:"throughput_per_min"`
	ActiveConnections float64   `json:"active_connections"`
	DBConnections     float64   `json:"db_connections"`
	ErrorRatePct      float64   `json:"error_rate_pct"`
	UptimeSeconds     float64   `json:"uptime_seconds"`
}

// Field returns the named metric value. The second result is false when
// name does not address a snapshot field.
func (s MetricSnapshot) Field(name string) (float64, bool) {
	switch name {
	case MetricCPUUsage:
		return s.CPUUsage, true
	case MetricMemoryUsage:
		return s.MemoryUsage, true
	case MetricResponseTimeMs:
		return s.ResponseTimeMs, true
	case MetricThroughputPerMin:
		return s.ThroughputPerMin, true
	case MetricActiveConnections:
		return s.ActiveConnections, true
	case MetricDBConnections:
		return s.DBConnections, true
	case MetricErrorRatePct:
		return s.ErrorRatePct, true
	case MetricUptimeSeconds:
		return s.UptimeSeconds, true
	default:
		return 0, false
	}
}

func (s *MetricSnapshot) setField(name string, value float64) {
	switch name {
	case MetricCPUUsage:
		s.CPUUsage = value
	case MetricMemoryUsage:
		s.MemoryUsage = value
	case MetricResponseTimeMs:
		s.ResponseTimeMs = value
	case MetricThroughputPerMin:
		s.ThroughputPerMin = value
	case MetricActiveConnections:
		s.ActiveConnections = value
	case MetricDBConnections:
		s.DBConnections = value
	case MetricErrorRatePct:
		s.ErrorRatePct = value
	case MetricUptimeSeconds:
		s.UptimeSeconds = value
	}
}
