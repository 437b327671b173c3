// Package health derives a read-only view of the monitoring subsystem:
// the latest snapshot, currently suppressed alerts and the fleet size.
// The view is computed on demand and never persisted.
package health

import (
	"context"
	"errors"
	"time"

	"github.com/jpayne/fleetwatch/pkg/alerting"
	"github.com/jpayne/fleetwatch/pkg/monitor"
)

// Status of the subsystem as a whole.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusStarting Status = "starting"
)

// degradedWindow is how long a past adapter failure keeps the subsystem
// reporting degraded.
const degradedWindow = 5 * time.Minute

// SystemHealth is the derived, read-only view.
type SystemHealth struct {
	Status           Status                     `json:"status"`
	Timestamp        time.Time                  `json:"timestamp"`
	Snapshot         *monitor.MetricSnapshot    `json:"snapshot,omitempty"`
	SuppressedAlerts []alerting.SuppressedAlert `json:"suppressed_alerts"`
	InstanceCount    int                        `json:"instance_count"`
	LastFailure      string                     `json:"last_failure,omitempty"`
}

// SnapshotReader is the collector surface health reads.
type SnapshotReader interface {
	LatestSnapshot() (monitor.MetricSnapshot, error)
	LastReadFailure() (time.Time, error)
}

// AlertReader is the evaluator surface health reads.
type AlertReader interface {
	Suppressed() []alerting.SuppressedAlert
}

// FleetReader is the engine surface health reads.
type FleetReader interface {
	InstanceCount(ctx context.Context) (int, error)
	LastFailure() (time.Time, error)
}

// Service computes SystemHealth on demand.
type Service struct {
	snapshots SnapshotReader
	alerts    AlertReader
	fleet     FleetReader
	now       func() time.Time
}

func NewService(snapshots SnapshotReader, alerts AlertReader, fleet FleetReader) *Service {
	return &Service{
		snapshots: snapshots,
		alerts:    alerts,
		fleet:     fleet,
		now:       time.Now,
	}
}

// GetSystemHealth assembles the current view. Failures surface here as a
// degraded status, never as an error to the caller.
func (s *Service) GetSystemHealth(ctx context.Context) SystemHealth {
	now := s.now()
	h := SystemHealth{
		Status:           StatusOK,
		Timestamp:        now,
		SuppressedAlerts: s.alerts.Suppressed(),
	}
	if h.SuppressedAlerts == nil {
		h.SuppressedAlerts = []alerting.SuppressedAlert{}
	}

	snap, err := s.snapshots.LatestSnapshot()
	switch {
	case errors.Is(err, monitor.ErrNoSnapshot):
		h.Status = StatusStarting
	case err == nil:
		h.Snapshot = &snap
	}

	if count, err := s.fleet.InstanceCount(ctx); err == nil {
		h.InstanceCount = count
	} else {
		h.Status = StatusDegraded
		h.LastFailure = err.Error()
	}

	if at, ferr := s.snapshots.LastReadFailure(); ferr != nil && now.Sub(at) < degradedWindow {
		h.Status = StatusDegraded
		h.LastFailure = ferr.Error()
	}
	if at, ferr := s.fleet.LastFailure(); ferr != nil && now.Sub(at) < degradedWindow {
		h.Status = StatusDegraded
		h.LastFailure = ferr.Error()
	}

	return h
}
