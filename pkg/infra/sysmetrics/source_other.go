//go:build !linux

package sysmetrics

import (
	"context"
	"fmt"

	"github.com/jpayne/fleetwatch/pkg/monitor"
)

// HostSource is only implemented for Linux hosts. On other platforms every
// read reports the metric unavailable and the collector applies its
// last-known-value fallback.
type HostSource struct{}

func NewHostSource() *HostSource {
	return &HostSource{}
}

func (s *HostSource) ReadMetric(ctx context.Context, name string) (float64, error) {
	if !monitor.IsMetricName(name) {
		return 0, fmt.Errorf("%w: %s", monitor.ErrUnknownMetric, name)
	}
	return 0, fmt.Errorf("%w: %s (unsupported platform)", monitor.ErrMetricUnavailable, name)
}
