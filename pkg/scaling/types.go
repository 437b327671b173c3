package scaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpayne/fleetwatch/pkg/monitor"
)

var (
	ErrMissingRuleID   = errors.New("scaling rule id is required")
	ErrUnknownMetric   = errors.New("rule references unknown metric")
	ErrHysteresisGap   = errors.New("scale_down_threshold must be below scale_up_threshold")
	ErrInstanceBounds  = errors.New("invalid instance bounds")
	ErrInvalidCooldown = errors.New("cooldown must be positive")
	ErrRuleExists      = errors.New("rule already registered")
	ErrRuleNotFound    = errors.New("rule not found")
)

// Direction of a scaling directive.
type Direction string

const (
	ScaleUp   Direction = "up"
	ScaleDown Direction = "down"
)

// ScalingRule is static configuration evaluated against the latest
// snapshot. The gap between the two thresholds is the hysteresis band that
// prevents oscillation around a single boundary value.
type ScalingRule struct {
	ID                 string  `json:"id" yaml:"id"`
	Name               string  `json:"name" yaml:"name"`
	MetricName         string  `json:"metric_name" yaml:"metric"`
	ScaleUpThreshold   float64 `json:"scale_up_threshold" yaml:"scale_up_threshold"`
	ScaleDownThreshold float64 `json:"scale_down_threshold" yaml:"scale_down_threshold"`
	MinInstances       int     `json:"min_instances" yaml:"min_instances"`
	MaxInstances       int     `json:"max_instances" yaml:"max_instances"`
	CooldownMinutes    int     `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	Enabled            bool    `json:"enabled" yaml:"enabled"`
}

func (r ScalingRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// Validate enforces the registration-time invariants. A rule violating the
// hysteresis gap or the instance bounds is rejected, never silently fixed.
func (r ScalingRule) Validate() error {
	if r.ID == "" {
		return ErrMissingRuleID
	}
	if !monitor.IsMetricName(r.MetricName) {
		return fmt.Errorf("%w: %q", ErrUnknownMetric, r.MetricName)
	}
	if r.ScaleDownThreshold >= r.ScaleUpThreshold {
		return fmt.Errorf("%w: down=%g up=%g", ErrHysteresisGap,
			r.ScaleDownThreshold, r.ScaleUpThreshold)
	}
	if r.MinInstances < 0 || r.MaxInstances < 1 || r.MinInstances > r.MaxInstances {
		return fmt.Errorf("%w: min=%d max=%d", ErrInstanceBounds,
			r.MinInstances, r.MaxInstances)
	}
	// A rule without a cooldown could flip the fleet size on every tick.
	if r.CooldownMinutes < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidCooldown, r.CooldownMinutes)
	}
	return nil
}

// Provider performs the actual instance add/remove against the runtime.
// GetInstanceCount must reflect the externally-observed fleet size; the
// engine re-reads it every tick rather than tracking its own counter.
type Provider interface {
	ScaleUp(ctx context.Context, rule ScalingRule) error
	ScaleDown(ctx context.Context, rule ScalingRule) error
	GetInstanceCount(ctx context.Context) (int, error)
}
