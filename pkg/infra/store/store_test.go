package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RecordAndRecentAlerts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := &AlertRecord{
			RuleKey:  "cpu_usage|85",
			Metric:   "cpu_usage",
			Severity: "high",
			Value:    90 + float64(i),
			FiredAt:  base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.RecordAlert(ctx, rec))
		assert.NotEmpty(t, rec.ID, "missing ID must be assigned")
	}

	got, err := s.RecentAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, float64(92), got[0].Value, "newest first")
	assert.Equal(t, float64(90), got[2].Value)

	got, err = s.RecentAlerts(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, float64(92), got[0].Value)
}

func TestMemoryStore_RecordAndRecentScalings(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.RecordScaling(ctx, &ScalingRecord{
		RuleID:        "api-cpu",
		Direction:     "up",
		Metric:        "cpu_usage",
		FromInstances: 3,
		ToInstances:   4,
		OccurredAt:    time.Now(),
	}))
	require.NoError(t, s.RecordScaling(ctx, &ScalingRecord{
		RuleID:        "api-cpu",
		Direction:     "down",
		Metric:        "cpu_usage",
		FromInstances: 4,
		ToInstances:   3,
		Err:           "daemon unreachable",
		OccurredAt:    time.Now().Add(time.Minute),
	}))

	got, err := s.RecentScalings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "down", got[0].Direction)
	assert.Equal(t, "daemon unreachable", got[0].Err)
}

func TestMemoryStore_PruneBefore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.RecordAlert(ctx, &AlertRecord{
			RuleKey: "cpu_usage|85",
			FiredAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, s.RecordScaling(ctx, &ScalingRecord{
		RuleID:     "api-cpu",
		OccurredAt: base,
	}))

	pruned, err := s.PruneBefore(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), pruned)

	alerts, err := s.RecentAlerts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
	scalings, err := s.RecentScalings(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, scalings)
}

func TestMemoryStore_OptimizeAndClose(t *testing.T) {
	s := NewMemoryStore()
	assert.NoError(t, s.Optimize(context.Background()))
	assert.NoError(t, s.Close())
}
