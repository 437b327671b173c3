package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_AlertRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	firedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := &AlertRecord{
		RuleKey:    "cpu_usage|85",
		Metric:     "cpu_usage",
		Severity:   "high",
		Value:      92.5,
		Threshold:  85,
		Escalation: true,
		Level:      2,
		FiredAt:    firedAt,
	}
	require.NoError(t, s.RecordAlert(ctx, rec))
	assert.NotEmpty(t, rec.ID)

	got, err := s.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
	assert.Equal(t, "cpu_usage|85", got[0].RuleKey)
	assert.Equal(t, 92.5, got[0].Value)
	assert.True(t, got[0].Escalation)
	assert.Equal(t, 2, got[0].Level)
	assert.True(t, got[0].FiredAt.Equal(firedAt))
}

func TestSQLiteStore_ScalingRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	occurredAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := &ScalingRecord{
		RuleID:        "api-cpu",
		RuleName:      "API fleet by CPU",
		Direction:     "up",
		Metric:        "cpu_usage",
		Value:         91,
		FromInstances: 3,
		ToInstances:   4,
		OccurredAt:    occurredAt,
	}
	require.NoError(t, s.RecordScaling(ctx, rec))

	got, err := s.RecentScalings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "up", got[0].Direction)
	assert.Equal(t, 3, got[0].FromInstances)
	assert.Equal(t, 4, got[0].ToInstances)
	assert.Empty(t, got[0].Err)
	assert.True(t, got[0].OccurredAt.Equal(occurredAt))
}

func TestSQLiteStore_RecentOrderingAndLimit(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordAlert(ctx, &AlertRecord{
			RuleKey: "cpu_usage|85",
			Metric:  "cpu_usage",
			Value:   float64(i),
			FiredAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := s.RecentAlerts(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, float64(4), got[0].Value)
	assert.Equal(t, float64(2), got[2].Value)
}

func TestSQLiteStore_PruneBefore(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.RecordAlert(ctx, &AlertRecord{
			RuleKey: "cpu_usage|85",
			Metric:  "cpu_usage",
			FiredAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, s.RecordScaling(ctx, &ScalingRecord{
		RuleID:     "api-cpu",
		Direction:  "up",
		Metric:     "cpu_usage",
		OccurredAt: base,
	}))

	pruned, err := s.PruneBefore(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), pruned)

	alerts, err := s.RecentAlerts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func TestSQLiteStore_Optimize(t *testing.T) {
	s := newTestSQLiteStore(t)
	assert.NoError(t, s.Optimize(context.Background()))
}

func TestSQLiteStore_ReopenKeepsHistory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordAlert(ctx, &AlertRecord{
		RuleKey: "cpu_usage|85",
		Metric:  "cpu_usage",
		FiredAt: time.Now(),
	}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
