// Package store persists the monitoring event history: fired alerts,
// escalation deliveries and scaling directives. The loops publish on the
// event bus; the history writer in the service layer records through this
// package. SQLite is the production backend with an in-memory twin for
// tests and for running without a data directory.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrClosed = errors.New("store is closed")

// AlertRecord is one fired alert or delivered escalation.
type AlertRecord struct {
	ID         string    `json:"id"`
	RuleKey    string    `json:"rule_key"`
	Metric     string    `json:"metric"`
	Severity   string    `json:"severity"`
	Value      float64   `json:"value"`
	Threshold  float64   `json:"threshold"`
	Escalation bool      `json:"escalation"`
	Level      int       `json:"level,omitempty"`
	FiredAt    time.Time `json:"fired_at"`
}

// ScalingRecord is one scaling directive, successful or not.
type ScalingRecord struct {
	ID            string    `json:"id"`
	RuleID        string    `json:"rule_id"`
	RuleName      string    `json:"rule_name"`
	Direction     string    `json:"direction"`
	Metric        string    `json:"metric"`
	Value         float64   `json:"value"`
	FromInstances int       `json:"from_instances"`
	ToInstances   int       `json:"to_instances"`
	Err           string    `json:"error,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// HistoryStore is the persistence contract for monitoring history.
type HistoryStore interface {
	RecordAlert(ctx context.Context, rec *AlertRecord) error
	RecordScaling(ctx context.Context, rec *ScalingRecord) error
	RecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	RecentScalings(ctx context.Context, limit int) ([]ScalingRecord, error)
	// PruneBefore deletes records older than cutoff, returning how many
	// rows went away. The maintenance retention sweep calls this.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// Optimize performs backend-specific housekeeping (a no-op for the
	// memory store).
	Optimize(ctx context.Context) error
	Close() error
}

// MemoryStore keeps history in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	alerts   []AlertRecord
	scalings []ScalingRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) RecordAlert(ctx context.Context, rec *AlertRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, *rec)
	return nil
}

func (s *MemoryStore) RecordScaling(ctx context.Context, rec *ScalingRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scalings = append(s.scalings, *rec)
	return nil
}

// RecentAlerts returns up to limit records, newest first.
func (s *MemoryStore) RecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.alerts)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]AlertRecord, 0, n)
	for i := len(s.alerts) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.alerts[i])
	}
	return out, nil
}

// RecentScalings returns up to limit records, newest first.
func (s *MemoryStore) RecentScalings(ctx context.Context, limit int) ([]ScalingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.scalings)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]ScalingRecord, 0, n)
	for i := len(s.scalings) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.scalings[i])
	}
	return out, nil
}

func (s *MemoryStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64

	kept := s.alerts[:0]
	for _, rec := range s.alerts {
		if rec.FiredAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, rec)
	}
	s.alerts = kept

	keptScalings := s.scalings[:0]
	for _, rec := range s.scalings {
		if rec.OccurredAt.Before(cutoff) {
			pruned++
			continue
		}
		keptScalings = append(keptScalings, rec)
	}
	s.scalings = keptScalings

	return pruned, nil
}

func (s *MemoryStore) Optimize(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

var _ HistoryStore = (*MemoryStore)(nil)
