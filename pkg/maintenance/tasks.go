package maintenance

import (
	"context"
	"time"

	"github.com/jpayne/fleetwatch/pkg/infra/logger"
	"github.com/jpayne/fleetwatch/pkg/monitor"
)

// HistoryPruner deletes history older than a cutoff. Satisfied by the
// history store.
type HistoryPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Optimizer performs storage housekeeping. Satisfied by the history store.
type Optimizer interface {
	Optimize(ctx context.Context) error
}

// SnapshotHistory exposes the collector's retained window.
type SnapshotHistory interface {
	History(d time.Duration) []monitor.MetricSnapshot
}

// HistoryRetentionTask sweeps persisted history older than maxAge.
func HistoryRetentionTask(pruner HistoryPruner, maxAge, interval time.Duration) Task {
	return Task{
		Name:     "history-retention",
		Interval: interval,
		Run: func(ctx context.Context) error {
			pruned, err := pruner.PruneBefore(ctx, time.Now().Add(-maxAge))
			if err != nil {
				return err
			}
			if pruned > 0 {
				logger.Default().Info("history retention sweep",
					"pruned", pruned, "max_age", maxAge)
			}
			return nil
		},
	}
}

// StoreOptimizeTask runs storage housekeeping on the history backend.
func StoreOptimizeTask(opt Optimizer, interval time.Duration) Task {
	return Task{
		Name:     "store-optimize",
		Interval: interval,
		Run:      opt.Optimize,
	}
}

// SlowResponseScanTask identifies sustained slow-response windows in the
// recent snapshot history and logs them for operator follow-up.
func SlowResponseScanTask(history SnapshotHistory, window time.Duration, thresholdMs float64, interval time.Duration) Task {
	return Task{
		Name:     "slow-response-scan",
		Interval: interval,
		Run: func(ctx context.Context) error {
			snaps := history.History(window)
			if len(snaps) == 0 {
				return nil
			}

			var slow int
			var worst float64
			for _, snap := range snaps {
				if snap.ResponseTimeMs > thresholdMs {
					slow++
					if snap.ResponseTimeMs > worst {
						worst = snap.ResponseTimeMs
					}
				}
			}
			if slow > 0 {
				logger.Default().Warn("slow responses observed",
					"window", window, "samples", len(snaps),
					"slow", slow, "worst_ms", worst, "threshold_ms", thresholdMs)
			}
			return nil
		},
	}
}
