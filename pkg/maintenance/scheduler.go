// Package maintenance runs independent low-frequency background tasks
// (history retention, store optimization) on their own intervals. Tasks
// share no state with the alerting or scaling loops; a failing task is
// logged and never delays another task's next tick.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpayne/fleetwatch/pkg/infra/logger"
)

// Task is one periodic side-effecting operation.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler ticks each registered task on its own timer.
type Scheduler struct {
	mu    sync.Mutex
	tasks []Task
	log   *slog.Logger
	wg    sync.WaitGroup
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		log: logger.Default().With("component", "maintenance"),
	}
}

// Register adds a task before Start.
func (s *Scheduler) Register(task Task) error {
	if task.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if task.Interval <= 0 {
		return fmt.Errorf("task %q: interval must be positive", task.Name)
	}
	if task.Run == nil {
		return fmt.Errorf("task %q: run func is required", task.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.Name == task.Name {
			return fmt.Errorf("task %q already registered", task.Name)
		}
	}
	s.tasks = append(s.tasks, task)
	return nil
}

// Start launches one goroutine per task, each ticking independently until
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	tasks := make([]Task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	for _, task := range tasks {
		task := task
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ticker := time.NewTicker(task.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.runTask(ctx, task)
				}
			}
		}()
	}
}

// Wait blocks until all task loops have exited after cancellation.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runTask(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("maintenance task panicked", "task", task.Name, "panic", r)
		}
	}()

	started := time.Now()
	if err := task.Run(ctx); err != nil {
		s.log.Warn("maintenance task failed", "task", task.Name, "error", err)
		return
	}
	s.log.Debug("maintenance task completed",
		"task", task.Name, "duration", time.Since(started))
}
