package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"shoppoller/internal/registry"
	"shoppoller/internal/tasks"
)

type RunningLister interface {
	Running(ctx context.Context) ([]tasks.Record, error)
}

// JanitorService drops in-flight reservations that no running price update
// owns, such as those left by a crashed worker.
type JanitorService struct {
	Registry *registry.Registry
	Tasks    RunningLister
	Logger   *zap.Logger
}

type JanitorResult struct {
	Registered int    `json:"registered"`
	LiveTasks  int    `json:"live_tasks"`
	Dropped    []uint `json:"dropped"`
}

func (j *JanitorService) Run(ctx context.Context) (JanitorResult, error) {
	var result JanitorResult
	if j == nil || j.Registry == nil || j.Tasks == nil {
		return result, nil
	}
	err := j.Registry.WithLock(ctx, func(ctx context.Context) error {
		current, err := j.Registry.SnapshotLocked(ctx)
		if err != nil {
			return fmt.Errorf("registry snapshot: %w", err)
		}
		result.Registered = len(current)
		running, err := j.Tasks.Running(ctx)
		if err != nil {
			return fmt.Errorf("list running tasks: %w", err)
		}
		// only keep what is both registered and claimed, so a task's
		// candidate list never turns into new reservations
		live := map[uint]struct{}{}
		for _, rec := range running {
			if rec.Name != tasks.NameUpdatePrices && rec.Name != tasks.NameUpdatePricesSplit {
				continue
			}
			result.LiveTasks++
			for _, id := range rec.WorldIDs {
				if _, ok := current[id]; ok {
					live[id] = struct{}{}
				}
			}
		}
		result.Dropped, err = j.Registry.ReconcileLocked(ctx, live)
		return err
	})
	if err != nil {
		return result, err
	}
	if len(result.Dropped) > 0 {
		j.logger().Info("janitor dropped stale reservations",
			zap.Uints("worlds", result.Dropped),
			zap.Int("registered", result.Registered),
			zap.Int("live_tasks", result.LiveTasks),
		)
	}
	return result, nil
}

func (j *JanitorService) logger() *zap.Logger {
	if j.Logger == nil {
		return zap.NewNop()
	}
	return j.Logger
}
