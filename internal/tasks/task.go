package tasks

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type ctxKey struct{}

// Task is the running job's view of its own record.
type Task struct {
	runner *Runner
	mu     sync.Mutex
	record Record
}

func WithTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext returns the task running ctx, or nil outside the runner.
func FromContext(ctx context.Context) *Task {
	t, _ := ctx.Value(ctxKey{}).(*Task)
	return t
}

func (t *Task) ID() string {
	if t == nil {
		return ""
	}
	return t.record.ID
}

func (t *Task) Name() string {
	if t == nil {
		return ""
	}
	return t.record.Name
}

// SetWorldIDs rewrites the published world ids of the running task.
func (t *Task) SetWorldIDs(ctx context.Context, ids []uint) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	t.record.WorldIDs = append([]uint(nil), ids...)
	t.mu.Unlock()
	return t.publish(ctx)
}

func (t *Task) publish(ctx context.Context) error {
	t.mu.Lock()
	raw, err := json.Marshal(t.record)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	return t.runner.Store.Set(ctx, RecordKey(t.record.ID), raw, t.runner.RecordTTL)
}

func (t *Task) keepAlive() func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	var once sync.Once
	go func() {
		defer close(done)
		tick := time.NewTicker(t.runner.RecordTTL / 3)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = t.publish(ctx)
				cancel()
			}
		}
	}()
	return func() {
		once.Do(func() { close(stop) })
		<-done
	}
}
