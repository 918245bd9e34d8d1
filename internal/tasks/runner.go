// Package tasks runs named jobs on a bounded worker pool and publishes a
// record of every running job to the shared store, so any process can list
// what is running and with which world ids.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shoppoller/internal/kv"
)

const (
	NameUpdatePrices      = "update_prices"
	NameUpdatePricesSplit = "update_prices_split"
	NameJanitor           = "janitor"

	recordPrefix = "tasks:running:"

	// DefaultRecordTTL bounds how long a crashed worker's record outlives it.
	DefaultRecordTTL = 90 * time.Second
)

// RecordKey is the store key of a running task's record.
func RecordKey(id string) string {
	return recordPrefix + id
}

var ErrClosed = errors.New("task runner closed")

type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	WorldIDs  []uint    `json:"world_ids"`
	Host      string    `json:"host"`
	StartedAt time.Time `json:"started_at"`
}

type Handler func(ctx context.Context, worldIDs []uint) error

type Runner struct {
	Store       kv.Store
	Logger      *zap.Logger
	Concurrency int
	RecordTTL   time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
	sem      chan struct{}
	baseCtx  context.Context
	cancel   context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
	host     string
}

func NewRunner(store kv.Store, logger *zap.Logger, concurrency int, recordTTL time.Duration) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	if recordTTL <= 0 {
		recordTTL = DefaultRecordTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	host, _ := os.Hostname()
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		Store:       store,
		Logger:      logger,
		Concurrency: concurrency,
		RecordTTL:   recordTTL,
		handlers:    map[string]Handler{},
		sem:         make(chan struct{}, concurrency),
		baseCtx:     ctx,
		cancel:      cancel,
		host:        host,
	}
}

func (r *Runner) Handle(name string, h Handler) {
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
}

// Submit queues a job and returns its id. The job waits for a free slot.
func (r *Runner) Submit(ctx context.Context, name string, worldIDs []uint) (string, error) {
	r.mu.Lock()
	h, ok := r.handlers[name]
	closed := r.closed
	if ok && !closed {
		r.wg.Add(1)
	}
	r.mu.Unlock()
	if closed {
		return "", ErrClosed
	}
	if !ok {
		return "", fmt.Errorf("no handler for task %q", name)
	}
	rec := Record{
		ID:       uuid.NewString(),
		Name:     name,
		WorldIDs: append([]uint(nil), worldIDs...),
		Host:     r.host,
	}
	go r.run(rec, h)
	return rec.ID, nil
}

func (r *Runner) run(rec Record, h Handler) {
	defer r.wg.Done()
	select {
	case r.sem <- struct{}{}:
	case <-r.baseCtx.Done():
		return
	}
	defer func() { <-r.sem }()

	rec.StartedAt = time.Now().UTC()
	task := &Task{runner: r, record: rec}
	if err := task.publish(r.baseCtx); err != nil {
		r.Logger.Error("task record publish failed", zap.String("task_id", rec.ID), zap.String("task", rec.Name), zap.Error(err))
		return
	}
	stopRefresh := task.keepAlive()

	defer func() {
		stopRefresh()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.Store.Delete(ctx, RecordKey(rec.ID)); err != nil {
			r.Logger.Warn("task record delete failed", zap.String("task_id", rec.ID), zap.Error(err))
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			r.Logger.Error("task panicked", zap.String("task_id", rec.ID), zap.String("task", rec.Name), zap.Any("panic", p))
		}
	}()

	ctx := WithTask(r.baseCtx, task)
	if err := h(ctx, rec.WorldIDs); err != nil && !errors.Is(err, context.Canceled) {
		r.Logger.Warn("task failed", zap.String("task_id", rec.ID), zap.String("task", rec.Name), zap.Error(err))
	}
}

// Running lists the records of jobs running in any process sharing the store.
func (r *Runner) Running(ctx context.Context) ([]Record, error) {
	keys, err := r.Store.Keys(ctx, recordPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := r.Store.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			r.Logger.Warn("skipping unreadable task record", zap.String("key", k), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Shutdown stops accepting jobs, cancels running ones and waits for them
// until ctx expires.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted job has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
