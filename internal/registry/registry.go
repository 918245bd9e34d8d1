// Package registry tracks which worlds are owned by a running price update.
// Each world is one key with its own ttl; every operation runs under a
// shared lock so reserve/release/reconcile never interleave.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"shoppoller/internal/kv"
)

const (
	keyPrefix = "inflight:world:"
	lockName  = "registry_lock"
)

type Registry struct {
	Store    kv.Store
	TTL      time.Duration
	LockTTL  time.Duration
	LockWait time.Duration
}

func (r *Registry) ttl() time.Duration {
	if r.TTL <= 0 {
		return 6 * time.Hour
	}
	return r.TTL
}

func key(id uint) string {
	return keyPrefix + strconv.FormatUint(uint64(id), 10)
}

// WithLock runs fn while holding the registry lock.
func (r *Registry) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	lockTTL := r.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	wait := r.LockWait
	if wait <= 0 {
		wait = 10 * time.Second
	}
	lock := kv.NewMutex(r.Store, lockName, lockTTL)
	if err := lock.Lock(ctx, wait); err != nil {
		return fmt.Errorf("registry lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = lock.Unlock(unlockCtx)
	}()
	return fn(ctx)
}

// Reserve adds the ids not already present and returns them, in input order.
func (r *Registry) Reserve(ctx context.Context, ids []uint) ([]uint, error) {
	var reserved []uint
	err := r.WithLock(ctx, func(ctx context.Context) error {
		for _, id := range ids {
			ok, err := r.Store.SetNX(ctx, key(id), []byte("1"), r.ttl())
			if err != nil {
				return err
			}
			if ok {
				reserved = append(reserved, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reserved, nil
}

func (r *Registry) Release(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return r.WithLock(ctx, func(ctx context.Context) error {
		return r.release(ctx, ids)
	})
}

func (r *Registry) release(ctx context.Context, ids []uint) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	return r.Store.Delete(ctx, keys...)
}

func (r *Registry) Snapshot(ctx context.Context) (map[uint]struct{}, error) {
	var out map[uint]struct{}
	err := r.WithLock(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.snapshot(ctx)
		return err
	})
	return out, err
}

func (r *Registry) snapshot(ctx context.Context) (map[uint]struct{}, error) {
	keys, err := r.Store.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[uint]struct{}, len(keys))
	for _, k := range keys {
		id, err := strconv.ParseUint(strings.TrimPrefix(k, keyPrefix), 10, 64)
		if err != nil {
			continue
		}
		out[uint(id)] = struct{}{}
	}
	return out, nil
}

// Reconcile replaces the registry contents with live. It returns the ids
// that were dropped.
func (r *Registry) Reconcile(ctx context.Context, live map[uint]struct{}) ([]uint, error) {
	var dropped []uint
	err := r.WithLock(ctx, func(ctx context.Context) error {
		var err error
		dropped, err = r.ReconcileLocked(ctx, live)
		return err
	})
	return dropped, err
}

// ReconcileLocked is Reconcile for callers already inside WithLock.
func (r *Registry) ReconcileLocked(ctx context.Context, live map[uint]struct{}) ([]uint, error) {
	current, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var dropped []uint
	for id := range current {
		if _, ok := live[id]; !ok {
			dropped = append(dropped, id)
		}
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i] < dropped[j] })
	if len(dropped) > 0 {
		if err := r.release(ctx, dropped); err != nil {
			return nil, err
		}
	}
	for id := range live {
		if _, ok := current[id]; ok {
			continue
		}
		if err := r.Store.Set(ctx, key(id), []byte("1"), r.ttl()); err != nil {
			return nil, err
		}
	}
	return dropped, nil
}

// SnapshotLocked is Snapshot for callers already inside WithLock.
func (r *Registry) SnapshotLocked(ctx context.Context) (map[uint]struct{}, error) {
	return r.snapshot(ctx)
}

// IDs returns the set as a sorted slice.
func IDs(set map[uint]struct{}) []uint {
	out := make([]uint, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
