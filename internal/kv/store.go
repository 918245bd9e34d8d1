// Package kv is the shared fast key-value store that coordinates workers:
// named TTL mutexes, the in-flight world registry, per-world call timestamps
// and running-task records all live here.
package kv

import (
	"context"
	"time"
)

type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// SetNX stores value only when key is absent.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// CompareAndDelete deletes key only while it still holds value.
	CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error)
	// CompareAndExpire resets the ttl of key only while it still holds value.
	CompareAndExpire(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Keys lists live keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
}

// Prefixed namespaces every key of an underlying store.
type Prefixed struct {
	Store  Store
	Prefix string
}

func (p Prefixed) k(key string) string { return p.Prefix + key }

func (p Prefixed) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return p.Store.Get(ctx, p.k(key))
}

func (p Prefixed) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.Store.Set(ctx, p.k(key), value, ttl)
}

func (p Prefixed) Delete(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = p.k(key)
	}
	return p.Store.Delete(ctx, full...)
}

func (p Prefixed) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return p.Store.SetNX(ctx, p.k(key), value, ttl)
}

func (p Prefixed) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	return p.Store.CompareAndDelete(ctx, p.k(key), value)
}

func (p Prefixed) CompareAndExpire(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return p.Store.CompareAndExpire(ctx, p.k(key), value, ttl)
}

func (p Prefixed) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := p.Store.Keys(ctx, p.k(prefix))
	if err != nil {
		return nil, err
	}
	for i, key := range keys {
		keys[i] = key[len(p.Prefix):]
	}
	return keys, nil
}

func (p Prefixed) Ping(ctx context.Context) error {
	return p.Store.Ping(ctx)
}
