package kv

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLockNotAcquired means another holder kept the lock for the whole wait.
var ErrLockNotAcquired = errors.New("lock not acquired")

const lockRetryInterval = 25 * time.Millisecond

// Mutex is a named lock in a Store. The key carries a random token so only
// the holder can renew or release it, and a ttl so a crashed holder's lock
// expires. While held the ttl is renewed in the background.
type Mutex struct {
	store Store
	key   string
	ttl   time.Duration
	token []byte

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewMutex(store Store, name string, ttl time.Duration) *Mutex {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Mutex{
		store: store,
		key:   "lock:" + name,
		ttl:   ttl,
		token: []byte(uuid.NewString()),
	}
}

func (m *Mutex) Key() string { return m.key }

// Lock tries to take the lock until wait elapses. wait <= 0 tries once.
func (m *Mutex) Lock(ctx context.Context, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		ok, err := m.store.SetNX(ctx, m.key, m.token, m.ttl)
		if err != nil {
			return err
		}
		if ok {
			m.startRenew()
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrLockNotAcquired
		}
		sleep := lockRetryInterval
		if remaining < sleep {
			sleep = remaining
		}
		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Unlock releases the lock if this Mutex still holds it.
func (m *Mutex) Unlock(ctx context.Context) error {
	m.stopRenew()
	_, err := m.store.CompareAndDelete(ctx, m.key, m.token)
	return err
}

func (m *Mutex) startRenew() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.renew(m.stop, m.done)
}

func (m *Mutex) stopRenew() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *Mutex) renew(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := m.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			held, err := m.store.CompareAndExpire(ctx, m.key, m.token, m.ttl)
			cancel()
			if err == nil && !held {
				// expired or taken over; nothing left to renew
				return
			}
		}
	}
}
