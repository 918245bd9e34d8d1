package registry

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"shoppoller/internal/kv"
)

func newRegistry() *Registry {
	return &Registry{Store: kv.NewMemoryStore(), TTL: time.Hour}
}

func TestReserve_OnlyNewIDs(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()

	got, err := r.Reserve(ctx, []uint{251, 252})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !reflect.DeepEqual(got, []uint{251, 252}) {
		t.Fatalf("reserved=%v", got)
	}
	got, _ = r.Reserve(ctx, []uint{252, 253})
	if !reflect.DeepEqual(got, []uint{253}) {
		t.Fatalf("reserved=%v want [253]", got)
	}
	got, _ = r.Reserve(ctx, []uint{251})
	if len(got) != 0 {
		t.Fatalf("reserved=%v want empty", got)
	}
}

func TestReserve_ConcurrentCallersNeverShare(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()
	ids := []uint{1, 2, 3, 4, 5, 6, 7, 8}
	var mu sync.Mutex
	owners := map[uint]int{}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Reserve(ctx, ids)
			if err != nil {
				t.Errorf("err=%v", err)
				return
			}
			mu.Lock()
			for _, id := range got {
				owners[id]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	for _, id := range ids {
		if owners[id] != 1 {
			t.Fatalf("world %d reserved %d times", id, owners[id])
		}
	}
}

func TestReleaseAndSnapshot(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()
	_, _ = r.Reserve(ctx, []uint{1, 2, 3})
	if err := r.Release(ctx, []uint{2}); err != nil {
		t.Fatalf("err=%v", err)
	}
	snap, err := r.Snapshot(ctx)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !reflect.DeepEqual(IDs(snap), []uint{1, 3}) {
		t.Fatalf("snapshot=%v", IDs(snap))
	}
}

func TestReconcile(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()
	_, _ = r.Reserve(ctx, []uint{1, 2, 3})

	dropped, err := r.Reconcile(ctx, map[uint]struct{}{2: {}, 9: {}})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !reflect.DeepEqual(dropped, []uint{1, 3}) {
		t.Fatalf("dropped=%v", dropped)
	}
	snap, _ := r.Snapshot(ctx)
	if !reflect.DeepEqual(IDs(snap), []uint{2, 9}) {
		t.Fatalf("snapshot=%v", IDs(snap))
	}
}

func TestEntriesExpire(t *testing.T) {
	r := &Registry{Store: kv.NewMemoryStore(), TTL: 30 * time.Millisecond}
	ctx := context.Background()
	_, _ = r.Reserve(ctx, []uint{251})
	time.Sleep(60 * time.Millisecond)
	got, _ := r.Reserve(ctx, []uint{251})
	if !reflect.DeepEqual(got, []uint{251}) {
		t.Fatalf("expired entry not reclaimable: %v", got)
	}
}
