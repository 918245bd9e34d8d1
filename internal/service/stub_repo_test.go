package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"shoppoller/internal/config"
	"shoppoller/internal/gateway"
	"shoppoller/internal/kv"
	"shoppoller/internal/models"
	"shoppoller/internal/rank"
	"shoppoller/internal/registry"
	"shoppoller/internal/repository"
)

type stubRepo struct {
	mu sync.Mutex

	worlds []models.World
	items  []models.Item

	ranks      []models.ItemRank
	nextRankID uint64

	buy, sell   []models.ShopPrice
	nextPriceID uint64

	runs []models.PollRun
}

var _ repository.Repository = (*stubRepo)(nil)

func (r *stubRepo) ListWorlds(ctx context.Context) ([]models.World, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.World(nil), r.worlds...), nil
}

func (r *stubRepo) ListWorldsByIDs(ctx context.Context, ids []uint) ([]models.World, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[uint]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []models.World
	for _, w := range r.worlds {
		if want[w.ID] {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *stubRepo) ListSellableItems(ctx context.Context) ([]models.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Item
	for _, it := range r.items {
		if it.Active && it.CanBeSold {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *stubRepo) ListItemRanks(ctx context.Context, itemID uint, side models.Side, worldIDs []uint) ([]models.ItemRank, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[uint]bool{}
	for _, id := range worldIDs {
		want[id] = true
	}
	var out []models.ItemRank
	for _, it := range r.ranks {
		if it.ItemID == itemID && it.Side == side && want[it.WorldID] {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *stubRepo) CreateItemRanks(ctx context.Context, items []models.ItemRank) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		exists := false
		for _, cur := range r.ranks {
			if cur.WorldID == it.WorldID && cur.ItemID == it.ItemID && cur.Side == it.Side {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		r.nextRankID++
		it.ID = r.nextRankID
		r.ranks = append(r.ranks, it)
	}
	return nil
}

func (r *stubRepo) SaveItemRank(ctx context.Context, item *models.ItemRank) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.ranks {
		if r.ranks[i].ID == item.ID {
			r.ranks[i] = *item
			return nil
		}
	}
	return fmt.Errorf("rank %d not found", item.ID)
}

func (r *stubRepo) rank(worldID, itemID uint, side models.Side) (models.ItemRank, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.ranks {
		if it.WorldID == worldID && it.ItemID == itemID && it.Side == side {
			return it, true
		}
	}
	return models.ItemRank{}, false
}

func (r *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (r *stubRepo) prices(side models.Side) *[]models.ShopPrice {
	if side == models.SideSell {
		return &r.sell
	}
	return &r.buy
}

func (r *stubRepo) DeactivatePricesTx(ctx context.Context, tx *gorm.DB, side models.Side, itemID uint, worldIDs []uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[uint]bool{}
	for _, id := range worldIDs {
		want[id] = true
	}
	rows := r.prices(side)
	var n int64
	for i := range *rows {
		p := &(*rows)[i]
		if p.Active && p.ItemID == itemID && want[p.WorldID] {
			p.Active = false
			n++
		}
	}
	return n, nil
}

func (r *stubRepo) InsertPricesTx(ctx context.Context, tx *gorm.DB, side models.Side, rows []models.ShopPrice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	dst := r.prices(side)
	for i := range rows {
		r.nextPriceID++
		rows[i].ID = r.nextPriceID
		*dst = append(*dst, rows[i])
	}
	return nil
}

func (r *stubRepo) ListActivePrices(ctx context.Context, side models.Side, itemID uint, worldID uint) ([]models.ShopPrice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ShopPrice
	for _, p := range *r.prices(side) {
		if p.Active && p.ItemID == itemID && p.WorldID == worldID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *stubRepo) countPrices(side models.Side, itemID, worldID uint) (active, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range *r.prices(side) {
		if p.ItemID != itemID || p.WorldID != worldID {
			continue
		}
		total++
		if p.Active {
			active++
		}
	}
	return active, total
}

func (r *stubRepo) InsertPollRun(ctx context.Context, item *models.PollRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, *item)
	return nil
}

func (r *stubRepo) ListPollRuns(ctx context.Context, params repository.ListPollRunsParams) ([]models.PollRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PollRun
	for _, run := range r.runs {
		if params.Status != nil && run.Status != *params.Status {
			continue
		}
		out = append(out, run)
	}
	return out, nil
}

type fakeCall struct {
	Path   string
	Worlds []uint
}

// fakeCaller answers world calls from respond, with the 404 handling of the
// real gateway.
type fakeCaller struct {
	mu      sync.Mutex
	calls   []fakeCall
	respond func(w models.World, path string) (*gateway.Response, error)
}

func (f *fakeCaller) CallWorlds(ctx context.Context, path string, worlds []models.World) (gateway.CallResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{Path: path, Worlds: idsOf(worlds)})
	f.mu.Unlock()

	result := gateway.CallResult{Bodies: map[uint]*gateway.Response{}}
	for _, w := range worlds {
		resp, err := f.respond(w, path)
		if err != nil {
			if gateway.StatusOf(err) == 404 {
				result.Removed = append(result.Removed, w)
				continue
			}
			return result, fmt.Errorf("world %d: %w", w.ID, err)
		}
		result.Bodies[w.ID] = resp
	}
	return result, nil
}

func (f *fakeCaller) Calls() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeCall(nil), f.calls...)
}

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []fakeCall
}

func (f *fakeSubmitter) Submit(ctx context.Context, name string, worldIDs []uint) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, fakeCall{Path: name, Worlds: append([]uint(nil), worldIDs...)})
	return fmt.Sprintf("task-%d", len(f.submitted)), nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testCurve() rank.Curve {
	return rank.Curve{
		Base:     60 * time.Minute,
		Floor:    20 * time.Minute,
		Cap:      720 * time.Minute,
		Popular:  5 * time.Minute,
		Inactive: 30 * time.Minute,
	}
}

func newTestService(repo *stubRepo, caller WorldCaller) (*PriceUpdateService, *kv.MemoryStore, *testClock) {
	store := kv.NewMemoryStore()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := &PriceUpdateService{
		Repo:     repo,
		Ranks:    &rank.Store{Repo: repo, Curve: testCurve(), DefaultRank: rank.DefaultRank},
		Gateway:  caller,
		Registry: &registry.Registry{Store: store, TTL: time.Hour, LockTTL: time.Second, LockWait: time.Second},
		Locks:    store,
		Config: config.OrchestratorConfig{
			MaxPermPerBatch: 10,
			MaxSovPerBatch:  100,
			MaxHTTPErrors:   10,
			LockTTL:         5 * time.Second,
			LockWait:        10 * time.Millisecond,
			SovereignGrace:  12 * time.Hour,
		},
		now: clock.Now,
	}
	return svc, store, clock
}

func strPtr(s string) *string { return &s }

func permWorld(id uint) models.World {
	return models.World{
		ID:       id,
		Name:     fmt.Sprintf("world-%d", id),
		APIURL:   strPtr(fmt.Sprintf("https://w%d.example.test", id)),
		Class:    models.WorldClassPermanent,
		IsPublic: true,
		Active:   true,
	}
}

func sovWorld(id uint, start time.Time) models.World {
	w := permWorld(id)
	w.Class = models.WorldClassSovereign
	w.StartAt = &start
	return w
}

func sellable(id uint) models.Item {
	return models.Item{GameID: id, Name: fmt.Sprintf("item-%d", id), Active: true, CanBeSold: true}
}
