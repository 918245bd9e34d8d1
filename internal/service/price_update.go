package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"shoppoller/internal/config"
	"shoppoller/internal/gateway"
	"shoppoller/internal/kv"
	"shoppoller/internal/models"
	"shoppoller/internal/rank"
	"shoppoller/internal/registry"
	"shoppoller/internal/repository"
	"shoppoller/internal/shop"
	"shoppoller/internal/tasks"
)

const rootLockName = "update_prices_lock"

type SideStatus string

const (
	SideOK      SideStatus = "ok"
	SideSkipped SideStatus = "skipped"
	SideError   SideStatus = "error"
)

// WorldCaller fetches one path from a batch of worlds.
type WorldCaller interface {
	CallWorlds(ctx context.Context, path string, worlds []models.World) (gateway.CallResult, error)
}

// TaskSubmitter queues a named job for the given worlds.
type TaskSubmitter interface {
	Submit(ctx context.Context, name string, worldIDs []uint) (string, error)
}

// PriceUpdateService polls shop prices for every due (world, item, side)
// and adapts each triple's rank to how often its listing changes.
type PriceUpdateService struct {
	Repo     repository.Repository
	Ranks    *rank.Store
	Gateway  WorldCaller
	Registry *registry.Registry
	Locks    kv.Store
	Tasks    TaskSubmitter
	Config   config.OrchestratorConfig
	Logger   *zap.Logger

	now func() time.Time
}

type SubTask struct {
	TaskID  string `json:"task_id"`
	FirstID uint   `json:"first_world_id"`
	Count   int    `json:"count"`
}

type SideFailure struct {
	ItemID  uint        `json:"item_id"`
	Side    models.Side `json:"side"`
	WorldID uint        `json:"world_id,omitempty"`
	Status  int         `json:"status,omitempty"`
	Error   string      `json:"error"`
}

type UpdateResult struct {
	RunID        string        `json:"run_id"`
	Task         string        `json:"task"`
	LockName     string        `json:"lock_name"`
	Status       string        `json:"status"`
	Worlds       []uint        `json:"worlds"`
	Items        int           `json:"items"`
	SidesOK      int           `json:"sides_ok"`
	SidesSkipped int           `json:"sides_skipped"`
	SidesError   int           `json:"sides_error"`
	HTTPErrors   int           `json:"http_errors"`
	PricesStored int           `json:"prices_stored"`
	Removed      []uint        `json:"removed_worlds,omitempty"`
	SubTasks     []SubTask     `json:"sub_tasks,omitempty"`
	Failures     []SideFailure `json:"failures,omitempty"`
}

const maxRecordedFailures = 50

func (r *UpdateResult) fail(f SideFailure) {
	if len(r.Failures) < maxRecordedFailures {
		r.Failures = append(r.Failures, f)
	}
}

func (s *PriceUpdateService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

func (s *PriceUpdateService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *PriceUpdateService) maxErrors() int {
	if s.Config.MaxHTTPErrors <= 0 {
		return 10
	}
	return s.Config.MaxHTTPErrors
}

// UpdatePrices runs one price update. nil worldIDs selects every eligible
// world not already in flight; otherwise exactly the given worlds are used.
// Oversized batches are split into sub-tasks and not polled here. Losing the
// batch lock to another worker is not an error.
func (s *PriceUpdateService) UpdatePrices(ctx context.Context, worldIDs []uint) (result UpdateResult, err error) {
	started := s.clock()
	result = UpdateResult{RunID: uuid.NewString(), Task: tasks.NameUpdatePrices}
	if t := tasks.FromContext(ctx); t != nil {
		result.Task = t.Name()
	}
	defer func() {
		s.finish(&result, err, started)
	}()

	worlds, err := s.selectWorlds(ctx, worldIDs)
	if err != nil {
		result.Status = models.PollRunStatusFailed
		return result, err
	}
	if len(worlds) == 0 {
		result.Status = models.PollRunStatusEmpty
		return result, nil
	}

	if chunks := Partition(worlds, s.Config.MaxPermPerBatch, s.Config.MaxSovPerBatch); len(chunks) > 1 {
		result.Status = models.PollRunStatusSplit
		return result, s.submitChunks(ctx, chunks, &result)
	}

	result.LockName = rootLockName
	if worldIDs != nil {
		result.LockName = fmt.Sprintf("%s:%d:%d", rootLockName, worlds[0].ID, len(worlds))
	}
	lock := kv.NewMutex(s.Locks, result.LockName, s.Config.LockTTL)
	if err := lock.Lock(ctx, s.Config.LockWait); err != nil {
		if errors.Is(err, kv.ErrLockNotAcquired) {
			result.Status = models.PollRunStatusLocked
			return result, nil
		}
		result.Status = models.PollRunStatusFailed
		return result, fmt.Errorf("orchestrator lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if uerr := lock.Unlock(unlockCtx); uerr != nil {
			s.logger().Warn("orchestrator unlock failed", zap.String("lock", result.LockName), zap.Error(uerr))
		}
	}()

	// publish the candidates before reserving so the janitor never sees a
	// reservation without a live task behind it
	task := tasks.FromContext(ctx)
	if err := task.SetWorldIDs(ctx, idsOf(worlds)); err != nil {
		result.Status = models.PollRunStatusFailed
		return result, fmt.Errorf("publish task worlds: %w", err)
	}
	reserved, err := s.Registry.Reserve(ctx, idsOf(worlds))
	if err != nil {
		result.Status = models.PollRunStatusFailed
		return result, fmt.Errorf("reserve worlds: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if rerr := s.Registry.Release(releaseCtx, reserved); rerr != nil {
			s.logger().Error("release worlds failed", zap.Uints("worlds", reserved), zap.Error(rerr))
		}
	}()
	if err := task.SetWorldIDs(ctx, reserved); err != nil {
		s.logger().Warn("narrow task worlds failed", zap.Error(err))
	}
	result.Worlds = reserved
	if len(reserved) == 0 {
		result.Status = models.PollRunStatusEmpty
		return result, nil
	}

	working := keepReserved(worlds, reserved)
	if err := s.poll(ctx, working, &result); err != nil {
		if errors.Is(err, ErrTooManyErrors) {
			result.Status = models.PollRunStatusAborted
		} else {
			result.Status = models.PollRunStatusFailed
		}
		return result, err
	}
	result.Status = models.PollRunStatusOK
	return result, nil
}

func (s *PriceUpdateService) selectWorlds(ctx context.Context, ids []uint) ([]models.World, error) {
	now := s.clock()
	if ids == nil {
		all, err := s.Repo.ListWorlds(ctx)
		if err != nil {
			return nil, fmt.Errorf("list worlds: %w", err)
		}
		inflight, err := s.Registry.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("registry snapshot: %w", err)
		}
		var out []models.World
		for _, w := range all {
			if _, busy := inflight[w.ID]; busy {
				continue
			}
			if w.Eligible(now, s.Config.SovereignGrace) {
				out = append(out, w)
			}
		}
		orderCandidates(out)
		return out, nil
	}

	found, err := s.Repo.ListWorldsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list worlds: %w", err)
	}
	byID := make(map[uint]models.World, len(found))
	for _, w := range found {
		byID[w.ID] = w
	}
	var missing []uint
	out := make([]models.World, 0, len(ids))
	seen := map[uint]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		w, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if w.BaseURL() == "" {
			s.logger().Warn("requested world has no api url, skipping", zap.Uint("world_id", id))
			continue
		}
		out = append(out, w)
	}
	if len(missing) > 0 {
		return nil, &InvalidWorldError{IDs: missing}
	}
	return out, nil
}

func (s *PriceUpdateService) submitChunks(ctx context.Context, chunks [][]models.World, result *UpdateResult) error {
	if s.Tasks == nil {
		return errors.New("price update needs splitting but no task runner is configured")
	}
	for _, c := range chunks {
		ids := idsOf(c)
		id, err := s.Tasks.Submit(ctx, tasks.NameUpdatePricesSplit, ids)
		if err != nil {
			return fmt.Errorf("submit sub-task for %d worlds: %w", len(ids), err)
		}
		result.SubTasks = append(result.SubTasks, SubTask{TaskID: id, FirstID: ids[0], Count: len(ids)})
	}
	return nil
}

func (s *PriceUpdateService) poll(ctx context.Context, working []models.World, result *UpdateResult) error {
	items, err := s.Repo.ListSellableItems(ctx)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	result.Items = len(items)

	for _, item := range items {
		for _, side := range models.Sides {
			if len(working) == 0 {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			status, removed, err := s.pollSide(ctx, item, side, working, result)
			if len(removed) > 0 {
				working = dropWorlds(working, removed)
				result.Removed = append(result.Removed, removed...)
			}
			if err != nil {
				return err
			}
			switch status {
			case SideOK:
				result.SidesOK++
			case SideSkipped:
				result.SidesSkipped++
			case SideError:
				result.SidesError++
			}
		}
	}
	return nil
}

// pollSide returns a non-nil error only for failures that end the run.
func (s *PriceUpdateService) pollSide(ctx context.Context, item models.Item, side models.Side, working []models.World, result *UpdateResult) (SideStatus, []uint, error) {
	log := s.logger().With(zap.Uint("item_id", item.GameID), zap.String("side", string(side)))
	now := s.clock()

	due, ranks, err := s.Ranks.DueWorlds(ctx, item.GameID, side, working, now)
	if err != nil {
		return SideError, nil, err
	}
	if len(due) == 0 {
		return SideSkipped, nil, nil
	}

	path := fmt.Sprintf("/shopping/%s/%d", side.Code(), item.GameID)
	call, err := s.Gateway.CallWorlds(ctx, path, due)
	removed := idsOf(call.Removed)
	if err != nil {
		if ctx.Err() != nil {
			return SideError, removed, ctx.Err()
		}
		status := gateway.StatusOf(err)
		result.fail(SideFailure{ItemID: item.GameID, Side: side, Status: status, Error: err.Error()})
		if status == http.StatusForbidden {
			log.Warn("world api forbidden, possible rate limit", zap.Error(err))
			return SideError, removed, nil
		}
		result.HTTPErrors++
		log.Warn("world api call failed", zap.Int("status", status), zap.Int("http_errors", result.HTTPErrors), zap.Error(err))
		if result.HTTPErrors > s.maxErrors() {
			return SideError, removed, fmt.Errorf("%w: %d errors", ErrTooManyErrors, result.HTTPErrors)
		}
		return SideError, removed, nil
	}

	type listing struct {
		world   models.World
		entries []shop.Entry
	}
	status := SideOK
	decoded := make([]listing, 0, len(due))
	for _, w := range due {
		resp, ok := call.Bodies[w.ID]
		if !ok {
			continue
		}
		entries, err := decodeResponse(resp)
		if err != nil {
			status = SideError
			result.fail(SideFailure{ItemID: item.GameID, Side: side, WorldID: w.ID, Error: err.Error()})
			log.Warn("discarding shop payload", zap.Uint("world_id", w.ID), zap.Error(err))
			continue
		}
		decoded = append(decoded, listing{world: w, entries: entries})
	}

	for _, l := range decoded {
		r, ok := ranks[l.world.ID]
		if !ok {
			continue
		}
		stored, err := s.storeSnapshot(ctx, item, side, l.world, r, l.entries, now)
		if err != nil {
			return SideError, removed, err
		}
		result.PricesStored += stored
	}
	return status, removed, nil
}

// storeSnapshot replaces the active generation of prices for one triple and
// then commits its rank.
func (s *PriceUpdateService) storeSnapshot(ctx context.Context, item models.Item, side models.Side, w models.World, r *models.ItemRank, entries []shop.Entry, now time.Time) (int, error) {
	shop.SortByLocation(entries)
	digest := shop.NewDigest(item.GameID, w.ID)
	rows := make([]models.ShopPrice, 0, len(entries))
	for _, e := range entries {
		digest.Add(e)
		rows = append(rows, models.ShopPrice{
			WorldID:      w.ID,
			ItemID:       item.GameID,
			BeaconName:   e.BeaconName,
			GuildTag:     e.GuildTag,
			ItemCount:    e.ItemCount,
			ShopActivity: e.ShopActivity,
			Price:        e.Price,
			LocationX:    e.Location.X,
			LocationY:    e.Location.Y,
			LocationZ:    e.Location.Z,
			Active:       true,
			ObservedAt:   now,
		})
	}

	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.Repo.DeactivatePricesTx(ctx, tx, side, item.GameID, []uint{w.ID}); err != nil {
			return err
		}
		return s.Repo.InsertPricesTx(ctx, tx, side, rows)
	})
	if err != nil {
		return 0, fmt.Errorf("store prices world %d item %d %s: %w", w.ID, item.GameID, side, err)
	}
	if err := s.Ranks.Commit(ctx, r, digest.Hex(), now); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func decodeResponse(resp *gateway.Response) ([]shop.Entry, error) {
	if resp == nil || len(resp.Body) == 0 {
		return nil, nil
	}
	if resp.ContentType != "application/octet-stream" {
		return nil, fmt.Errorf("%w: unexpected content type %q", shop.ErrMalformedPayload, resp.ContentType)
	}
	return shop.Decode(resp.Body)
}

func (s *PriceUpdateService) finish(result *UpdateResult, err error, started time.Time) {
	finished := s.clock()
	fields := []zap.Field{
		zap.String("run_id", result.RunID),
		zap.String("task", result.Task),
		zap.String("status", result.Status),
		zap.Int("worlds", len(result.Worlds)),
		zap.Int("items", result.Items),
		zap.Int("sides_ok", result.SidesOK),
		zap.Int("sides_skipped", result.SidesSkipped),
		zap.Int("sides_error", result.SidesError),
		zap.Int("http_errors", result.HTTPErrors),
		zap.Uints("removed_worlds", result.Removed),
		zap.Int("sub_tasks", len(result.SubTasks)),
		zap.Duration("duration", finished.Sub(started)),
	}
	switch {
	case err != nil:
		s.logger().Error("price update failed", append(fields, zap.Error(err))...)
	case result.Status == models.PollRunStatusLocked:
		s.logger().Debug("price update skipped, batch locked", fields...)
	default:
		s.logger().Info("price update done", fields...)
	}

	if s.Repo == nil {
		return
	}
	run := &models.PollRun{
		RunID:      result.RunID,
		TaskName:   result.Task,
		LockName:   result.LockName,
		Status:     result.Status,
		Worlds:     len(result.Worlds),
		Items:      result.Items,
		SidesOK:    result.SidesOK,
		SidesError: result.SidesError,
		HTTPErrors: result.HTTPErrors,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if err != nil {
		msg := err.Error()
		run.Error = &msg
	}
	if raw, merr := json.Marshal(result); merr == nil {
		run.StatsJSON = datatypes.JSON(raw)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ierr := s.Repo.InsertPollRun(ctx, run); ierr != nil {
		s.logger().Warn("poll run insert failed", zap.String("run_id", result.RunID), zap.Error(ierr))
	}
}

func keepReserved(worlds []models.World, reserved []uint) []models.World {
	keep := make(map[uint]bool, len(reserved))
	for _, id := range reserved {
		keep[id] = true
	}
	out := make([]models.World, 0, len(reserved))
	for _, w := range worlds {
		if keep[w.ID] {
			out = append(out, w)
		}
	}
	return out
}

func dropWorlds(worlds []models.World, ids []uint) []models.World {
	drop := make(map[uint]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	out := make([]models.World, 0, len(worlds))
	for _, w := range worlds {
		if !drop[w.ID] {
			out = append(out, w)
		}
	}
	return out
}
