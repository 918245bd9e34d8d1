package rank

import (
	"context"
	"fmt"
	"time"

	"shoppoller/internal/models"
	"shoppoller/internal/repository"
)

type Store struct {
	Repo        repository.RankRepository
	Curve       Curve
	DefaultRank int
}

func (s *Store) defaultRank() int {
	if s.DefaultRank < MinRank || s.DefaultRank > MaxRank {
		return DefaultRank
	}
	return s.DefaultRank
}

// Ranks returns the rank of every world for (item, side), creating missing
// ones at the default rank.
func (s *Store) Ranks(ctx context.Context, itemID uint, side models.Side, worldIDs []uint, now time.Time) (map[uint]*models.ItemRank, error) {
	out := make(map[uint]*models.ItemRank, len(worldIDs))
	if len(worldIDs) == 0 {
		return out, nil
	}
	existing, err := s.Repo.ListItemRanks(ctx, itemID, side, worldIDs)
	if err != nil {
		return nil, fmt.Errorf("list ranks: %w", err)
	}
	for i := range existing {
		r := existing[i]
		out[r.WorldID] = &r
	}
	var missing []models.ItemRank
	for _, id := range worldIDs {
		if _, ok := out[id]; ok {
			continue
		}
		missing = append(missing, models.ItemRank{
			WorldID:   id,
			ItemID:    itemID,
			Side:      side,
			Rank:      s.defaultRank(),
			State:     models.RankStateFresh,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if len(missing) == 0 {
		return out, nil
	}
	if err := s.Repo.CreateItemRanks(ctx, missing); err != nil {
		return nil, fmt.Errorf("create ranks: %w", err)
	}
	// re-read so rows created concurrently carry their stored ids
	ids := make([]uint, len(missing))
	for i := range missing {
		ids[i] = missing[i].WorldID
	}
	created, err := s.Repo.ListItemRanks(ctx, itemID, side, ids)
	if err != nil {
		return nil, fmt.Errorf("list ranks: %w", err)
	}
	for i := range created {
		r := created[i]
		out[r.WorldID] = &r
	}
	return out, nil
}

func (s *Store) GetOrCreate(ctx context.Context, worldID, itemID uint, side models.Side, now time.Time) (*models.ItemRank, error) {
	ranks, err := s.Ranks(ctx, itemID, side, []uint{worldID}, now)
	if err != nil {
		return nil, err
	}
	r, ok := ranks[worldID]
	if !ok {
		return nil, fmt.Errorf("rank for world %d item %d %s not created", worldID, itemID, side)
	}
	return r, nil
}

// DueWorlds keeps the candidates whose next update is not after now, in
// candidate order, and returns their ranks.
func (s *Store) DueWorlds(ctx context.Context, itemID uint, side models.Side, candidates []models.World, now time.Time) ([]models.World, map[uint]*models.ItemRank, error) {
	ids := make([]uint, len(candidates))
	for i, w := range candidates {
		ids[i] = w.ID
	}
	ranks, err := s.Ranks(ctx, itemID, side, ids, now)
	if err != nil {
		return nil, nil, err
	}
	var due []models.World
	for _, w := range candidates {
		r, ok := ranks[w.ID]
		if !ok {
			continue
		}
		if s.Curve.Due(*r, now) {
			due = append(due, w)
		}
	}
	return due, ranks, nil
}

// Commit applies the observed hash to r and persists it.
func (s *Store) Commit(ctx context.Context, r *models.ItemRank, hash string, now time.Time) error {
	Observe(r, hash, now)
	if err := s.Repo.SaveItemRank(ctx, r); err != nil {
		return fmt.Errorf("save rank %d: %w", r.ID, err)
	}
	return nil
}
