package gormrepository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shoppoller/internal/models"
	"shoppoller/internal/repository"
)

const insertBatchSize = 200

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ repository.Repository = (*Store)(nil)

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Store) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

// --- catalog -----------------------------------------------------------------

func (s *Store) ListWorlds(ctx context.Context) ([]models.World, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.World
	if err := s.db.WithContext(ctx).
		Model(&models.World{}).
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListWorldsByIDs(ctx context.Context, ids []uint) ([]models.World, error) {
	if s == nil || s.db == nil || len(ids) == 0 {
		return nil, nil
	}
	var items []models.World
	if err := s.db.WithContext(ctx).
		Model(&models.World{}).
		Where("id IN ?", ids).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListSellableItems(ctx context.Context) ([]models.Item, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Item
	if err := s.db.WithContext(ctx).
		Model(&models.Item{}).
		Where("active = ?", true).
		Where("can_be_sold = ?", true).
		Order("game_id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- ranks -------------------------------------------------------------------

func (s *Store) ListItemRanks(ctx context.Context, itemID uint, side models.Side, worldIDs []uint) ([]models.ItemRank, error) {
	if s == nil || s.db == nil || len(worldIDs) == 0 {
		return nil, nil
	}
	var items []models.ItemRank
	if err := s.db.WithContext(ctx).
		Model(&models.ItemRank{}).
		Where("item_id = ?", itemID).
		Where("side = ?", side).
		Where("world_id IN ?", worldIDs).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateItemRanks(ctx context.Context, items []models.ItemRank) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "world_id"},
			{Name: "item_id"},
			{Name: "side"},
		},
		DoNothing: true,
	}).CreateInBatches(items, insertBatchSize).Error
}

func (s *Store) SaveItemRank(ctx context.Context, item *models.ItemRank) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.ID == 0 {
		return errors.New("item rank has no id")
	}
	return s.db.WithContext(ctx).
		Model(&models.ItemRank{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			"rank":        item.Rank,
			"state":       item.State,
			"state_hash":  item.StateHash,
			"last_update": item.LastUpdate,
			"updated_at":  item.UpdatedAt,
		}).Error
}

// --- prices ------------------------------------------------------------------

func (s *Store) DeactivatePricesTx(ctx context.Context, tx *gorm.DB, side models.Side, itemID uint, worldIDs []uint) (int64, error) {
	if s == nil || s.db == nil || len(worldIDs) == 0 {
		return 0, nil
	}
	res := s.conn(ctx, tx).
		Model(models.PriceModel(side)).
		Where("item_id = ?", itemID).
		Where("world_id IN ?", worldIDs).
		Where("active = ?", true).
		Update("active", false)
	return res.RowsAffected, res.Error
}

func (s *Store) InsertPricesTx(ctx context.Context, tx *gorm.DB, side models.Side, rows []models.ShopPrice) error {
	if s == nil || s.db == nil || len(rows) == 0 {
		return nil
	}
	db := s.conn(ctx, tx)
	switch side {
	case models.SideBuy:
		out := make([]models.BuyPrice, len(rows))
		for i := range rows {
			out[i] = models.BuyPrice{ShopPrice: rows[i]}
		}
		if err := db.CreateInBatches(out, insertBatchSize).Error; err != nil {
			return err
		}
		for i := range out {
			rows[i].ID = out[i].ID
		}
	case models.SideSell:
		out := make([]models.SellPrice, len(rows))
		for i := range rows {
			out[i] = models.SellPrice{ShopPrice: rows[i]}
		}
		if err := db.CreateInBatches(out, insertBatchSize).Error; err != nil {
			return err
		}
		for i := range out {
			rows[i].ID = out[i].ID
		}
	default:
		return errors.New("unknown side: " + string(side))
	}
	return nil
}

func (s *Store) ListActivePrices(ctx context.Context, side models.Side, itemID uint, worldID uint) ([]models.ShopPrice, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Model(models.PriceModel(side)).
		Where("item_id = ?", itemID).
		Where("world_id = ?", worldID).
		Where("active = ?", true).
		Order("id asc")
	var items []models.ShopPrice
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- runs --------------------------------------------------------------------

func (s *Store) InsertPollRun(ctx context.Context, item *models.PollRun) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListPollRuns(ctx context.Context, params repository.ListPollRunsParams) ([]models.PollRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.PollRun{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	limit := normalizeLimit(params.Limit, 50)
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}
	var items []models.PollRun
	if err := query.Order("started_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func normalizeLimit(limit int, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
