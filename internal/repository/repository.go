package repository

import (
	"context"

	"gorm.io/gorm"

	"shoppoller/internal/models"
)

// CatalogRepository reads the world and item catalogs maintained by the
// ingestion pipeline.
type CatalogRepository interface {
	ListWorlds(ctx context.Context) ([]models.World, error)
	ListWorldsByIDs(ctx context.Context, ids []uint) ([]models.World, error)
	ListSellableItems(ctx context.Context) ([]models.Item, error)
}

type RankRepository interface {
	ListItemRanks(ctx context.Context, itemID uint, side models.Side, worldIDs []uint) ([]models.ItemRank, error)
	// CreateItemRanks inserts ranks, skipping triples that already exist.
	CreateItemRanks(ctx context.Context, items []models.ItemRank) error
	SaveItemRank(ctx context.Context, item *models.ItemRank) error
}

type PriceRepository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	DeactivatePricesTx(ctx context.Context, tx *gorm.DB, side models.Side, itemID uint, worldIDs []uint) (int64, error)
	// InsertPricesTx writes rows in order and fills in their IDs.
	InsertPricesTx(ctx context.Context, tx *gorm.DB, side models.Side, rows []models.ShopPrice) error
	ListActivePrices(ctx context.Context, side models.Side, itemID uint, worldID uint) ([]models.ShopPrice, error)
}

type RunRepository interface {
	InsertPollRun(ctx context.Context, item *models.PollRun) error
	ListPollRuns(ctx context.Context, params ListPollRunsParams) ([]models.PollRun, error)
}

type Repository interface {
	CatalogRepository
	RankRepository
	PriceRepository
	RunRepository
}

type ListPollRunsParams struct {
	Status *string
	Limit  int
	Offset int
}
