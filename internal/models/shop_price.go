package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShopPrice holds the columns shared by the buy and sell tables.
type ShopPrice struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement"`
	WorldID      uint            `gorm:"not null;index;comment:world id"`
	ItemID       uint            `gorm:"not null;index;comment:item game id"`
	BeaconName   string          `gorm:"type:text;not null"`
	GuildTag     string          `gorm:"type:text;not null"`
	ItemCount    uint32          `gorm:"not null"`
	ShopActivity uint32          `gorm:"not null"`
	Price        decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	LocationX    int16           `gorm:"not null"`
	LocationY    uint8           `gorm:"not null"`
	LocationZ    int32           `gorm:"not null"`
	Active       bool            `gorm:"not null;default:true;index"`
	ObservedAt   time.Time       `gorm:"type:timestamptz;not null;index"`
}

type BuyPrice struct {
	ShopPrice
}

func (BuyPrice) TableName() string {
	return "shop_buy_prices"
}

type SellPrice struct {
	ShopPrice
}

func (SellPrice) TableName() string {
	return "shop_sell_prices"
}

// PriceModel returns the gorm model for the side's table.
func PriceModel(side Side) any {
	if side == SideSell {
		return &SellPrice{}
	}
	return &BuyPrice{}
}
