package models

import "time"

type RankState string

const (
	RankStateFresh    RankState = "fresh"
	RankStateStable   RankState = "stable"
	RankStateChurning RankState = "churning"
)

type ItemRank struct {
	ID         uint64     `gorm:"primaryKey;autoIncrement"`
	WorldID    uint       `gorm:"not null;uniqueIndex:uniq_item_rank,priority:1;comment:world id"`
	ItemID     uint       `gorm:"not null;uniqueIndex:uniq_item_rank,priority:2;comment:item game id"`
	Side       Side       `gorm:"type:text;not null;uniqueIndex:uniq_item_rank,priority:3;comment:buy/sell"`
	Rank       int        `gorm:"not null;default:20;comment:interval class 1..30"`
	State      RankState  `gorm:"type:text;not null;default:fresh"`
	StateHash  string     `gorm:"type:text;not null;default:'';comment:sha512 of last observed entries"`
	LastUpdate *time.Time `gorm:"type:timestamptz;comment:last successful poll"`
	CreatedAt  time.Time  `gorm:"type:timestamptz;not null"`
	UpdatedAt  time.Time  `gorm:"type:timestamptz;not null"`
}

func (ItemRank) TableName() string {
	return "item_ranks"
}
