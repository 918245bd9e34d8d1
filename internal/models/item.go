package models

import "time"

type Item struct {
	GameID    uint      `gorm:"primaryKey;autoIncrement:false;comment:game item id"`
	Name      string    `gorm:"type:text;comment:string id"`
	Active    bool      `gorm:"not null;default:true;index"`
	CanBeSold bool      `gorm:"not null;default:false"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null"`
}

func (Item) TableName() string {
	return "items"
}
