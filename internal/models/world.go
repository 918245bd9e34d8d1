package models

import (
	"strings"
	"time"
)

type WorldClass string

const (
	WorldClassPermanent WorldClass = "permanent"
	WorldClassSovereign WorldClass = "sovereign"
	WorldClassCreative  WorldClass = "creative"
	WorldClassExo       WorldClass = "exo"
)

type World struct {
	ID        uint       `gorm:"primaryKey;autoIncrement:false;comment:game world id"`
	Name      string     `gorm:"type:text;not null;comment:world name"`
	APIURL    *string    `gorm:"column:api_url;type:text;comment:world api base url"`
	Class     WorldClass `gorm:"type:text;not null;index;comment:permanent/sovereign/creative/exo"`
	IsLocked  bool       `gorm:"not null;default:false"`
	IsPublic  bool       `gorm:"not null;default:true"`
	Active    bool       `gorm:"not null;default:true;index"`
	StartAt   *time.Time `gorm:"type:timestamptz;comment:world start"`
	EndAt     *time.Time `gorm:"type:timestamptz;comment:world end"`
	UpdatedAt time.Time  `gorm:"type:timestamptz;not null"`
}

func (World) TableName() string {
	return "worlds"
}

func (w World) IsSovereign() bool {
	return w.Class == WorldClassSovereign
}

// BaseURL returns the trimmed api url, or "" when the world has none.
func (w World) BaseURL() string {
	if w.APIURL == nil {
		return ""
	}
	return strings.TrimRight(strings.TrimSpace(*w.APIURL), "/")
}

// Eligible reports whether the world can be polled at now. Sovereign worlds
// must additionally be older than grace.
func (w World) Eligible(now time.Time, grace time.Duration) bool {
	if !w.Active || w.IsLocked || !w.IsPublic || w.Class == WorldClassCreative {
		return false
	}
	if w.BaseURL() == "" {
		return false
	}
	if w.IsSovereign() {
		if w.StartAt == nil || !w.StartAt.Add(grace).Before(now) {
			return false
		}
	}
	return true
}
