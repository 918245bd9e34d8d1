package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	PollRunStatusOK      = "ok"
	PollRunStatusSplit   = "split"
	PollRunStatusLocked  = "locked"
	PollRunStatusEmpty   = "empty"
	PollRunStatusAborted = "aborted"
	PollRunStatusFailed  = "failed"
)

type PollRun struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement"`
	RunID      string         `gorm:"type:text;not null;uniqueIndex;comment:run id"`
	TaskName   string         `gorm:"type:text;not null"`
	LockName   string         `gorm:"type:text;not null"`
	Status     string         `gorm:"type:text;not null;index"`
	Worlds     int            `gorm:"not null"`
	Items      int            `gorm:"not null"`
	SidesOK    int            `gorm:"not null"`
	SidesError int            `gorm:"not null"`
	HTTPErrors int            `gorm:"not null"`
	Error      *string        `gorm:"type:text"`
	StatsJSON  datatypes.JSON `gorm:"type:jsonb;comment:per-run stats"`
	StartedAt  time.Time      `gorm:"type:timestamptz;not null;index"`
	FinishedAt time.Time      `gorm:"type:timestamptz;not null"`
}

func (PollRun) TableName() string {
	return "poll_runs"
}
