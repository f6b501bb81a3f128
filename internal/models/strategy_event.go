package models

import (
	"time"

	"gorm.io/datatypes"
)

// StrategyEvent is the lifecycle audit trail, one row per mutation.
type StrategyEvent struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	StrategyID string         `gorm:"type:varchar(36);not null;index" json:"strategy_id"`
	LineageID  string         `gorm:"type:varchar(36);not null;index" json:"lineage_id"`
	UserID     string         `gorm:"type:varchar(128);not null;index" json:"user_id"`
	Type       string         `gorm:"type:varchar(32);not null" json:"type"`
	Version    int            `gorm:"not null" json:"version"`
	Details    datatypes.JSON `json:"details,omitempty"`
	CreatedAt  time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

func (StrategyEvent) TableName() string {
	return "strategy_events"
}
