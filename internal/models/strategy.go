package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Strategy is one version of a user's trading strategy. Versions derived
// from the same root share a LineageID.
type Strategy struct {
	ID        string `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    string `gorm:"type:varchar(128);not null;index" json:"user_id"`
	LineageID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_strategies_lineage_version,priority:1" json:"lineage_id"`
	Version   int    `gorm:"not null;default:1;uniqueIndex:idx_strategies_lineage_version,priority:2" json:"version"`

	Name      string          `gorm:"type:varchar(200);not null" json:"name"`
	Body      string          `gorm:"type:text;not null" json:"body"`
	MaxAmount decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"max_amount"`
	Timeframe Timeframe       `gorm:"type:varchar(8);not null" json:"timeframe"`
	Duration  Duration        `gorm:"type:varchar(16);not null" json:"duration"`

	IsActive    bool       `gorm:"not null;default:false;index" json:"is_active"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Strategy) TableName() string {
	return "strategies"
}

func (s *Strategy) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.LineageID == "" {
		s.LineageID = s.ID
	}
	return nil
}

// ExpiresAt reports when an active strategy runs out its duration.
// The second result is false for inactive or open-ended strategies.
func (s Strategy) ExpiresAt() (time.Time, bool) {
	if !s.IsActive || s.ActivatedAt == nil {
		return time.Time{}, false
	}
	return s.Duration.After(*s.ActivatedAt)
}
