package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type StrategyParameter struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	StrategyID  string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_strategy_parameters_name,priority:1" json:"strategy_id"`
	ParamName   string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_strategy_parameters_name,priority:2" json:"param_name"`
	ParamValue  string    `gorm:"type:text;not null" json:"param_value"`
	ParamType   ParamType `gorm:"type:varchar(16);not null;default:string" json:"param_type"`
	Description string    `gorm:"type:text" json:"description,omitempty"`

	// Deleting a strategy removes its parameters at the database level too.
	Strategy *Strategy `gorm:"foreignKey:StrategyID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (StrategyParameter) TableName() string {
	return "strategy_parameters"
}

func (p *StrategyParameter) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
