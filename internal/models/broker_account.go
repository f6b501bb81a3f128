package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BrokerAccount links a user to an external brokerage. Credentials are
// kept as supplied and never leave the service in API responses.
type BrokerAccount struct {
	ID         string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID     string     `gorm:"type:varchar(128);not null;index" json:"user_id"`
	BrokerName BrokerName `gorm:"type:varchar(32);not null" json:"broker_name"`
	AccountID  string     `gorm:"type:varchar(128);not null" json:"account_id"`

	APIKey    string `gorm:"column:api_key_encrypted;type:text" json:"-"`
	APISecret string `gorm:"column:api_secret_encrypted;type:text" json:"-"`

	IsPaperTrading bool            `gorm:"not null" json:"is_paper_trading"`
	IsActive       bool            `gorm:"not null" json:"is_active"`
	Balance        decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"balance"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BrokerAccount) TableName() string {
	return "broker_accounts"
}

func (b *BrokerAccount) BeforeCreate(*gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}
