package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrCompanyNotFound = errors.New("company_not_found")

// Company is the merchant side of a booking. GatewayAccountID is the
// connected payout account; empty when the company has not completed
// payout onboarding, in which case the platform holds the full charge.
type Company struct {
	ID               snowflake.ID `json:"id" gorm:"primaryKey"`
	OwnerUserID      snowflake.ID `json:"owner_user_id" gorm:"not null;index"`
	Name             string       `json:"name" gorm:"type:text;not null"`
	GatewayAccountID string       `json:"gateway_account_id" gorm:"type:text"`
	CreatedAt        time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time    `json:"updated_at" gorm:"not null"`
}

func (Company) TableName() string { return "companies" }

func (c *Company) HasPayoutAccount() bool {
	return c.GatewayAccountID != ""
}

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Company, error)
}
