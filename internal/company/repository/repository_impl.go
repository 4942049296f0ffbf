package repository

import (
	"context"

	"github.com/bookline-app/bookline/internal/company/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Company, error) {
	var item domain.Company
	err := db.WithContext(ctx).Raw(
		`SELECT id, owner_user_id, name, gateway_account_id, created_at, updated_at
		 FROM companies
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
