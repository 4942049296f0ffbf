package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/bookline-app/bookline/internal/config"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "sqlite" {
			// Test databases create their schema inline.
			return nil
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
