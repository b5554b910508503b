package migration

import (
	"github.com/vlabcloud/vlab/internal/config"
	"github.com/vlabcloud/vlab/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}

		if err := RunMigrations(sqlDB); err != nil {
			return err
		}

		if cfg.DefaultLabID != 0 {
			return seed.EnsureDefaultLabWithID(conn, cfg.DefaultLabID)
		}
		return seed.EnsureDefaultLab(conn)
	}),
)
