// Package db provides the shared gorm connection pool.
package db

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/stratobill/stratobill/internal/config"
)

type Params struct {
	fx.In

	Lc  fx.Lifecycle
	Cfg config.Config
	Log *zap.Logger
}

// Open connects to Postgres and configures the connection pool.
func Open(p Params) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}
	if !p.Cfg.IsProduction() {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Warn)
	}

	db, err := gorm.Open(postgres.Open(p.Cfg.DatabaseURL), gormCfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(p.Cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(p.Cfg.DBMaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(p.Cfg.DBConnMaxLifetimeS) * time.Second)

	log := p.Log.Named("db")
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := sqlDB.PingContext(ctx); err != nil {
				return err
			}
			log.Info("database connected",
				zap.Int("max_open_conns", p.Cfg.DBMaxOpenConns),
				zap.Int("max_idle_conns", p.Cfg.DBMaxIdleConns),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("closing database")
			return sqlDB.Close()
		},
	})

	return db, nil
}

var Module = fx.Module("db",
	fx.Provide(Open),
)
