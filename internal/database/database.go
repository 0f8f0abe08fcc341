// Package database opens the gorm connection and applies the schema.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dangerclosesec/strategist/internal/config"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/rowpolicy"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects using cfg and wires the row policy mode. Filter mode installs
// the gorm plugin. Native mode needs PostgreSQL and relies on the policies
// installed by Migrate.
func Open(cfg *config.Config) (*gorm.DB, rowpolicy.Mode, error) {
	mode, err := rowpolicy.ParseMode(cfg.RowPolicy.Mode)
	if err != nil {
		return nil, "", err
	}

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel(cfg.Database.LogLevel)),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		if mode == rowpolicy.ModeNative {
			return nil, "", fmt.Errorf("sqlite has no native row policies, set ROW_POLICY_MODE=filter")
		}
		dialector = sqlite.Open(cfg.Database.Path + "?_busy_timeout=5000&_journal_mode=WAL")
	default:
		return nil, "", fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, "", fmt.Errorf("connecting to database: %w", err)
	}

	if mode == rowpolicy.ModeFilter {
		if err := db.Use(rowpolicy.NewPlugin(rowpolicy.Rules)); err != nil {
			return nil, "", fmt.Errorf("installing row policy plugin: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, "", fmt.Errorf("getting database instance: %w", err)
	}

	// Configure connection pool
	if cfg.Database.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		sqlDB.SetConnMaxIdleTime(cfg.Database.ConnMaxLifetime)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, "", fmt.Errorf("pinging database: %w", err)
	}

	return db, mode, nil
}

// Migrate creates or updates every table, then installs the native row
// policies when mode is native.
func Migrate(ctx context.Context, db *gorm.DB, mode rowpolicy.Mode) error {
	if err := db.WithContext(ctx).AutoMigrate(model.Tables()...); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	if mode == rowpolicy.ModeNative {
		if err := rowpolicy.Install(ctx, db, rowpolicy.Rules); err != nil {
			return err
		}
	}
	return nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func logLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
