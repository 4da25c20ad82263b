package db

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/whisprlabs/whispr/server/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	ModeSQLite = "sqlite"
	ModeMySQL  = "mysql"
	// ModeMemory is an in-memory SQLite database, used by tests.
	ModeMemory = "memory"
)

// Open returns a *gorm.DB for the configured database mode.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	switch cfg.Mode {
	case ModeSQLite:
		return gorm.Open(sqlite.Open(cfg.SQLitePath), gormCfg)

	case ModeMemory:
		// Named in-memory database: shared across the pooled connections of
		// one *gorm.DB, isolated from every other Open call.
		dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
		return gorm.Open(sqlite.Open(dsn), gormCfg)

	case ModeMySQL:
		gdb, err := gorm.Open(mysql.Open(cfg.MySQLDSN), gormCfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(cfg.MySQLMaxOpen)
		sqlDB.SetMaxIdleConns(cfg.MySQLMaxIdle)
		sqlDB.SetConnMaxLifetime(cfg.MySQLMaxLife)
		return gdb, nil

	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}
