// Package db 提供 GORM 初始化与连接池配置，后端为单文件 sqlite（纯 Go 驱动）
package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/stockforge/stocksim/pkg/logger"
)

// Config 数据库配置
type Config struct {
	Path         string
	MaxOpenConns int
	MaxIdleConns int
	LogEnabled   bool
}

// Open 打开共享状态库。所有服务共用同一个磁盘文件，
// 各服务只写自己拥有的表，跨属主只读。
func Open(cfg Config) (*gorm.DB, error) {
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	logLevel := gormlogger.Silent
	if cfg.LogEnabled {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	// WAL 模式允许跨进程读写并存
	if cfg.Path != ":memory:" {
		if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	if err := db.Exec("PRAGMA busy_timeout=5000").Error; err != nil {
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	logger.Info(context.Background(), "database opened", "path", cfg.Path)
	return db, nil
}

// OpenInMemory 打开独立的内存库，测试用
func OpenInMemory() (*gorm.DB, error) {
	return Open(Config{Path: ":memory:"})
}
