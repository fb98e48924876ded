package config

import (
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/keycurve/internal/storage/postgres"
)

var gormLevels = map[string]logger.LogLevel{
	"silent": logger.Silent,
	"error":  logger.Error,
	"warn":   logger.Warn,
	"info":   logger.Info,
}

// Pool возвращает настройки пула соединений для gorm-хранилища.
func (s StorageConfig) Pool() postgres.Config {
	cfg := postgres.DefaultConfig()
	if s.MaxIdleConns > 0 {
		cfg.MaxIdleConns = s.MaxIdleConns
	}
	if s.MaxOpenConns > 0 {
		cfg.MaxOpenConns = s.MaxOpenConns
	}
	if s.ConnMaxLifetime > 0 {
		cfg.ConnMaxLifetime = s.ConnMaxLifetime
	}
	if lvl, ok := gormLevels[s.LogLevel]; ok {
		cfg.LogLevel = lvl
	}
	return cfg
}
