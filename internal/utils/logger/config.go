// internal/utils/logger/config.go
package logger

import (
	"io"
)

type Config struct {
	Level       string // debug, info, warn, error; пусто - по Development
	LogFile     string // пусто - только консоль
	MaxSize     int    // мегабайты
	MaxAge      int    // дни
	MaxBackups  int    // количество файлов
	Compress    bool   // сжимать ротированные файлы
	Development bool

	// Console заменяет stdout, используется в тестах.
	Console io.Writer
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		LogFile:     "keycurve.log",
		MaxSize:     100,  // 100 MB
		MaxAge:      7,    // 7 дней
		MaxBackups:  3,    // 3 файла
		Compress:    true, // сжимать старые логи
		Development: false,
	}
}
