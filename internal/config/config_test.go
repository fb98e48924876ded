package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/keycurve/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, uint64(9400), cfg.Fees.ReserveBps)
	assert.Equal(t, 0.01, cfg.Curve.BasePrice)
	assert.Equal(t, 10*time.Minute, cfg.Gate.TTL)

	lc := cfg.Launch.EngineLaunch()
	assert.Equal(t, 100*domain.KeyUnit, lc.MinSupply)
	assert.Equal(t, 10*domain.LamportsPerSOL, lc.MinReserve)
	assert.Equal(t, 4, lc.MinHolders)
	assert.Equal(t, uint(5), cfg.Retry.EngineRetry().MaxTries)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9090"
  shutdown_timeout: 3s
storage:
  driver: sqlite
  dsn: "file:keycurve.db"
  log_level: silent
launch:
  min_keys: 2.5
  min_reserve_sol: 0.5
gate:
  trades_per_minute: 120
`)
	t.Setenv("KEYCURVE_HTTP_ADDR", ":7070")
	t.Setenv("KEYCURVE_LAUNCH_MIN_HOLDERS", "7")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.HTTP.Addr, "env wins over file")
	assert.Equal(t, 3*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, logger.Silent, cfg.Storage.Pool().LogLevel)
	assert.Equal(t, 120.0, cfg.Gate.PerMinute)

	lc := cfg.Launch.EngineLaunch()
	assert.Equal(t, uint64(2500), lc.MinSupply)
	assert.Equal(t, domain.LamportsPerSOL/2, lc.MinReserve)
	assert.Equal(t, 7, lc.MinHolders)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.HTTP.Addr = "" }},
		{"bad mode", func(c *Config) { c.HTTP.Mode = "prod" }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"bad gorm level", func(c *Config) { c.Storage.LogLevel = "loud" }},
		{"fees not 100%", func(c *Config) { c.Fees.ProjectBps = 300 }},
		{"flat curve", func(c *Config) { c.Curve.BasePrice = 0 }},
		{"no min keys", func(c *Config) { c.Launch.MinKeys = 0 }},
		{"no holders", func(c *Config) { c.Launch.MinHolders = 0 }},
		{"no lease", func(c *Config) { c.Launch.LeaseTTL = 0 }},
		{"zero tries", func(c *Config) { c.Retry.MaxTries = 0 }},
		{"no refresh spec", func(c *Config) { c.Scheduler.RefreshSpec = "" }},
		{"no shards", func(c *Config) { c.Events.Shards = 0 }},
		{"ws rpc", func(c *Config) { c.Solana.RPCEndpoint = "wss://api.devnet.solana.com" }},
		{"bad fallback rpc", func(c *Config) { c.Solana.FallbackEndpoints = []string{"devnet"} }},
		{"relative metrics path", func(c *Config) { c.Metrics.Path = "metrics" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, validateConfig(cfg))
		})
	}
}
