// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rovshanmuradov/keycurve/internal/bonding"
	"github.com/rovshanmuradov/keycurve/internal/domain"
	"github.com/rovshanmuradov/keycurve/internal/engine"
	"github.com/rovshanmuradov/keycurve/internal/gate"
	"github.com/rovshanmuradov/keycurve/internal/scheduler"
)

// EnvPrefix - префикс переменных окружения, например KEYCURVE_HTTP_ADDR.
const EnvPrefix = "KEYCURVE"

type Config struct {
	Logging   LoggingConfig      `mapstructure:"logging"`
	HTTP      HTTPConfig         `mapstructure:"http"`
	Storage   StorageConfig      `mapstructure:"storage"`
	Curve     bonding.Params     `mapstructure:"curve"`
	Fees      bonding.FeePolicy  `mapstructure:"fees"`
	Launch    LaunchConfig       `mapstructure:"launch"`
	Retry     RetryConfig        `mapstructure:"retry"`
	Gate      gate.LimiterConfig `mapstructure:"gate"`
	Scheduler scheduler.Config   `mapstructure:"scheduler"`
	Solana    SolanaConfig       `mapstructure:"solana"`
	Events    EventsConfig       `mapstructure:"events"`
	Metrics   MetricsConfig      `mapstructure:"metrics"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxAge      int    `mapstructure:"max_age"`
	MaxBackups  int    `mapstructure:"max_backups"`
	Compress    bool   `mapstructure:"compress"`
	Development bool   `mapstructure:"development"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver          string        `mapstructure:"driver"` // memory, postgres, sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// LaunchConfig задает пороги в ключах и SOL, как их видит пользователь.
type LaunchConfig struct {
	MinKeys       float64       `mapstructure:"min_keys"`
	MinHolders    int           `mapstructure:"min_holders"`
	MinReserveSOL float64       `mapstructure:"min_reserve_sol"`
	TokensPerKey  uint64        `mapstructure:"tokens_per_key"`
	TokenDecimals uint8         `mapstructure:"token_decimals"`
	LeaseTTL      time.Duration `mapstructure:"lease_ttl"`
	ClaimLease    time.Duration `mapstructure:"claim_lease"`
}

type RetryConfig struct {
	MaxTries        uint          `mapstructure:"max_tries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type SolanaConfig struct {
	RPCEndpoint       string        `mapstructure:"rpc_endpoint"` // пусто - без проверки минта
	FallbackEndpoints []string      `mapstructure:"fallback_endpoints"`
	LaunchDelay       time.Duration `mapstructure:"launch_delay"`
}

type EventsConfig struct {
	Shards     int `mapstructure:"shards"`
	BufferSize int `mapstructure:"buffer_size"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func defaults() map[string]interface{} {
	curve := bonding.DefaultParams()
	fees := bonding.DefaultFeePolicy()
	lc := engine.DefaultLaunchConfig()
	rc := engine.DefaultRetryConfig()
	gc := gate.DefaultLimiterConfig()
	sc := scheduler.DefaultConfig()

	return map[string]interface{}{
		"logging.level":       "info",
		"logging.file":        "keycurve.log",
		"logging.max_size":    100,
		"logging.max_age":     7,
		"logging.max_backups": 3,
		"logging.compress":    true,
		"logging.development": false,

		"http.addr":             ":8080",
		"http.mode":             "release",
		"http.read_timeout":     10 * time.Second,
		"http.write_timeout":    30 * time.Second,
		"http.shutdown_timeout": 15 * time.Second,

		"storage.driver":            "memory",
		"storage.dsn":               "",
		"storage.max_idle_conns":    10,
		"storage.max_open_conns":    100,
		"storage.conn_max_lifetime": time.Hour,
		"storage.log_level":         "warn",
		"storage.auto_migrate":      true,

		"curve.base_price":      curve.BasePrice,
		"curve.linear_coef":     curve.LinearCoef,
		"curve.exp_coef":        curve.ExpCoef,
		"curve.exponent":        curve.Exponent,
		"curve.sell_return_bps": curve.SellReturnBps,

		"fees.reserve_bps":   fees.ReserveBps,
		"fees.referral_bps":  fees.ReferralBps,
		"fees.project_bps":   fees.ProjectBps,
		"fees.buyback_bps":   fees.BuybackBps,
		"fees.community_bps": fees.CommunityBps,

		"launch.min_keys":        float64(lc.MinSupply) / float64(domain.KeyUnit),
		"launch.min_holders":     lc.MinHolders,
		"launch.min_reserve_sol": float64(lc.MinReserve) / float64(domain.LamportsPerSOL),
		"launch.tokens_per_key":  lc.TokensPerKey,
		"launch.token_decimals":  lc.TokenDecimals,
		"launch.lease_ttl":       lc.LeaseTTL,
		"launch.claim_lease":     lc.ClaimLease,

		"retry.max_tries":        rc.MaxTries,
		"retry.initial_interval": rc.InitialInterval,
		"retry.max_interval":     rc.MaxInterval,

		"gate.trades_per_minute": gc.PerMinute,
		"gate.burst":             gc.Burst,
		"gate.ttl":               gc.TTL,

		"scheduler.refresh_spec": sc.RefreshSpec,
		"scheduler.sweep_spec":   sc.SweepSpec,
		"scheduler.job_timeout":  sc.JobTimeout,

		"solana.rpc_endpoint":       "",
		"solana.fallback_endpoints": []string{},
		"solana.launch_delay":       0,

		"events.shards":      8,
		"events.buffer_size": 1024,

		"metrics.enabled": true,
		"metrics.path":    "/metrics",
	}
}

// LoadConfig читает файл (если path не пуст), затем переменные окружения.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if cfg.HTTP.Addr == "" {
		return errors.New("http.addr is empty")
	}
	switch cfg.HTTP.Mode {
	case "debug", "release", "test":
	default:
		return errors.New("http.mode must be debug, release or test")
	}

	switch cfg.Storage.Driver {
	case "memory":
	case "postgres", "sqlite":
		if cfg.Storage.DSN == "" {
			return errors.New("storage.dsn is required for " + cfg.Storage.Driver)
		}
	default:
		return errors.New("storage.driver must be memory, postgres or sqlite")
	}
	if _, ok := gormLevels[cfg.Storage.LogLevel]; !ok {
		return errors.New("invalid storage.log_level")
	}

	if err := cfg.Curve.Validate(); err != nil {
		return fmt.Errorf("invalid curve: %w", err)
	}
	if err := cfg.Fees.Validate(); err != nil {
		return fmt.Errorf("invalid fees: %w", err)
	}
	if err := validateLaunch(cfg.Launch); err != nil {
		return err
	}

	if cfg.Retry.MaxTries == 0 {
		return errors.New("retry.max_tries must be positive")
	}
	if cfg.Gate.PerMinute < 0 || cfg.Gate.Burst < 0 {
		return errors.New("invalid gate limits")
	}
	if cfg.Scheduler.RefreshSpec == "" {
		return errors.New("scheduler.refresh_spec is empty")
	}
	if cfg.Events.Shards <= 0 || cfg.Events.BufferSize <= 0 {
		return errors.New("events.shards and events.buffer_size must be positive")
	}

	if cfg.Solana.RPCEndpoint != "" {
		if err := validateURL(cfg.Solana.RPCEndpoint, "http"); err != nil {
			return errors.New("invalid solana.rpc_endpoint")
		}
	}
	for _, endpoint := range cfg.Solana.FallbackEndpoints {
		if err := validateURL(endpoint, "http"); err != nil {
			return fmt.Errorf("invalid solana.fallback_endpoints entry %q", endpoint)
		}
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	return nil
}

func validateLaunch(l LaunchConfig) error {
	if !(l.MinKeys > 0) {
		return errors.New("launch.min_keys must be positive")
	}
	if l.MinHolders <= 0 {
		return errors.New("launch.min_holders must be positive")
	}
	if !(l.MinReserveSOL > 0) {
		return errors.New("launch.min_reserve_sol must be positive")
	}
	if l.TokensPerKey == 0 {
		return errors.New("launch.tokens_per_key must be positive")
	}
	if l.LeaseTTL <= 0 || l.ClaimLease <= 0 {
		return errors.New("launch leases must be positive")
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) || parsed.Host == "" {
		return errors.New("invalid URL protocol")
	}
	return nil
}

// EngineLaunch переводит пороги в единицы ключей и лампорты.
func (l LaunchConfig) EngineLaunch() engine.LaunchConfig {
	return engine.LaunchConfig{
		MinSupply:     uint64(math.Round(l.MinKeys * float64(domain.KeyUnit))),
		MinHolders:    l.MinHolders,
		MinReserve:    uint64(math.Round(l.MinReserveSOL * float64(domain.LamportsPerSOL))),
		TokensPerKey:  l.TokensPerKey,
		TokenDecimals: l.TokenDecimals,
		LeaseTTL:      l.LeaseTTL,
		ClaimLease:    l.ClaimLease,
	}
}

func (r RetryConfig) EngineRetry() engine.RetryConfig {
	return engine.RetryConfig{
		MaxTries:        r.MaxTries,
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
	}
}
